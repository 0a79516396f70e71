// Package syntax tokenizes and parses the story expression language.
//
// Two entry modes share one lexer:
//
//	ModeAssignment  statements separated by ';' or newlines:
//	                ref = v, ref += v, ref -= v, ref ?= v, toggle ref, clear ref
//	ModeExpression  a boolean expression over || && ! ( ) and the
//	                comparisons == != > < >= <=, plus calls name(ref, v)
//
// The parser never fails. Malformed input produces ErrorNode subtrees
// and parsing resumes at the next statement (assignment mode) or the
// next operand (expression mode). All spans are byte offsets.
package syntax
