// Package ir provides the canonical data model for storyflow.
//
// This package contains the structured forms exchanged between the
// expression language, the flow engine and the surrounding application:
// variable references, typed values, assignments, conditions, flow nodes
// and connections. ir imports nothing internal. All other internal packages
// import ir.
//
// Key design constraints:
//   - Value is a sealed interface; only Nil, String, Number, Bool and List implement it
//   - Node data is a closed union keyed by NodeType
//   - All JSON tags use snake_case
//   - Identifiers (ID) accept JSON strings or integers and always marshal as strings
//   - Digests use canonical JSON with domain-separated SHA-256
package ir
