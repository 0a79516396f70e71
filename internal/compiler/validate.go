package compiler

import (
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
	"github.com/roach88/storyflow/internal/syntax"
)

// Validation codes (E100-E199 errors, W200-W299 warnings).
const (
	ErrDuplicateID       = "E101" // duplicate node id (or flow id)
	ErrUnknownNodeType   = "E102" // node type outside the closed set
	ErrDanglingEdge      = "E103" // connection endpoint is not a node
	ErrMissingEntry      = "E104" // flow has no entry node
	ErrUnlabelledRule    = "E105" // switch-mode rule without a label
	ErrUnknownHub        = "E106" // jump target hub does not exist
	ErrUnknownFlow       = "E107" // subflow/exit references a missing flow
	ErrTextSyntax        = "E108" // condition/instruction text does not parse
	ErrUnknownVariable   = "E109" // reference to an undeclared variable

	WarnNonInteractiveLoop = "W201" // loop without a node that waits for input
)

// Severity grades a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError represents one problem found in a project.
type ValidationError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	FlowID   ir.ID    `json:"flow_id,omitempty"`
	NodeID   ir.ID    `json:"node_id,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] flow %s node %s: %s: %s", e.Code, e.FlowID, e.NodeID, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks a loaded project for structural problems.
// Returns all findings (does not fail-fast), in flow then node order.
func Validate(p *ir.Project) []ValidationError {
	v := &validator{
		project: p,
		catalog: map[string]bool{},
		flows:   map[ir.ID]bool{},
	}
	for _, k := range p.Catalog() {
		v.catalog[k.Ref().String()] = true
	}
	for i, f := range p.Flows {
		if v.flows[f.ID] {
			v.add(ValidationError{
				Field:   fmt.Sprintf("flows[%d].id", i),
				Message: fmt.Sprintf("duplicate flow id %q", f.ID),
				Code:    ErrDuplicateID,
				FlowID:  f.ID,
			})
		}
		v.flows[f.ID] = true
	}
	for i := range p.Flows {
		v.validateFlow(i, &p.Flows[i])
	}
	return v.errs
}

type validator struct {
	project *ir.Project
	catalog map[string]bool
	flows   map[ir.ID]bool
	errs    []ValidationError
}

func (v *validator) add(e ValidationError) {
	if e.Severity == "" {
		e.Severity = SeverityError
	}
	v.errs = append(v.errs, e)
}

func (v *validator) validateFlow(fi int, f *ir.Flow) {
	g := f.Graph()

	seen := map[ir.ID]bool{}
	hasEntry := false
	for ni, n := range f.Nodes {
		field := fmt.Sprintf("flows[%d].nodes[%d]", fi, ni)

		// E101: duplicate node id
		if seen[n.ID] {
			v.add(ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
				Code:    ErrDuplicateID,
				FlowID:  f.ID,
				NodeID:  n.ID,
			})
			continue
		}
		seen[n.ID] = true

		// E102: unknown node type
		if !n.Type.Valid() {
			v.add(ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown node type %q", n.Type),
				Code:    ErrUnknownNodeType,
				FlowID:  f.ID,
				NodeID:  n.ID,
			})
			continue
		}
		if n.Type == ir.NodeEntry {
			hasEntry = true
		}
		v.validateNode(field+".data", f.ID, g, n)
	}

	// E104: missing entry node
	if !hasEntry {
		v.add(ValidationError{
			Field:   fmt.Sprintf("flows[%d].nodes", fi),
			Message: fmt.Sprintf("flow %q has no entry node", f.Name),
			Code:    ErrMissingEntry,
			FlowID:  f.ID,
		})
	}

	// E103: dangling connection
	for ci, c := range f.Connections {
		field := fmt.Sprintf("flows[%d].connections[%d]", fi, ci)
		if !seen[c.SourceNodeID] {
			v.add(ValidationError{
				Field:   field + ".source_node_id",
				Message: fmt.Sprintf("connection leaves unknown node %q", c.SourceNodeID),
				Code:    ErrDanglingEdge,
				FlowID:  f.ID,
			})
		}
		if !seen[c.TargetNodeID] {
			v.add(ValidationError{
				Field:   field + ".target_node_id",
				Message: fmt.Sprintf("connection enters unknown node %q", c.TargetNodeID),
				Code:    ErrDanglingEdge,
				FlowID:  f.ID,
			})
		}
	}

	// W201: loops that never wait for input
	for _, w := range AnalyzeLoops(g) {
		v.add(ValidationError{
			Field:    fmt.Sprintf("flows[%d]", fi),
			Message:  w.Message,
			Code:     WarnNonInteractiveLoop,
			Severity: SeverityWarning,
			FlowID:   f.ID,
			NodeID:   w.Path[0],
		})
	}
}

func (v *validator) validateNode(field string, flowID ir.ID, g *ir.Graph, n ir.FlowNode) {
	at := func(e ValidationError) {
		e.FlowID = flowID
		e.NodeID = n.ID
		v.add(e)
	}

	switch d := n.Data.(type) {
	case ir.ConditionData:
		v.validateCondition(field+".condition", d.Condition, at)
		v.validateText(field+".expression", syntax.ModeExpression, d.Expression, at)
		if d.SwitchMode {
			// E105: switch rule without label
			d.Condition.WalkRules(func(r ir.Rule) {
				if r.Label == "" {
					at(ValidationError{
						Field:   field + ".condition",
						Message: fmt.Sprintf("switch rule on %s has no label", r.Target()),
						Code:    ErrUnlabelledRule,
					})
				}
			})
		}

	case ir.InstructionData:
		v.validateAssignments(field+".assignments", d.Assignments, at)
		v.validateText(field+".source", syntax.ModeAssignment, d.Source, at)

	case ir.DialogueData:
		for ri, r := range d.Responses {
			rf := fmt.Sprintf("%s.responses[%d]", field, ri)
			if r.Condition != nil {
				v.validateCondition(rf+".condition", *r.Condition, at)
			}
			v.validateText(rf+".condition_text", syntax.ModeExpression, r.ConditionText, at)
			v.validateAssignments(rf+".instruction", r.Instruction, at)
			v.validateText(rf+".instruction_text", syntax.ModeAssignment, r.InstructionText, at)
		}

	case ir.JumpData:
		// E106: jump to unknown hub
		if _, ok := g.FindHub(d.TargetHubID); !ok {
			at(ValidationError{
				Field:   field + ".target_hub_id",
				Message: fmt.Sprintf("no hub with id %q", d.TargetHubID),
				Code:    ErrUnknownHub,
			})
		}

	case ir.SubflowData:
		// E107: subflow to unknown flow
		if !v.flows[d.ReferencedFlowID] {
			at(ValidationError{
				Field:   field + ".referenced_flow_id",
				Message: fmt.Sprintf("no flow with id %q", d.ReferencedFlowID),
				Code:    ErrUnknownFlow,
			})
		}

	case ir.ExitData:
		// E107: exit to unknown flow
		if d.ExitMode == ir.ExitFlowReference && !v.flows[d.ReferencedFlowID] {
			at(ValidationError{
				Field:   field + ".referenced_flow_id",
				Message: fmt.Sprintf("no flow with id %q", d.ReferencedFlowID),
				Code:    ErrUnknownFlow,
			})
		}
	}
}

// validateText reports syntax errors (E108) and unknown variables (E109)
// in embedded source text. Blank text is fine.
func (v *validator) validateText(field string, mode syntax.Mode, text string, at func(ValidationError)) {
	if text == "" {
		return
	}
	for _, d := range lang.Lint(mode, text, nil) {
		if d.Severity != lang.SeverityError {
			continue
		}
		at(ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%d-%d: %s", d.From, d.To, d.Message),
			Code:    ErrTextSyntax,
		})
	}
	for _, ref := range lang.References(mode, text) {
		v.checkRef(field, ref, at)
	}
}

func (v *validator) validateCondition(field string, c ir.Condition, at func(ValidationError)) {
	c.WalkRules(func(r ir.Rule) {
		if r.Sheet == "" || r.Variable == "" {
			return
		}
		v.checkRef(field, r.Target(), at)
		if src, ok := r.Source(); ok {
			v.checkRef(field, src, at)
		}
	})
}

func (v *validator) validateAssignments(field string, as []ir.Assignment, at func(ValidationError)) {
	for i, a := range as {
		if a.Sheet == "" || a.Variable == "" {
			continue
		}
		af := fmt.Sprintf("%s[%d]", field, i)
		v.checkRef(af, a.Target(), at)
		if src, ok := a.Source(); ok {
			v.checkRef(af, src, at)
		}
	}
}

// checkRef reports E109 for a reference missing from the catalog. The
// engine reads such variables as nil, so this is a warning.
func (v *validator) checkRef(field string, ref ir.VariableRef, at func(ValidationError)) {
	if v.catalog[ref.String()] {
		return
	}
	at(ValidationError{
		Field:    field,
		Message:  fmt.Sprintf("unknown variable %s", ref),
		Code:     ErrUnknownVariable,
		Severity: SeverityWarning,
	})
}
