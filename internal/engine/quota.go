package engine

import "github.com/roach88/storyflow/internal/ir"

// StepBudget counts the steps a driver call takes and enforces its limit.
//
// Each StepUntilInteractive call gets a fresh budget. The budget catches
// graphs whose non-interactive nodes loop forever (a hub jumping to
// itself) as well as merely long automatic stretches.
type StepBudget struct {
	maxSteps int
	used     int
}

// NewStepBudget creates a budget allowing maxSteps steps.
func NewStepBudget(maxSteps int) *StepBudget {
	return &StepBudget{maxSteps: maxSteps}
}

// Spend records one step. It returns false, leaving the count unchanged,
// once the budget is exhausted.
func (b *StepBudget) Spend() bool {
	if b.used >= b.maxSteps {
		return false
	}
	b.used++
	return true
}

// Exhausted returns an error describing the exhausted budget at nodeID.
func (b *StepBudget) Exhausted(nodeID ir.ID) *EvaluationError {
	return NewStepBudgetError(nodeID, b.maxSteps)
}

// Used returns the number of steps spent.
func (b *StepBudget) Used() int {
	return b.used
}

// MaxSteps returns the limit.
func (b *StepBudget) MaxSteps() int {
	return b.maxSteps
}
