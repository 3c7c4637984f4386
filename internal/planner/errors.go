package planner

import (
	"fmt"
)

// Reasons a plan could not be generated.
const (
	ReasonUnreachable      = "unreachable"
	ReasonTimeout          = "timeout"
	ReasonMalformed        = "malformed_response"
	ReasonInvalidStructure = "invalid_structure"
)

// GenerationError is returned when the model is unreachable, times out or
// answers with something that is not a well-formed plan.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("plan generation failed (%s)", e.Reason)
	}
	return fmt.Sprintf("plan generation failed (%s): %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
