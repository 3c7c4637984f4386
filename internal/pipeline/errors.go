package pipeline

import (
	"errors"
	"fmt"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/planner"
)

var (
	// ErrRunNotFound is returned when no run has the given correlation id.
	ErrRunNotFound = errors.New("pipeline run not found")
	// ErrNotRetryable is returned when a run is not in a state the requested
	// recovery applies to.
	ErrNotRetryable = errors.New("pipeline run cannot be retried from its current state")
	// ErrRunInProgress is returned when another invocation owns the run.
	ErrRunInProgress = errors.New("pipeline run is in progress")
)

// ValidationError is returned for missing or malformed trigger input. No
// side effects have happened when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StageError reports the state a run halted in together with the stage's
// own error.
type StageError struct {
	CorrelationID string
	State         State
	Err           error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %s halted at %s: %v", e.CorrelationID, e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Error kinds recorded on failed runs.
const (
	KindValidation   = "validation"
	KindVerification = "verification"
	KindGeneration   = "generation"
	KindRender       = "render"
	KindDelivery     = "delivery"
	KindInternal     = "internal"
)

// ErrorKind classifies err by the stage error it wraps.
func ErrorKind(err error) string {
	var (
		vErr *ValidationError
		pErr *payment.VerificationError
		gErr *planner.GenerationError
		rErr *document.RenderError
		dErr *delivery.DeliveryError
	)
	switch {
	case errors.As(err, &vErr):
		return KindValidation
	case errors.As(err, &pErr):
		return KindVerification
	case errors.As(err, &gErr):
		return KindGeneration
	case errors.As(err, &rErr):
		return KindRender
	case errors.As(err, &dErr):
		return KindDelivery
	default:
		return KindInternal
	}
}
