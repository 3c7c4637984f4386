package pipeline

import (
	"time"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
)

// State is a step of the payment-to-delivery pipeline.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateVerified  State = "VERIFIED"
	StateGenerated State = "GENERATED"
	StateRendered  State = "RENDERED"
	StateDelivered State = "DELIVERED"

	StateRejected         State = "REJECTED"
	StateGenerationFailed State = "GENERATION_FAILED"
	StateRenderFailed     State = "RENDER_FAILED"
	StateDeliveryFailed   State = "DELIVERY_FAILED"
)

// Terminal reports whether no further stage runs from s.
func (s State) Terminal() bool {
	return s == StateDelivered || s.Failed()
}

// Failed reports whether s is a terminal failure.
func (s State) Failed() bool {
	switch s {
	case StateRejected, StateGenerationFailed, StateRenderFailed, StateDeliveryFailed:
		return true
	}
	return false
}

// resumeFrom returns the state a failed run restarts from. Stages whose
// output is already stored are not repeated.
func (r *Run) resumeFrom() State {
	switch {
	case r.Plan == nil:
		return StateVerified
	case r.Document.IsZero():
		return StateGenerated
	default:
		return StateRendered
	}
}

// Run is one pipeline invocation, filled in as stages complete. It is the
// DeliveryRequest plus what is needed to retry it later.
type Run struct {
	CorrelationID string                   `json:"correlationId"`
	PaymentID     string                   `json:"paymentId,omitempty"`
	UserID        string                   `json:"userId,omitempty"`
	State         State                    `json:"state"`
	Channel       delivery.Kind            `json:"channel,omitempty"`
	Provider      string                   `json:"provider,omitempty"`
	Recipient     string                   `json:"recipient,omitempty"`
	Attributes    nutrition.UserAttributes `json:"userData"`
	Plan          *nutrition.Plan          `json:"plan,omitempty"`
	Document      document.Handle          `json:"document"`
	Receipt       *delivery.Receipt        `json:"receipt,omitempty"`
	ErrorKind     string                   `json:"errorKind,omitempty"`
	ErrorDetail   string                   `json:"errorDetail,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// Outcome is what callers get back from every entry point, on success and
// on failure.
type Outcome struct {
	CorrelationID string            `json:"correlationId"`
	PaymentID     string            `json:"paymentId,omitempty"`
	State         State             `json:"state"`
	Channel       delivery.Kind     `json:"channel,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Recipient     string            `json:"recipient,omitempty"`
	Plan          *nutrition.Plan   `json:"plan,omitempty"`
	Document      *document.Handle  `json:"document,omitempty"`
	Receipt       *delivery.Receipt `json:"receipt,omitempty"`
	ErrorKind     string            `json:"errorKind,omitempty"`
	Duplicate     bool              `json:"duplicate,omitempty"`
}

// Outcome summarizes the run.
func (r *Run) Outcome() Outcome {
	out := Outcome{
		CorrelationID: r.CorrelationID,
		PaymentID:     r.PaymentID,
		State:         r.State,
		Channel:       r.Channel,
		Provider:      r.Provider,
		Recipient:     r.Recipient,
		Plan:          r.Plan,
		Receipt:       r.Receipt,
		ErrorKind:     r.ErrorKind,
	}
	if !r.Document.IsZero() {
		doc := r.Document
		out.Document = &doc
	}
	return out
}
