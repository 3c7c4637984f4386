package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/planner"
	"diet-plan-delivery/internal/shared"
	"diet-plan-delivery/internal/telegram"
)

// Verifier confirms a payment and returns the attributes attached to it.
type Verifier interface {
	Verify(ctx context.Context, paymentID string) (payment.Payment, error)
}

// Generator produces a plan from user attributes.
type Generator interface {
	Generate(ctx context.Context, attrs nutrition.UserAttributes) (*nutrition.Plan, shared.AgentMeta, error)
}

// Renderer turns a plan into a persisted document.
type Renderer interface {
	Render(ctx context.Context, plan *nutrition.Plan, attrs nutrition.UserAttributes, dest string) (document.Handle, error)
}

// UsageRecorder stores model usage of a generation.
type UsageRecorder interface {
	RecordMeta(ctx context.Context, meta shared.AgentMeta) error
}

// Alerter notifies operators of failed runs.
type Alerter interface {
	SendAdminAlert(ctx context.Context, text string) error
}

// Deps are the collaborators of an Orchestrator. Usage and Alerter are
// optional.
type Deps struct {
	Verifier     Verifier
	Generator    Generator
	Renderer     Renderer
	Channels     []delivery.Channel
	Runs         RunStore
	Usage        UsageRecorder
	Alerter      Alerter
	DocumentDest string
	// StaleAfter is how long an unfinished run may go without progress
	// before a redelivered trigger or Resume takes it over.
	StaleAfter time.Duration
	NewID      func() string
	Now        func() time.Time
}

// Orchestrator runs the verify, generate, render and deliver stages in
// order. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	verifier   Verifier
	generator  Generator
	renderer   Renderer
	channels   []delivery.Channel
	runs       RunStore
	usage      UsageRecorder
	alerter    Alerter
	dest       string
	staleAfter time.Duration
	newID      func() string
	now        func() time.Time
}

const alertTimeout = 10 * time.Second

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		verifier:   d.Verifier,
		generator:  d.Generator,
		renderer:   d.Renderer,
		channels:   d.Channels,
		runs:       d.Runs,
		usage:      d.Usage,
		alerter:    d.Alerter,
		dest:       d.DocumentDest,
		staleAfter: d.StaleAfter,
		newID:      d.NewID,
		now:        d.Now,
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.staleAfter <= 0 {
		o.staleAfter = 15 * time.Minute
	}
	return o
}

func (o *Orchestrator) newRun() *Run {
	return &Run{CorrelationID: o.newID(), State: StateReceived}
}

// HandlePayment runs the pipeline for a payment notification. Payments that
// are not approved end in REJECTED before any other collaborator is called.
// A payment that already has a run is never fulfilled twice: a delivered or
// running run is reported as a duplicate, and a failed one is resumed.
func (o *Orchestrator) HandlePayment(ctx context.Context, paymentID string) (Outcome, error) {
	run := o.newRun()
	run.PaymentID = strings.TrimSpace(paymentID)
	log.Printf("[%s] Received payment %s", run.CorrelationID, run.PaymentID)

	if run.PaymentID == "" {
		return o.reject(ctx, run, &ValidationError{Field: "paymentId", Reason: "is required"})
	}

	p, err := o.verifier.Verify(ctx, run.PaymentID)
	if err != nil {
		return o.reject(ctx, run, err)
	}
	if p.Status != payment.StatusApproved {
		return o.reject(ctx, run, &payment.VerificationError{PaymentID: run.PaymentID, Reason: payment.ReasonNotApproved, Status: p.Status})
	}
	if p.Attributes == nil || p.UserID == "" {
		return o.reject(ctx, run, &payment.VerificationError{
			PaymentID: run.PaymentID,
			Reason:    payment.ReasonMissingMetadata,
			Status:    p.Status,
			Err:       fmt.Errorf("payment carries no user data"),
		})
	}

	run.UserID = p.UserID
	run.Attributes = *p.Attributes
	if err := o.selectChannel(run, ""); err != nil {
		return o.reject(ctx, run, err)
	}
	run.State = StateVerified
	log.Printf("[%s] Payment %s approved for user %s, delivering via %s", run.CorrelationID, run.PaymentID, run.UserID, run.Channel)

	existing, claimed, err := o.runs.Claim(ctx, run)
	if err != nil {
		return run.Outcome(), &StageError{CorrelationID: run.CorrelationID, State: run.State, Err: err}
	}
	if !claimed {
		return o.handleDuplicate(ctx, existing)
	}
	return o.advance(ctx, run)
}

func (o *Orchestrator) handleDuplicate(ctx context.Context, existing *Run) (Outcome, error) {
	log.Printf("[%s] Payment %s already has a run in state %s", existing.CorrelationID, existing.PaymentID, existing.State)

	switch {
	case existing.State == StateDelivered:
	case existing.State.Failed():
		return o.resume(ctx, existing)
	case o.isStale(existing):
		return o.resume(ctx, existing)
	}

	out := existing.Outcome()
	out.Duplicate = true
	return out, nil
}

// RunFullProcess runs generation, rendering and delivery for attributes that
// did not come through a payment. pref may force a delivery channel.
func (o *Orchestrator) RunFullProcess(ctx context.Context, attrs nutrition.UserAttributes, pref delivery.Kind) (Outcome, error) {
	run := o.newRun()
	run.UserID = attrs.UserID
	run.Attributes = attrs
	log.Printf("[%s] Received full-process request for user %q", run.CorrelationID, run.UserID)

	if err := o.selectChannel(run, pref); err != nil {
		return o.reject(ctx, run, err)
	}
	run.State = StateVerified

	if _, _, err := o.runs.Claim(ctx, run); err != nil {
		log.Printf("[%s] Warning: failed to persist run, retries will not be possible: %v", run.CorrelationID, err)
	}
	return o.advance(ctx, run)
}

// RetryDelivery repeats only the delivery of a DELIVERY_FAILED run, using its
// stored document and the same correlation id.
func (o *Orchestrator) RetryDelivery(ctx context.Context, correlationID string) (Outcome, error) {
	run, err := o.runs.Get(ctx, correlationID)
	if err != nil {
		return Outcome{CorrelationID: correlationID}, err
	}
	if run.State != StateDeliveryFailed || run.Document.IsZero() {
		return run.Outcome(), fmt.Errorf("%s is %s: %w", correlationID, run.State, ErrNotRetryable)
	}

	if err := o.runs.Acquire(ctx, run, StateRendered); err != nil {
		return run.Outcome(), err
	}
	log.Printf("[%s] Retrying delivery of %s", run.CorrelationID, run.Document.Name)
	return o.advance(ctx, run)
}

// Resume restarts a failed run, or an unfinished one that has made no
// progress for longer than the stale period, from the first stage whose
// output is missing.
func (o *Orchestrator) Resume(ctx context.Context, correlationID string) (Outcome, error) {
	run, err := o.runs.Get(ctx, correlationID)
	if err != nil {
		return Outcome{CorrelationID: correlationID}, err
	}
	switch {
	case run.State == StateDelivered, run.State == StateRejected:
		return run.Outcome(), fmt.Errorf("%s is %s: %w", correlationID, run.State, ErrNotRetryable)
	case !run.State.Failed() && !o.isStale(run):
		return run.Outcome(), fmt.Errorf("%s: %w", correlationID, ErrRunInProgress)
	}
	return o.resume(ctx, run)
}

func (o *Orchestrator) resume(ctx context.Context, run *Run) (Outcome, error) {
	from := run.resumeFrom()
	if err := o.runs.Acquire(ctx, run, from); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			out := run.Outcome()
			out.Duplicate = true
			return out, nil
		}
		return run.Outcome(), err
	}
	log.Printf("[%s] Resuming run from %s", run.CorrelationID, from)
	return o.advance(ctx, run)
}

// Run returns a stored run.
func (o *Orchestrator) Run(ctx context.Context, correlationID string) (*Run, error) {
	return o.runs.Get(ctx, correlationID)
}

func (o *Orchestrator) isStale(run *Run) bool {
	return !run.State.Terminal() && o.now().Sub(run.UpdatedAt) > o.staleAfter
}

// advance executes the remaining stages of run one after the other. A
// failing stage ends the run; no later stage is started.
func (o *Orchestrator) advance(ctx context.Context, run *Run) (Outcome, error) {
	for !run.State.Terminal() {
		switch run.State {
		case StateReceived, StateVerified:
			plan, err := o.generate(ctx, run.Attributes)
			if err != nil {
				return o.fail(ctx, run, StateGenerationFailed, err)
			}
			run.Plan = plan
			run.State = StateGenerated
			log.Printf("[%s] Plan generated: %d meals, %.0f kcal", run.CorrelationID, len(plan.Meals), plan.DailyCalories)

		case StateGenerated:
			doc, err := o.render(ctx, run.Plan, run.Attributes, o.dest)
			if err != nil {
				return o.fail(ctx, run, StateRenderFailed, err)
			}
			run.Document = doc
			run.State = StateRendered
			log.Printf("[%s] Document rendered at %s", run.CorrelationID, doc.Location)

		case StateRendered:
			receipt, err := o.deliver(ctx, run)
			if err != nil {
				return o.fail(ctx, run, StateDeliveryFailed, err)
			}
			run.Receipt = &receipt
			run.State = StateDelivered
			log.Printf("[%s] Document delivered via %s to %s", run.CorrelationID, receipt.Provider, receipt.Recipient)

		default:
			return o.fail(ctx, run, StateRejected, fmt.Errorf("unexpected state %s", run.State))
		}

		run.ErrorKind, run.ErrorDetail = "", ""
		o.save(ctx, run)
	}
	return run.Outcome(), nil
}

func (o *Orchestrator) generate(ctx context.Context, attrs nutrition.UserAttributes) (*nutrition.Plan, error) {
	plan, meta, err := o.generator.Generate(ctx, attrs)
	if o.usage != nil {
		if uErr := o.usage.RecordMeta(ctx, meta); uErr != nil {
			log.Printf("Warning: failed to record usage for %s: %v", meta.AgentName, uErr)
		}
	}
	if err != nil {
		return nil, err
	}
	if plan == nil || len(plan.Meals) == 0 {
		return nil, &planner.GenerationError{Reason: planner.ReasonInvalidStructure, Err: fmt.Errorf("plan has no meals")}
	}
	return plan, nil
}

func (o *Orchestrator) render(ctx context.Context, plan *nutrition.Plan, attrs nutrition.UserAttributes, dest string) (document.Handle, error) {
	doc, err := o.renderer.Render(ctx, plan, attrs, dest)
	if err != nil {
		return document.Handle{}, err
	}
	if doc.IsZero() {
		return document.Handle{}, &document.RenderError{Op: document.OpStore, Err: fmt.Errorf("renderer returned an empty handle")}
	}
	return doc, nil
}

func (o *Orchestrator) deliver(ctx context.Context, run *Run) (delivery.Receipt, error) {
	if run.Document.IsZero() {
		return delivery.Receipt{}, &delivery.DeliveryError{Channel: run.Channel, Err: fmt.Errorf("no rendered document")}
	}
	ch := o.channel(run.Channel, run.Provider)
	if ch == nil {
		return delivery.Receipt{}, &delivery.DeliveryError{Channel: run.Channel, Err: delivery.ErrChannelUnavailable}
	}
	return ch.Deliver(ctx, run.Recipient, run.Document, run.Attributes)
}

// channel returns the channel chosen for a run. Runs stored without a
// provider fall back to the first channel of their kind.
func (o *Orchestrator) channel(kind delivery.Kind, provider string) delivery.Channel {
	for _, ch := range o.channels {
		if ch.Kind() == kind && (provider == "" || ch.Provider() == provider) {
			return ch
		}
	}
	return nil
}

func (o *Orchestrator) selectChannel(run *Run, pref delivery.Kind) error {
	ch, recipient, err := delivery.Select(o.channels, run.Attributes, pref)
	if err != nil {
		return &ValidationError{Field: "contact", Reason: err.Error()}
	}
	run.Channel = ch.Kind()
	run.Provider = ch.Provider()
	run.Recipient = recipient
	return nil
}

// reject ends a run that never got past verification. Nothing is stored.
// Operators are alerted only when an approved payment cannot be fulfilled.
func (o *Orchestrator) reject(ctx context.Context, run *Run, err error) (Outcome, error) {
	run.State = StateRejected
	run.ErrorKind = ErrorKind(err)
	run.ErrorDetail = err.Error()
	log.Printf("[%s] Rejected (%s): %v", run.CorrelationID, run.ErrorKind, err)
	if paidButUnfulfillable(run, err) {
		o.alert(ctx, run)
	}
	return run.Outcome(), &StageError{CorrelationID: run.CorrelationID, State: run.State, Err: err}
}

func paidButUnfulfillable(run *Run, err error) bool {
	var pErr *payment.VerificationError
	if errors.As(err, &pErr) {
		return pErr.Reason == payment.ReasonMissingMetadata
	}
	var vErr *ValidationError
	return run.PaymentID != "" && errors.As(err, &vErr) && vErr.Field == "contact"
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, state State, err error) (Outcome, error) {
	run.State = state
	run.ErrorKind = ErrorKind(err)
	run.ErrorDetail = err.Error()
	log.Printf("[%s] Pipeline halted at %s (%s): %v", run.CorrelationID, state, run.ErrorKind, err)

	o.save(ctx, run)
	o.alert(ctx, run)
	return run.Outcome(), &StageError{CorrelationID: run.CorrelationID, State: state, Err: err}
}

func (o *Orchestrator) save(ctx context.Context, run *Run) {
	if err := o.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("[%s] Warning: failed to save run in state %s: %v", run.CorrelationID, run.State, err)
	}
}

func (o *Orchestrator) alert(ctx context.Context, run *Run) {
	if o.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	text := telegram.FormatFailureAlert(run.CorrelationID, string(run.State), run.ErrorKind, run.ErrorDetail)
	if err := o.alerter.SendAdminAlert(actx, text); err != nil {
		log.Printf("[%s] Warning: failed to send failure alert: %v", run.CorrelationID, err)
	}
}

// VerifyPayment looks up a payment without starting a run.
func (o *Orchestrator) VerifyPayment(ctx context.Context, paymentID string) (payment.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return payment.Payment{}, &ValidationError{Field: "paymentId", Reason: "is required"}
	}
	return o.verifier.Verify(ctx, paymentID)
}

// Generate runs only the plan generator.
func (o *Orchestrator) Generate(ctx context.Context, attrs nutrition.UserAttributes) (*nutrition.Plan, error) {
	return o.generate(ctx, attrs)
}

// Render runs only the renderer. An empty dest uses the configured one.
func (o *Orchestrator) Render(ctx context.Context, plan *nutrition.Plan, attrs nutrition.UserAttributes, dest string) (document.Handle, error) {
	if plan == nil || len(plan.Meals) == 0 {
		return document.Handle{}, &ValidationError{Field: "plan", Reason: "must contain meals"}
	}
	if dest == "" {
		dest = o.dest
	}
	return o.render(ctx, plan, attrs, dest)
}

// Deliver sends an already rendered document through the channel selected
// for attrs.
func (o *Orchestrator) Deliver(ctx context.Context, doc document.Handle, attrs nutrition.UserAttributes, pref delivery.Kind) (delivery.Receipt, error) {
	if doc.IsZero() {
		return delivery.Receipt{}, &ValidationError{Field: "document", Reason: "is required"}
	}
	ch, recipient, err := delivery.Select(o.channels, attrs, pref)
	if err != nil {
		return delivery.Receipt{}, &ValidationError{Field: "contact", Reason: err.Error()}
	}
	return ch.Deliver(ctx, recipient, doc, attrs)
}
