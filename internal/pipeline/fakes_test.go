package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/shared"
)

type fakeVerifier struct {
	Payment payment.Payment
	Err     error
	Calls   int
}

func (f *fakeVerifier) Verify(ctx context.Context, paymentID string) (payment.Payment, error) {
	f.Calls++
	p := f.Payment
	if p.ID == "" {
		p.ID = paymentID
	}
	return p, f.Err
}

type fakeGenerator struct {
	Plan  *nutrition.Plan
	Meta  shared.AgentMeta
	Err   error
	Calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, attrs nutrition.UserAttributes) (*nutrition.Plan, shared.AgentMeta, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Meta, f.Err
	}
	return f.Plan, f.Meta, nil
}

type fakeRenderer struct {
	Err   error
	Calls int
	Dests []string
}

func (f *fakeRenderer) Render(ctx context.Context, plan *nutrition.Plan, attrs nutrition.UserAttributes, dest string) (document.Handle, error) {
	f.Calls++
	f.Dests = append(f.Dests, dest)
	if f.Err != nil {
		return document.Handle{}, f.Err
	}
	name := fmt.Sprintf("plan-%s-%d.pdf", attrs.UserID, f.Calls)
	return document.Handle{Name: name, Key: dest + "/" + name, Location: "/docs/" + dest + "/" + name, ContentType: document.ContentTypePDF}, nil
}

type fakeChannel struct {
	kind       delivery.Kind
	provider   string
	address    func(nutrition.UserAttributes) string
	Err        error
	Calls      int
	Recipients []string
	Docs       []document.Handle
}

func (f *fakeChannel) Kind() delivery.Kind { return f.kind }
func (f *fakeChannel) Provider() string {
	if f.provider != "" {
		return f.provider
	}
	return "fake-" + string(f.kind)
}

func (f *fakeChannel) Recipient(attrs nutrition.UserAttributes) (string, bool) {
	if f.address != nil {
		a := f.address(attrs)
		return a, a != ""
	}
	if f.kind == delivery.ViaMail {
		return attrs.Email, attrs.Email != ""
	}
	return attrs.Phone, attrs.Phone != ""
}

func (f *fakeChannel) Deliver(ctx context.Context, recipient string, doc document.Handle, attrs nutrition.UserAttributes) (delivery.Receipt, error) {
	f.Calls++
	f.Recipients = append(f.Recipients, recipient)
	f.Docs = append(f.Docs, doc)
	if f.Err != nil {
		return delivery.Receipt{}, &delivery.DeliveryError{Channel: f.kind, Provider: f.Provider(), Err: f.Err}
	}
	return delivery.Receipt{Channel: f.kind, Provider: f.Provider(), Recipient: recipient, MessageID: "msg-" + strconv.Itoa(f.Calls), SentAt: time.Now()}, nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	Messages []string
}

func (f *fakeAlerter) SendAdminAlert(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, text)
	return nil
}

type fakeUsage struct {
	Metas []shared.AgentMeta
}

func (f *fakeUsage) RecordMeta(ctx context.Context, meta shared.AgentMeta) error {
	f.Metas = append(f.Metas, meta)
	return nil
}

// memoryRuns keeps runs in a map with the same claim and acquire rules as
// RunRepository.
type memoryRuns struct {
	mu     sync.Mutex
	runs   map[string]Run
	claims int
	saves  int
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{runs: make(map[string]Run)}
}

func (m *memoryRuns) Claim(ctx context.Context, run *Run) (*Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims++
	if run.PaymentID != "" {
		for _, r := range m.runs {
			if r.PaymentID == run.PaymentID {
				existing := r
				return &existing, false, nil
			}
		}
	}
	run.CreatedAt, run.UpdatedAt = time.Now(), time.Now()
	m.runs[run.CorrelationID] = *run
	return nil, true, nil
}

func (m *memoryRuns) Save(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	run.UpdatedAt = time.Now()
	m.runs[run.CorrelationID] = *run
	return nil
}

func (m *memoryRuns) Acquire(ctx context.Context, run *Run, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.CorrelationID]
	if !ok || stored.State != run.State || !stored.UpdatedAt.Equal(run.UpdatedAt) {
		return ErrRunInProgress
	}
	run.State = next
	run.ErrorKind, run.ErrorDetail = "", ""
	run.UpdatedAt = time.Now()
	m.runs[run.CorrelationID] = *run
	return nil
}

func (m *memoryRuns) Get(ctx context.Context, correlationID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[correlationID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &r, nil
}

func (m *memoryRuns) set(run Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.CorrelationID] = run
}

func testAttributes() nutrition.UserAttributes {
	return nutrition.UserAttributes{
		UserID:   "user-1",
		Name:     "Ana",
		Age:      30,
		Height:   170,
		Weight:   70,
		Goal:     nutrition.GoalLoseWeight,
		DietType: nutrition.DietOmnivore,
		Email:    "ana@example.com",
		Phone:    "5511999990000",
	}
}

func testPlan() *nutrition.Plan {
	return &nutrition.Plan{
		DailyCalories: 1800,
		Macronutrients: nutrition.Macronutrients{
			Protein: nutrition.Macro{Grams: 135, Percentage: 30},
			Carbs:   nutrition.Macro{Grams: 180, Percentage: 40},
			Fats:    nutrition.Macro{Grams: 60, Percentage: 30},
		},
		Meals: []nutrition.Meal{
			{Type: nutrition.MealBreakfast, Foods: []nutrition.Food{{Name: "Oats", Quantity: "50g", Calories: 190}}},
			{Type: nutrition.MealLunch, Foods: []nutrition.Food{{Name: "Chicken", Quantity: "150g", Calories: 250}}},
		},
		Hydration: nutrition.Hydration{WaterIntakeML: 2500},
	}
}

type harness struct {
	verifier  *fakeVerifier
	generator *fakeGenerator
	renderer  *fakeRenderer
	dm        *fakeChannel
	mail      *fakeChannel
	runs      *memoryRuns
	alerter   *fakeAlerter
	usage     *fakeUsage
	ids       int
	now       time.Time
	deps      Deps
	orch      *Orchestrator
}

func newHarness() *harness {
	attrs := testAttributes()
	h := &harness{
		verifier: &fakeVerifier{Payment: payment.Payment{Status: payment.StatusApproved, UserID: "user-1", Attributes: &attrs}},
		generator: &fakeGenerator{
			Plan: testPlan(),
			Meta: shared.AgentMeta{AgentName: "PlanGenerator", Usage: shared.TokenUsage{PromptTokens: 10, CompletionTokens: 20}},
		},
		renderer: &fakeRenderer{},
		dm:       &fakeChannel{kind: delivery.ViaDirectMessage},
		mail:     &fakeChannel{kind: delivery.ViaMail},
		runs:     newMemoryRuns(),
		alerter:  &fakeAlerter{},
		usage:    &fakeUsage{},
		now:      time.Now(),
	}
	h.deps = Deps{
		Verifier:     h.verifier,
		Generator:    h.generator,
		Renderer:     h.renderer,
		Channels:     []delivery.Channel{h.dm, h.mail},
		Runs:         h.runs,
		Usage:        h.usage,
		Alerter:      h.alerter,
		DocumentDest: "plans",
		StaleAfter:   time.Minute,
		NewID: func() string {
			h.ids++
			return fmt.Sprintf("corr-%d", h.ids)
		},
		Now: func() time.Time { return h.now },
	}
	h.orch = New(h.deps)
	return h
}

// withChannels rebuilds the orchestrator over a different channel set.
func (h *harness) withChannels(channels ...delivery.Channel) {
	h.deps.Channels = channels
	h.orch = New(h.deps)
}

func (h *harness) sideEffects() int {
	return h.generator.Calls + h.renderer.Calls + h.dm.Calls + h.mail.Calls
}
