package acceptance_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"diet-plan-delivery/internal/api"
	"diet-plan-delivery/internal/app"
	"diet-plan-delivery/internal/config"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/pipeline"
)

const planJSON = `{
	"dietPlan": {
		"description": "Moderate deficit for steady weight loss",
		"dailyCalories": 1800,
		"macronutrients": {
			"protein": {"grams": 135, "percentage": 30},
			"carbs": {"grams": 180, "percentage": 40},
			"fats": {"grams": 60, "percentage": 30}
		},
		"meals": [
			{"type": "breakfast", "foods": [
				{"name": "Scrambled eggs", "category": "protein", "quantity": "2 units", "calories": 180},
				{"name": "Whole wheat bread", "category": "carbohydrate", "quantity": "1 slice", "calories": 80}
			]},
			{"type": "lunch", "foods": [
				{"name": "Grilled chicken", "category": "protein", "quantity": "150 g", "calories": 250},
				{"name": "Brown rice", "category": "carbohydrate", "quantity": "100 g", "calories": 130},
				{"name": "Salad", "category": "vegetable", "quantity": "1 bowl", "calories": 40}
			]},
			{"type": "dinner", "foods": [
				{"name": "Baked salmon", "category": "protein", "quantity": "120 g", "calories": 240}
			]}
		],
		"hydration": {"waterIntake": 2500, "recommendations": "Spread it over the day"},
		"nutritionalTips": "Prefer whole foods."
	}
}`

const userData = `{"name":"Ana","age":30,"height":170,"weight":70,"goal":"lose-weight","dietType":"omnivore",
	"email":"ana@example.com","phone":"+55 11 99999-0000"}`

// --- Fake collaborators ---

type fakeProviders struct {
	mu          sync.Mutex
	modelOutput string
	gatewayDown bool
	sends       int
	sentFiles   [][]byte
}

func (f *fakeProviders) setModelOutput(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modelOutput = s
}

func (f *fakeProviders) setGatewayDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gatewayDown = down
}

func (f *fakeProviders) deliveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentFiles)
}

func (f *fakeProviders) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func (f *fakeProviders) mercadoPago(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	if r.Header.Get("Authorization") != "Bearer mp-token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	fmt.Fprintf(w, `{"id": %s, "status": "approved", "status_detail": "accredited",
		"external_reference": "user_u-%s", "transaction_amount": 49.9, "currency_id": "BRL",
		"metadata": {"user_id": "u-%s", "user_data": %s}}`, id, id, id, userData)
}

func (f *fakeProviders) groq(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	content := f.modelOutput
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"model": "test-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 900, "completion_tokens": 600, "total_tokens": 1500},
	})
}

func (f *fakeProviders) gateway(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	down := f.gatewayDown
	f.sends++
	n := f.sends
	f.mu.Unlock()

	if down {
		// Drop the connection without a response.
		panic(http.ErrAbortHandler)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	f.mu.Lock()
	f.sentFiles = append(f.sentFiles, data)
	f.mu.Unlock()

	fmt.Fprintf(w, `{"messageId": "msg-%d"}`, n)
}

type harness struct {
	app       *app.App
	cfg       *config.Config
	providers *fakeProviders
	server    http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakeProviders{modelOutput: planJSON}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payments/", f.mercadoPago)
	mux.HandleFunc("/openai/v1/chat/completions", f.groq)
	mux.HandleFunc("/send", f.gateway)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		DatabasePath:           filepath.Join(dir, "nutriplan.db"),
		DocumentDir:            filepath.Join(dir, "documents"),
		LLMProvider:            config.ProviderGroq,
		GroqAPIKey:             "groq-key",
		GroqModel:              "test-model",
		GroqURL:                srv.URL + "/openai/v1/chat/completions",
		GenerationTimeout:      5 * time.Second,
		MercadoPagoURL:         srv.URL,
		MercadoPagoAccessToken: "mp-token",
		WebhookSecret:          "webhook-secret",
		PaymentTimeout:         5 * time.Second,
		DirectMessageProvider:  config.DirectMessageGateway,
		MessagingGatewayURL:    srv.URL,
		MessagingGatewayAPIKey: "gw-key",
		DeliveryTimeout:        5 * time.Second,
		AdminJWTSecret:         "admin-secret",
		RunStaleAfter:          time.Minute,
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to build application: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	return &harness{app: a, cfg: cfg, providers: f, server: a.Server().Handler()}
}

func (h *harness) webhook(t *testing.T, paymentID string) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"type":"payment","action":"payment.updated","data":{"id":"%s"}}`, paymentID)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook?data.id="+paymentID, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-request-id", "req-"+paymentID)
	req.Header.Set("x-signature", payment.Sign(h.cfg.WebhookSecret, "req-"+paymentID, paymentID, "1700000000"))

	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, req)
	return w
}

func (h *harness) admin(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := api.IssueAdminToken(h.cfg.AdminJWTSecret, "acceptance", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, req)
	return w
}

func (h *harness) documents(t *testing.T) *document.FileStore {
	t.Helper()
	store, err := document.NewFileStore(h.cfg.DocumentDir)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// --- Acceptance Tests ---

func TestApprovedPaymentIsDelivered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	w := h.webhook(t, "1001")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status        string         `json:"status"`
		CorrelationID string         `json:"correlationId"`
		State         pipeline.State `json:"state"`
		Duplicate     bool           `json:"duplicate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CorrelationID == "" {
		t.Fatal("Expected a correlation id")
	}
	if resp.State != pipeline.StateDelivered || resp.Duplicate {
		t.Fatalf("Expected a fresh DELIVERED run, got %+v", resp)
	}

	run, err := h.app.Runs().Get(ctx, resp.CorrelationID)
	if err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if run.PaymentID != "1001" || run.UserID != "u-1001" {
		t.Errorf("Unexpected run identity: payment=%q user=%q", run.PaymentID, run.UserID)
	}
	if run.Receipt == nil || run.Receipt.MessageID != "msg-1" || run.Receipt.Recipient != "5511999990000" {
		t.Errorf("Unexpected receipt: %+v", run.Receipt)
	}

	store := h.documents(t)
	if !store.Exists(run.Document.Key) {
		t.Fatalf("Expected document %q to exist", run.Document.Key)
	}
	manifest, err := document.Inspect(ctx, store, run.Document)
	if err != nil {
		t.Fatalf("Failed to inspect document: %v", err)
	}
	if manifest.BMI != "24.2" || manifest.DailyCalories != 1800 {
		t.Errorf("Unexpected manifest: bmi=%s calories=%v", manifest.BMI, manifest.DailyCalories)
	}
	if got := manifest.FoodCounts(); fmt.Sprint(got) != "[2 3 1]" {
		t.Errorf("Expected food counts [2 3 1], got %v", got)
	}

	stored, err := store.Get(ctx, run.Document.Key)
	if err != nil {
		t.Fatal(err)
	}
	if h.providers.deliveries() != 1 || !bytes.Equal(h.providers.sentFiles[0], stored) {
		t.Error("Expected the stored document to be the one delivered")
	}

	t.Run("RedeliveredNotification", func(t *testing.T) {
		w := h.webhook(t, "1001")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var again struct {
			CorrelationID string `json:"correlationId"`
			Duplicate     bool   `json:"duplicate"`
		}
		json.Unmarshal(w.Body.Bytes(), &again)
		if !again.Duplicate || again.CorrelationID != resp.CorrelationID {
			t.Errorf("Expected the original run to be reported as a duplicate, got %+v", again)
		}
		if h.providers.deliveries() != 1 {
			t.Errorf("Expected no second delivery, got %d", h.providers.deliveries())
		}
	})

	t.Run("UsageRecorded", func(t *testing.T) {
		usage, err := h.app.Metrics().GetDailyUsage(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(usage) == 0 || usage[0].TotalPrompt+usage[0].TotalCompletion != 1500 {
			t.Errorf("Expected one generation's tokens to be recorded, got %+v", usage)
		}
	})
}

func TestUnparsableModelOutputStopsAtGeneration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.providers.setModelOutput("Sorry, I cannot help with that.")

	out, err := h.app.Pipeline().HandlePayment(ctx, "2002")
	if err == nil {
		t.Fatal("Expected a generation error")
	}
	if pipeline.ErrorKind(err) != pipeline.KindGeneration {
		t.Errorf("Expected a generation error, got %s: %v", pipeline.ErrorKind(err), err)
	}
	if out.State != pipeline.StateGenerationFailed {
		t.Errorf("Expected GENERATION_FAILED, got %s", out.State)
	}
	if out.Document != nil {
		t.Errorf("Expected no document, got %+v", out.Document)
	}
	if h.providers.attempts() != 0 {
		t.Errorf("Expected no delivery attempt, got %d", h.providers.attempts())
	}

	run, err := h.app.Runs().Get(ctx, out.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if run.State != pipeline.StateGenerationFailed || run.Plan != nil || !run.Document.IsZero() {
		t.Errorf("Unexpected stored run: state=%s plan=%v doc=%+v", run.State, run.Plan, run.Document)
	}

	t.Run("ResumeAfterModelRecovers", func(t *testing.T) {
		h.providers.setModelOutput(planJSON)
		w := h.admin(t, http.MethodPost, "/api/diet-plans/runs/"+out.CorrelationID+"/resume")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resumed pipeline.Outcome
		json.Unmarshal(w.Body.Bytes(), &resumed)
		if resumed.State != pipeline.StateDelivered || resumed.CorrelationID != out.CorrelationID {
			t.Errorf("Expected the same run to be delivered, got %+v", resumed)
		}
	})
}

func TestDeliveryFaultKeepsDocumentForRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.providers.setGatewayDown(true)

	out, err := h.app.Pipeline().HandlePayment(ctx, "3003")
	if err == nil {
		t.Fatal("Expected a delivery error")
	}
	if out.State != pipeline.StateDeliveryFailed {
		t.Fatalf("Expected DELIVERY_FAILED, got %s (%v)", out.State, err)
	}
	if api.StatusFor(err) != http.StatusBadGateway {
		t.Errorf("Expected a 502 mapping, got %d", api.StatusFor(err))
	}
	if out.Document == nil {
		t.Fatal("Expected the rendered document to be reported")
	}

	store := h.documents(t)
	if !store.Exists(out.Document.Key) {
		t.Fatalf("Expected document %q to survive the failed delivery", out.Document.Key)
	}

	w := h.admin(t, http.MethodGet, "/api/diet-plans/runs/"+out.CorrelationID)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stored pipeline.Run
	json.Unmarshal(w.Body.Bytes(), &stored)
	if stored.Document.Key != out.Document.Key || stored.Plan == nil {
		t.Errorf("Expected plan and document to be persisted, got %+v", stored)
	}

	t.Run("RetryDelivery", func(t *testing.T) {
		h.providers.setGatewayDown(false)
		w := h.admin(t, http.MethodPost, "/api/diet-plans/runs/"+out.CorrelationID+"/retry-delivery")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var retried pipeline.Outcome
		json.Unmarshal(w.Body.Bytes(), &retried)
		if retried.State != pipeline.StateDelivered {
			t.Fatalf("Expected DELIVERED, got %s", retried.State)
		}
		if retried.Document == nil || retried.Document.Key != out.Document.Key {
			t.Errorf("Expected the original document to be delivered, got %+v", retried.Document)
		}
		if h.providers.deliveries() != 1 {
			t.Errorf("Expected exactly one successful delivery, got %d", h.providers.deliveries())
		}
	})

	t.Run("RetryDeliveredRun", func(t *testing.T) {
		w := h.admin(t, http.MethodPost, "/api/diet-plans/runs/"+out.CorrelationID+"/retry-delivery")
		if w.Code != http.StatusConflict {
			t.Errorf("Expected 409 for a delivered run, got %d", w.Code)
		}
	})
}
