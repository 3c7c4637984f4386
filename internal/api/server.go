package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/metrics"
	"diet-plan-delivery/internal/nutrition"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/pipeline"
)

// Pipeline is the orchestrator surface exposed over HTTP.
type Pipeline interface {
	HandlePayment(ctx context.Context, paymentID string) (pipeline.Outcome, error)
	RunFullProcess(ctx context.Context, attrs nutrition.UserAttributes, pref delivery.Kind) (pipeline.Outcome, error)
	RetryDelivery(ctx context.Context, correlationID string) (pipeline.Outcome, error)
	Resume(ctx context.Context, correlationID string) (pipeline.Outcome, error)
	Run(ctx context.Context, correlationID string) (*pipeline.Run, error)
	VerifyPayment(ctx context.Context, paymentID string) (payment.Payment, error)
	Generate(ctx context.Context, attrs nutrition.UserAttributes) (*nutrition.Plan, error)
	Render(ctx context.Context, plan *nutrition.Plan, attrs nutrition.UserAttributes, dest string) (document.Handle, error)
	Deliver(ctx context.Context, doc document.Handle, attrs nutrition.UserAttributes, pref delivery.Kind) (delivery.Receipt, error)
}

// Checkout creates payment preferences.
type Checkout interface {
	CreatePreference(ctx context.Context, req payment.PreferenceRequest) (payment.Preference, error)
}

// UsageReporter reads recorded model usage.
type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

// Options configure the HTTP layer.
type Options struct {
	// WebhookSecret enables x-signature checks on payment notifications.
	WebhookSecret string
	// AdminJWTSecret signs admin tokens. Admin routes answer 503 without it.
	AdminJWTSecret string
	PublicBaseURL  string
	WebURL         string
	PlanPrice      float64
	PlanCurrency   string
	// DocumentDir is scanned for the health snapshot.
	DocumentDir string
}

// Server is the HTTP API.
type Server struct {
	pipeline Pipeline
	checkout Checkout
	usage    UsageReporter
	opts     Options
	router   *gin.Engine
}

// NewServer creates the server and registers its routes.
func NewServer(p Pipeline, checkout Checkout, usage UsageReporter, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	s := &Server{
		pipeline: p,
		checkout: checkout,
		usage:    usage,
		opts:     opts,
		router:   router,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	payments := router.Group("/api/payments")
	{
		payments.POST("/webhook", s.handleWebhook)
		payments.POST("/checkout", s.handleCheckout)
		payments.GET("/:id", AdminAuth(opts.AdminJWTSecret), s.handleVerifyPayment)
	}

	plans := router.Group("/api/diet-plans", AdminAuth(opts.AdminJWTSecret))
	{
		plans.POST("/generate", s.handleGenerate)
		plans.POST("/render", s.handleRender)
		plans.POST("/deliver", s.handleDeliver)
		plans.POST("/full-process", s.handleFullProcess)
		plans.GET("/runs/:correlationId", s.handleGetRun)
		plans.POST("/runs/:correlationId/retry-delivery", s.handleRetryDelivery)
		plans.POST("/runs/:correlationId/resume", s.handleResume)
	}

	admin := router.Group("/admin", AdminAuth(opts.AdminJWTSecret))
	{
		admin.GET("/metrics", s.handleMetrics)
	}

	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
