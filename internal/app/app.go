package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"diet-plan-delivery/internal/api"
	"diet-plan-delivery/internal/config"
	"diet-plan-delivery/internal/database"
	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/llm"
	"diet-plan-delivery/internal/metrics"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/pipeline"
	"diet-plan-delivery/internal/planner"
	"diet-plan-delivery/internal/telegram"
)

// App holds the application's dependencies.
type App struct {
	cfg *config.Config

	db       *database.DB
	runs     *pipeline.RunRepository
	metrics  *metrics.Store
	payments *payment.Client
	telegram *telegram.Client
	pipeline *pipeline.Orchestrator

	closers []llm.Closer
}

// New builds every collaborator from cfg. Optional integrations (S3, SES,
// Telegram) are only created when configured.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)
	a.runs = pipeline.NewRunRepository(db.SQL)
	a.metrics = metrics.NewStore(db.SQL)

	textGen, err := a.newTextGenerator(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var awsCfg *aws.Config
	if cfg.DocumentBucket != "" || cfg.MailFrom != "" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		awsCfg = &loaded
	}

	store, err := newDocumentStore(cfg, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	renderer := document.NewRenderer(store)

	if cfg.TelegramBotToken != "" {
		a.telegram, err = telegram.NewClient(cfg.TelegramBotToken, "", cfg.AdminTelegramID, cfg.DeliveryTimeout)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	channels, err := a.newChannels(renderer, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.payments = payment.NewClient(cfg.MercadoPagoURL, cfg.MercadoPagoAccessToken, cfg.PaymentTimeout)

	deps := pipeline.Deps{
		Verifier:   a.payments,
		Generator:  planner.NewGenerator(textGen, cfg.GenerationTimeout),
		Renderer:   renderer,
		Channels:   channels,
		Runs:       a.runs,
		Usage:      a.metrics,
		StaleAfter: cfg.RunStaleAfter,
	}
	if a.telegram != nil {
		deps.Alerter = a.telegram
	}
	a.pipeline = pipeline.New(deps)

	return a, nil
}

func (a *App) newTextGenerator(ctx context.Context) (llm.TextGenerator, error) {
	switch a.cfg.LLMProvider {
	case config.ProviderGroq:
		groq := llm.NewGroqClient(a.cfg.GroqAPIKey, a.cfg.GroqModel, a.cfg.LLMTemperature).WithTimeout(a.cfg.GenerationTimeout)
		if a.cfg.GroqURL != "" {
			groq = groq.WithURL(a.cfg.GroqURL)
		}
		return groq, nil
	default:
		gemini, err := llm.NewGeminiClient(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel, a.cfg.LLMTemperature)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		a.closers = append(a.closers, gemini)
		return gemini, nil
	}
}

func newDocumentStore(cfg *config.Config, awsCfg *aws.Config) (document.Store, error) {
	if cfg.DocumentBucket != "" {
		log.Printf("Storing documents in s3://%s", cfg.DocumentBucket)
		return document.NewS3Store(s3.NewFromConfig(*awsCfg), cfg.DocumentBucket, cfg.DocumentBaseURL), nil
	}

	store, err := document.NewFileStore(cfg.DocumentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}
	log.Printf("Storing documents in %s", store.Root())
	return store, nil
}

func (a *App) newChannels(docs delivery.DocumentSource, awsCfg *aws.Config) ([]delivery.Channel, error) {
	var channels []delivery.Channel

	switch a.cfg.DirectMessageProvider {
	case config.DirectMessageGateway:
		if a.cfg.MessagingGatewayURL != "" {
			channels = append(channels, delivery.NewGatewayChannel(a.cfg.MessagingGatewayURL,
				a.cfg.MessagingGatewayAPIKey, a.cfg.MessagingGatewaySender, docs, a.cfg.DeliveryTimeout))
		}
	case config.DirectMessageTelegram:
		if a.telegram != nil {
			channels = append(channels, delivery.NewTelegramChannel(a.telegram, docs))
		}
	}

	if a.cfg.MailFrom != "" {
		channels = append(channels, delivery.NewMailChannel(ses.NewFromConfig(*awsCfg), a.cfg.MailFrom, docs, a.cfg.DeliveryTimeout))
	}

	if len(channels) == 0 {
		return nil, errors.New("no delivery channel configured: set MESSAGING_GATEWAY_URL, TELEGRAM_BOT_TOKEN or MAIL_FROM")
	}
	for _, ch := range channels {
		log.Printf("Delivery channel enabled: %s via %s", ch.Kind(), ch.Provider())
	}
	return channels, nil
}

// Pipeline returns the orchestrator.
func (a *App) Pipeline() *pipeline.Orchestrator {
	return a.pipeline
}

// Runs returns the run store.
func (a *App) Runs() *pipeline.RunRepository {
	return a.runs
}

// Metrics returns the usage metrics store.
func (a *App) Metrics() *metrics.Store {
	return a.metrics
}

// Server builds the HTTP API.
func (a *App) Server() *api.Server {
	return api.NewServer(a.pipeline, a.payments, a.metrics, api.Options{
		WebhookSecret:  a.cfg.WebhookSecret,
		AdminJWTSecret: a.cfg.AdminJWTSecret,
		PublicBaseURL:  a.cfg.PublicBaseURL,
		WebURL:         a.cfg.WebURL,
		PlanPrice:      a.cfg.PlanPrice,
		PlanCurrency:   a.cfg.PlanCurrency,
		DocumentDir:    a.cfg.DocumentDir,
	})
}

// UsageReport renders recent usage and system health. With send set the
// report is also posted to the operator chat.
func (a *App) UsageReport(ctx context.Context, days int, send bool) (string, error) {
	usage, err := a.metrics.GetDailyUsage(ctx, days)
	if err != nil {
		return "", err
	}
	report := telegram.FormatUsageReport(usage, metrics.GetSysHealth(a.cfg.DocumentDir))

	if send {
		if a.telegram == nil {
			return report, errors.New("TELEGRAM_BOT_TOKEN environment variable not set")
		}
		if err := a.telegram.SendAdminAlert(ctx, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Close releases the database and model clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
