package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// Direct-message providers.
const (
	DirectMessageGateway  = "gateway"
	DirectMessageTelegram = "telegram"
)

// Config holds the configuration for the application.
type Config struct {
	Port         string
	DatabasePath string

	// Document storage
	DocumentDir     string
	DocumentBucket  string
	DocumentBaseURL string
	AWSRegion       string

	// Generative model
	LLMProvider       string
	GeminiAPIKey      string
	GeminiModel       string
	GroqAPIKey        string
	GroqModel         string
	GroqURL           string
	LLMTemperature    float64
	GenerationTimeout time.Duration

	// Payment provider
	MercadoPagoURL         string
	MercadoPagoAccessToken string
	WebhookSecret          string
	PaymentTimeout         time.Duration
	PublicBaseURL          string
	WebURL                 string
	PlanPrice              float64
	PlanCurrency           string

	// Delivery
	MailFrom               string
	DirectMessageProvider  string
	MessagingGatewayURL    string
	MessagingGatewayAPIKey string
	MessagingGatewaySender string
	TelegramBotToken       string
	AdminTelegramID        int64
	DeliveryTimeout        time.Duration

	AdminJWTSecret string
	RunStaleAfter  time.Duration
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present.
func NewFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		DatabasePath:           getEnv("DATABASE_PATH", "data/nutriplan.db"),
		DocumentDir:            getEnv("DOCUMENT_DIR", "data/documents"),
		DocumentBucket:         os.Getenv("DOCUMENT_BUCKET"),
		DocumentBaseURL:        os.Getenv("DOCUMENT_BASE_URL"),
		AWSRegion:              getEnv("AWS_REGION", "us-east-1"),
		LLMProvider:            getEnv("LLM_PROVIDER", ProviderGemini),
		GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiModel:            getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GroqAPIKey:             os.Getenv("GROQ_API_KEY"),
		GroqModel:              getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqURL:                os.Getenv("GROQ_API_URL"),
		MercadoPagoURL:         getEnv("MERCADO_PAGO_API_URL", "https://api.mercadopago.com"),
		MercadoPagoAccessToken: os.Getenv("MERCADO_PAGO_ACCESS_TOKEN"),
		WebhookSecret:          os.Getenv("MERCADO_PAGO_WEBHOOK_SECRET"),
		PublicBaseURL:          os.Getenv("PUBLIC_BASE_URL"),
		WebURL:                 os.Getenv("WEB_URL"),
		PlanCurrency:           getEnv("PLAN_CURRENCY", "BRL"),
		MailFrom:               os.Getenv("MAIL_FROM"),
		DirectMessageProvider:  getEnv("DIRECT_MESSAGE_PROVIDER", DirectMessageGateway),
		MessagingGatewayURL:    os.Getenv("MESSAGING_GATEWAY_URL"),
		MessagingGatewayAPIKey: os.Getenv("MESSAGING_GATEWAY_API_KEY"),
		MessagingGatewaySender: os.Getenv("MESSAGING_GATEWAY_SENDER"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminJWTSecret:         os.Getenv("ADMIN_JWT_SECRET"),
	}

	switch cfg.LLMProvider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	case ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}

	if cfg.MercadoPagoAccessToken == "" {
		return nil, fmt.Errorf("MERCADO_PAGO_ACCESS_TOKEN environment variable not set")
	}

	switch cfg.DirectMessageProvider {
	case DirectMessageGateway, DirectMessageTelegram:
	default:
		return nil, fmt.Errorf("unsupported DIRECT_MESSAGE_PROVIDER %q", cfg.DirectMessageProvider)
	}

	var err error
	if cfg.LLMTemperature, err = getFloat("LLM_TEMPERATURE", 0.4); err != nil {
		return nil, err
	}
	if cfg.PlanPrice, err = getFloat("PLAN_PRICE", 49.9); err != nil {
		return nil, err
	}
	if cfg.GenerationTimeout, err = getDuration("GENERATION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = getDuration("PAYMENT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = getDuration("DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunStaleAfter, err = getDuration("RUN_STALE_AFTER", 15*time.Minute); err != nil {
		return nil, err
	}

	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID %q: %w", v, err)
		}
		cfg.AdminTelegramID = id
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, val)
	}
	return d, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return f, nil
}
