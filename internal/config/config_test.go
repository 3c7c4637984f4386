package config

import (
	"os"
	"testing"
	"time"
)

func TestNewFromEnv(t *testing.T) {
	// Helper function to set environment variables for a test
	setEnv := func(key, value string) {
		t.Helper()
		t.Setenv(key, value)
	}

	// Each subtest starts from a known baseline; t.Setenv restores values afterwards.
	baseline := func() {
		t.Helper()
		setEnv("LLM_PROVIDER", "")
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("GROQ_API_KEY", "")
		setEnv("MERCADO_PAGO_ACCESS_TOKEN", "mp_token")
		setEnv("DIRECT_MESSAGE_PROVIDER", "")
		setEnv("GENERATION_TIMEOUT", "")
		setEnv("ADMIN_TELEGRAM_ID", "")
		setEnv("LLM_TEMPERATURE", "")
	}

	t.Run("Success", func(t *testing.T) {
		baseline()
		setEnv("GENERATION_TIMEOUT", "45s")
		setEnv("ADMIN_TELEGRAM_ID", "12345")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.LLMProvider != ProviderGemini {
			t.Errorf("Expected LLMProvider to be '%s', got '%s'", ProviderGemini, cfg.LLMProvider)
		}
		if cfg.GeminiAPIKey != "gemini_key" {
			t.Errorf("Expected GeminiAPIKey to be 'gemini_key', got '%s'", cfg.GeminiAPIKey)
		}
		if cfg.MercadoPagoAccessToken != "mp_token" {
			t.Errorf("Expected MercadoPagoAccessToken to be 'mp_token', got '%s'", cfg.MercadoPagoAccessToken)
		}
		if cfg.GenerationTimeout != 45*time.Second {
			t.Errorf("Expected GenerationTimeout 45s, got %v", cfg.GenerationTimeout)
		}
		if cfg.DeliveryTimeout != 30*time.Second {
			t.Errorf("Expected default DeliveryTimeout 30s, got %v", cfg.DeliveryTimeout)
		}
		if cfg.AdminTelegramID != 12345 {
			t.Errorf("Expected AdminTelegramID 12345, got %d", cfg.AdminTelegramID)
		}
		if cfg.DirectMessageProvider != DirectMessageGateway {
			t.Errorf("Expected default DirectMessageProvider '%s', got '%s'", DirectMessageGateway, cfg.DirectMessageProvider)
		}
	})

	t.Run("MissingGeminiAPIKey", func(t *testing.T) {
		baseline()
		os.Unsetenv("GEMINI_API_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GEMINI_API_KEY, got nil")
		}
		expectedError := "GEMINI_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("GroqProviderRequiresGroqKey", func(t *testing.T) {
		baseline()
		setEnv("LLM_PROVIDER", ProviderGroq)

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GROQ_API_KEY, got nil")
		}
		expectedError := "GROQ_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("MissingMercadoPagoToken", func(t *testing.T) {
		baseline()
		os.Unsetenv("MERCADO_PAGO_ACCESS_TOKEN")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing MERCADO_PAGO_ACCESS_TOKEN, got nil")
		}
		expectedError := "MERCADO_PAGO_ACCESS_TOKEN environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("UnknownDirectMessageProvider", func(t *testing.T) {
		baseline()
		setEnv("DIRECT_MESSAGE_PROVIDER", "carrier-pigeon")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for unknown DIRECT_MESSAGE_PROVIDER, got nil")
		}
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		baseline()
		setEnv("GENERATION_TIMEOUT", "soon")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for invalid GENERATION_TIMEOUT, got nil")
		}
	})

	t.Run("InvalidTemperature", func(t *testing.T) {
		baseline()
		setEnv("LLM_TEMPERATURE", "warm")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for invalid LLM_TEMPERATURE, got nil")
		}
	})
}
