package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"diet-plan-delivery/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestClient_SendDocument(t *testing.T) {
	sender := &fakeSender{}
	client := NewClientWithSender(sender, 0)

	id, err := client.SendDocument(context.Background(), 42, "plan.pdf", []byte("pdf"), "Your plan")
	if err != nil {
		t.Fatalf("SendDocument failed: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected message id 1, got %d", id)
	}

	doc, ok := sender.sent[0].(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("Expected DocumentConfig, got %T", sender.sent[0])
	}
	if doc.ChatID != 42 || doc.Caption != "Your plan" {
		t.Errorf("Unexpected document config chat=%d caption=%q", doc.ChatID, doc.Caption)
	}
	file, ok := doc.File.(tgbotapi.FileBytes)
	if !ok || file.Name != "plan.pdf" || string(file.Bytes) != "pdf" {
		t.Errorf("Unexpected file %+v", doc.File)
	}

	sender.err = errors.New("blocked")
	if _, err := client.SendDocument(context.Background(), 42, "plan.pdf", nil, ""); err == nil {
		t.Error("Expected an error when the API fails")
	}
}

func TestClient_SendAdminAlert(t *testing.T) {
	t.Run("NoAdminConfigured", func(t *testing.T) {
		sender := &fakeSender{}
		if err := NewClientWithSender(sender, 0).SendAdminAlert(context.Background(), "hi"); err != nil {
			t.Fatal(err)
		}
		if len(sender.sent) != 0 {
			t.Error("Expected no message without an admin chat")
		}
	})

	t.Run("Markdown", func(t *testing.T) {
		sender := &fakeSender{}
		if err := NewClientWithSender(sender, 99).SendAdminAlert(context.Background(), "*alert*"); err != nil {
			t.Fatal(err)
		}
		msg := sender.sent[0].(tgbotapi.MessageConfig)
		if msg.ChatID != 99 || msg.ParseMode != "Markdown" {
			t.Errorf("Unexpected message config %+v", msg)
		}
	})
}

func TestFormatFailureAlert(t *testing.T) {
	out := FormatFailureAlert("abc-123", "DELIVERY_FAILED", "delivery", "gateway error: status_code=502")
	for _, want := range []string{"*Pipeline failure*", "DELIVERY\\_FAILED", "`abc-123`", "status\\_code=502"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected alert to contain %q:\n%s", want, out)
		}
	}
}

func TestFormatFailureAlertTruncatesOnCharacters(t *testing.T) {
	detail := "x" + strings.Repeat("é", 400)
	out := FormatFailureAlert("abc-123", "DELIVERY_FAILED", "delivery", detail)
	if !utf8.ValidString(out) {
		t.Fatal("Expected valid UTF-8 after truncation")
	}
	if got := strings.Count(out, "é"); got != maxAlertDetail-1 {
		t.Errorf("Expected %d kept characters, got %d", maxAlertDetail-1, got)
	}

	short := FormatFailureAlert("abc-123", "DELIVERY_FAILED", "delivery", "çà")
	if !strings.Contains(short, "çà") || strings.Contains(short, "çà...") {
		t.Errorf("Expected short detail untouched:\n%s", short)
	}
}

func TestFormatUsageReport(t *testing.T) {
	usage := []metrics.DailyUsage{{Date: "2026-01-02", TotalPrompt: 100, TotalCompletion: 50, TotalExecution: 3}}
	out := FormatUsageReport(usage, metrics.SysHealth{AllocMB: 12, SysMB: 30, Goroutines: 8, DataDiskSize: "1.0 MB"})

	if !strings.Contains(out, "• *2026-01-02*: 150 tokens (3 execs)") {
		t.Errorf("Missing usage line:\n%s", out)
	}
	if !strings.Contains(out, "• Goroutines: 8") {
		t.Errorf("Missing health line:\n%s", out)
	}
	if empty := FormatUsageReport(nil, metrics.SysHealth{}); !strings.Contains(empty, "_No data yet_") {
		t.Error("Expected placeholder for empty usage")
	}
}
