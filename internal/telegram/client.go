package telegram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of the Bot API used by Client.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client sends documents to users and alerts to the operator chat.
type Client struct {
	api     Sender
	adminID int64
}

// NewClient authorizes against the Bot API. An empty endpoint uses the
// public Telegram API.
func NewClient(token, endpoint string, adminID int64, timeout time.Duration) (*Client, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)
	return &Client{api: bot, adminID: adminID}, nil
}

// NewClientWithSender wraps an existing sender.
func NewClientWithSender(api Sender, adminID int64) *Client {
	return &Client{api: api, adminID: adminID}
}

// SendDocument uploads a file to a chat and returns the message id.
func (c *Client) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	msg, err := c.api.Send(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to send document to chat %d: %w", chatID, err)
	}
	return msg.MessageID, nil
}

// SendAdminAlert posts a Markdown message to the operator chat. It is a
// no-op when no operator chat is configured.
func (c *Client) SendAdminAlert(ctx context.Context, text string) error {
	if c.adminID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(c.adminID, text)
	msg.ParseMode = "Markdown"
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send admin alert: %w", err)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes text for Telegram's legacy Markdown mode.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
