package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
)

// DocumentSender uploads a file to a Telegram chat.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) (int, error)
}

// TelegramChannel sends the document to the user's Telegram chat.
type TelegramChannel struct {
	sender DocumentSender
	docs   DocumentSource
	now    func() time.Time
}

// NewTelegramChannel creates a TelegramChannel.
func NewTelegramChannel(sender DocumentSender, docs DocumentSource) *TelegramChannel {
	return &TelegramChannel{sender: sender, docs: docs, now: time.Now}
}

func (c *TelegramChannel) Kind() Kind       { return ViaDirectMessage }
func (c *TelegramChannel) Provider() string { return "telegram" }

// Recipient returns the chat id when one was captured at purchase time.
func (c *TelegramChannel) Recipient(attrs nutrition.UserAttributes) (string, bool) {
	if attrs.TelegramChatID == 0 {
		return "", false
	}
	return strconv.FormatInt(attrs.TelegramChatID, 10), true
}

// Deliver uploads the document once.
func (c *TelegramChannel) Deliver(ctx context.Context, recipient string, doc document.Handle, attrs nutrition.UserAttributes) (Receipt, error) {
	fail := func(err error) (Receipt, error) {
		return Receipt{}, &DeliveryError{Channel: ViaDirectMessage, Provider: c.Provider(), Err: err}
	}

	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fail(fmt.Errorf("invalid chat id %q: %w", recipient, err))
	}

	data, err := c.docs.Fetch(ctx, doc)
	if err != nil {
		return fail(err)
	}

	messageID, err := c.sender.SendDocument(ctx, chatID, AttachmentName, data, Message(attrs))
	if err != nil {
		return fail(err)
	}

	return Receipt{
		Channel:   ViaDirectMessage,
		Provider:  c.Provider(),
		Recipient: recipient,
		MessageID: strconv.Itoa(messageID),
		SentAt:    c.now(),
	}, nil
}
