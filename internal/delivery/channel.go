package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
)

// Kind tags the delivery variant chosen for a request.
type Kind string

const (
	ViaDirectMessage Kind = "direct_message"
	ViaMail          Kind = "mail"
)

// ParseKind parses a caller preference. An empty string means no preference.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "direct_message", "dm", "whatsapp", "telegram", "phone":
		return ViaDirectMessage, nil
	case "mail", "email":
		return ViaMail, nil
	default:
		return "", fmt.Errorf("unknown delivery channel %q", s)
	}
}

// AttachmentName is the file name users see on the delivered document.
const AttachmentName = "nutrition-plan.pdf"

// Receipt is the proof of one successful transmission.
type Receipt struct {
	Channel   Kind      `json:"channel"`
	Provider  string    `json:"provider"`
	Recipient string    `json:"recipient"`
	MessageID string    `json:"messageId,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// DocumentSource loads the bytes of a rendered document.
type DocumentSource interface {
	Fetch(ctx context.Context, h document.Handle) ([]byte, error)
}

// Channel transmits a rendered document to a user. Deliver performs exactly
// one transmission attempt and never retries.
type Channel interface {
	Kind() Kind
	Provider() string
	Recipient(attrs nutrition.UserAttributes) (string, bool)
	Deliver(ctx context.Context, recipient string, doc document.Handle, attrs nutrition.UserAttributes) (Receipt, error)
}

// DeliveryError is returned when a channel fails to transmit.
type DeliveryError struct {
	Channel  Kind
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s (%s) failed: %v", e.Channel, e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

var (
	// ErrNoRecipient means the attributes hold no address usable by any
	// eligible channel.
	ErrNoRecipient = errors.New("no usable recipient address")
	// ErrChannelUnavailable means the preferred channel is not configured.
	ErrChannelUnavailable = errors.New("delivery channel not configured")
)

// selectionOrder is used when the caller has no preference.
var selectionOrder = []Kind{ViaDirectMessage, ViaMail}

// Select resolves the channel and recipient once, before delivery. With a
// preference only that variant is considered. Without one a phone or chat
// identifier wins over an email address.
func Select(channels []Channel, attrs nutrition.UserAttributes, pref Kind) (Channel, string, error) {
	order := selectionOrder
	if pref != "" {
		order = []Kind{pref}
	}

	configured := false
	for _, kind := range order {
		for _, ch := range channels {
			if ch.Kind() != kind {
				continue
			}
			configured = true
			if recipient, ok := ch.Recipient(attrs); ok {
				return ch, recipient, nil
			}
		}
	}

	if pref != "" && !configured {
		return nil, "", fmt.Errorf("%s: %w", pref, ErrChannelUnavailable)
	}
	if pref != "" {
		return nil, "", fmt.Errorf("no address for %s: %w", pref, ErrNoRecipient)
	}
	return nil, "", ErrNoRecipient
}

// Message is the text sent alongside the document.
func Message(attrs nutrition.UserAttributes) string {
	return fmt.Sprintf("Hi %s, your personalized nutrition plan is ready! "+
		"The attached document has all the details of your diet.", attrs.DisplayName())
}
