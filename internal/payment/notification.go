package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Notification is a webhook event sent by the payment provider.
type Notification struct {
	ID     FlexibleID `json:"id"`
	Type   string     `json:"type"`
	Topic  string     `json:"topic"`
	Action string     `json:"action"`
	Data   struct {
		ID FlexibleID `json:"id"`
	} `json:"data"`
}

// ParseNotification decodes a webhook from its body, falling back to the
// query string forms (?type=payment&data.id=N and ?topic=payment&id=N).
func ParseNotification(body []byte, query url.Values) (Notification, error) {
	var n Notification
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return Notification{}, fmt.Errorf("failed to decode notification: %w", err)
		}
	}

	if n.Type == "" {
		n.Type = query.Get("type")
	}
	if n.Topic == "" {
		n.Topic = query.Get("topic")
	}
	if n.Data.ID == "" {
		n.Data.ID = FlexibleID(query.Get("data.id"))
	}
	if n.ID == "" {
		n.ID = FlexibleID(query.Get("id"))
	}
	return n, nil
}

// IsPayment reports whether the event concerns a payment.
func (n Notification) IsPayment() bool {
	return n.Type == "payment" || n.Topic == "payment" || strings.HasPrefix(n.Action, "payment.")
}

// PaymentID returns the id of the payment the event refers to.
func (n Notification) PaymentID() string {
	if n.Data.ID != "" {
		return string(n.Data.ID)
	}
	if n.Topic == "payment" {
		return string(n.ID)
	}
	return ""
}
