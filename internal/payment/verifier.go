package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"diet-plan-delivery/internal/nutrition"
)

// StatusApproved is the only status that allows fulfilment.
const StatusApproved = "approved"

// Payment is the provider's view of a payment plus the attributes attached
// to it at checkout.
type Payment struct {
	ID                string                    `json:"id"`
	Status            string                    `json:"status"`
	StatusDetail      string                    `json:"statusDetail,omitempty"`
	ExternalReference string                    `json:"externalReference,omitempty"`
	Amount            float64                   `json:"amount"`
	Currency          string                    `json:"currency,omitempty"`
	UserID            string                    `json:"userId,omitempty"`
	Attributes        *nutrition.UserAttributes `json:"userData,omitempty"`
}

type paymentResponse struct {
	ID                FlexibleID                 `json:"id"`
	Status            string                     `json:"status"`
	StatusDetail      string                     `json:"status_detail"`
	ExternalReference string                     `json:"external_reference"`
	TransactionAmount float64                    `json:"transaction_amount"`
	CurrencyID        string                     `json:"currency_id"`
	Metadata          map[string]json.RawMessage `json:"metadata"`
}

// Verify looks up a payment. It returns a *VerificationError unless the
// payment is approved and carries a user id and attributes. The returned
// Payment is populated as far as the response allowed, also on error.
func (c *Client) Verify(ctx context.Context, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	p := Payment{ID: paymentID}
	fail := func(reason string, err error) (Payment, error) {
		return p, &VerificationError{PaymentID: paymentID, Reason: reason, Status: p.Status, Err: err}
	}

	status, body, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return fail(ReasonUnreachable, err)
	}
	switch {
	case status == http.StatusNotFound:
		return fail(ReasonNotFound, fmt.Errorf("payment not found"))
	case status != http.StatusOK:
		return fail(ReasonUnreachable, fmt.Errorf("mercado pago api error: status=%d body=%s", status, string(body)))
	}

	var resp paymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fail(ReasonMalformed, fmt.Errorf("failed to decode payment: %w", err))
	}

	p.Status = resp.Status
	p.StatusDetail = resp.StatusDetail
	p.ExternalReference = resp.ExternalReference
	p.Amount = resp.TransactionAmount
	p.Currency = resp.CurrencyID
	if resp.ID != "" {
		p.ID = string(resp.ID)
	}

	if p.Status != StatusApproved {
		return fail(ReasonNotApproved, nil)
	}

	userID, attrs, err := extractMetadata(resp.Metadata)
	if err != nil {
		return fail(ReasonMissingMetadata, err)
	}
	p.UserID = userID
	p.Attributes = attrs
	return p, nil
}

// extractMetadata reads the user id and attributes attached at checkout.
// The provider may rewrite keys to snake_case, and the attributes may be an
// object or a JSON-encoded string.
func extractMetadata(md map[string]json.RawMessage) (string, *nutrition.UserAttributes, error) {
	rawID := firstPresent(md, "userId", "user_id")
	rawData := firstPresent(md, "userData", "user_data")
	if rawID == nil || rawData == nil {
		return "", nil, fmt.Errorf("user data not found in payment metadata")
	}

	var id FlexibleID
	if err := json.Unmarshal(rawID, &id); err != nil || id == "" {
		return "", nil, fmt.Errorf("invalid user id in payment metadata")
	}

	attrs, err := nutrition.ParseAttributes(rawData)
	if err != nil {
		return "", nil, err
	}
	if attrs.UserID == "" {
		attrs.UserID = string(id)
	}
	return string(id), &attrs, nil
}

func firstPresent(md map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := md[k]; ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}

// FlexibleID decodes identifiers sent either as JSON strings or numbers.
type FlexibleID string

// UnmarshalJSON accepts a string, a number or null.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or a number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}
