package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"diet-plan-delivery/internal/nutrition"
)

// PreferenceRequest describes a checkout to create.
type PreferenceRequest struct {
	UserID          string
	Attributes      nutrition.UserAttributes
	Title           string
	Price           float64
	Currency        string
	NotificationURL string
	ReturnURL       string
}

// Preference is a created checkout.
type Preference struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkoutUrl"`
	SandboxURL  string `json:"sandboxUrl,omitempty"`
}

type preferenceItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type preferencePayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone *struct {
		AreaCode string `json:"area_code"`
		Number   string `json:"number"`
	} `json:"phone,omitempty"`
}

type preferenceBody struct {
	Items             []preferenceItem  `json:"items"`
	Payer             preferencePayer   `json:"payer"`
	PaymentMethods    map[string]int    `json:"payment_methods"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata"`
	BackURLs          map[string]string `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
}

// CreatePreference creates a checkout whose metadata carries the user id and
// attributes, so that Verify can read them back once the payment is approved.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Preference{}, fmt.Errorf("user id is required")
	}
	if req.Price <= 0 {
		return Preference{}, fmt.Errorf("price must be positive")
	}

	attrs := req.Attributes
	if attrs.UserID == "" {
		attrs.UserID = req.UserID
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return Preference{}, fmt.Errorf("failed to encode user attributes: %w", err)
	}

	title := req.Title
	if title == "" {
		title = "Nutrition Plan"
	}
	if attrs.DietType != "" {
		title = fmt.Sprintf("%s - %s", title, attrs.DietType)
	}

	body := preferenceBody{
		Items: []preferenceItem{{
			Title:       title,
			Description: fmt.Sprintf("Personalized nutrition plan for %s", attrs.DisplayName()),
			Quantity:    1,
			UnitPrice:   req.Price,
			CurrencyID:  req.Currency,
		}},
		Payer:             preferencePayer{Name: attrs.Name, Email: attrs.Email},
		PaymentMethods:    map[string]int{"installments": 1},
		NotificationURL:   req.NotificationURL,
		ExternalReference: "user_" + req.UserID,
		Metadata: map[string]string{
			"user_id":   req.UserID,
			"user_data": string(attrsJSON),
		},
	}

	if digits := digitsOnly(attrs.Phone); len(digits) > 2 {
		body.Payer.Phone = &struct {
			AreaCode string `json:"area_code"`
			Number   string `json:"number"`
		}{AreaCode: digits[:2], Number: digits[2:]}
	}

	if base := strings.TrimRight(req.ReturnURL, "/"); base != "" {
		body.BackURLs = map[string]string{
			"success": base + "/payment/success",
			"pending": base + "/payment/pending",
			"failure": base + "/payment/failure",
		}
		body.AutoReturn = StatusApproved
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return Preference{}, fmt.Errorf("failed to create payment preference: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Preference{}, fmt.Errorf("mercado pago api error: status=%d body=%s", status, string(respBody))
	}

	var resp struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Preference{}, fmt.Errorf("failed to decode preference: %w", err)
	}
	if resp.InitPoint == "" {
		return Preference{}, fmt.Errorf("preference response has no checkout url")
	}

	return Preference{ID: resp.ID, CheckoutURL: resp.InitPoint, SandboxURL: resp.SandboxInitPoint}, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
