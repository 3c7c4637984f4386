package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
)

// GatewayChannel uploads the document to an HTTP messaging gateway that
// forwards it to the user's phone.
type GatewayChannel struct {
	baseURL    string
	apiKey     string
	sender     string
	docs       DocumentSource
	httpClient *http.Client
	now        func() time.Time
}

// NewGatewayChannel creates a GatewayChannel posting to baseURL/send.
func NewGatewayChannel(baseURL, apiKey, sender string, docs DocumentSource, timeout time.Duration) *GatewayChannel {
	return &GatewayChannel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
		docs:       docs,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (c *GatewayChannel) Kind() Kind       { return ViaDirectMessage }
func (c *GatewayChannel) Provider() string { return "gateway" }

// Recipient returns the user's phone number reduced to its digits.
func (c *GatewayChannel) Recipient(attrs nutrition.UserAttributes) (string, bool) {
	phone := NormalizePhone(attrs.Phone)
	return phone, phone != ""
}

// NormalizePhone keeps the digits of a phone number. Numbers with fewer than
// eight digits are rejected.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 8 {
		return ""
	}
	return b.String()
}

// Deliver posts one multipart request holding the message and the document.
func (c *GatewayChannel) Deliver(ctx context.Context, recipient string, doc document.Handle, attrs nutrition.UserAttributes) (Receipt, error) {
	fail := func(err error) (Receipt, error) {
		return Receipt{}, &DeliveryError{Channel: ViaDirectMessage, Provider: c.Provider(), Err: err}
	}

	data, err := c.docs.Fetch(ctx, doc)
	if err != nil {
		return fail(err)
	}

	body, contentType, err := buildGatewayForm(map[string]string{
		"recipient": recipient,
		"message":   Message(attrs),
		"sender":    c.sender,
	}, AttachmentName, data)
	if err != nil {
		return fail(fmt.Errorf("failed to build request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", body)
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("gateway error: status=%d body=%s", resp.StatusCode, string(respBody)))
	}

	var ack struct {
		ID        string `json:"id"`
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(respBody, &ack)
	if ack.MessageID == "" {
		ack.MessageID = ack.ID
	}

	return Receipt{
		Channel:   ViaDirectMessage,
		Provider:  c.Provider(),
		Recipient: recipient,
		MessageID: ack.MessageID,
		SentAt:    c.now(),
	}, nil
}

var gatewayFieldOrder = []string{"recipient", "message", "sender"}

func buildGatewayForm(fields map[string]string, fileName string, file []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, name := range gatewayFieldOrder {
		if err := w.WriteField(name, fields[name]); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": fileName})},
		"Content-Type":        {document.ContentTypePDF},
	})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
