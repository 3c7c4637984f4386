package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"diet-plan-delivery/internal/nutrition"
)

func TestGatewayChannel_Deliver(t *testing.T) {
	ctx := context.Background()
	attrs := nutrition.UserAttributes{Name: "Ana", Phone: "5511999990000"}

	t.Run("Success", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if r.URL.Path != "/send" {
				t.Errorf("Expected /send, got %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer gw-key" {
				t.Errorf("Expected bearer credential, got %q", got)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("Failed to parse multipart form: %v", err)
				return
			}
			if r.FormValue("recipient") != "5511999990000" || r.FormValue("sender") != "5511000000000" {
				t.Errorf("Unexpected form fields %v", r.MultipartForm.Value)
			}
			if r.FormValue("message") == "" {
				t.Error("Expected a message body")
			}

			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("Expected file part: %v", err)
				return
			}
			defer file.Close()
			data, _ := io.ReadAll(file)
			if string(data) != "%PDF-1.3 test" || header.Filename != AttachmentName {
				t.Errorf("Unexpected attachment %q (%s)", data, header.Filename)
			}
			if ct := header.Header.Get("Content-Type"); ct != "application/pdf" {
				t.Errorf("Expected application/pdf, got %s", ct)
			}

			w.Write([]byte(`{"messageId":"wamid-1"}`))
		}))
		defer server.Close()

		ch := NewGatewayChannel(server.URL+"/", "gw-key", "5511000000000", fakeDocs{data: []byte("%PDF-1.3 test")}, 0)
		receipt, err := ch.Deliver(ctx, "5511999990000", testHandle, attrs)
		if err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected exactly one transmission, got %d", calls)
		}
		if receipt.MessageID != "wamid-1" || receipt.Channel != ViaDirectMessage || receipt.Provider != "gateway" {
			t.Errorf("Unexpected receipt %+v", receipt)
		}
	})

	t.Run("TransportFaultIsNotRetried", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer server.Close()

		ch := NewGatewayChannel(server.URL, "gw-key", "sender", fakeDocs{data: []byte("pdf")}, 0)
		_, err := ch.Deliver(ctx, "5511999990000", testHandle, attrs)

		var deliveryErr *DeliveryError
		if !errors.As(err, &deliveryErr) {
			t.Fatalf("Expected *DeliveryError, got %v", err)
		}
		if deliveryErr.Channel != ViaDirectMessage {
			t.Errorf("Expected direct message channel in error, got %s", deliveryErr.Channel)
		}
		if calls != 1 {
			t.Errorf("Expected exactly one attempt, got %d", calls)
		}
	})

	t.Run("MissingDocument", func(t *testing.T) {
		ch := NewGatewayChannel("http://127.0.0.1:1", "k", "s", fakeDocs{err: errors.New("gone")}, 0)
		var deliveryErr *DeliveryError
		if _, err := ch.Deliver(ctx, "5511999990000", testHandle, attrs); !errors.As(err, &deliveryErr) {
			t.Fatalf("Expected *DeliveryError, got %v", err)
		}
	})
}
