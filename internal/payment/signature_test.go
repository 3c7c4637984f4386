package payment

import (
	"errors"
	"net/url"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	const secret = "webhook-secret"
	header := Sign(secret, "req-1", "ABC123", "1700000000000")

	t.Run("Valid", func(t *testing.T) {
		if err := VerifySignature(secret, header, "req-1", "ABC123"); err != nil {
			t.Fatalf("Expected valid signature, got %v", err)
		}
	})

	t.Run("SpacesAreTolerated", func(t *testing.T) {
		spaced := "ts=1700000000000, v1=" + header[len("ts=1700000000000,v1="):]
		if err := VerifySignature(secret, spaced, "req-1", "ABC123"); err != nil {
			t.Fatalf("Expected valid signature, got %v", err)
		}
	})

	for name, args := range map[string][4]string{
		"WrongSecret":    {"other", header, "req-1", "ABC123"},
		"WrongRequestID": {secret, header, "req-2", "ABC123"},
		"WrongDataID":    {secret, header, "req-1", "XYZ"},
		"Malformed":      {secret, "garbage", "req-1", "ABC123"},
		"BadHex":         {secret, "ts=1,v1=zz", "req-1", "ABC123"},
	} {
		t.Run(name, func(t *testing.T) {
			err := VerifySignature(args[0], args[1], args[2], args[3])
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestParseNotification(t *testing.T) {
	t.Run("Body", func(t *testing.T) {
		n, err := ParseNotification([]byte(`{"action":"payment.updated","type":"payment","data":{"id":456}}`), url.Values{})
		if err != nil {
			t.Fatal(err)
		}
		if !n.IsPayment() || n.PaymentID() != "456" {
			t.Errorf("Unexpected notification %+v", n)
		}
	})

	t.Run("LegacyQuery", func(t *testing.T) {
		n, err := ParseNotification(nil, url.Values{"topic": {"payment"}, "id": {"789"}})
		if err != nil {
			t.Fatal(err)
		}
		if !n.IsPayment() || n.PaymentID() != "789" {
			t.Errorf("Unexpected notification %+v", n)
		}
	})

	t.Run("OtherTopic", func(t *testing.T) {
		n, err := ParseNotification([]byte(`{"type":"merchant_order","data":{"id":"1"}}`), url.Values{})
		if err != nil {
			t.Fatal(err)
		}
		if n.IsPayment() {
			t.Error("Expected a non-payment notification")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := ParseNotification([]byte(`{`), url.Values{}); err == nil {
			t.Error("Expected decode error")
		}
	})
}
