package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifySignature checks a Mercado Pago x-signature header of the form
// "ts=<ts>,v1=<hex hmac>" against the notification's data id and the
// x-request-id header.
func VerifySignature(secret, xSignature, xRequestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(xSignature, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("malformed signature header: %w", ErrInvalidSignature)
	}

	expected := sign(secret, signatureManifest(dataID, xRequestID, ts))
	got, err := hex.DecodeString(v1)
	if err != nil || !hmac.Equal(got, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign builds an x-signature header value for the given notification.
func Sign(secret, xRequestID, dataID, ts string) string {
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(sign(secret, signatureManifest(dataID, xRequestID, ts))))
}

// signatureManifest omits parts that are absent, as the provider does.
func signatureManifest(dataID, xRequestID, ts string) string {
	var sb strings.Builder
	if dataID != "" {
		sb.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if xRequestID != "" {
		sb.WriteString("request-id:" + xRequestID + ";")
	}
	sb.WriteString("ts:" + ts + ";")
	return sb.String()
}

func sign(secret, manifest string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return mac.Sum(nil)
}
