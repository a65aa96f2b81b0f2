package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))
	return body, nil
}

// verifyPaymentSignature authenticates a payment provider webhook. The
// provider signs base64(HMAC-SHA256(timestamp + rawBody)) and sends the
// signature and timestamp in dedicated headers. The timestamp is bounded to
// reject replayed captures.
func verifyPaymentSignature(r *http.Request, body []byte, secretKey string, maxSkew time.Duration) error {
	if secretKey == "" {
		if os.Getenv("WADISPATCH_ENV") == "production" {
			return fmt.Errorf("billing webhook secret is required in production mode")
		}
		return nil
	}

	signature := r.Header.Get("x-webhook-signature")
	if signature == "" {
		return fmt.Errorf("missing x-webhook-signature header")
	}
	timestamp := r.Header.Get("x-webhook-timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing x-webhook-timestamp header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid x-webhook-timestamp header")
	}
	age := time.Since(time.Unix(ts, 0))
	if age > maxSkew || age < -maxSkew {
		return fmt.Errorf("webhook timestamp outside allowed skew")
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// verifyWhatsAppSignature authenticates a WhatsApp webhook, signed as
// sha256=<hex(HMAC-SHA256(rawBody))> in X-Hub-Signature-256.
func verifyWhatsAppSignature(r *http.Request, body []byte, secretKey string) error {
	if secretKey == "" {
		if os.Getenv("WADISPATCH_ENV") == "production" {
			return fmt.Errorf("whatsapp webhook secret is required in production mode")
		}
		return nil
	}

	signatureHeader := r.Header.Get("X-Hub-Signature-256")
	if signatureHeader == "" {
		return fmt.Errorf("missing X-Hub-Signature-256 header")
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return fmt.Errorf("invalid signature format")
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(parts[1])) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
