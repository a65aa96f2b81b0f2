package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPayment(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signWhatsApp(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPaymentSignature(t *testing.T) {
	secret := "payment-webhook-secret"
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	t.Run("valid signature accepted", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		r.Header.Set("x-webhook-signature", signPayment(secret, ts, body))
		r.Header.Set("x-webhook-timestamp", ts)
		assert.NoError(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		r.Header.Set("x-webhook-signature", signPayment("wrong", ts, body))
		r.Header.Set("x-webhook-timestamp", ts)
		assert.Error(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		r.Header.Set("x-webhook-signature", signPayment(secret, ts, []byte(`{"amount":9999}`)))
		r.Header.Set("x-webhook-timestamp", ts)
		assert.Error(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))
	})

	t.Run("missing headers rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		assert.Error(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))

		r = httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		r.Header.Set("x-webhook-signature", signPayment(secret, ts, body))
		assert.Error(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))
	})

	t.Run("stale timestamp rejected", func(t *testing.T) {
		old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		r.Header.Set("x-webhook-signature", signPayment(secret, old, body))
		r.Header.Set("x-webhook-timestamp", old)
		assert.Error(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))
	})

	t.Run("timestamp not covered by signature rejected", func(t *testing.T) {
		other := strconv.FormatInt(time.Now().Unix()+1, 10)
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		r.Header.Set("x-webhook-signature", signPayment(secret, ts, body))
		r.Header.Set("x-webhook-timestamp", other)
		assert.Error(t, verifyPaymentSignature(r, body, secret, 5*time.Minute))
	})

	t.Run("empty secret passes outside production", func(t *testing.T) {
		t.Setenv("WADISPATCH_ENV", "development")
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		assert.NoError(t, verifyPaymentSignature(r, body, "", 5*time.Minute))
	})

	t.Run("empty secret fails in production", func(t *testing.T) {
		t.Setenv("WADISPATCH_ENV", "production")
		r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
		assert.Error(t, verifyPaymentSignature(r, body, "", 5*time.Minute))
	})
}

func TestVerifyWhatsAppSignature(t *testing.T) {
	secret := "wa-webhook-secret"
	body := []byte(`{"object":"whatsapp_business_account"}`)

	t.Run("valid signature accepted", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/whatsapp", bytes.NewReader(body))
		r.Header.Set("X-Hub-Signature-256", signWhatsApp(secret, body))
		assert.NoError(t, verifyWhatsAppSignature(r, body, secret))
	})

	t.Run("invalid format rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/whatsapp", bytes.NewReader(body))
		r.Header.Set("X-Hub-Signature-256", "md5=abcdef")
		assert.Error(t, verifyWhatsAppSignature(r, body, secret))
	})

	t.Run("wrong signature rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/webhooks/whatsapp", bytes.NewReader(body))
		r.Header.Set("X-Hub-Signature-256", signWhatsApp("other", body))
		assert.Error(t, verifyWhatsAppSignature(r, body, secret))
	})
}

func TestReadBodyLimitsSize(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 100)
	r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(big))

	body, err := readBody(r, 10)
	require.NoError(t, err)
	assert.Len(t, body, 10)
}

func TestReadBodyRestoresReader(t *testing.T) {
	payload := []byte(`{"k":"v"}`)
	r := httptest.NewRequest("POST", "/x", bytes.NewReader(payload))

	body, err := readBody(r, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, payload, body)

	again := make([]byte, len(payload))
	n, _ := r.Body.Read(again)
	assert.Equal(t, fmt.Sprintf("%s", payload), string(again[:n]))
}
