package config

import (
	"os"
	"path/filepath"
	"testing"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `{
	"whatsapp": {"apiBaseUrl": "https://graph.facebook.com/v19.0", "phoneNumberId": "12345"},
	"database": {"path": "/tmp/wadispatch.db"}
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultSendBatchSize, cfg.Campaign.BatchSize)
	assert.Equal(t, constants.DefaultSendWorkers, cfg.Campaign.Workers)
	assert.Equal(t, constants.DefaultInterBatchDelayMs, cfg.Campaign.InterBatchDelayMs)
	assert.Equal(t, constants.DefaultMaxRecipients, cfg.Campaign.MaxRecipients)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, 0.80, cfg.Pricing[models.CategoryMarketing])
	assert.Equal(t, 0.35, cfg.Pricing[models.CategoryUtility])
}

func TestLoadConfigMissingRequiredFields(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"database": {"path": "/tmp/x.db"}}`))
	assert.ErrorIs(t, err, ErrMissingWhatsAppURL)

	_, err = LoadConfig(writeConfig(t, `{
		"whatsapp": {"apiBaseUrl": "https://example.com"},
		"database": {"path": "/tmp/x.db"}
	}`))
	assert.ErrorIs(t, err, ErrMissingPhoneNumberID)

	_, err = LoadConfig(writeConfig(t, `{
		"whatsapp": {"apiBaseUrl": "https://example.com", "phoneNumberId": "1"}
	}`))
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "env-token")
	t.Setenv("WADISPATCH_BILLING_WEBHOOK_SECRET", "env-billing-secret")
	t.Setenv("WADISPATCH_WHATSAPP_WEBHOOK_SECRET", "env-wa-secret")
	t.Setenv("DB_PATH", "/tmp/override.db")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.WhatsApp.AccessToken)
	assert.Equal(t, "env-billing-secret", cfg.Billing.WebhookSecret)
	assert.Equal(t, "env-wa-secret", cfg.WhatsApp.WebhookSecret)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestSecretsNeverComeFromFile(t *testing.T) {
	// The JSON tags hide the secret fields, so file values cannot leak in.
	cfg, err := LoadConfig(writeConfig(t, `{
		"whatsapp": {"apiBaseUrl": "https://example.com", "phoneNumberId": "1", "accessToken": "file-token", "webhookSecret": "file-secret"},
		"billing": {"webhookSecret": "file-secret"},
		"database": {"path": "/tmp/x.db"}
	}`))
	require.NoError(t, err)

	assert.Empty(t, cfg.WhatsApp.AccessToken)
	assert.Empty(t, cfg.WhatsApp.WebhookSecret)
	assert.Empty(t, cfg.Billing.WebhookSecret)
}

func TestProductionHardening(t *testing.T) {
	t.Run("missing billing secret rejected", func(t *testing.T) {
		t.Setenv("WADISPATCH_ENV", "production")
		t.Setenv("WHATSAPP_ACCESS_TOKEN", "token")

		_, err := LoadConfig(writeConfig(t, minimalConfig))
		require.Error(t, err)
	})

	t.Run("short billing secret rejected", func(t *testing.T) {
		t.Setenv("WADISPATCH_ENV", "production")
		t.Setenv("WHATSAPP_ACCESS_TOKEN", "token")
		t.Setenv("WADISPATCH_BILLING_WEBHOOK_SECRET", "short")

		_, err := LoadConfig(writeConfig(t, minimalConfig))
		require.Error(t, err)
	})

	t.Run("debug logging rejected", func(t *testing.T) {
		t.Setenv("WADISPATCH_ENV", "production")
		t.Setenv("WHATSAPP_ACCESS_TOKEN", "token")
		t.Setenv("WADISPATCH_BILLING_WEBHOOK_SECRET", "0123456789abcdef0123456789abcdef")

		_, err := LoadConfig(writeConfig(t, `{
			"logLevel": "debug",
			"whatsapp": {"apiBaseUrl": "https://example.com", "phoneNumberId": "1"},
			"database": {"path": "/tmp/x.db"}
		}`))
		require.Error(t, err)
	})

	t.Run("hardened config accepted", func(t *testing.T) {
		t.Setenv("WADISPATCH_ENV", "production")
		t.Setenv("WHATSAPP_ACCESS_TOKEN", "token")
		t.Setenv("WADISPATCH_BILLING_WEBHOOK_SECRET", "0123456789abcdef0123456789abcdef")

		cfg, err := LoadConfig(writeConfig(t, minimalConfig))
		require.NoError(t, err)
		assert.NotNil(t, cfg)
	})
}
