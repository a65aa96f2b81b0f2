package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"
)

var (
	ErrMissingWhatsAppURL   = models.ConfigError{Message: "missing WhatsApp API base URL"}
	ErrMissingPhoneNumberID = models.ConfigError{Message: "missing WhatsApp phone number id"}
	ErrMissingDBPath        = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingWhatsAppURL
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return ErrMissingPhoneNumberID
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.WebhookMaxSkewSec <= 0 {
		c.Server.WebhookMaxSkewSec = constants.DefaultWebhookMaxSkewSec
	}
	if c.Server.MaxWebhookBodyBytes <= 0 {
		c.Server.MaxWebhookBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}

	if c.Campaign.BatchSize <= 0 {
		c.Campaign.BatchSize = constants.DefaultSendBatchSize
	}
	if c.Campaign.Workers <= 0 {
		c.Campaign.Workers = constants.DefaultSendWorkers
	}
	if c.Campaign.InterBatchDelayMs <= 0 {
		c.Campaign.InterBatchDelayMs = constants.DefaultInterBatchDelayMs
	}
	if c.Campaign.MaxRecipients <= 0 {
		c.Campaign.MaxRecipients = constants.DefaultMaxRecipients
	}
	if c.Campaign.SendTimeoutSec <= 0 {
		c.Campaign.SendTimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Campaign.SchedulerPollSec <= 0 {
		c.Campaign.SchedulerPollSec = constants.DefaultSchedulerPollSec
	}

	if c.WhatsApp.TimeoutSec <= 0 {
		c.WhatsApp.TimeoutSec = constants.DefaultSendTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}

	if c.Pricing == nil {
		c.Pricing = map[string]float64{}
	}
	if _, ok := c.Pricing[models.CategoryMarketing]; !ok {
		c.Pricing[models.CategoryMarketing] = 0.80
	}
	if _, ok := c.Pricing[models.CategoryUtility]; !ok {
		c.Pricing[models.CategoryUtility] = 0.35
	}
	if _, ok := c.Pricing[models.CategoryAuthentication]; !ok {
		c.Pricing[models.CategoryAuthentication] = 0.35
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		c.WhatsApp.APIBaseURL = url
	}
	if token := os.Getenv("WHATSAPP_ACCESS_TOKEN"); token != "" {
		c.WhatsApp.AccessToken = token
	}

	// Webhook secrets are only ever read from the environment.
	if secret := os.Getenv("WADISPATCH_WHATSAPP_WEBHOOK_SECRET"); secret != "" {
		c.WhatsApp.WebhookSecret = secret
	}
	if secret := os.Getenv("WADISPATCH_BILLING_WEBHOOK_SECRET"); secret != "" {
		c.Billing.WebhookSecret = secret
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

// validateSecurity performs production hardening checks after environment
// overrides have been applied.
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("WADISPATCH_ENV") == "production"

	if isProduction {
		if c.Billing.WebhookSecret == "" {
			return models.ConfigError{Message: "billing webhook secret is required in production (set WADISPATCH_BILLING_WEBHOOK_SECRET)"}
		}
		if len(c.Billing.WebhookSecret) < 32 {
			return models.ConfigError{Message: "billing webhook secret must be at least 32 characters long"}
		}
		if c.WhatsApp.AccessToken == "" {
			return models.ConfigError{Message: "WhatsApp access token is required in production (set WHATSAPP_ACCESS_TOKEN)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Billing.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: billing webhook secret not set. Set WADISPATCH_BILLING_WEBHOOK_SECRET to verify payment webhooks.\n")
		}
	}

	return nil
}
