package models

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

type ServerConfig struct {
	Port                int   `json:"port"`
	ReadTimeoutSec      int   `json:"readTimeoutSec"`
	WriteTimeoutSec     int   `json:"writeTimeoutSec"`
	IdleTimeoutSec      int   `json:"idleTimeoutSec"`
	WebhookMaxSkewSec   int   `json:"webhookMaxSkewSec"`
	MaxWebhookBodyBytes int64 `json:"maxWebhookBodyBytes"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type WhatsAppConfig struct {
	APIBaseURL    string `json:"apiBaseUrl"`
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"-"`
	WebhookSecret string `json:"-"`
	TimeoutSec    int    `json:"timeoutSec"`
}

type BillingConfig struct {
	WebhookSecret string `json:"-"`
}

// CampaignConfig bounds the dispatch loop. Steady-state throughput is capped
// at BatchSize/InterBatchDelayMs, which must stay under the provider ceiling.
type CampaignConfig struct {
	BatchSize         int `json:"batchSize"`
	Workers           int `json:"workers"`
	InterBatchDelayMs int `json:"interBatchDelayMs"`
	MaxRecipients     int `json:"maxRecipients"`
	SendTimeoutSec    int `json:"sendTimeoutSec"`
	SchedulerPollSec  int `json:"schedulerPollSec"`
}

type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type Config struct {
	LogLevel      string             `json:"logLevel"`
	RetentionDays int                `json:"retentionDays"`
	Server        ServerConfig       `json:"server"`
	Database      DatabaseConfig     `json:"database"`
	WhatsApp      WhatsAppConfig     `json:"whatsapp"`
	Billing       BillingConfig      `json:"billing"`
	Campaign      CampaignConfig     `json:"campaign"`
	Retry         RetryConfig        `json:"retry"`
	Tracing       TracingConfig      `json:"tracing"`
	Pricing       map[string]float64 `json:"pricing"`
}
