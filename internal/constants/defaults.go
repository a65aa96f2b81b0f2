package constants

// Campaign dispatch defaults
const (
	DefaultSendBatchSize          = 50
	DefaultSendWorkers            = DefaultSendBatchSize
	DefaultInterBatchDelayMs      = 1000
	DefaultMaxRecipients          = 10000
	DefaultSendTimeoutSec         = 30
	DefaultRunQueueSize           = 64
	DefaultProgressPushMs         = 1000
	DefaultSchedulerPollSec       = 30
	DefaultRetentionDays          = 30
	CleanupSchedulerIntervalHours = 24
)

// Quiet hours for marketing sends, in the +05:30 business timezone
const (
	QuietHoursStartHour = 21
	QuietHoursEndHour   = 9
	BusinessTZOffsetSec = 5*3600 + 30*60
)

// Reconciler defaults
const (
	DefaultCallbackLookupAttempts  = 3
	DefaultCallbackLookupBackoffMs = 200
	DefaultStaleCheckIntervalMin   = 15
	DefaultStaleThresholdHours     = 24
)

// Retry/backoff defaults
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultWebhookMaxSkewSec     = 300
	DefaultMaxWebhookBodyBytes   = 1 << 20
	ServerErrorChannelSize       = 1
)

// Validation bounds
const (
	MinPhoneNumberLength = 7
	MaxPhoneNumberLength = 20
	MaxMessageIDLength   = 255
	MaxTemplateVariables = 20
)

// Encryption settings for phone numbers at rest
const (
	PBKDF2Iterations  = 100000
	EncryptionKeySize = 32
	NonceSize         = 12
)
