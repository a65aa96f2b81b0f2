package models

import (
	"strconv"
	"time"
)

// WhatsApp delivery callback statuses as sent by the provider.
const (
	CallbackStatusSent      = "sent"
	CallbackStatusDelivered = "delivered"
	CallbackStatusRead      = "read"
	CallbackStatusFailed    = "failed"
)

// StatusCallback is one delivery-status update from the messaging provider,
// keyed by the provider's message id.
type StatusCallback struct {
	MessageID   string         `json:"id"`
	Status      string         `json:"status"`
	Timestamp   int64          `json:"timestamp"`
	RecipientID string         `json:"recipient_id"`
	Errors      []CallbackError `json:"errors,omitempty"`
}

type CallbackError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// Time returns the callback's timestamp, or the zero time when absent.
func (c StatusCallback) Time() time.Time {
	if c.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(c.Timestamp, 0).UTC()
}

// FailureDetail extracts the provider's error code and description from a
// failed-status callback.
func (c StatusCallback) FailureDetail() (code, detail string) {
	if len(c.Errors) == 0 {
		return "UNKNOWN", "provider reported failure without error detail"
	}
	e := c.Errors[0]
	detail = e.Title
	if e.Message != "" {
		detail = e.Message
	}
	return strconv.Itoa(e.Code), detail
}

// WhatsAppWebhookPayload is the inbound webhook envelope carrying zero or
// more status updates.
type WhatsAppWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string           `json:"messaging_product"`
				Statuses         []StatusCallback `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Statuses flattens all status updates out of the webhook envelope.
func (p *WhatsAppWebhookPayload) Statuses() []StatusCallback {
	var out []StatusCallback
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Statuses...)
		}
	}
	return out
}

// Payment webhook event types delivered by the payment provider.
const (
	PaymentEventSuccess     = "PAYMENT_SUCCESS_WEBHOOK"
	PaymentEventFailed      = "PAYMENT_FAILED_WEBHOOK"
	PaymentEventUserDropped = "PAYMENT_USER_DROPPED_WEBHOOK"
	PaymentEventRefund      = "REFUND_STATUS_WEBHOOK"
)

// PaymentWebhookPayload is the payment provider's webhook envelope. Delivery
// is at-least-once; Data.Order.OrderID is the idempotency key.
type PaymentWebhookPayload struct {
	Type string             `json:"type"`
	Data PaymentWebhookData `json:"data"`
}

type PaymentWebhookData struct {
	Order struct {
		OrderID  string  `json:"order_id"`
		Amount   float64 `json:"order_amount"`
		Currency string  `json:"order_currency"`
	} `json:"order"`
	Payment struct {
		Status  string  `json:"payment_status"`
		Amount  float64 `json:"payment_amount"`
		Method  string  `json:"payment_method"`
		Message string  `json:"payment_message,omitempty"`
	} `json:"payment"`
	Refund struct {
		RefundID string  `json:"refund_id"`
		Status   string  `json:"refund_status"`
		Amount   float64 `json:"refund_amount"`
	} `json:"refund"`
}
