package models

import "time"

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Rank returns the forward-ordering rank used to enforce status monotonicity.
// A callback is only applied when its rank is strictly greater than the
// current rank. Failed is handled separately since it can terminate the
// flow from any non-terminal state.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	}
	return -1
}

// IsTerminal reports whether the status accepts no further transitions.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusRead || s == MessageStatusFailed
}

type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// Message is the canonical record of one message. WhatsAppMessageID is the
// provider-assigned identifier and the join key for delivery callbacks.
type Message struct {
	ID                int64            `json:"id"`
	OrgID             string           `json:"orgId"`
	CampaignID        *int64           `json:"campaignId,omitempty"`
	WhatsAppMessageID string           `json:"whatsappMessageId"`
	Direction         MessageDirection `json:"direction"`
	Type              string           `json:"type"`
	RecipientPhone    string           `json:"recipientPhone"`
	Content           string           `json:"content"`
	Status            MessageStatus    `json:"status"`
	Category          string           `json:"category"`
	Cost              float64          `json:"cost"`
	ErrorCode         string           `json:"errorCode,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	DeliveredAt       *time.Time       `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time       `json:"readAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}
