package models

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft         CampaignStatus = "draft"
	CampaignStatusScheduled     CampaignStatus = "scheduled"
	CampaignStatusSending       CampaignStatus = "sending"
	CampaignStatusSent          CampaignStatus = "sent"
	CampaignStatusPartiallySent CampaignStatus = "partially_sent"
	CampaignStatusFailed        CampaignStatus = "failed"
	CampaignStatusCancelled     CampaignStatus = "cancelled"
)

// IsTerminal reports whether no further recipient-level processing occurs.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusSent, CampaignStatusPartiallySent, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

// RecipientFilter describes which contacts a campaign targets.
type RecipientFilter struct {
	Type      string   `json:"type"` // all, tags, segment
	Tags      []string `json:"tags,omitempty"`
	SegmentID string   `json:"segmentId,omitempty"`
}

const (
	FilterTypeAll     = "all"
	FilterTypeTags    = "tags"
	FilterTypeSegment = "segment"
)

type Campaign struct {
	ID              int64             `json:"id"`
	OrgID           string            `json:"orgId"`
	Name            string            `json:"name"`
	TemplateID      string            `json:"templateId"`
	Filter          RecipientFilter   `json:"filter"`
	Variables       map[string]string `json:"variables,omitempty"`
	Status          CampaignStatus    `json:"status"`
	TotalRecipients int               `json:"totalRecipients"`
	SentCount       int               `json:"sentCount"`
	DeliveredCount  int               `json:"deliveredCount"`
	ReadCount       int               `json:"readCount"`
	FailedCount     int               `json:"failedCount"`
	EstimatedCost   float64           `json:"estimatedCost"`
	ActualCost      float64           `json:"actualCost"`
	ScheduledAt     *time.Time        `json:"scheduledAt,omitempty"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Progress returns completion percentage of the send run (0-100).
func (c *Campaign) Progress() int {
	if c.TotalRecipients == 0 {
		return 0
	}
	p := (c.SentCount + c.FailedCount) * 100 / c.TotalRecipients
	if p > 100 {
		p = 100
	}
	return p
}

type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusDelivered RecipientStatus = "delivered"
	RecipientStatusRead      RecipientStatus = "read"
	RecipientStatusFailed    RecipientStatus = "failed"
)

// CampaignRecipient is one (campaign, contact) send attempt.
type CampaignRecipient struct {
	ID                int64           `json:"id"`
	CampaignID        int64           `json:"campaignId"`
	ContactID         string          `json:"contactId"`
	Phone             string          `json:"phone"`
	Name              string          `json:"name"`
	Status            RecipientStatus `json:"status"`
	WhatsAppMessageID string          `json:"whatsappMessageId,omitempty"`
	ErrorCode         string          `json:"errorCode,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	SentAt            *time.Time      `json:"sentAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// SendOutcome is the result of a single send attempt within a batch.
type SendOutcome struct {
	RecipientID       int64
	Success           bool
	WhatsAppMessageID string
	ErrorCode         string
	ErrorMessage      string
}

// CampaignProgress is the wire shape for the send-progress endpoints.
type CampaignProgress struct {
	CampaignID int64          `json:"campaignId"`
	Status     CampaignStatus `json:"status"`
	Progress   int            `json:"progress"`
	Stats      CampaignStats  `json:"stats"`
}

type CampaignStats struct {
	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}
