package models

import "time"

// Contact is a stored recipient owned by an organization.
type Contact struct {
	ID           string            `json:"id"`
	OrgID        string            `json:"orgId"`
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	Tags         []string          `json:"tags,omitempty"`
	SegmentID    string            `json:"segmentId,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	OptedOut     bool              `json:"optedOut"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Recipient is the resolved, send-ready view of a contact.
type Recipient struct {
	ContactID    string
	Phone        string
	Name         string
	CustomFields map[string]string
}
