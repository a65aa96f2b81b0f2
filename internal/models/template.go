package models

import "time"

type TemplateStatus string

const (
	TemplateStatusPending  TemplateStatus = "pending"
	TemplateStatusApproved TemplateStatus = "approved"
	TemplateStatusRejected TemplateStatus = "rejected"
)

// Template categories as classified by the provider. The category decides
// pricing and whether quiet hours apply.
const (
	CategoryMarketing      = "marketing"
	CategoryUtility        = "utility"
	CategoryAuthentication = "authentication"
)

// Template mirrors a provider-approved message template.
type Template struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"orgId"`
	Name      string         `json:"name"`
	Category  string         `json:"category"`
	Language  string         `json:"language"`
	Body      string         `json:"body"`
	Status    TemplateStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
