package models

import "time"

type TransactionType string

const (
	TransactionTypeWalletTopup  TransactionType = "wallet_topup"
	TransactionTypePlanUpgrade  TransactionType = "plan_upgrade"
	TransactionTypeSubscription TransactionType = "subscription"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// Transaction is one payment attempt. OrderID is assigned by the payment
// provider and is the idempotency key for webhook processing.
type Transaction struct {
	ID          int64             `json:"id"`
	OrgID       string            `json:"orgId"`
	OrderID     string            `json:"orderId"`
	Type        TransactionType   `json:"type"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	PlanID      string            `json:"planId,omitempty"`
	PeriodDays  int               `json:"periodDays,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type LedgerEntryType string

const (
	LedgerCredit LedgerEntryType = "credit"
	LedgerDebit  LedgerEntryType = "debit"
)

// WalletTransaction is an append-only ledger entry. BalanceAfter records the
// wallet balance that resulted from applying this entry; the cached balance
// on the organization must always match the latest entry.
type WalletTransaction struct {
	ID           int64           `json:"id"`
	OrgID        string          `json:"orgId"`
	Type         LedgerEntryType `json:"type"`
	Amount       float64         `json:"amount"`
	BalanceAfter float64         `json:"balanceAfter"`
	Reference    string          `json:"reference"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Invoice struct {
	ID            int64     `json:"id"`
	OrgID         string    `json:"orgId"`
	Number        string    `json:"number"`
	TransactionID int64     `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Organization carries the billing-relevant account state: the cached wallet
// balance and the active plan window.
type Organization struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	WalletBalance float64    `json:"walletBalance"`
	PlanID        string     `json:"planId,omitempty"`
	PlanExpiresAt *time.Time `json:"planExpiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
