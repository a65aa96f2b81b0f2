package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBillingStore mirrors the database's compare-and-swap transaction
// semantics in memory.
type fakeBillingStore struct {
	mu            sync.Mutex
	transactions  map[string]*models.Transaction
	walletBalance float64
	ledger        []models.WalletTransaction
	invoices      []models.Invoice
	planID        string
	planExpiresAt *time.Time
}

func newFakeBillingStore() *fakeBillingStore {
	return &fakeBillingStore{transactions: make(map[string]*models.Transaction)}
}

func (f *fakeBillingStore) addTransaction(t *models.Transaction) {
	f.transactions[t.OrderID] = t
}

func (f *fakeBillingStore) GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[orderID]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (f *fakeBillingStore) TransitionTransactionStatus(ctx context.Context, orderID string, from, to models.TransactionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[orderID]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

func (f *fakeBillingStore) CreditWallet(ctx context.Context, orgID string, amount float64, reference, description string) (*models.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walletBalance += amount
	entry := models.WalletTransaction{OrgID: orgID, Type: models.LedgerCredit, Amount: amount, BalanceAfter: f.walletBalance, Reference: reference}
	f.ledger = append(f.ledger, entry)
	return &entry, nil
}

func (f *fakeBillingStore) DebitWallet(ctx context.Context, orgID string, amount float64, reference, description string) (*models.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletBalance-amount < 0 {
		return nil, fmt.Errorf("insufficient wallet balance")
	}
	f.walletBalance -= amount
	entry := models.WalletTransaction{OrgID: orgID, Type: models.LedgerDebit, Amount: amount, BalanceAfter: f.walletBalance, Reference: reference}
	f.ledger = append(f.ledger, entry)
	return &entry, nil
}

func (f *fakeBillingStore) ActivatePlan(ctx context.Context, orgID, planID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planID = planID
	f.planExpiresAt = &expiresAt
	return nil
}

func (f *fakeBillingStore) ExtendSubscription(ctx context.Context, orgID string, periodDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Now().UTC()
	if f.planExpiresAt != nil && f.planExpiresAt.After(base) {
		base = *f.planExpiresAt
	}
	expiry := base.AddDate(0, 0, periodDays)
	f.planExpiresAt = &expiry
	return nil
}

func (f *fakeBillingStore) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, *inv)
	return nil
}

func successEvent(orderID string) *models.PaymentWebhookPayload {
	p := &models.PaymentWebhookPayload{Type: models.PaymentEventSuccess}
	p.Data.Order.OrderID = orderID
	p.Data.Payment.Status = "SUCCESS"
	return p
}

func TestPayments_TopupAppliedExactlyOnce(t *testing.T) {
	store := newFakeBillingStore()
	store.addTransaction(&models.Transaction{
		ID: 1, OrgID: "org1", OrderID: "order-1",
		Type: models.TransactionTypeWalletTopup, Amount: 500, Currency: "INR",
		Status: models.TransactionStatusPending,
	})
	p := NewPaymentProcessor(store, testLogger())
	ctx := context.Background()

	// The provider delivers at-least-once; replay the same event five times.
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, successEvent("order-1")))
	}

	assert.Equal(t, 500.0, store.walletBalance)
	assert.Len(t, store.ledger, 1)
	assert.Len(t, store.invoices, 1)
	assert.Equal(t, models.TransactionStatusCompleted, store.transactions["order-1"].Status)
}

func TestPayments_ConcurrentReplays(t *testing.T) {
	store := newFakeBillingStore()
	store.addTransaction(&models.Transaction{
		ID: 1, OrgID: "org1", OrderID: "order-1",
		Type: models.TransactionTypeWalletTopup, Amount: 250, Currency: "INR",
		Status: models.TransactionStatusPending,
	})
	p := NewPaymentProcessor(store, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Process(context.Background(), successEvent("order-1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 250.0, store.walletBalance)
	assert.Len(t, store.ledger, 1)
	assert.Len(t, store.invoices, 1)
}

func TestPayments_PlanUpgrade(t *testing.T) {
	store := newFakeBillingStore()
	store.addTransaction(&models.Transaction{
		ID: 2, OrgID: "org1", OrderID: "order-2",
		Type: models.TransactionTypePlanUpgrade, Amount: 999, Currency: "INR",
		PlanID: "pro", PeriodDays: 30,
		Status: models.TransactionStatusPending,
	})
	p := NewPaymentProcessor(store, testLogger())

	require.NoError(t, p.Process(context.Background(), successEvent("order-2")))

	assert.Equal(t, "pro", store.planID)
	require.NotNil(t, store.planExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), *store.planExpiresAt, time.Minute)
	assert.Len(t, store.invoices, 1)
	assert.Zero(t, store.walletBalance)
}

func TestPayments_SubscriptionExtension(t *testing.T) {
	store := newFakeBillingStore()
	future := time.Now().UTC().AddDate(0, 0, 10)
	store.planExpiresAt = &future
	store.addTransaction(&models.Transaction{
		ID: 3, OrgID: "org1", OrderID: "order-3",
		Type: models.TransactionTypeSubscription, Amount: 499, Currency: "INR",
		PeriodDays: 30,
		Status:     models.TransactionStatusPending,
	})
	p := NewPaymentProcessor(store, testLogger())

	require.NoError(t, p.Process(context.Background(), successEvent("order-3")))

	// Extension stacks on the remaining period rather than resetting it.
	assert.WithinDuration(t, future.AddDate(0, 0, 30), *store.planExpiresAt, time.Minute)
}

func TestPayments_FailedAndDroppedSettleWithoutEffects(t *testing.T) {
	store := newFakeBillingStore()
	store.addTransaction(&models.Transaction{
		ID: 4, OrgID: "org1", OrderID: "order-4",
		Type: models.TransactionTypeWalletTopup, Amount: 100, Currency: "INR",
		Status: models.TransactionStatusPending,
	})
	p := NewPaymentProcessor(store, testLogger())
	ctx := context.Background()

	failed := &models.PaymentWebhookPayload{Type: models.PaymentEventFailed}
	failed.Data.Order.OrderID = "order-4"
	require.NoError(t, p.Process(ctx, failed))
	assert.Equal(t, models.TransactionStatusFailed, store.transactions["order-4"].Status)
	assert.Zero(t, store.walletBalance)
	assert.Empty(t, store.invoices)

	// A success arriving after the failure is out of order and must not apply.
	require.NoError(t, p.Process(ctx, successEvent("order-4")))
	assert.Equal(t, models.TransactionStatusFailed, store.transactions["order-4"].Status)
	assert.Zero(t, store.walletBalance)
}

func TestPayments_RefundReversesTopup(t *testing.T) {
	store := newFakeBillingStore()
	store.addTransaction(&models.Transaction{
		ID: 5, OrgID: "org1", OrderID: "order-5",
		Type: models.TransactionTypeWalletTopup, Amount: 300, Currency: "INR",
		Status: models.TransactionStatusPending,
	})
	p := NewPaymentProcessor(store, testLogger())
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, successEvent("order-5")))
	assert.Equal(t, 300.0, store.walletBalance)

	refund := &models.PaymentWebhookPayload{Type: models.PaymentEventRefund}
	refund.Data.Order.OrderID = "order-5"
	refund.Data.Refund.Status = "SUCCESS"
	require.NoError(t, p.Process(ctx, refund))
	require.NoError(t, p.Process(ctx, refund)) // replay

	assert.Equal(t, 0.0, store.walletBalance)
	assert.Len(t, store.ledger, 2)
	assert.Equal(t, models.TransactionStatusRefunded, store.transactions["order-5"].Status)
}

func TestPayments_UnknownOrderIgnored(t *testing.T) {
	store := newFakeBillingStore()
	p := NewPaymentProcessor(store, testLogger())

	require.NoError(t, p.Process(context.Background(), successEvent("order-unknown")))
	assert.Zero(t, store.walletBalance)
	assert.Empty(t, store.invoices)
}
