package integration

import (
	"context"
	"testing"
	"time"

	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentEvent(eventType, orderID string) *models.PaymentWebhookPayload {
	p := &models.PaymentWebhookPayload{Type: eventType}
	p.Data.Order.OrderID = orderID
	p.Data.Payment.Status = "SUCCESS"
	return p
}

func TestWalletTopupIdempotentEndToEnd(t *testing.T) {
	env := NewTestEnvironment(t)
	env.SeedOrganization(100)
	txn := env.SeedTransaction("order-itest-1", models.TransactionTypeWalletTopup, 500, 0)
	ctx := context.Background()

	// The provider redelivers; every delivery after the first must be a no-op.
	for i := 0; i < 3; i++ {
		require.NoError(t, env.Payments.Process(ctx, paymentEvent(models.PaymentEventSuccess, "order-itest-1")))
	}

	org, err := env.DB.GetOrganization(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 600.0, org.WalletBalance)

	ledger, err := env.DB.ListWalletTransactions(ctx, testOrgID, 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.LedgerCredit, ledger[0].Type)
	assert.Equal(t, 600.0, ledger[0].BalanceAfter)

	invoices, err := env.DB.CountInvoicesForTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, invoices)

	stored, err := env.DB.GetTransactionByOrderID(ctx, "order-itest-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestPlanUpgradeActivatesPlan(t *testing.T) {
	env := NewTestEnvironment(t)
	env.SeedOrganization(0)
	env.SeedTransaction("order-itest-2", models.TransactionTypePlanUpgrade, 999, 30)
	ctx := context.Background()

	require.NoError(t, env.Payments.Process(ctx, paymentEvent(models.PaymentEventSuccess, "order-itest-2")))

	org, err := env.DB.GetOrganization(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, "pro", org.PlanID)
	require.NotNil(t, org.PlanExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), *org.PlanExpiresAt, time.Minute)
}

func TestRefundReversesTopupEndToEnd(t *testing.T) {
	env := NewTestEnvironment(t)
	env.SeedOrganization(100)
	env.SeedTransaction("order-itest-3", models.TransactionTypeWalletTopup, 300, 0)
	ctx := context.Background()

	require.NoError(t, env.Payments.Process(ctx, paymentEvent(models.PaymentEventSuccess, "order-itest-3")))

	refund := paymentEvent(models.PaymentEventRefund, "order-itest-3")
	refund.Data.Refund.Status = "SUCCESS"
	require.NoError(t, env.Payments.Process(ctx, refund))
	require.NoError(t, env.Payments.Process(ctx, refund)) // redelivery

	org, err := env.DB.GetOrganization(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, org.WalletBalance)

	ledger, err := env.DB.ListWalletTransactions(ctx, testOrgID, 10)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)

	stored, err := env.DB.GetTransactionByOrderID(ctx, "order-itest-3")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRefunded, stored.Status)
}

func TestFailedPaymentLeavesWalletUntouched(t *testing.T) {
	env := NewTestEnvironment(t)
	env.SeedOrganization(50)
	env.SeedTransaction("order-itest-4", models.TransactionTypeWalletTopup, 200, 0)
	ctx := context.Background()

	require.NoError(t, env.Payments.Process(ctx, paymentEvent(models.PaymentEventFailed, "order-itest-4")))

	org, err := env.DB.GetOrganization(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, org.WalletBalance)

	stored, err := env.DB.GetTransactionByOrderID(ctx, "order-itest-4")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, stored.Status)

	// A success arriving after the failure is out of order and must not apply.
	require.NoError(t, env.Payments.Process(ctx, paymentEvent(models.PaymentEventSuccess, "order-itest-4")))
	org, err = env.DB.GetOrganization(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, org.WalletBalance)
}
