package service

import (
	"context"
	"fmt"
	"time"

	"wadispatch/internal/metrics"
	"wadispatch/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BillingStore is the persistence behind payment webhook processing.
type BillingStore interface {
	GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
	TransitionTransactionStatus(ctx context.Context, orderID string, from, to models.TransactionStatus) (bool, error)
	CreditWallet(ctx context.Context, orgID string, amount float64, reference, description string) (*models.WalletTransaction, error)
	DebitWallet(ctx context.Context, orgID string, amount float64, reference, description string) (*models.WalletTransaction, error)
	ActivatePlan(ctx context.Context, orgID, planID string, expiresAt time.Time) error
	ExtendSubscription(ctx context.Context, orgID string, periodDays int) error
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
}

// PaymentProcessor turns at-least-once payment webhooks into exactly-once
// side effects. The compare-and-swap on the transaction status decides a
// single winner per order id; every losing or repeated delivery is a no-op.
// All paths succeed from the provider's point of view so it stops retrying.
type PaymentProcessor struct {
	store  BillingStore
	logger *logrus.Logger
}

func NewPaymentProcessor(store BillingStore, logger *logrus.Logger) *PaymentProcessor {
	return &PaymentProcessor{store: store, logger: logger}
}

// Process applies one payment webhook. The returned error means the event
// could not be evaluated (storage failure); the caller still acknowledges
// the webhook and relies on the provider redelivering.
func (p *PaymentProcessor) Process(ctx context.Context, payload *models.PaymentWebhookPayload) error {
	orderID := payload.Data.Order.OrderID
	if orderID == "" {
		p.logger.WithField("event", payload.Type).Warn("Ignoring payment webhook without order id")
		return nil
	}

	log := p.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"event":    payload.Type,
	})

	txn, err := p.store.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if txn == nil {
		metrics.IncrementCounter("payment_webhook_unknown_order_total", nil, "Payment webhooks for unknown order ids")
		log.Warn("Payment webhook references unknown order")
		return nil
	}

	switch payload.Type {
	case models.PaymentEventSuccess:
		return p.handleSuccess(ctx, log, txn)
	case models.PaymentEventFailed:
		return p.settle(ctx, log, orderID, models.TransactionStatusFailed)
	case models.PaymentEventUserDropped:
		return p.settle(ctx, log, orderID, models.TransactionStatusCancelled)
	case models.PaymentEventRefund:
		return p.handleRefund(ctx, log, txn, payload.Data.Refund.Status)
	default:
		log.Warn("Ignoring payment webhook with unknown event type")
		return nil
	}
}

// handleSuccess claims the pending transaction and applies its side effects.
// Only the delivery that wins the pending -> completed swap gets here with
// claimed=true; duplicates and redeliveries observe false and stop.
func (p *PaymentProcessor) handleSuccess(ctx context.Context, log *logrus.Entry, txn *models.Transaction) error {
	claimed, err := p.store.TransitionTransactionStatus(ctx, txn.OrderID, models.TransactionStatusPending, models.TransactionStatusCompleted)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.IncrementCounter("payment_webhook_replays_total", nil, "Duplicate payment webhook deliveries")
		log.WithField("status", txn.Status).Info("Duplicate payment success webhook, side effects already applied")
		return nil
	}

	if err := p.applySuccessEffects(ctx, txn); err != nil {
		// Side effects failed after the claim. The transaction stays
		// completed; the failure is surfaced for manual reconciliation
		// rather than risking a double credit on webhook redelivery.
		metrics.IncrementCounter("payment_side_effect_failures_total", nil, "Payment side effects that failed after claim")
		log.WithError(err).Error("Payment side effects failed after claiming transaction")
		return err
	}

	metrics.IncrementCounter("payments_completed_total", map[string]string{
		"type": string(txn.Type),
	}, "Completed payment transactions")
	log.WithField("type", txn.Type).Info("Payment completed")
	return nil
}

func (p *PaymentProcessor) applySuccessEffects(ctx context.Context, txn *models.Transaction) error {
	switch txn.Type {
	case models.TransactionTypeWalletTopup:
		if _, err := p.store.CreditWallet(ctx, txn.OrgID, txn.Amount, txn.OrderID,
			fmt.Sprintf("wallet top-up via order %s", txn.OrderID)); err != nil {
			return fmt.Errorf("wallet credit: %w", err)
		}
	case models.TransactionTypePlanUpgrade:
		expiresAt := time.Now().UTC().AddDate(0, 0, txn.PeriodDays)
		if err := p.store.ActivatePlan(ctx, txn.OrgID, txn.PlanID, expiresAt); err != nil {
			return fmt.Errorf("plan activation: %w", err)
		}
	case models.TransactionTypeSubscription:
		if err := p.store.ExtendSubscription(ctx, txn.OrgID, txn.PeriodDays); err != nil {
			return fmt.Errorf("subscription extension: %w", err)
		}
	default:
		return fmt.Errorf("unknown transaction type %q", txn.Type)
	}

	inv := &models.Invoice{
		OrgID:         txn.OrgID,
		Number:        invoiceNumber(),
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
	}
	if err := p.store.CreateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("invoice creation: %w", err)
	}
	return nil
}

// settle moves a pending transaction to a non-success terminal status. No
// side effects apply; the swap just keeps duplicates from flapping the
// status later.
func (p *PaymentProcessor) settle(ctx context.Context, log *logrus.Entry, orderID string, to models.TransactionStatus) error {
	moved, err := p.store.TransitionTransactionStatus(ctx, orderID, models.TransactionStatusPending, to)
	if err != nil {
		return err
	}
	if !moved {
		log.WithField("to", to).Info("Duplicate or out-of-order settlement webhook ignored")
		return nil
	}
	log.WithField("to", to).Info("Payment settled without completion")
	return nil
}

// handleRefund reverses a completed wallet top-up. Refunds of plan purchases
// only flip the status; entitlement clawback is a manual operation.
func (p *PaymentProcessor) handleRefund(ctx context.Context, log *logrus.Entry, txn *models.Transaction, refundStatus string) error {
	if refundStatus != "SUCCESS" {
		log.WithField("refund_status", refundStatus).Info("Ignoring non-final refund webhook")
		return nil
	}

	claimed, err := p.store.TransitionTransactionStatus(ctx, txn.OrderID, models.TransactionStatusCompleted, models.TransactionStatusRefunded)
	if err != nil {
		return err
	}
	if !claimed {
		log.WithField("status", txn.Status).Info("Duplicate refund webhook, already applied")
		return nil
	}

	if txn.Type == models.TransactionTypeWalletTopup {
		if _, err := p.store.DebitWallet(ctx, txn.OrgID, txn.Amount, txn.OrderID,
			fmt.Sprintf("refund of order %s", txn.OrderID)); err != nil {
			metrics.IncrementCounter("payment_side_effect_failures_total", nil, "Payment side effects that failed after claim")
			log.WithError(err).Error("Refund debit failed after claiming transaction")
			return err
		}
	}

	metrics.IncrementCounter("payments_refunded_total", nil, "Refunded payment transactions")
	log.Info("Payment refunded")
	return nil
}

func invoiceNumber() string {
	return fmt.Sprintf("INV-%s-%s", time.Now().UTC().Format("20060102"), uuid.New().String()[:8])
}
