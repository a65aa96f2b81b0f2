package service

import (
	"context"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/retry"

	"github.com/sirupsen/logrus"
)

// ReconcileStore is the persistence the reconciler needs to apply callbacks.
type ReconcileStore interface {
	GetMessageByWhatsAppID(ctx context.Context, whatsappMessageID string) (*models.Message, error)
	AdvanceMessageStatus(ctx context.Context, whatsappMessageID string, from, to models.MessageStatus, at time.Time) (bool, error)
	MarkMessageFailed(ctx context.Context, whatsappMessageID string, from models.MessageStatus, errorCode, errorMessage string) (bool, error)
	UpdateRecipientDeliveryStatus(ctx context.Context, whatsappMessageID string, status models.RecipientStatus) error
}

// StatusReconciler applies provider delivery callbacks to the message ledger.
// Callbacks arrive out of order and duplicated; the reconciler only ever
// moves a message forward along sent -> delivered -> read, with failed
// reachable from any non-terminal state.
type StatusReconciler struct {
	store      ReconcileStore
	aggregator *CampaignAggregator
	logger     *logrus.Logger
}

func NewStatusReconciler(store ReconcileStore, aggregator *CampaignAggregator, logger *logrus.Logger) *StatusReconciler {
	return &StatusReconciler{
		store:      store,
		aggregator: aggregator,
		logger:     logger,
	}
}

// ProcessCallbacks applies every status entry of one webhook payload.
// Individual failures are logged and skipped; the webhook is always worth
// acknowledging since the provider retries on non-2xx anyway.
func (r *StatusReconciler) ProcessCallbacks(ctx context.Context, callbacks []models.StatusCallback) {
	for _, cb := range callbacks {
		if err := r.Reconcile(ctx, cb); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"message_id": cb.MessageID,
				"status":     cb.Status,
			}).Warn("Failed to reconcile status callback")
		}
	}
}

// Reconcile applies a single callback. Stale and duplicate callbacks are
// dropped silently; only an accepted transition updates the recipient row
// and the campaign counters, so each counter increments at most once per
// message per status.
func (r *StatusReconciler) Reconcile(ctx context.Context, cb models.StatusCallback) error {
	target, ok := callbackStatus(cb.Status)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"message_id": cb.MessageID,
			"status":     cb.Status,
		}).Debug("Ignoring callback with unknown status")
		return nil
	}

	msg, err := r.lookupMessage(ctx, cb.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		metrics.IncrementCounter("reconciler_unknown_message_total", nil, "Callbacks for unknown message ids")
		r.logger.WithField("message_id", cb.MessageID).Warn("Callback references unknown message id")
		return nil
	}

	for {
		applied, done, err := r.tryTransition(ctx, msg, target, cb)
		if err != nil {
			return err
		}
		if done {
			if applied {
				r.afterTransition(ctx, msg, target)
			}
			return nil
		}

		// Lost a race with a concurrent callback for the same message;
		// re-read and re-evaluate against the new state.
		msg, err = r.store.GetMessageByWhatsAppID(ctx, cb.MessageID)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
	}
}

// lookupMessage retries briefly on a miss: the send path commits the message
// row just before the provider can emit the first callback, so a webhook can
// narrowly beat the insert.
func (r *StatusReconciler) lookupMessage(ctx context.Context, whatsappMessageID string) (*models.Message, error) {
	var msg *models.Message

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultCallbackLookupBackoffMs) * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultCallbackLookupAttempts,
	})
	err := backoff.RetryWithPredicate(ctx, func() error {
		m, err := r.store.GetMessageByWhatsAppID(ctx, whatsappMessageID)
		if err != nil {
			return err
		}
		if m == nil {
			return errors.New(errors.ErrCodeNotFound, "message not found")
		}
		msg = m
		return nil
	}, func(err error) bool {
		return errors.GetCode(err) == errors.ErrCodeNotFound
	})

	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// tryTransition attempts one compare-and-swap against the observed status.
// Returns (applied, done): done without applied means the callback is stale
// or duplicate; not done means the row changed underneath and the caller
// should re-read.
func (r *StatusReconciler) tryTransition(ctx context.Context, msg *models.Message, target models.MessageStatus, cb models.StatusCallback) (applied, done bool, err error) {
	current := msg.Status

	if target == models.MessageStatusFailed {
		if current.IsTerminal() {
			r.logStale(msg, current, target)
			return false, true, nil
		}
		code, detail := cb.FailureDetail()
		ok, err := r.store.MarkMessageFailed(ctx, msg.WhatsAppMessageID, current, code, detail)
		return ok, ok, err
	}

	if target.Rank() <= current.Rank() {
		r.logStale(msg, current, target)
		return false, true, nil
	}
	if current == models.MessageStatusFailed {
		r.logStale(msg, current, target)
		return false, true, nil
	}

	at := cb.Time()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ok, err := r.store.AdvanceMessageStatus(ctx, msg.WhatsAppMessageID, current, target, at)
	return ok, ok, err
}

// afterTransition propagates one accepted transition to the recipient row and
// the campaign aggregate.
func (r *StatusReconciler) afterTransition(ctx context.Context, msg *models.Message, target models.MessageStatus) {
	metrics.IncrementCounter("reconciler_transitions_total", map[string]string{
		"to": string(target),
	}, "Accepted message status transitions")

	if err := r.store.UpdateRecipientDeliveryStatus(ctx, msg.WhatsAppMessageID, models.RecipientStatus(target)); err != nil {
		r.logger.WithError(err).WithField("message_id", msg.WhatsAppMessageID).Error("Failed to update recipient delivery status")
	}

	if msg.CampaignID == nil {
		return
	}
	if err := r.aggregator.RecordStatusEvent(ctx, *msg.CampaignID, target); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"campaign_id": *msg.CampaignID,
			"to":          string(target),
		}).Error("Failed to record campaign status event")
	}
}

func (r *StatusReconciler) logStale(msg *models.Message, current, target models.MessageStatus) {
	metrics.IncrementCounter("reconciler_stale_callbacks_total", nil, "Out-of-order or duplicate callbacks dropped")
	r.logger.WithFields(logrus.Fields{
		"message_id": msg.WhatsAppMessageID,
		"current":    current,
		"target":     target,
	}).Debug("Dropping stale status callback")
}

func callbackStatus(s string) (models.MessageStatus, bool) {
	switch s {
	case models.CallbackStatusSent:
		return models.MessageStatusSent, true
	case models.CallbackStatusDelivered:
		return models.MessageStatusDelivered, true
	case models.CallbackStatusRead:
		return models.MessageStatusRead, true
	case models.CallbackStatusFailed:
		return models.MessageStatusFailed, true
	}
	return "", false
}
