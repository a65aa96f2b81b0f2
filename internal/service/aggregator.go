package service

import (
	"context"
	"sync"

	"wadispatch/internal/metrics"
	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
)

// AggregateStore is the campaign counter persistence the aggregator drives.
type AggregateStore interface {
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	IncrementSendCounters(ctx context.Context, id int64, sentDelta, failedDelta int, costDelta float64) error
	IncrementDeliveryCounter(ctx context.Context, id int64, kind models.MessageStatus) (bool, error)
	FinalizeCampaign(ctx context.Context, id int64, status models.CampaignStatus, actualCost float64) error
}

// CampaignAggregator serializes all mutations of a campaign's counters.
// Sender batch reports and reconciler callbacks both land here, so a
// per-campaign mutex guards each campaign's read-modify-write cycle. Locks
// are kept for the process lifetime: delivery callbacks keep arriving after
// finalization, and dropping a lock while a late caller holds it would let a
// second caller mint a fresh one and race the first.
type CampaignAggregator struct {
	store  AggregateStore
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCampaignAggregator(store AggregateStore, logger *logrus.Logger) *CampaignAggregator {
	return &CampaignAggregator{
		store:  store,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (a *CampaignAggregator) campaignLock(campaignID int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[campaignID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[campaignID] = lock
	}
	return lock
}

// RecordSendOutcome applies one batch's sent/failed/cost deltas.
func (a *CampaignAggregator) RecordSendOutcome(ctx context.Context, campaignID int64, sentDelta, failedDelta int, costDelta float64) error {
	if sentDelta == 0 && failedDelta == 0 && costDelta == 0 {
		return nil
	}

	lock := a.campaignLock(campaignID)
	lock.Lock()
	defer lock.Unlock()

	if err := a.store.IncrementSendCounters(ctx, campaignID, sentDelta, failedDelta, costDelta); err != nil {
		return err
	}

	metrics.AddToCounter("campaign_messages_sent_total", float64(sentDelta), nil, "Campaign messages sent")
	metrics.AddToCounter("campaign_messages_failed_total", float64(failedDelta), nil, "Campaign messages failed at send")
	return nil
}

// RecordStatusEvent applies exactly one delivered/read/failed increment from
// an accepted reconciler transition. The storage-layer guards keep the
// campaign invariants intact even for unexpected callback sequences.
func (a *CampaignAggregator) RecordStatusEvent(ctx context.Context, campaignID int64, kind models.MessageStatus) error {
	lock := a.campaignLock(campaignID)
	lock.Lock()
	defer lock.Unlock()

	applied, err := a.store.IncrementDeliveryCounter(ctx, campaignID, kind)
	if err != nil {
		return err
	}
	if !applied {
		a.logger.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"kind":        kind,
		}).Warn("Delivery counter increment rejected by invariant guard")
		return nil
	}

	metrics.IncrementCounter("campaign_status_events_total", map[string]string{
		"kind": string(kind),
	}, "Accepted campaign delivery status events")
	return nil
}

// Finalize computes and persists the terminal status of a completed run:
// failed when every recipient failed, sent when none did, partially sent
// otherwise.
func (a *CampaignAggregator) Finalize(ctx context.Context, campaignID int64) (models.CampaignStatus, error) {
	lock := a.campaignLock(campaignID)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", err
	}
	if c == nil {
		a.logger.WithField("campaign_id", campaignID).Error("Cannot finalize missing campaign")
		return "", nil
	}

	status := TerminalStatus(c.TotalRecipients, c.FailedCount)
	if err := a.store.FinalizeCampaign(ctx, campaignID, status, c.ActualCost); err != nil {
		return "", err
	}

	a.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"status":      status,
		"sent":        c.SentCount,
		"failed":      c.FailedCount,
		"total":       c.TotalRecipients,
		"actual_cost": c.ActualCost,
	}).Info("Campaign run finalized")

	return status, nil
}

// TerminalStatus maps run outcome counts to the terminal campaign status.
func TerminalStatus(total, failed int) models.CampaignStatus {
	switch {
	case total > 0 && failed >= total:
		return models.CampaignStatusFailed
	case failed > 0:
		return models.CampaignStatusPartiallySent
	default:
		return models.CampaignStatusSent
	}
}
