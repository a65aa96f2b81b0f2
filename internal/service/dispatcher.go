package service

import (
	"context"
	"sync"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// DispatchStore is the persistence the dispatcher needs during a send run.
type DispatchStore interface {
	ListPendingRecipients(ctx context.Context, campaignID int64) ([]*models.CampaignRecipient, error)
	MarkRecipientSent(ctx context.Context, recipientID int64, whatsappMessageID string, sentAt time.Time) error
	MarkRecipientFailed(ctx context.Context, recipientID int64, errorCode, errorMessage string) error
	SaveMessage(ctx context.Context, m *models.Message) error
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
}

// Dispatcher executes a campaign send run: recipients are partitioned into
// fixed-size batches, each batch is sent through a bounded worker pool, and
// batches are paced with a fixed delay to stay under the provider rate limit.
type Dispatcher struct {
	store      DispatchStore
	client     types.Client
	aggregator *CampaignAggregator
	progress   *ProgressHub
	pricing    map[string]float64
	cfg        models.CampaignConfig
	logger     *logrus.Logger
}

func NewDispatcher(
	store DispatchStore,
	client types.Client,
	aggregator *CampaignAggregator,
	progress *ProgressHub,
	pricing map[string]float64,
	cfg models.CampaignConfig,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:      store,
		client:     client,
		aggregator: aggregator,
		progress:   progress,
		pricing:    pricing,
		cfg:        cfg,
		logger:     logger,
	}
}

// Partition splits recipients into consecutive batches of at most size.
func Partition(recipients []*models.CampaignRecipient, size int) [][]*models.CampaignRecipient {
	if size <= 0 || len(recipients) == 0 {
		return nil
	}
	batches := make([][]*models.CampaignRecipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}

// Run sends every pending recipient of a campaign already in sending status
// and finalizes the campaign when done. It returns the terminal status.
func (d *Dispatcher) Run(ctx context.Context, campaign *models.Campaign, template *models.Template) (models.CampaignStatus, error) {
	start := time.Now()
	log := d.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"template":    template.Name,
		"category":    template.Category,
	})

	recipients, err := d.store.ListPendingRecipients(ctx, campaign.ID)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load pending recipients")
	}

	batches := Partition(recipients, d.cfg.BatchSize)
	log.WithFields(logrus.Fields{
		"pending": len(recipients),
		"batches": len(batches),
	}).Info("Starting campaign send run")

	for i, batch := range batches {
		if i > 0 {
			select {
			case <-time.After(time.Duration(d.cfg.InterBatchDelayMs) * time.Millisecond):
			case <-ctx.Done():
				log.Warn("Send run interrupted by shutdown")
				return "", ctx.Err()
			}
		}

		// A run can cross into the quiet window when scheduled close to the
		// boundary. Remaining recipients fail rather than violate the window.
		if err := CheckQuietHours(template.Category, time.Now()); err != nil {
			d.failRemaining(ctx, campaign.ID, batches[i:], err)
			break
		}

		outcomes := d.sendBatch(ctx, campaign, template, batch)
		if err := d.reportBatch(ctx, campaign, template.Category, batch, outcomes); err != nil {
			log.WithError(err).Error("Failed to record batch outcome")
		}
		d.publishProgress(ctx, campaign.ID)
	}

	status, err := d.aggregator.Finalize(ctx, campaign.ID)
	if err != nil {
		return "", err
	}
	d.publishProgress(ctx, campaign.ID)

	metrics.RecordTimer("campaign_run_duration", time.Since(start), nil, "Campaign send run duration")
	log.WithFields(logrus.Fields{
		"status":   status,
		"duration": time.Since(start).String(),
	}).Info("Campaign send run completed")
	return status, nil
}

// sendBatch pushes one batch through the worker pool and returns all
// per-recipient outcomes. Every recipient gets exactly one outcome.
func (d *Dispatcher) sendBatch(ctx context.Context, campaign *models.Campaign, template *models.Template, batch []*models.CampaignRecipient) []models.SendOutcome {
	workers := d.cfg.Workers
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan *models.CampaignRecipient)
	results := make(chan models.SendOutcome, len(batch))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				results <- d.sendOne(ctx, campaign, template, r)
			}
		}()
	}

	for _, r := range batch {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]models.SendOutcome, 0, len(batch))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (d *Dispatcher) sendOne(ctx context.Context, campaign *models.Campaign, template *models.Template, r *models.CampaignRecipient) models.SendOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.SendTimeoutSec)*time.Second)
	defer cancel()

	recipient := models.Recipient{ContactID: r.ContactID, Phone: r.Phone, Name: r.Name}
	params := BodyParams(template.Body, campaign.Variables, recipient)

	wamid, err := d.client.SendTemplateMessage(sendCtx, r.Phone, template.Name, template.Language, params)
	if err != nil {
		code := string(errors.ErrCodeSendFailed)
		if _, ok := err.(*types.APIError); ok {
			code = string(errors.ErrCodeWhatsAppAPI)
		}
		d.logger.WithError(err).WithFields(logrus.Fields{
			"campaign_id":  campaign.ID,
			"recipient_id": r.ID,
		}).Warn("Send attempt failed")
		return models.SendOutcome{
			RecipientID:  r.ID,
			Success:      false,
			ErrorCode:    code,
			ErrorMessage: err.Error(),
		}
	}

	return models.SendOutcome{
		RecipientID:       r.ID,
		Success:           true,
		WhatsAppMessageID: wamid,
	}
}

// reportBatch persists each outcome and applies the batch deltas through the
// aggregator.
func (d *Dispatcher) reportBatch(ctx context.Context, campaign *models.Campaign, category string, batch []*models.CampaignRecipient, outcomes []models.SendOutcome) error {
	byID := make(map[int64]*models.CampaignRecipient, len(batch))
	for _, r := range batch {
		byID[r.ID] = r
	}

	unitCost := d.pricing[category]
	now := time.Now().UTC()
	sent, failed := 0, 0

	for _, o := range outcomes {
		r := byID[o.RecipientID]
		phone := ""
		if r != nil {
			phone = r.Phone
		}

		if o.Success {
			sent++
			if err := d.store.MarkRecipientSent(ctx, o.RecipientID, o.WhatsAppMessageID, now); err != nil {
				d.logger.WithError(err).WithField("recipient_id", o.RecipientID).Error("Failed to mark recipient sent")
			}
			campaignID := campaign.ID
			msg := &models.Message{
				OrgID:             campaign.OrgID,
				CampaignID:        &campaignID,
				WhatsAppMessageID: o.WhatsAppMessageID,
				Direction:         models.DirectionOutbound,
				Type:              "template",
				RecipientPhone:    phone,
				Status:            models.MessageStatusSent,
				Category:          category,
				Cost:              unitCost,
			}
			if err := d.store.SaveMessage(ctx, msg); err != nil {
				d.logger.WithError(err).WithField("recipient_id", o.RecipientID).Error("Failed to save outbound message")
			}
		} else {
			failed++
			if err := d.store.MarkRecipientFailed(ctx, o.RecipientID, o.ErrorCode, o.ErrorMessage); err != nil {
				d.logger.WithError(err).WithField("recipient_id", o.RecipientID).Error("Failed to mark recipient failed")
			}
		}
	}

	return d.aggregator.RecordSendOutcome(ctx, campaign.ID, sent, failed, float64(sent)*unitCost)
}

// failRemaining terminates every recipient in the remaining batches with the
// blocking error, typically a quiet-hours rejection mid-run.
func (d *Dispatcher) failRemaining(ctx context.Context, campaignID int64, remaining [][]*models.CampaignRecipient, cause error) {
	code := string(errors.ErrCodeSendFailed)
	if appErr, ok := cause.(*errors.AppError); ok {
		code = string(appErr.Code)
	}

	failed := 0
	for _, batch := range remaining {
		for _, r := range batch {
			if err := d.store.MarkRecipientFailed(ctx, r.ID, code, cause.Error()); err != nil {
				d.logger.WithError(err).WithField("recipient_id", r.ID).Error("Failed to mark recipient failed")
				continue
			}
			failed++
		}
	}
	d.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"failed":      failed,
		"reason":      code,
	}).Warn("Remaining recipients failed without send attempt")

	if err := d.aggregator.RecordSendOutcome(ctx, campaignID, 0, failed, 0); err != nil {
		d.logger.WithError(err).Error("Failed to record blocked batch outcome")
	}
}

func (d *Dispatcher) publishProgress(ctx context.Context, campaignID int64) {
	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil || c == nil {
		return
	}
	d.progress.Publish(models.CampaignProgress{
		CampaignID: c.ID,
		Status:     c.Status,
		Progress:   c.Progress(),
		Stats: models.CampaignStats{
			Total:     c.TotalRecipients,
			Sent:      c.SentCount,
			Delivered: c.DeliveredCount,
			Read:      c.ReadCount,
			Failed:    c.FailedCount,
		},
	})
}
