package service

import (
	"context"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/tracing"

	"github.com/sirupsen/logrus"
)

// RunnerStore is the persistence behind campaign run orchestration.
type RunnerStore interface {
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	TransitionCampaignStatus(ctx context.Context, id int64, from []models.CampaignStatus, to models.CampaignStatus) (bool, error)
	MarkCampaignStarted(ctx context.Context, id int64, total int, estimatedCost float64) error
	InsertCampaignRecipients(ctx context.Context, campaignID int64, recipients []models.Recipient) error
	CountRecipientOutcomes(ctx context.Context, campaignID int64) (sent, failed int, err error)
}

// CampaignRunner validates and enqueues send runs. A single worker drains the
// queue so runs for different campaigns execute one at a time, which keeps
// the per-org provider throughput predictable.
type CampaignRunner struct {
	store      RunnerStore
	resolver   *RecipientResolver
	dispatcher *Dispatcher
	aggregator *CampaignAggregator
	pricing    map[string]float64
	logger     *logrus.Logger

	queue  chan int64
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewCampaignRunner(
	store RunnerStore,
	resolver *RecipientResolver,
	dispatcher *Dispatcher,
	aggregator *CampaignAggregator,
	pricing map[string]float64,
	queueSize int,
	logger *logrus.Logger,
) *CampaignRunner {
	return &CampaignRunner{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		aggregator: aggregator,
		pricing:    pricing,
		logger:     logger,
		queue:      make(chan int64, queueSize),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the run worker. Stop drains the in-flight run before
// returning.
func (r *CampaignRunner) Start(ctx context.Context) {
	go r.runLoop(ctx)
}

func (r *CampaignRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *CampaignRunner) runLoop(ctx context.Context) {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.execute(ctx, id)
		}
	}
}

// StartSend validates a campaign and commits it to the run queue, returning
// the size of the resolved recipient set. Validation failures surface
// synchronously; once the campaign reaches sending status the caller observes
// progress through the progress endpoints.
func (r *CampaignRunner) StartSend(ctx context.Context, campaignID int64) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "campaign.start_send")
	defer span.End()

	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load campaign")
	}
	if campaign == nil {
		return 0, errors.New(errors.ErrCodeNotFound, "campaign not found").
			WithUserMessage("Campaign not found.")
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return 0, errors.New(errors.ErrCodeInvalidStatus, "campaign is not in a sendable status").
			WithContext("status", string(campaign.Status)).
			WithUserMessage("This campaign has already been sent or is currently sending.")
	}

	template, err := r.store.GetTemplate(ctx, campaign.TemplateID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load template")
	}
	if template == nil {
		return 0, errors.New(errors.ErrCodeNotFound, "template not found").
			WithUserMessage("The campaign's template no longer exists.")
	}
	if template.Status != models.TemplateStatusApproved {
		return 0, errors.New(errors.ErrCodeTemplateNotApproved, "template is not approved").
			WithContext("template_status", string(template.Status)).
			WithUserMessage("The template must be approved by WhatsApp before sending.")
	}

	if err := CheckQuietHours(template.Category, time.Now()); err != nil {
		return 0, err
	}

	recipients, err := r.resolver.Resolve(ctx, campaign.OrgID, campaign.Filter)
	if err != nil {
		return 0, err
	}

	claimed, err := r.store.TransitionCampaignStatus(ctx, campaignID,
		[]models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled},
		models.CampaignStatusSending)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to claim campaign")
	}
	if !claimed {
		return 0, errors.New(errors.ErrCodeInvalidStatus, "campaign was claimed by a concurrent send").
			WithUserMessage("This campaign is already being sent.")
	}

	if err := r.store.InsertCampaignRecipients(ctx, campaignID, recipients); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to persist recipient set")
	}

	estimatedCost := float64(len(recipients)) * r.pricing[template.Category]
	if err := r.store.MarkCampaignStarted(ctx, campaignID, len(recipients), estimatedCost); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to mark campaign started")
	}

	r.logger.WithFields(logrus.Fields{
		"campaign_id":    campaignID,
		"recipients":     len(recipients),
		"estimated_cost": estimatedCost,
	}).Info("Campaign queued for sending")

	select {
	case r.queue <- campaignID:
		return len(recipients), nil
	default:
		// Queue full. The campaign stays in sending status and crash
		// recovery will pick it up on next startup; flag it loudly.
		r.logger.WithField("campaign_id", campaignID).Error("Run queue full, campaign stranded in sending status")
		return 0, errors.New(errors.ErrCodeInternalError, "run queue is full").
			WithUserMessage("The system is busy. The campaign will be retried shortly.")
	}
}

func (r *CampaignRunner) execute(ctx context.Context, campaignID int64) {
	ctx, span := tracing.StartSpan(ctx, "campaign.run")
	defer span.End()

	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil || campaign == nil {
		r.logger.WithError(err).WithField("campaign_id", campaignID).Error("Failed to load queued campaign")
		return
	}
	template, err := r.store.GetTemplate(ctx, campaign.TemplateID)
	if err != nil || template == nil {
		r.logger.WithError(err).WithField("campaign_id", campaignID).Error("Failed to load template for queued campaign")
		return
	}

	if _, err := r.dispatcher.Run(ctx, campaign, template); err != nil {
		tracing.RecordError(ctx, err)
		r.logger.WithError(err).WithField("campaign_id", campaignID).Error("Campaign run failed")
	}
}

// RecoverInterrupted settles campaigns left in sending status by a crash.
// Already-recorded outcomes are kept; recipients never attempted resume
// through a fresh run of the remaining pending rows.
func (r *CampaignRunner) RecoverInterrupted(ctx context.Context, interrupted []*models.Campaign) {
	for _, c := range interrupted {
		sent, failed, err := r.store.CountRecipientOutcomes(ctx, c.ID)
		if err != nil {
			r.logger.WithError(err).WithField("campaign_id", c.ID).Error("Failed to count outcomes for interrupted campaign")
			continue
		}

		r.logger.WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"sent":        sent,
			"failed":      failed,
			"total":       c.TotalRecipients,
		}).Warn("Resuming interrupted campaign run")

		select {
		case r.queue <- c.ID:
		default:
			r.logger.WithField("campaign_id", c.ID).Error("Run queue full during recovery")
		}
	}
}
