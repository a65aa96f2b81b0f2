package service

import (
	"context"
	"time"

	"wadispatch/internal/constants"

	"github.com/sirupsen/logrus"
)

// SchedulerStore lists work for the background scheduler.
type SchedulerStore interface {
	ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]int64, error)
	DeleteTerminalCampaignsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler promotes due scheduled campaigns into send runs and prunes
// terminal campaigns past the retention window.
type Scheduler struct {
	store         SchedulerStore
	runner        *CampaignRunner
	pollInterval  time.Duration
	retentionDays int
	logger        *logrus.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewScheduler(store SchedulerStore, runner *CampaignRunner, pollInterval time.Duration, retentionDays int, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		runner:        runner,
		pollInterval:  pollInterval,
		retentionDays: retentionDays,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(constants.CleanupSchedulerIntervalHours * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			s.promoteDue(ctx)
		case <-cleanupTicker.C:
			s.cleanup(ctx)
		}
	}
}

func (s *Scheduler) promoteDue(ctx context.Context) {
	ids, err := s.store.ListDueScheduledCampaigns(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list due scheduled campaigns")
		return
	}

	for _, id := range ids {
		if _, err := s.runner.StartSend(ctx, id); err != nil {
			// Quiet hours and similar validation failures are expected;
			// the campaign stays scheduled and is re-evaluated next poll.
			s.logger.WithError(err).WithField("campaign_id", id).Warn("Scheduled campaign not started")
			continue
		}
		s.logger.WithField("campaign_id", id).Info("Scheduled campaign started")
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted, err := s.store.DeleteTerminalCampaignsBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Retention cleanup failed")
		return
	}
	if deleted > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Retention cleanup removed old campaigns")
	}
}
