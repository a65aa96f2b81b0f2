package service

import (
	"context"
	"time"

	"wadispatch/internal/metrics"

	"github.com/sirupsen/logrus"
)

// MonitorStore exposes the delivery-health queries the monitor polls.
type MonitorStore interface {
	GetStaleMessageCount(ctx context.Context, threshold time.Duration) (int, error)
}

// DeliveryMonitor watches for outbound messages stuck in sent status, which
// usually means the provider stopped delivering callbacks for a number range.
type DeliveryMonitor struct {
	store          MonitorStore
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *logrus.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewDeliveryMonitor(store MonitorStore, checkInterval, staleThreshold time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	return &DeliveryMonitor{
		store:          store,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

func (m *DeliveryMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *DeliveryMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *DeliveryMonitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *DeliveryMonitor) check(ctx context.Context) {
	count, err := m.store.GetStaleMessageCount(ctx, m.staleThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Stale delivery check failed")
		return
	}

	metrics.SetGauge("stale_sent_messages", float64(count), nil, "Outbound messages without delivery callback past threshold")
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"count":     count,
			"threshold": m.staleThreshold.String(),
		}).Warn("Messages stuck in sent status past delivery threshold")
	}
}
