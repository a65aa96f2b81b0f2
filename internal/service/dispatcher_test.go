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

func TestPartition(t *testing.T) {
	make50 := func(n int) []*models.CampaignRecipient {
		out := make([]*models.CampaignRecipient, n)
		for i := range out {
			out[i] = &models.CampaignRecipient{ID: int64(i + 1)}
		}
		return out
	}

	tests := []struct {
		total int
		sizes []int
	}{
		{0, nil},
		{1, []int{1}},
		{49, []int{49}},
		{50, []int{50}},
		{51, []int{50, 1}},
		{127, []int{50, 50, 27}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d recipients", tt.total), func(t *testing.T) {
			batches := Partition(make50(tt.total), 50)
			require.Len(t, batches, len(tt.sizes))
			covered := 0
			for i, batch := range batches {
				assert.Len(t, batch, tt.sizes[i])
				covered += len(batch)
			}
			assert.Equal(t, tt.total, covered)
		})
	}
}

// fakeDispatchStore backs a full in-memory send run.
type fakeDispatchStore struct {
	mu         sync.Mutex
	campaign   *models.Campaign
	recipients []*models.CampaignRecipient
	messages   []*models.Message
	finalized  models.CampaignStatus
}

func (f *fakeDispatchStore) ListPendingRecipients(ctx context.Context, campaignID int64) ([]*models.CampaignRecipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CampaignRecipient
	for _, r := range f.recipients {
		if r.Status == models.RecipientStatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDispatchStore) MarkRecipientSent(ctx context.Context, recipientID int64, wamid string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.ID == recipientID {
			r.Status = models.RecipientStatusSent
			r.WhatsAppMessageID = wamid
		}
	}
	return nil
}

func (f *fakeDispatchStore) MarkRecipientFailed(ctx context.Context, recipientID int64, errorCode, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.ID == recipientID {
			r.Status = models.RecipientStatusFailed
			r.ErrorCode = errorCode
		}
	}
	return nil
}

func (f *fakeDispatchStore) SaveMessage(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeDispatchStore) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *f.campaign
	return &c, nil
}

func (f *fakeDispatchStore) IncrementSendCounters(ctx context.Context, id int64, sentDelta, failedDelta int, costDelta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaign.SentCount += sentDelta
	f.campaign.FailedCount += failedDelta
	f.campaign.ActualCost += costDelta
	return nil
}

func (f *fakeDispatchStore) IncrementDeliveryCounter(ctx context.Context, id int64, kind models.MessageStatus) (bool, error) {
	return true, nil
}

func (f *fakeDispatchStore) FinalizeCampaign(ctx context.Context, id int64, status models.CampaignStatus, actualCost float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = status
	f.campaign.Status = status
	return nil
}

// fakeWAClient fails sends whose phone appears in failPhones.
type fakeWAClient struct {
	mu         sync.Mutex
	calls      int
	failPhones map[string]bool
}

func (f *fakeWAClient) SendTemplateMessage(ctx context.Context, to, templateName, language string, bodyParams []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failPhones[to] {
		return "", fmt.Errorf("provider rejected %s", to)
	}
	return fmt.Sprintf("wamid.%s.%d", to, f.calls), nil
}

func newRunFixture(t *testing.T, total int, failPhones map[string]bool) (*fakeDispatchStore, *fakeWAClient, *Dispatcher) {
	t.Helper()

	store := &fakeDispatchStore{
		campaign: &models.Campaign{
			ID:              1,
			OrgID:           "org1",
			Status:          models.CampaignStatusSending,
			TotalRecipients: total,
			Variables:       map[string]string{},
		},
	}
	for i := 1; i <= total; i++ {
		store.recipients = append(store.recipients, &models.CampaignRecipient{
			ID:         int64(i),
			CampaignID: 1,
			ContactID:  fmt.Sprintf("c%d", i),
			Phone:      fmt.Sprintf("91987650%04d", i),
			Status:     models.RecipientStatusPending,
		})
	}

	client := &fakeWAClient{failPhones: failPhones}
	logger := testLogger()
	agg := NewCampaignAggregator(store, logger)
	dispatcher := NewDispatcher(store, client, agg, NewProgressHub(), map[string]float64{
		models.CategoryUtility: 0.35,
	}, models.CampaignConfig{
		BatchSize:         10,
		Workers:           4,
		InterBatchDelayMs: 1,
		SendTimeoutSec:    5,
	}, logger)

	return store, client, dispatcher
}

func utilityTemplate() *models.Template {
	return &models.Template{
		ID:       "t1",
		Name:     "order_update",
		Category: models.CategoryUtility,
		Language: "en",
		Body:     "Hi {{1}}",
		Status:   models.TemplateStatusApproved,
	}
}

func TestDispatcher_AllSendsSucceed(t *testing.T) {
	store, client, dispatcher := newRunFixture(t, 27, nil)

	status, err := dispatcher.Run(context.Background(), store.campaign, utilityTemplate())
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusSent, status)
	assert.Equal(t, models.CampaignStatusSent, store.finalized)
	assert.Equal(t, 27, client.calls)
	assert.Equal(t, 27, store.campaign.SentCount)
	assert.Equal(t, 0, store.campaign.FailedCount)
	assert.InDelta(t, 27*0.35, store.campaign.ActualCost, 1e-9)
	assert.Len(t, store.messages, 27)
	for _, m := range store.messages {
		assert.NotEmpty(t, m.WhatsAppMessageID)
		assert.Equal(t, models.MessageStatusSent, m.Status)
	}
}

func TestDispatcher_PartialFailure(t *testing.T) {
	fail := map[string]bool{
		"919876500003": true,
		"919876500011": true,
	}
	store, _, dispatcher := newRunFixture(t, 15, fail)

	status, err := dispatcher.Run(context.Background(), store.campaign, utilityTemplate())
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusPartiallySent, status)
	assert.Equal(t, 13, store.campaign.SentCount)
	assert.Equal(t, 2, store.campaign.FailedCount)
	assert.Equal(t, 15, store.campaign.SentCount+store.campaign.FailedCount)
	assert.Len(t, store.messages, 13)
}

func TestDispatcher_AllFail(t *testing.T) {
	fail := make(map[string]bool)
	for i := 1; i <= 5; i++ {
		fail[fmt.Sprintf("91987650%04d", i)] = true
	}
	store, _, dispatcher := newRunFixture(t, 5, fail)

	status, err := dispatcher.Run(context.Background(), store.campaign, utilityTemplate())
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusFailed, status)
	assert.Equal(t, 0, store.campaign.SentCount)
	assert.Equal(t, 5, store.campaign.FailedCount)
	assert.Zero(t, store.campaign.ActualCost)
}

func TestDispatcher_EveryRecipientGetsOneOutcome(t *testing.T) {
	store, _, dispatcher := newRunFixture(t, 51, map[string]bool{"919876500025": true})

	_, err := dispatcher.Run(context.Background(), store.campaign, utilityTemplate())
	require.NoError(t, err)

	for _, r := range store.recipients {
		assert.NotEqual(t, models.RecipientStatusPending, r.Status, "recipient %d left pending", r.ID)
	}
	assert.Equal(t, 51, store.campaign.SentCount+store.campaign.FailedCount)
}
