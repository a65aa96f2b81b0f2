package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/models"
	"wadispatch/internal/service"
	"wadispatch/pkg/whatsapp"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment wires the full service stack against a real sqlite file and
// a stub provider API, so send runs exercise the actual HTTP client and the
// actual schema.
type TestEnvironment struct {
	t *testing.T

	DB         *database.Database
	Provider   *providerStub
	Runner     *service.CampaignRunner
	Reconciler *service.StatusReconciler
	Payments   *service.PaymentProcessor
	Progress   *service.ProgressHub
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "wadispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	provider := newProviderStub()
	t.Cleanup(provider.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := whatsapp.NewClient(types.ClientConfig{
		BaseURL:       provider.URL(),
		PhoneNumberID: "10001",
		AccessToken:   "itest-token",
		Timeout:       5 * time.Second,
	})

	cfg := models.CampaignConfig{
		BatchSize:         10,
		Workers:           4,
		InterBatchDelayMs: 10,
		MaxRecipients:     10000,
		SendTimeoutSec:    5,
		SchedulerPollSec:  1,
	}
	pricing := map[string]float64{
		models.CategoryMarketing:      0.80,
		models.CategoryUtility:        0.35,
		models.CategoryAuthentication: 0.35,
	}

	progress := service.NewProgressHub()
	aggregator := service.NewCampaignAggregator(db, logger)
	resolver := service.NewRecipientResolver(db, cfg.MaxRecipients, logger)
	dispatcher := service.NewDispatcher(db, client, aggregator, progress, pricing, cfg, logger)
	runner := service.NewCampaignRunner(db, resolver, dispatcher, aggregator, pricing, 16, logger)
	reconciler := service.NewStatusReconciler(db, aggregator, logger)
	payments := service.NewPaymentProcessor(db, logger)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)
	t.Cleanup(func() {
		runner.Stop()
		cancel()
	})

	return &TestEnvironment{
		t:          t,
		DB:         db,
		Provider:   provider,
		Runner:     runner,
		Reconciler: reconciler,
		Payments:   payments,
		Progress:   progress,
	}
}

// WaitForTerminal blocks until the campaign's run reaches a terminal status.
func (e *TestEnvironment) WaitForTerminal(campaignID int64) *models.Campaign {
	e.t.Helper()

	var campaign *models.Campaign
	require.Eventually(e.t, func() bool {
		c, err := e.DB.GetCampaign(context.Background(), campaignID)
		if err != nil || c == nil {
			return false
		}
		campaign = c
		return c.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond, "campaign %d never reached a terminal status", campaignID)
	return campaign
}

// providerStub imitates the provider's template-message endpoint. Phones
// registered via FailPhone are rejected with a provider error envelope.
type providerStub struct {
	server *httptest.Server

	mu         sync.Mutex
	nextID     int
	failPhones map[string]bool
	sends      []providerSend
}

type providerSend struct {
	MessageID    string
	To           string
	TemplateName string
	Params       []string
}

func newProviderStub() *providerStub {
	p := &providerStub{failPhones: make(map[string]bool)}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

func (p *providerStub) URL() string { return p.server.URL }
func (p *providerStub) Close()      { p.server.Close() }

func (p *providerStub) FailPhone(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failPhones[phone] = true
}

func (p *providerStub) Sends() []providerSend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]providerSend, len(p.sends))
	copy(out, p.sends)
	return out
}

func (p *providerStub) handle(w http.ResponseWriter, r *http.Request) {
	var req types.TemplateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if p.failPhones[req.To] {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"code":    131026,
				"type":    "OAuthException",
				"message": "Message undeliverable",
			},
		})
		return
	}

	p.nextID++
	id := fmt.Sprintf("wamid.itest.%d", p.nextID)

	var params []string
	for _, comp := range req.Template.Components {
		for _, param := range comp.Parameters {
			params = append(params, param.Text)
		}
	}
	p.sends = append(p.sends, providerSend{
		MessageID:    id,
		To:           req.To,
		TemplateName: req.Template.Name,
		Params:       params,
	})

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"messages": []map[string]string{{"id": id}},
	})
}
