package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/middleware"
	"wadispatch/internal/models"
	"wadispatch/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config

	db         *database.Database
	runner     *service.CampaignRunner
	reconciler *service.StatusReconciler
	payments   *service.PaymentProcessor
	progress   *service.ProgressHub
}

func NewServer(
	cfg *models.Config,
	db *database.Database,
	runner *service.CampaignRunner,
	reconciler *service.StatusReconciler,
	payments *service.PaymentProcessor,
	progress *service.ProgressHub,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		db:         db,
		runner:     runner,
		reconciler: reconciler,
		payments:   payments,
		progress:   progress,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(middleware.Observability(s.logger))

	api.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api.HandleFunc("/campaigns/{id:[0-9]+}/send", s.handleStartSend()).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id:[0-9]+}/send-progress", s.handleSendProgress()).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id:[0-9]+}/send-progress/stream", s.handleSendProgressStream()).Methods(http.MethodGet)

	webhooks := s.router.PathPrefix("/webhooks").Subrouter()
	wa := webhooks.PathPrefix("/whatsapp").Subrouter()
	wa.Use(middleware.WebhookObservability(s.logger, "whatsapp"))
	wa.HandleFunc("", s.handleWhatsAppWebhook()).Methods(http.MethodPost)

	billing := webhooks.PathPrefix("/billing").Subrouter()
	billing.Use(middleware.WebhookObservability(s.logger, "billing"))
	billing.HandleFunc("", s.handleBillingWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleStartSend validates and queues a campaign run. The send itself is
// asynchronous; callers poll or stream the progress endpoints.
func (s *Server) handleStartSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := campaignIDFrom(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid campaign id")
			return
		}

		total, err := s.runner.StartSend(r.Context(), campaignID)
		if err != nil {
			code := errors.GetCode(err)
			switch {
			case code == errors.ErrCodeNotFound:
				s.writeError(w, http.StatusNotFound, errors.GetUserMessage(err))
			case errors.IsValidation(err):
				s.writeError(w, http.StatusBadRequest, errors.GetUserMessage(err))
			default:
				s.logger.WithError(err).WithField("campaign_id", campaignID).Error("Failed to start campaign send")
				s.writeError(w, http.StatusInternalServerError, "failed to start campaign")
			}
			return
		}

		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"success":         true,
			"campaignId":      campaignID,
			"totalRecipients": total,
		})
	}
}

func (s *Server) handleSendProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := campaignIDFrom(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid campaign id")
			return
		}

		c, err := s.db.GetCampaign(r.Context(), campaignID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to load campaign progress")
			s.writeError(w, http.StatusInternalServerError, "failed to load campaign")
			return
		}
		if c == nil {
			s.writeError(w, http.StatusNotFound, "campaign not found")
			return
		}

		s.writeJSON(w, http.StatusOK, progressOf(c))
	}
}

// handleSendProgressStream pushes progress snapshots over a websocket until
// the campaign reaches a terminal status or the client disconnects. Live
// updates come from the dispatcher; a ticker covers the delivery-callback
// updates that arrive after the run finishes.
func (s *Server) handleSendProgressStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := campaignIDFrom(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid campaign id")
			return
		}

		c, err := s.db.GetCampaign(r.Context(), campaignID)
		if err != nil || c == nil {
			s.writeError(w, http.StatusNotFound, "campaign not found")
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		updates, cancel := s.progress.Subscribe(campaignID)
		defer cancel()

		ticker := time.NewTicker(time.Duration(s.cfg.Campaign.SchedulerPollSec) * time.Second)
		defer ticker.Stop()

		if err := wsjson.Write(ctx, conn, progressOf(c)); err != nil {
			return
		}

		for {
			var snapshot models.CampaignProgress
			select {
			case <-ctx.Done():
				return
			case p := <-updates:
				snapshot = p
			case <-ticker.C:
				c, err := s.db.GetCampaign(ctx, campaignID)
				if err != nil || c == nil {
					return
				}
				snapshot = progressOf(c)
			}

			if err := wsjson.Write(ctx, conn, snapshot); err != nil {
				return
			}
			if snapshot.Status.IsTerminal() && snapshot.Progress >= 100 {
				conn.Close(websocket.StatusNormalClosure, "campaign completed")
				return
			}
		}
	}
}

// handleWhatsAppWebhook ingests delivery-status callbacks. A verified payload
// is always acknowledged with 200, even when individual callbacks fail to
// reconcile, since the provider's retry would just replay them.
func (s *Server) handleWhatsAppWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r, s.cfg.Server.MaxWebhookBodyBytes)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if err := verifyWhatsAppSignature(r, body, s.cfg.WhatsApp.WebhookSecret); err != nil {
			s.logger.WithError(err).Warn("WhatsApp webhook signature verification failed")
			s.writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}

		var payload models.WhatsAppWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		s.reconciler.ProcessCallbacks(r.Context(), payload.Statuses())
		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// handleBillingWebhook ingests payment provider events. Authenticated
// deliveries are acknowledged with 200 regardless of processing outcome; the
// idempotency gate makes redeliveries safe and unknown orders are dropped.
func (s *Server) handleBillingWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r, s.cfg.Server.MaxWebhookBodyBytes)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		maxSkew := time.Duration(s.cfg.Server.WebhookMaxSkewSec) * time.Second
		if err := verifyPaymentSignature(r, body, s.cfg.Billing.WebhookSecret, maxSkew); err != nil {
			s.logger.WithError(err).Warn("Billing webhook signature verification failed")
			s.writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}

		var payload models.PaymentWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		if err := s.payments.Process(r.Context(), &payload); err != nil {
			// Storage-level failure before any side effect: ack anyway and
			// let the provider redeliver into the idempotency gate.
			s.logger.WithError(err).WithField("order_id", payload.Data.Order.OrderID).
				Error("Payment webhook processing failed")
		}

		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func campaignIDFrom(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func progressOf(c *models.Campaign) models.CampaignProgress {
	return models.CampaignProgress{
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
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
