package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"waflow/internal/events"
	"waflow/internal/metrics"
	"waflow/internal/middleware"
	"waflow/internal/models"
	"waflow/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *models.Config
	router     *mux.Router
	logger     *logrus.Logger
	ingest     *service.IngestService
	dispatcher *service.MessageDispatcher
	hub        *events.WSHub
	server     *http.Server
}

func NewServer(cfg *models.Config, ingest *service.IngestService, dispatcher *service.MessageDispatcher, hub *events.WSHub, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		router:     mux.NewRouter(),
		logger:     logger,
		ingest:     ingest,
		dispatcher: dispatcher,
		hub:        hub,
	}

	s.setupRoutes()

	readTimeout := time.Duration(cfg.Server.ReadTimeoutSec) * time.Second
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DetailedLogging(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/webhook", s.handleWebhookVerify()).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.handleWebhookDelivery()).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.Handle("/ws/events", s.hub).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.logger.WithField("port", s.cfg.Server.Port).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWebhookVerify answers the provider's subscription handshake: echo
// the challenge when the verify token matches, 403 otherwise.
func (s *Server) handleWebhookVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge, ok := s.ingest.VerifyHandshake(q.Get("mode"), q.Get("verify_token"), q.Get("challenge"))
		if !ok {
			metrics.RecordWebhook("handshake_rejected")
			http.Error(w, "verification failed", http.StatusForbidden)
			return
		}

		metrics.RecordWebhook("handshake_ok")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}

// handleWebhookDelivery verifies the delivery signature and hands the body to
// the ingestion gate. Per-event failures never surface here: the provider
// gets a 2xx as long as the envelope was authentic and parseable, anything
// else would cause redelivery of events we already persisted.
func (s *Server) handleWebhookDelivery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Webhook.MaxBodyBytes)

		body, err := verifySignature(r, s.cfg.Webhook.Secret)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				metrics.RecordWebhook("too_large")
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			metrics.RecordWebhook("invalid_signature")
			s.logger.WithError(err).Warn("Webhook signature rejected")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		result, err := s.ingest.HandleDelivery(r.Context(), body)
		if err != nil {
			metrics.RecordWebhook("malformed")
			s.logger.WithError(err).Warn("Webhook body rejected")
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		metrics.RecordWebhook("accepted")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "accepted",
			"accepted": result.Accepted,
			"unrouted": result.Unrouted,
			"failed":   result.Failed,
		})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := s.dispatcher.BreakerStats()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": Version,
			"breaker": map[string]interface{}{
				"name":     stats.Name,
				"state":    stats.State.String(),
				"failures": stats.Failures,
				"requests": stats.Requests,
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
