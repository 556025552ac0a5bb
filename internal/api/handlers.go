package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/webhook"
)

// verifyHandler answers the subscription handshake (GET /webhook).
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || s.verifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.verifyToken)) != 1 {
		slog.Warn("Server.verifyHandler: verification failed", "mode", mode)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Verification failed"))
		return
	}
	slog.Info("Server.verifyHandler: webhook verified")
	writeChallenge(w, challenge)
}

// webhookHandler receives Cloud API events (POST /webhook).
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Server.webhookHandler: body too large", "limit", tooLarge.Limit)
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return
		}
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	if s.appSecret != "" {
		if err := webhook.VerifySignature(s.appSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			slog.Warn("Server.webhookHandler: signature rejected", "error", err)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
	}

	action, err := s.handler.Handle(r.Context(), body)
	writeDispatchResult(w, action, err)
}

// twilioWebhookHandler receives Twilio inbound messages and status callbacks (POST /twilio/webhook).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	msg, err := s.twilio.ParseInbound(r)
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidTwilioSignature) {
			slog.Warn("Server.twilioWebhookHandler: signature rejected")
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
		slog.Warn("Server.twilioWebhookHandler: ignoring request", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Ignored(err.Error()))
		return
	}

	action, err := s.handler.HandleMessage(r.Context(), msg)
	writeDispatchResult(w, action, err)
}

// receiptsHandler lists recorded delivery receipts (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.receiptsHandler: processing receipts request", "method", r.Method, "path", r.URL.Path)
	receipts, err := s.receipts.GetReceipts(r.Context())
	if err != nil {
		slog.Error("Server.receiptsHandler: error fetching receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
