package api

import (
	"errors"
	"net/http"

	"translatemenu/internal/httpx"
	"translatemenu/internal/identity"
	"translatemenu/internal/payments"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleIdentityWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := httpx.ReadBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	changed, err := s.deps.Identity.Handle(r.Context(), payload, r.Header)
	switch {
	case errors.Is(err, identity.ErrSignature), errors.Is(err, identity.ErrPayload):
		s.logger.WarnContext(r.Context(), "identity webhook rejected", "error", err)
		httpx.WriteError(w, http.StatusBadRequest, "Invalid webhook")
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "identity webhook failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error saving user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "changed": changed})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := httpx.ReadBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	res, err := s.deps.Stripe.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		msg := "Webhook handler failed"
		switch {
		case errors.Is(err, payments.ErrSignature):
			msg = "Invalid signature"
		case errors.Is(err, payments.ErrUnsupportedEvent):
			msg = "Unsupported event type"
		}
		s.logger.WarnContext(r.Context(), "stripe webhook rejected", "type", res.EventType, "error", err)
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}
