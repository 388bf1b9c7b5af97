// Package identity keeps local user rows in step with the identity provider
// through its signed user webhooks.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

var (
	ErrSignature = errors.New("invalid webhook signature")
	ErrPayload   = errors.New("invalid webhook payload")
)

type UserStore interface {
	CreateUser(ctx context.Context, externalID, email string) error
}

type Handler struct {
	wh     *svix.Webhook
	users  UserStore
	logger *slog.Logger
}

func NewHandler(secret string, users UserStore, logger *slog.Logger) (*Handler, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("identity webhook secret: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{wh: wh, users: users, logger: logger.With("component", "identity_webhook")}, nil
}

type event struct {
	Type string `json:"type"`
	Data struct {
		ID                    string `json:"id"`
		PrimaryEmailAddressID string `json:"primary_email_address_id"`
		EmailAddresses        []struct {
			ID           string `json:"id"`
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

// primaryEmail prefers the address flagged primary, then the first one.
func (e event) primaryEmail() string {
	for _, addr := range e.Data.EmailAddresses {
		if addr.ID != "" && addr.ID == e.Data.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	if len(e.Data.EmailAddresses) > 0 {
		return e.Data.EmailAddresses[0].EmailAddress
	}
	return ""
}

// Handle verifies and applies one delivery. It reports whether the event
// changed local state.
func (h *Handler) Handle(ctx context.Context, payload []byte, headers http.Header) (bool, error) {
	if err := h.wh.Verify(payload, headers); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return false, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	switch evt.Type {
	case "user.created", "user.updated":
	default:
		h.logger.InfoContext(ctx, "ignoring identity event", "type", evt.Type)
		return false, nil
	}

	id := strings.TrimSpace(evt.Data.ID)
	if id == "" {
		return false, fmt.Errorf("%w: missing user id", ErrPayload)
	}
	email := evt.primaryEmail()
	if err := h.users.CreateUser(ctx, id, email); err != nil {
		return false, fmt.Errorf("save user %s: %w", id, err)
	}
	h.logger.InfoContext(ctx, "user synced", "type", evt.Type, "user_id", id)
	return true, nil
}
