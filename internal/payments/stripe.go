// Package payments turns Stripe webhook events into the paid-tier flag on
// user records.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrSignature        = errors.New("invalid stripe signature")
	ErrUnsupportedEvent = errors.New("unsupported event type")
	ErrHandler          = errors.New("webhook handler failed")
)

const (
	eventSubscriptionCreated = "customer.subscription.created"
	eventCheckoutCompleted   = "checkout.session.completed"
)

type Entitlements interface {
	SetProByEmail(ctx context.Context, email string, pro bool) (int64, error)
}

// CustomerDirectory resolves a Stripe customer ID to its email.
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// StripeCustomers looks customers up through the Stripe API.
type StripeCustomers struct {
	api *client.API
}

func NewStripeCustomers(secretKey string) *StripeCustomers {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeCustomers{api: api}
}

func (s *StripeCustomers) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		return "", err
	}
	return c.Email, nil
}

type Processor struct {
	secret        string
	paymentLinkID string
	users         Entitlements
	customers     CustomerDirectory
	logger        *slog.Logger
}

func NewProcessor(webhookSecret, paymentLinkID string, users Entitlements, customers CustomerDirectory, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		secret:        webhookSecret,
		paymentLinkID: strings.TrimSpace(paymentLinkID),
		users:         users,
		customers:     customers,
		logger:        logger.With("component", "stripe_webhook"),
	}
}

// Result describes what a delivery did.
type Result struct {
	EventType string
	Email     string
	Upgraded  int64
}

// Handle verifies the Stripe-Signature header and applies the event.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	if p.secret == "" || signature == "" {
		return Result{}, fmt.Errorf("%w: webhook secret or signature missing", ErrSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	res := Result{EventType: string(evt.Type)}
	p.logger.InfoContext(ctx, "stripe event received", "type", res.EventType, "id", evt.ID)

	var email string
	switch res.EventType {
	case eventSubscriptionCreated:
		email, err = p.subscriptionEmail(ctx, evt)
	case eventCheckoutCompleted:
		email, err = p.checkoutEmail(evt)
	default:
		return res, fmt.Errorf("%w: %s", ErrUnsupportedEvent, res.EventType)
	}
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrHandler, err)
	}
	if email == "" {
		p.logger.WarnContext(ctx, "no email for stripe event", "type", res.EventType, "id", evt.ID)
		return res, nil
	}

	res.Email = email
	res.Upgraded, err = p.users.SetProByEmail(ctx, email, true)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrHandler, err)
	}
	if res.Upgraded == 0 {
		p.logger.WarnContext(ctx, "paid email matches no user", "type", res.EventType, "id", evt.ID)
	}
	return res, nil
}

func (p *Processor) subscriptionEmail(ctx context.Context, evt stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("decode subscription: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return "", errors.New("subscription has no customer")
	}
	if sub.Customer.Email != "" {
		return sub.Customer.Email, nil
	}
	if p.customers == nil {
		return "", errors.New("customer lookup not configured")
	}
	return p.customers.CustomerEmail(ctx, sub.Customer.ID)
}

// checkoutEmail only returns an email for sessions from the configured
// payment link.
func (p *Processor) checkoutEmail(evt stripe.Event) (string, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}
	if p.paymentLinkID == "" || sess.PaymentLink == nil || sess.PaymentLink.ID != p.paymentLinkID {
		return "", nil
	}
	if sess.CustomerDetails == nil {
		return "", nil
	}
	return sess.CustomerDetails.Email, nil
}
