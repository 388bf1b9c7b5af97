package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret = "whsec_test_secret"
	link   = "plink_1QOJtQD3sxiLFHCHc0gh1DqG"
)

func sign(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":%q,"data":{"object":%s}}`, typ, object))
}

type entitlements struct {
	emails []string
	err    error
}

func (e *entitlements) SetProByEmail(_ context.Context, email string, pro bool) (int64, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.emails = append(e.emails, email)
	return 1, nil
}

type directory map[string]string

func (d directory) CustomerEmail(_ context.Context, id string) (string, error) {
	email, ok := d[id]
	if !ok {
		return "", errors.New("no such customer")
	}
	return email, nil
}

func newProcessor(users Entitlements) *Processor {
	return NewProcessor(secret, link, users, directory{"cus_1": "pro@example.com"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubscriptionCreated(t *testing.T) {
	users := &entitlements{}
	p := newProcessor(users)
	payload := event("customer.subscription.created", `{"id":"sub_1","object":"subscription","customer":"cus_1"}`)

	res, err := p.Handle(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, "pro@example.com", res.Email)
	assert.Equal(t, []string{"pro@example.com"}, users.emails)
}

func TestCheckoutCompleted(t *testing.T) {
	tests := []struct {
		name    string
		session string
		want    []string
	}{
		{
			name:    "matching payment link",
			session: fmt.Sprintf(`{"id":"cs_1","object":"checkout.session","payment_link":%q,"customer_details":{"email":"buyer@example.com"}}`, link),
			want:    []string{"buyer@example.com"},
		},
		{
			name:    "other payment link",
			session: `{"id":"cs_2","object":"checkout.session","payment_link":"plink_other","customer_details":{"email":"buyer@example.com"}}`,
		},
		{
			name:    "no email",
			session: fmt.Sprintf(`{"id":"cs_3","object":"checkout.session","payment_link":%q,"customer_details":{}}`, link),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &entitlements{}
			payload := event("checkout.session.completed", tt.session)
			_, err := newProcessor(users).Handle(context.Background(), payload, sign(payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, users.emails)
		})
	}
}

func TestHandleErrors(t *testing.T) {
	sub := event("customer.subscription.created", `{"id":"sub_1","object":"subscription","customer":"cus_unknown"}`)
	invoice := event("invoice.paid", `{"id":"in_1","object":"invoice"}`)
	good := event("customer.subscription.created", `{"id":"sub_1","object":"subscription","customer":"cus_1"}`)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		users     *entitlements
		want      error
	}{
		{name: "missing signature", payload: good, signature: "", want: ErrSignature},
		{name: "tampered", payload: good, signature: sign(invoice), want: ErrSignature},
		{name: "unsupported", payload: invoice, signature: sign(invoice), want: ErrUnsupportedEvent},
		{name: "customer lookup fails", payload: sub, signature: sign(sub), want: ErrHandler},
		{name: "store fails", payload: good, signature: sign(good), users: &entitlements{err: errors.New("db down")}, want: ErrHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := tt.users
			if users == nil {
				users = &entitlements{}
			}
			_, err := newProcessor(users).Handle(context.Background(), tt.payload, tt.signature)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
