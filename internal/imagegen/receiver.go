package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmespath-community/go-jmespath"

	"translatemenu/internal/blob"
	"translatemenu/internal/correlation"
)

var (
	ErrMalformedPayload = errors.New("malformed callback payload")
	ErrNotImage         = errors.New("callback output is not an image")
)

type Outcome string

const (
	OutcomeStored       Outcome = "stored"
	OutcomeRenderFailed Outcome = "render_failed"
)

type ReceiverConfig struct {
	// OutputExpression is a JMESPath expression selecting the output URL.
	OutputExpression string
	FetchTimeout     time.Duration
	MaxImageBytes    int64
}

// Notifier is told about every image that lands in the store.
type Notifier interface {
	ImageReady(ctx context.Context, id correlation.ID)
}

type Receiver struct {
	store    blob.Store
	expr     string
	http     *http.Client
	maxBytes int64
	notifier Notifier
	logger   *slog.Logger
}

func NewReceiver(store blob.Store, cfg ReceiverConfig, httpClient *http.Client, notifier Notifier, logger *slog.Logger) (*Receiver, error) {
	if cfg.OutputExpression == "" {
		cfg.OutputExpression = "output[0] || output"
	}
	if _, err := jmespath.Compile(cfg.OutputExpression); err != nil {
		return nil, fmt.Errorf("compile output expression %q: %w", cfg.OutputExpression, err)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 16 << 20
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.FetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		store:    store,
		expr:     cfg.OutputExpression,
		http:     httpClient,
		maxBytes: cfg.MaxImageBytes,
		notifier: notifier,
		logger:   logger.With("component", "image_receiver"),
	}, nil
}

// Receive stores the image referenced by a renderer callback at id.Path().
// Replays overwrite the same key, so duplicate deliveries are harmless.
// A failed download or write leaves the store untouched.
func (r *Receiver) Receive(ctx context.Context, id correlation.ID, payload []byte) (Outcome, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if status := renderStatus(doc); status == "failed" || status == "canceled" {
		r.logger.WarnContext(ctx, "renderer reported failure", "correlation_id", id.String(), "status", status)
		return OutcomeRenderFailed, nil
	}

	ref, err := r.outputRef(doc)
	if err != nil {
		return "", err
	}

	data, err := r.load(ctx, ref)
	if err != nil {
		return "", err
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, contentType)
	}

	if err := r.store.Put(ctx, id.Path(), data, contentType); err != nil {
		return "", fmt.Errorf("store image %s: %w", id, err)
	}
	r.logger.InfoContext(ctx, "image stored", "correlation_id", id.String(), "bytes", len(data), "content_type", contentType)

	if r.notifier != nil {
		r.notifier.ImageReady(ctx, id)
	}
	return OutcomeStored, nil
}

func renderStatus(doc any) string {
	m, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["status"].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *Receiver) outputRef(doc any) (string, error) {
	v, err := jmespath.Search(r.expr, doc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	ref, ok := v.(string)
	if !ok || strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("%w: no output reference", ErrMalformedPayload)
	}
	return strings.TrimSpace(ref), nil
}

func (r *Receiver) load(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid output url %q", ErrMalformedPayload, ref)
	}
	return r.download(ctx, u.String())
}

func (r *Receiver) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/webp, image/png, image/jpeg, image/*")

	res, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if int64(len(payload)) > r.maxBytes {
		return nil, errors.New("rendered image too large")
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("image download failed (%d): %s", res.StatusCode, failureDetail(payload, res.Status))
	}
	if len(payload) == 0 {
		return nil, errors.New("image download returned no bytes")
	}
	return payload, nil
}

func decodeDataURI(ref string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: unsupported data uri", ErrMalformedPayload)
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data uri: %v", ErrMalformedPayload, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty data uri", ErrMalformedPayload)
	}
	return b, nil
}
