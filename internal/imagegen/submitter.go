package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"translatemenu/internal/correlation"
)

// Renderer accepts an image job and later POSTs the result to webhookURL.
type Renderer interface {
	Render(ctx context.Context, prompt, webhookURL string) (string, error)
}

// CallbackPath is the route prefix the renderer calls back on.
const CallbackPath = "/image-callback/"

type Submitter struct {
	renderer Renderer
	baseURL  string
	logger   *slog.Logger
}

// NewSubmitter builds callback URLs under publicBaseURL, which must be
// reachable by the renderer.
func NewSubmitter(renderer Renderer, publicBaseURL string, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		renderer: renderer,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:   logger.With("component", "image_submitter"),
	}
}

// BuildPrompt is the fixed photography template for a dish.
func BuildPrompt(name, description string) string {
	return fmt.Sprintf(
		"A professional food photograph of %s: %s. Appetizing restaurant plating, overhead three-quarter angle, natural soft lighting, shallow depth of field, clean neutral background, no text, no watermark.",
		strings.TrimSpace(name), strings.TrimSpace(description),
	)
}

func CallbackURL(baseURL string, id correlation.ID) string {
	return strings.TrimRight(baseURL, "/") + CallbackPath + url.PathEscape(id.String())
}

// Submit registers one image job for the dish. It returns false when the job
// could not be registered; callers treat that as "no image" and never retry.
func (s *Submitter) Submit(ctx context.Context, generationID, name, description string) (correlation.ID, bool) {
	name, description = strings.TrimSpace(name), strings.TrimSpace(description)
	if name == "" || description == "" {
		s.logger.WarnContext(ctx, "skipping image job without prompt material", "generation_id", generationID)
		return correlation.ID{}, false
	}
	id, err := correlation.Mint(generationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "mint correlation id", "generation_id", generationID, "error", err)
		return correlation.ID{}, false
	}

	predictionID, err := s.renderer.Render(ctx, BuildPrompt(name, description), CallbackURL(s.baseURL, id))
	if err != nil {
		s.logger.ErrorContext(ctx, "image job rejected",
			"correlation_id", id.String(),
			"dish", name,
			"error", err)
		return correlation.ID{}, false
	}
	s.logger.InfoContext(ctx, "image job submitted", "correlation_id", id.String(), "prediction_id", predictionID)
	return id, true
}
