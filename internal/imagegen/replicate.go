// Package imagegen submits dish illustration jobs to the external renderer
// and stores the images it calls back with.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ReplicateConfig struct {
	APIToken string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// ReplicateClient creates predictions on a Replicate model and asks for a
// webhook when each one completes.
type ReplicateClient struct {
	cfg  ReplicateConfig
	http *http.Client
}

func NewReplicateClient(cfg ReplicateConfig, httpClient *http.Client) (*ReplicateClient, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("replicate api token not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "black-forest-labs/flux-schnell"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &ReplicateClient{cfg: cfg, http: httpClient}, nil
}

type predictionRequest struct {
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook"`
	WebhookEventsFilter []string        `json:"webhook_events_filter"`
}

type predictionInput struct {
	Prompt       string `json:"prompt"`
	AspectRatio  string `json:"aspect_ratio"`
	NumOutputs   int    `json:"num_outputs"`
	OutputFormat string `json:"output_format"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Render registers one prediction and returns the provider's prediction ID.
// It does not wait for the image.
func (c *ReplicateClient) Render(ctx context.Context, prompt, webhookURL string) (string, error) {
	body, err := json.Marshal(predictionRequest{
		Input: predictionInput{
			Prompt:       prompt,
			AspectRatio:  "1:1",
			NumOutputs:   1,
			OutputFormat: "webp",
		},
		Webhook:             webhookURL,
		WebhookEventsFilter: []string{"completed"},
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/models/" + c.cfg.Model + "/predictions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIToken))
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("replicate prediction failed (%d): %s", res.StatusCode, failureDetail(payload, res.Status))
	}

	var pred predictionResponse
	if err := json.Unmarshal(payload, &pred); err != nil {
		return "", fmt.Errorf("decode prediction: %w", err)
	}
	if pred.Status == "failed" || pred.Status == "canceled" {
		return pred.ID, fmt.Errorf("replicate prediction %s %s", pred.ID, pred.Status)
	}
	return pred.ID, nil
}

func failureDetail(payload []byte, fallback string) string {
	detail := strings.Join(strings.Fields(string(payload)), " ")
	if detail == "" {
		return fallback
	}
	if len(detail) > 280 {
		detail = detail[:277] + "..."
	}
	return detail
}
