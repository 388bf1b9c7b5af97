// Package vision extracts a structured menu from photos with an
// OpenAI-compatible chat completions endpoint.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"translatemenu/internal/menu"
	"translatemenu/internal/preferences"
)

const maxResponseBytes = 4 << 20

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.With("component", "vision")}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict"`
	Schema any    `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the JPEG images with a preference-aware instruction and
// decodes the structured result.
func (c *Client) Extract(ctx context.Context, images [][]byte, prefs *preferences.Preferences) (menu.Menu, error) {
	if len(images) == 0 {
		return menu.Menu{}, errors.New("no images")
	}

	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Type: "text", Text: "Here are the menu photos."})
	for _, img := range images {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img), Detail: "high"},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(prefs)},
			{Role: "user", Content: parts},
		},
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "menu", Strict: true, Schema: menuSchema},
		},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return menu.Menu{}, err
	}

	start := time.Now()
	payload, status, err := c.do(ctx, body)
	if err != nil {
		return menu.Menu{}, fmt.Errorf("vision request: %w", err)
	}
	c.logger.InfoContext(ctx, "vision response", "status", status, "images", len(images), "duration", time.Since(start))

	var res chatResponse
	decodeErr := json.Unmarshal(payload, &res)
	if status < 200 || status >= 300 {
		msg := truncate(string(payload))
		if decodeErr == nil && res.Error != nil && res.Error.Message != "" {
			msg = truncate(res.Error.Message)
		}
		return menu.Menu{}, fmt.Errorf("vision request failed (%d): %s", status, msg)
	}
	if decodeErr != nil {
		return menu.Menu{}, fmt.Errorf("vision response (%d): %w", status, decodeErr)
	}
	if len(res.Choices) == 0 {
		return menu.Menu{}, errors.New("vision response has no choices")
	}
	choice := res.Choices[0]
	if choice.Message.Refusal != "" {
		return menu.Menu{}, fmt.Errorf("vision model refused: %s", truncate(choice.Message.Refusal))
	}
	if choice.FinishReason == "length" {
		return menu.Menu{}, errors.New("vision response truncated")
	}

	var out menu.Menu
	if err := json.Unmarshal([]byte(choice.Message.Content), &out); err != nil {
		return menu.Menu{}, fmt.Errorf("decode menu: %w", err)
	}
	if !out.IsMenu {
		return menu.NotAMenu(), nil
	}
	if out.Items == nil {
		out.Items = []menu.Dish{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, body []byte) ([]byte, int, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes+1))
	if err != nil {
		return nil, 0, err
	}
	if len(payload) > maxResponseBytes {
		return nil, 0, errors.New("vision response too large")
	}
	return payload, res.StatusCode, nil
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 280 {
		s = s[:277] + "..."
	}
	return s
}
