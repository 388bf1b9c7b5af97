// Package client is a Go client for the menu translation HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"translatemenu/internal/menu"
	"translatemenu/internal/poller"
	"translatemenu/internal/preferences"
)

const maxImageBytes = 32 << 20

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

type File struct {
	Name string
	Data []byte
}

// AnalyzeResult is the /analyze response. GenerationID is empty when the
// server does not record generations.
type AnalyzeResult struct {
	menu.Menu
	GenerationID string `json:"generationId,omitempty"`
}

// Analyze uploads menu photos and returns the extracted menu. Dishes with an
// image reference can be polled with WaitForImage.
func (c *Client) Analyze(ctx context.Context, files []File) (AnalyzeResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("images", f.Name)
		if err != nil {
			return AnalyzeResult{}, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return AnalyzeResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return AnalyzeResult{}, err
	}

	var out AnalyzeResult
	err := c.doJSON(ctx, http.MethodPost, "/analyze", mw.FormDataContentType(), &body, &out)
	return out, err
}

type Generation struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

// Generation loads a generation owned by the caller.
func (c *Client) Generation(ctx context.Context, id string) (*Generation, error) {
	var out Generation
	if err := c.doJSON(ctx, http.MethodGet, "/generations/"+url.PathEscape(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchImage implements poller.Fetcher. A 404 maps to poller.ErrNotReady.
func (c *Client) FetchImage(ctx context.Context, correlationID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/image/"+url.PathEscape(correlationID), "", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, poller.ErrNotReady
	}
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, errors.New("image too large")
	}
	return data, nil
}

// WaitForImage starts a poller for one dish image.
func (c *Client) WaitForImage(ctx context.Context, correlationID string, cfg poller.Config) *poller.Handle {
	return poller.Start(ctx, c, correlationID, cfg)
}

func (c *Client) SavePreferences(ctx context.Context, p preferences.Preferences) (*preferences.Preferences, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out struct {
		Preferences *preferences.Preferences `json:"preferences"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/preferences", "application/json", bytes.NewReader(b), &out); err != nil {
		return nil, err
	}
	return out.Preferences, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return apiError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func apiError(res *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}
	if msg == "" {
		msg = res.Status
	}
	return &APIError{Status: res.StatusCode, Message: msg}
}
