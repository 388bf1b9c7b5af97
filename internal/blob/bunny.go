package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const defaultBunnyEndpoint = "https://storage.bunnycdn.com"

type BunnyConfig struct {
	// Endpoint is the storage API base; regional zones use e.g. https://ny.storage.bunnycdn.com.
	Endpoint   string
	Zone       string
	AccessKey  string
	PathPrefix string
	MaxBytes   int64
}

// BunnyStore talks to the BunnyCDN Storage HTTP API. A PUT replaces the
// object in one request, so readers never see partial content.
type BunnyStore struct {
	cfg  BunnyConfig
	http *http.Client
}

func NewBunnyStore(cfg BunnyConfig, httpClient *http.Client) (*BunnyStore, error) {
	if strings.TrimSpace(cfg.Zone) == "" || strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, errors.New("invalid bunny credentials")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultBunnyEndpoint
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 32 << 20
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &BunnyStore{cfg: cfg, http: httpClient}, nil
}

func (b *BunnyStore) objectURL(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	objectPath := path.Join(strings.Trim(b.cfg.PathPrefix, "/"), key)
	base := strings.TrimRight(strings.TrimSpace(b.cfg.Endpoint), "/")
	return base + "/" + url.PathEscape(strings.TrimSpace(b.cfg.Zone)) + "/" + bunnyEscapePath(objectPath), nil
}

func (b *BunnyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	u, err := b.objectURL(key)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("AccessKey", b.cfg.AccessKey)
	req.Header.Set("Content-Type", contentTypeFor(data, contentType))

	res, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("bunny upload failed (%d): %s", res.StatusCode, bunnyErrorBody(res))
}

func (b *BunnyStore) Get(ctx context.Context, key string) (Object, error) {
	u, err := b.objectURL(key)
	if err != nil {
		return Object{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Object{}, err
	}
	req.Header.Set("AccessKey", b.cfg.AccessKey)

	res, err := b.http.Do(req)
	if err != nil {
		return Object{}, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return Object{}, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Object{}, fmt.Errorf("bunny download failed (%d): %s", res.StatusCode, bunnyErrorBody(res))
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, b.cfg.MaxBytes+1))
	if err != nil {
		return Object{}, err
	}
	if int64(len(data)) > b.cfg.MaxBytes {
		return Object{}, fmt.Errorf("bunny object %q exceeds %d bytes", key, b.cfg.MaxBytes)
	}
	return Object{Data: data, ContentType: contentTypeFor(data, res.Header.Get("Content-Type"))}, nil
}

func bunnyErrorBody(res *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = res.Status
	}
	return msg
}

func bunnyEscapePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, url.PathEscape(part))
	}
	return strings.Join(out, "/")
}
