// Package blob stores rendered dish images keyed by "<generationId>/<imageId>".
package blob

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// Object is a stored image.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is the contract shared by every backend. Put overwrites and must be
// atomic to concurrent readers: a Get observes either the old object, the new
// one, or ErrNotFound, never a partial write.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
}

func cleanKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("empty blob key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", errors.New("invalid blob key")
		}
	}
	return key, nil
}

func contentTypeFor(data []byte, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}
