// Package correlation implements the identifier that ties an asynchronous
// image job to its storage location: "<generationId>:<imageId>".
package correlation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const Delimiter = ":"

var ErrMalformed = errors.New("malformed correlation id")

// ID is the parsed form of a correlation ID. The zero value is not a valid ID.
type ID struct {
	GenerationID string
	ImageID      string
}

// Mint returns a fresh ID for generationID with a random 128-bit image token.
func Mint(generationID string) (ID, error) {
	generationID = strings.TrimSpace(generationID)
	if err := checkPart(generationID); err != nil {
		return ID{}, fmt.Errorf("mint correlation id: generation %q: %w", generationID, err)
	}
	if strings.Contains(generationID, Delimiter) {
		return ID{}, fmt.Errorf("mint correlation id: generation %q contains %q: %w", generationID, Delimiter, ErrMalformed)
	}
	token, err := uuid.NewRandom()
	if err != nil {
		return ID{}, fmt.Errorf("mint correlation id: %w", err)
	}
	return ID{
		GenerationID: generationID,
		ImageID:      strings.ReplaceAll(token.String(), "-", ""),
	}, nil
}

// Parse splits raw on the first delimiter. Both halves must be non-empty and
// usable as a single path segment.
func Parse(raw string) (ID, error) {
	gen, img, ok := strings.Cut(raw, Delimiter)
	if !ok {
		return ID{}, fmt.Errorf("parse %q: missing delimiter: %w", raw, ErrMalformed)
	}
	if err := checkPart(gen); err != nil {
		return ID{}, fmt.Errorf("parse %q: generation: %w", raw, err)
	}
	if err := checkPart(img); err != nil {
		return ID{}, fmt.Errorf("parse %q: image: %w", raw, err)
	}
	return ID{GenerationID: gen, ImageID: img}, nil
}

func checkPart(p string) error {
	switch {
	case p == "":
		return ErrMalformed
	case p == "." || p == "..":
		return ErrMalformed
	case strings.ContainsAny(p, "/\\"):
		return ErrMalformed
	}
	return nil
}

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.GenerationID + Delimiter + id.ImageID
}

// Path is the blob key for the image. The webhook receiver and the fetch
// handler both resolve storage through this method.
func (id ID) Path() string {
	return id.GenerationID + "/" + id.ImageID
}

func (id ID) IsZero() bool {
	return id.GenerationID == "" && id.ImageID == ""
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
