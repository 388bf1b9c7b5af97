// Package preferences holds the per-user settings that shape menu analysis.
package preferences

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxCountryLen        = 45
	MaxLanguageLen       = 45
	MaxAdditionalInfoLen = 400
)

var ErrInvalid = errors.New("invalid preferences")

// Preferences is stored as a JSON document on the user record.
// SelectedPreferences is free-form and passed through to the model prompt.
type Preferences struct {
	Country             string          `json:"country"`
	Language            string          `json:"language"`
	SelectedPreferences json.RawMessage `json:"selectedPreferences,omitempty"`
	AdditionalInfo      string          `json:"additionalInfo,omitempty"`
}

// FieldError reports the first invalid field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

// Decode parses and validates a request body. Unknown fields are rejected.
func Decode(body []byte) (Preferences, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var raw struct {
		Country             *string         `json:"country"`
		Language            *string         `json:"language"`
		SelectedPreferences json.RawMessage `json:"selectedPreferences"`
		AdditionalInfo      *string         `json:"additionalInfo"`
	}
	if err := dec.Decode(&raw); err != nil {
		return Preferences{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if raw.Country == nil {
		return Preferences{}, &FieldError{Field: "country", Reason: "required"}
	}
	if raw.Language == nil {
		return Preferences{}, &FieldError{Field: "language", Reason: "required"}
	}

	p := Preferences{
		Country:  strings.TrimSpace(*raw.Country),
		Language: strings.TrimSpace(*raw.Language),
	}
	if len(raw.SelectedPreferences) > 0 && string(raw.SelectedPreferences) != "null" {
		p.SelectedPreferences = raw.SelectedPreferences
	}
	if raw.AdditionalInfo != nil {
		p.AdditionalInfo = strings.TrimSpace(*raw.AdditionalInfo)
	}
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

func (p Preferences) Validate() error {
	if utf8.RuneCountInString(p.Country) > MaxCountryLen {
		return &FieldError{Field: "country", Reason: fmt.Sprintf("at most %d characters", MaxCountryLen)}
	}
	if utf8.RuneCountInString(p.Language) > MaxLanguageLen {
		return &FieldError{Field: "language", Reason: fmt.Sprintf("at most %d characters", MaxLanguageLen)}
	}
	if utf8.RuneCountInString(p.AdditionalInfo) > MaxAdditionalInfoLen {
		return &FieldError{Field: "additionalInfo", Reason: fmt.Sprintf("at most %d characters", MaxAdditionalInfoLen)}
	}
	if len(p.SelectedPreferences) > 0 && !json.Valid(p.SelectedPreferences) {
		return &FieldError{Field: "selectedPreferences", Reason: "not valid JSON"}
	}
	return nil
}

// SelectedSummary renders SelectedPreferences for a prompt.
func (p *Preferences) SelectedSummary() string {
	if p == nil || len(p.SelectedPreferences) == 0 {
		return "None specified"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, p.SelectedPreferences, "", "  "); err != nil {
		return string(p.SelectedPreferences)
	}
	return out.String()
}
