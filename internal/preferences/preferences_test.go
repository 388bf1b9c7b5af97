package preferences

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
		wantErr   bool
	}{
		{name: "minimal", body: `{"country":"Japan","language":"Japanese"}`},
		{name: "full", body: `{"country":"Spain","language":"Spanish","selectedPreferences":{"diet":["vegan"]},"additionalInfo":"no nuts"}`},
		{name: "empty strings allowed", body: `{"country":"","language":""}`},
		{name: "missing country", body: `{"language":"en"}`, wantErr: true, wantField: "country"},
		{name: "missing language", body: `{"country":"US"}`, wantErr: true, wantField: "language"},
		{name: "country too long", body: `{"country":"` + strings.Repeat("a", 46) + `","language":"en"}`, wantErr: true, wantField: "country"},
		{name: "additional info too long", body: `{"country":"US","language":"en","additionalInfo":"` + strings.Repeat("x", 401) + `"}`, wantErr: true, wantField: "additionalInfo"},
		{name: "unknown field", body: `{"country":"US","language":"en","admin":true}`, wantErr: true},
		{name: "not json", body: `country=US`, wantErr: true},
		{name: "wrong type", body: `{"country":1,"language":"en"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			if tt.wantField != "" {
				var fe *FieldError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, tt.wantField, fe.Field)
			}
		})
	}
}

func TestLimitsCountCharactersNotBytes(t *testing.T) {
	country := strings.Repeat("日", MaxCountryLen)
	_, err := Decode([]byte(`{"country":"` + country + `","language":"ja"}`))
	assert.NoError(t, err)
}

func TestSelectedSummary(t *testing.T) {
	var nilPrefs *Preferences
	assert.Equal(t, "None specified", nilPrefs.SelectedSummary())

	p, err := Decode([]byte(`{"country":"US","language":"en","selectedPreferences":{"allergies":["peanuts"]}}`))
	require.NoError(t, err)
	assert.Contains(t, p.SelectedSummary(), `"peanuts"`)
}
