package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "Invalid preferences data")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"message":"Invalid preferences data"}`, rec.Body.String())
}

func TestReadBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345"))
	b, err := ReadBody(req, 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456"))
	_, err = ReadBody(req, 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
