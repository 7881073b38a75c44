package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringifiedError(t *testing.T) {
	rec := httptest.NewRecorder()
	StringifiedError(rec, http.StatusInternalServerError, errors.New("Error: boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "\"Error: boom\"\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestText(t *testing.T) {
	rec := httptest.NewRecorder()
	Text(rec, http.StatusUnauthorized, "Missing Zoom Data")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing Zoom Data", rec.Body.String())
}

func TestDecode(t *testing.T) {
	var dst struct {
		ID string `json:"id"`
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"abc"}`))
	assert.True(t, Decode(rec, req, &dst))
	assert.Equal(t, "abc", dst.ID)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.False(t, Decode(rec, req, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
