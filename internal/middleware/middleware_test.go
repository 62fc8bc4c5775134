package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationID_GeneratesAndStores(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, res.Header().Get(HeaderCorrelationID))
}

func TestCorrelationID_KeepsCallerID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "req-42")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", res.Header().Get(HeaderCorrelationID))
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, levelFor(http.StatusOK))
	assert.Equal(t, zerolog.WarnLevel, levelFor(http.StatusNotFound))
	assert.Equal(t, zerolog.ErrorLevel, levelFor(http.StatusInternalServerError))
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	h := CorrelationID(RequestLogger(zerolog.Nop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/brew", nil))
	assert.Equal(t, http.StatusTeapot, res.Code)
}
