package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"crconsync/pkg/logger"
)

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEndpoints(t *testing.T) {
	status := func(context.Context) (any, error) {
		return map[string]any{"server_id": "crcon_server_001", "export_count": 4}, nil
	}
	s := New(":0", logger.Nop(), status, nil)

	rec := serve(s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = serve(s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"server_id": "crcon_server_001", "export_count": 4}`, rec.Body.String())

	rec = serve(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotReadyAndStatusError(t *testing.T) {
	s := New(":0", logger.Nop(),
		func(context.Context) (any, error) { return nil, errors.New("redis down") },
		func(context.Context) error { return errors.New("database unreachable") })

	rec := serve(s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unreachable")

	rec = serve(s, "/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusDisabled(t *testing.T) {
	s := New(":0", logger.Nop(), nil, nil)
	assert.Equal(t, http.StatusNotFound, serve(s, "/status").Code)
}
