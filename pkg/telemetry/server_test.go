package telemetry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

func TestMetricsHandler_Endpoints(t *testing.T) {
	h := telemetry.NewMetricsHandler(nil)

	for _, path := range []string{"/metrics", "/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetricsHandler_NotReady(t *testing.T) {
	h := telemetry.NewMetricsHandler(func(context.Context) error {
		return errors.New("redis down")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.InitTracer(context.Background(), "test", "", 1)
	assert.NoError(t, err)
	assert.NotPanics(t, shutdown)
}
