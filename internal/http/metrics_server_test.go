package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrscotty/keynanny/internal/metrics"
	"github.com/mrscotty/keynanny/internal/testutil"
)

func TestMetricsServerHandler(t *testing.T) {
	provider, err := metrics.NewProvider()
	require.NoError(t, err)

	server := NewMetricsServer(0, testutil.DiscardLogger(), provider)

	t.Run("metrics endpoint responds", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		server.GetHandler().ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("unknown route is 404", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/nope", nil)
		server.GetHandler().ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}
