package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/pkg/config"
)

func testAPIConfig() *config.APIConfig {
	cfg := &config.APIConfig{
		Enabled:       true,
		ListenAddress: "127.0.0.1:0",
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	cfg := testAPIConfig()
	cfg.ReadTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.WriteTimeout = config.Duration{Duration: 10 * time.Second}
	cfg.IdleTimeout = config.Duration{Duration: 60 * time.Second}

	store := newTestStore(t)
	server := NewServer(cfg, store, log)

	require.NotNil(t, server)
	require.NotNil(t, server.config)
	require.NotNil(t, server.store)
	require.NotNil(t, server.handler)
	require.NotNil(t, server.server)
	require.NotNil(t, server.log)
	require.Equal(t, cfg.ListenAddress, server.server.Addr)
	require.Equal(t, 5*time.Second, server.server.ReadTimeout)
	require.Equal(t, 10*time.Second, server.server.WriteTimeout)
	require.Equal(t, 60*time.Second, server.server.IdleTimeout)
}

func TestNewServerWithCORS(t *testing.T) {
	t.Parallel()

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	cfg := testAPIConfig()
	cfg.CORS = config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}

	store := newTestStore(t)
	server := NewServer(cfg, store, log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()

	server.server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	store := newTestStore(t)
	server := NewServer(testAPIConfig(), store, log)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK},
		{name: "list tables", method: http.MethodGet, path: "/api/v1/tables", expectedStatus: http.StatusOK},
		{name: "get rows", method: http.MethodGet, path: "/api/v1/tables/accounts/rows", expectedStatus: http.StatusOK},
		{name: "get rows unknown table", method: http.MethodGet, path: "/api/v1/tables/missing/rows", expectedStatus: http.StatusNotFound},
		{name: "checkpoint", method: http.MethodGet, path: "/api/v1/checkpoint", expectedStatus: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/nope", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			server.server.Handler.ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestServerStartDisabled(t *testing.T) {
	t.Parallel()

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	cfg := testAPIConfig()
	cfg.Enabled = false

	store := newTestStore(t)
	server := NewServer(cfg, store, log)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, server.Start(ctx))
}

func TestServerStartAndShutdown(t *testing.T) {
	t.Parallel()

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	store := newTestStore(t)
	server := NewServer(testAPIConfig(), store, log)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
