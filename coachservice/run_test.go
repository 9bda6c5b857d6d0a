package coachservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/config"
)

func TestCalculateStartupHealthTimeout(t *testing.T) {
	assert.Equal(t, 60, calculateStartupHealthTimeout(0))
	assert.Equal(t, 60, calculateStartupHealthTimeout(30))
	assert.Equal(t, 120, calculateStartupHealthTimeout(60))
}

func TestServiceStartsHealthyOnSQLite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.NewForTesting()
	log := zerolog.Nop()
	deps, err := initDependencies(ctx, cfg, log)
	require.NoError(t, err)
	defer deps.close(log)
	assert.Nil(t, deps.provider)
	assert.Nil(t, deps.cache)
	assert.Nil(t, deps.publisher)

	router := buildRouter(deps, cfg, log)
	svcHealth := startHealthCheckers(ctx, cfg, log, deps)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, waitUntilHealthy(waitCtx, cfg, svcHealth))
	assert.Equal(t, map[string]bool{"store": true}, svcHealth.Components())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)
}
