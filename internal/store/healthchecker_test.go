package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/store/sqlite"
)

func TestStoreHealthChecker(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)

	hc := store.NewStoreHealthChecker(s, zerolog.Nop(), time.Second)
	assert.Equal(t, "store", hc.Name())
	assert.True(t, hc.Probe(context.Background()))

	require.NoError(t, s.Close())
	assert.False(t, hc.Probe(context.Background()))
	assert.False(t, hc.IsHealthy())
}
