package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/health"
	"github.com/LanreCloud/minicoach/internal/model"
)

// NewStoreHealthChecker returns a checker named "store". Drivers that implement
// health.HealthPinger are pinged directly; others are probed with a rule lookup.
func NewStoreHealthChecker(s Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("store", pinger(s), log, probeTimeout)
}

func pinger(s Store) health.HealthPinger {
	if p, ok := s.(health.HealthPinger); ok {
		return p
	}
	return health.PingFunc(func(ctx context.Context) error {
		_, err := s.Rules().Get(ctx, "__health_check__", "__health_check__")
		// ErrNotFound is acceptable - means the store is responsive
		if err == nil || errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	})
}
