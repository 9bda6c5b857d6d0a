package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/config"
	"github.com/LanreCloud/minicoach/internal/outbox"
	"github.com/LanreCloud/minicoach/internal/outbox/natspub"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/suggest/rediscache"
)

// NewSuggestCache connects to Redis when COACH_REDIS_ADDR is set.
// A nil cache with a nil error means caching is disabled.
func NewSuggestCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*rediscache.Cache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout(cfg))
	defer cancel()
	c, err := rediscache.New(connectCtx, rediscache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("addr", cfg.RedisAddr).Msg("suggestion cache connected")
	return c, nil
}

// NewNATSPublisher dials NATS when COACH_NATS_URL is set; nil otherwise.
func NewNATSPublisher(cfg *config.Config, name string) (*natspub.Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	return natspub.Connect(natspub.Config{
		URL:           cfg.NATSURL,
		Name:          name,
		SubjectPrefix: cfg.NATSSubjectPrefix,
		Timeout:       time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second,
	})
}

// NewOutboxWorker wires the outbox relay to pub, or to the log when pub is nil.
func NewOutboxWorker(ob store.Outbox, pub *natspub.Publisher, cfg *config.Config, log zerolog.Logger) *outbox.Worker {
	var p outbox.Publisher = outbox.LogPublisher{Log: log}
	if pub != nil {
		p = pub
	}
	return outbox.NewWorker(ob, p, outbox.Config{
		BatchSize: cfg.OutboxBatchSize,
		Interval:  cfg.OutboxInterval,
	}, log)
}
