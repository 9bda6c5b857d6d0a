package outboxworker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LanreCloud/minicoach/internal/config"
	"github.com/LanreCloud/minicoach/internal/factory"
	"github.com/LanreCloud/minicoach/internal/logger"
)

// Run starts the outbox worker and blocks until shutdown or error.
// Without COACH_NATS_URL records are relayed to the log.
func Run() error {
	log := logger.New("outbox-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.DBDriver).Msg("store")
		return err
	}
	defer func() { _ = st.Close() }()

	pub, err := factory.NewNATSPublisher(cfg, "outbox-worker")
	if err != nil {
		log.Error().Err(err).Str("url", cfg.NATSURL).Msg("nats connect")
		return err
	}
	if pub != nil {
		defer func() { _ = pub.Close() }()
	} else {
		log.Warn().Msg("COACH_NATS_URL not set; relaying outbox records to the log")
	}

	w := factory.NewOutboxWorker(st.Outbox(), pub, cfg, log)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("outbox worker exit")
		return err
	}
	return nil
}
