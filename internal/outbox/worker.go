// Package outbox relays side-effect records written alongside messages.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/metrics"
	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// Publisher delivers a created message to downstream consumers.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, msg *model.Message) error
}

// Config controls batch size and polling cadence.
type Config struct {
	BatchSize int           // number of rows to claim per cycle
	Interval  time.Duration // poll interval
}

// Worker processes outbox rows and hands them to a Publisher.
type Worker struct {
	outbox store.Outbox
	pub    Publisher
	log    zerolog.Logger
	cfg    Config
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(ob store.Outbox, pub Publisher, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Worker{outbox: ob, pub: pub, cfg: cfg, log: log.With().Str("component", "outbox").Logger()}
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("outbox worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; per-row backoff prevents hot-looping
				w.log.Error().Err(err).Msg("outbox processOnce")
			}
		}
	}
}

// ProcessOnce claims one batch and returns how many records were published.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	recs, err := w.outbox.Claim(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, rec := range recs {
		if err := w.handle(ctx, rec); err != nil {
			metrics.OutboxPublishedTotal.WithLabelValues("failed").Inc()
			w.log.Warn().Err(err).Int64("id", rec.ID).Str("op", rec.Op).Int("attempts", rec.Attempts).Msg("outbox record failed")
			if e := w.outbox.MarkFailed(ctx, rec.ID); e != nil {
				w.log.Error().Err(e).Int64("id", rec.ID).Msg("markFailed error")
			}
			continue
		}
		if e := w.outbox.MarkDone(ctx, rec.ID); e != nil {
			w.log.Error().Err(e).Int64("id", rec.ID).Msg("markDone error")
			continue
		}
		metrics.OutboxPublishedTotal.WithLabelValues("published").Inc()
		done++
	}
	return done, nil
}

// handle executes the outbox operation.
func (w *Worker) handle(ctx context.Context, rec model.OutboxRecord) error {
	switch rec.Op {
	case store.OpMessageCreated:
		var msg model.Message
		if err := json.Unmarshal(rec.Payload, &msg); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.pub.PublishMessageCreated(ctx, &msg)
	default:
		return fmt.Errorf("unknown op: %s", rec.Op)
	}
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) PublishMessageCreated(_ context.Context, msg *model.Message) error {
	p.Log.Info().
		Str("app_id", msg.AppID).
		Str("user_id", msg.UserID).
		Str("message_id", msg.MessageID).
		Msg("message created")
	return nil
}
