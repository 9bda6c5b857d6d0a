// Package natspub publishes outbox events to NATS.
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "coach.messages"

// Config configures the NATS connection.
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Event is the wire envelope published for each outbox record.
type Event struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message"`
}

// Publisher sends MessageCreated events on "<prefix>.<appId>".
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// Connect dials NATS.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	p := New(nc, cfg.SubjectPrefix)
	p.timeout = cfg.Timeout
	return p, nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix, timeout: 3 * time.Second}
}

// Subject returns the subject a message for appID is published on.
func (p *Publisher) Subject(appID string) string {
	// subjects cannot carry whitespace or wildcard tokens
	r := strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_")
	return p.prefix + "." + r.Replace(appID)
}

// PublishMessageCreated publishes and flushes so delivery to the server is confirmed.
func (p *Publisher) PublishMessageCreated(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(Event{Type: store.OpMessageCreated, Message: msg})
	if err != nil {
		return err
	}
	m := nats.NewMsg(p.Subject(msg.AppID))
	m.Data = data
	// consumers can use the id to drop redeliveries
	m.Header.Set(nats.MsgIdHdr, msg.MessageID)
	m.Header.Set("Coach-User-Id", msg.UserID)

	if err := p.nc.PublishMsg(m); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	if err := p.flush(ctx); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

// flush waits for the server round trip. FlushWithContext requires a deadline.
func (p *Publisher) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.nc.FlushWithContext(ctx)
}

// HealthPing implements health.HealthPinger.
func (p *Publisher) HealthPing(ctx context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats status %s", p.nc.Status())
	}
	return p.flush(ctx)
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
