package suggest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/metrics"
	"github.com/LanreCloud/minicoach/internal/model"
)

// Serving modes reported with every result.
const (
	ModeRuleBased  = "rule_based"
	ModeGenerative = "generative"
)

// Default history window.
const (
	DefaultEventsMax   = 50
	DefaultMessagesMax = 20
)

// HistoryReader reads a user's recent events and messages, newest first.
type HistoryReader interface {
	History(ctx context.Context, appID, userID string, maxEvents, maxMessages int) (*ledger.History, error)
}

// Options configures a Service. Zero values select the defaults.
type Options struct {
	Ruleset     *Ruleset
	Generative  *Generative
	Timeout     time.Duration
	Cache       Cache
	CacheTTL    time.Duration
	EventsMax   int
	MessagesMax int
}

// Service picks a strategy per request and falls back to the ruleset when generation fails.
type Service struct {
	history HistoryReader
	rules   Ruleset
	gen     *Generative
	timeout time.Duration
	cache   Cache
	ttl     time.Duration
	evMax   int
	msgMax  int
	log     zerolog.Logger
}

// Result carries suggestions and the mode that produced them.
type Result struct {
	Suggestions []model.Suggestion
	Mode        string
}

func NewService(h HistoryReader, opts Options, log zerolog.Logger) *Service {
	s := &Service{
		history: h,
		rules:   DefaultRuleset(),
		gen:     opts.Generative,
		timeout: opts.Timeout,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		evMax:   opts.EventsMax,
		msgMax:  opts.MessagesMax,
		log:     log.With().Str("component", "suggest").Logger(),
	}
	if opts.Ruleset != nil {
		s.rules = *opts.Ruleset
	}
	if s.evMax <= 0 {
		s.evMax = DefaultEventsMax
	}
	if s.msgMax <= 0 {
		s.msgMax = DefaultMessagesMax
	}
	return s
}

// Mode returns the mode that is attempted first.
func (s *Service) Mode() string {
	if s.gen != nil {
		return ModeGenerative
	}
	return ModeRuleBased
}

// Suggestions returns suggestions for the user. Only history read failures
// (model.ErrLedgerUnavailable) and invalid ids are returned as errors.
func (s *Service) Suggestions(ctx context.Context, appID, userID string) (*Result, error) {
	h, err := s.history.History(ctx, appID, userID, s.evMax, s.msgMax)
	if err != nil {
		return nil, err
	}

	if s.gen != nil {
		if out, ok := s.generate(ctx, appID, userID, h); ok {
			metrics.SuggestionsTotal.WithLabelValues(ModeGenerative).Inc()
			return &Result{Suggestions: out, Mode: ModeGenerative}, nil
		}
		metrics.GenerativeFallbacksTotal.Inc()
	}

	metrics.SuggestionsTotal.WithLabelValues(ModeRuleBased).Inc()
	return &Result{Suggestions: s.rules.Evaluate(userID, h, s.log), Mode: ModeRuleBased}, nil
}

func (s *Service) generate(ctx context.Context, appID, userID string, h *ledger.History) ([]model.Suggestion, bool) {
	log := s.log.With().Str("app_id", appID).Str("user_id", userID).Logger()

	key := CacheKey(appID, userID, h)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("suggestion cache read failed")
		} else if ok {
			return cached, true
		}
	}

	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.gen.Suggest(genCtx, userID, h)
	if err != nil {
		log.Warn().Err(err).Msg("generative suggestions failed; falling back to rules")
		return nil, false
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(ctx, key, out, s.ttl); err != nil {
			log.Warn().Err(err).Msg("suggestion cache write failed")
		}
	}
	return out, true
}
