package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/model"
)

// Cache stores generative results. Implementations report a miss as ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (s []model.Suggestion, ok bool, err error)
	Set(ctx context.Context, key string, s []model.Suggestion, ttl time.Duration) error
}

// CacheKey identifies a history snapshot; any new event or message changes it.
func CacheKey(appID, userID string, h *ledger.History) string {
	sum := sha256.New()
	if h != nil {
		for _, e := range h.Events {
			sum.Write([]byte(e.EventID))
			sum.Write([]byte{0})
		}
		sum.Write([]byte{1})
		for _, m := range h.Messages {
			sum.Write([]byte(m.MessageID))
			sum.Write([]byte{0})
		}
	}
	return "coach:suggest:" + appID + ":" + userID + ":" + hex.EncodeToString(sum.Sum(nil))[:16]
}
