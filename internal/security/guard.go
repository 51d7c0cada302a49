package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
)

// Verdict represents the outcome of a guard check.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	RateLimited
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RateLimited:
		return "rate_limited"
	}
	return "unknown"
}

// Guard admits webhook deliveries for configured inboxes and rate limits
// each inbox independently.
type Guard struct {
	inboxes  map[int64]bool
	limit    rate.Limit
	burst    int
	now      func() time.Time
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// New creates a Guard for the configured channels. A zero rate limit
// disables limiting.
func New(cfg config.WebhookConfig, channels []config.ChannelConfig) *Guard {
	inboxes := make(map[int64]bool, len(channels))
	for _, ch := range channels {
		inboxes[ch.InboxID] = true
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = int(cfg.RateLimit) + 1
	}
	return &Guard{
		inboxes:  inboxes,
		limit:    rate.Limit(cfg.RateLimit),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Check returns Allow, Deny, or RateLimited for a delivery to inboxID.
func (g *Guard) Check(inboxID int64) Verdict {
	if !g.inboxes[inboxID] {
		return Deny
	}
	if g.limit <= 0 {
		return Allow
	}

	g.mu.Lock()
	l, ok := g.limiters[inboxID]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[inboxID] = l
	}
	g.mu.Unlock()

	if !l.AllowN(g.now(), 1) {
		return RateLimited
	}
	return Allow
}
