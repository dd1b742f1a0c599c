package blacklist

import (
	"context"
	"sync"
	"time"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

// Cached serves lookups from the last loaded set and reloads it once the TTL
// expires. When a reload fails after expiry, lookups fail until a load succeeds.
type Cached struct {
	loader Loader
	ttl    time.Duration
	log    logx.Logger
	now    func() time.Time

	mu       sync.Mutex
	set      Set
	loadedAt time.Time
}

func NewCached(loader Loader, ttl time.Duration, log logx.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{loader: loader, ttl: ttl, log: log.With(logx.String("comp", "blacklist")), now: time.Now}
}

func (c *Cached) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	set, err := c.current(ctx)
	if err != nil {
		return false, err
	}
	return set.IsBlacklisted(ctx, id)
}

// Len reports the size of the loaded set.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.set)
}

func (c *Cached) current(ctx context.Context) (Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.set != nil && now.Sub(c.loadedAt) < c.ttl {
		return c.set, nil
	}
	set, err := c.loader.Load(ctx)
	if err != nil {
		c.set = nil
		c.log.Warn("blacklist load failed", logx.Err(err))
		if domain.IsUnavailable(err) {
			return nil, err
		}
		return nil, domain.Unavailable(err)
	}
	c.set = set
	c.loadedAt = now
	c.log.Info("blacklist loaded", logx.Int("entries", len(set)))
	return set, nil
}
