package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL  = 5 * time.Minute
	defaultSize = 8
)

// Fetcher loads the raw group list. *evolution.Client satisfies it.
type Fetcher interface {
	FetchGroups(ctx context.Context, withParticipants bool) (json.RawMessage, error)
}

// Cache keeps parsed rosters per participants flag until the TTL expires. Concurrent
// misses for the same key share one fetch.
type Cache struct {
	fetcher Fetcher
	entries *expirable.LRU[bool, *Groups]
	group   singleflight.Group
	log     *slog.Logger
}

func NewCache(fetcher Fetcher, ttl time.Duration, size int, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if size <= 0 {
		size = defaultSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		entries: expirable.NewLRU[bool, *Groups](size, nil, ttl),
		log:     log.With("component", "roster.cache"),
	}
}

// Get returns the cached roster or fetches and stores it.
func (c *Cache) Get(ctx context.Context, withParticipants bool) (*Groups, error) {
	if groups, ok := c.entries.Get(withParticipants); ok {
		return groups, nil
	}

	key := fmt.Sprintf("participants=%t", withParticipants)
	value, err, _ := c.group.Do(key, func() (any, error) {
		if groups, ok := c.entries.Get(withParticipants); ok {
			return groups, nil
		}

		raw, err := c.fetcher.FetchGroups(ctx, withParticipants)
		if err != nil {
			return nil, fmt.Errorf("fetch groups: %w", err)
		}
		groups, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		if len(groups.Failures) > 0 {
			c.log.Warn("Some groups could not be parsed", "failed", len(groups.Failures), "parsed", len(groups.Groups))
		}

		c.entries.Add(withParticipants, groups)
		c.log.Debug("Roster cached", "groups", len(groups.Groups), "participants", withParticipants)
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Groups), nil
}

// Invalidate drops every cached roster.
func (c *Cache) Invalidate() {
	c.entries.Purge()
}
