package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/saeid-a/DeliveryChat/internal/cache"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

type ListingCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// CacheCoordinator serves cached listings and drops them after writes.
// Every cache failure is logged and swallowed.
type CacheCoordinator struct {
	store    ListingCache
	ttl      time.Duration
	failures prometheus.Counter
	logger   *log.Logger
}

func NewCacheCoordinator(store ListingCache, ttl time.Duration, failures prometheus.Counter, logger *log.Logger) *CacheCoordinator {
	return &CacheCoordinator{
		store:    store,
		ttl:      ttl,
		failures: failures,
		logger:   logger.With("component", "cache"),
	}
}

func ConversationListKey(userID string, opts ListConversationsOptions) string {
	return fmt.Sprintf("%sp%d:l%d:t%s:a%t:e%t",
		cache.ConversationsPrefix(userID), opts.Page, opts.Limit, opts.Type, opts.IncludeArchived, opts.IncludeExpired)
}

// MessageListKey is empty for time-windowed queries, which are not cached.
func MessageListKey(conversationID string, opts ListMessagesOptions) string {
	if opts.Before != nil || opts.After != nil {
		return ""
	}
	types := make([]string, 0, len(opts.Types))
	for _, t := range opts.Types {
		types = append(types, string(t))
	}
	return fmt.Sprintf("%sp%d:l%d:t%s:d%t:s%t",
		cache.MessagesPrefix(conversationID), opts.Page, opts.Limit, strings.Join(types, ","), opts.IncludeDeleted, opts.IncludeSystem)
}

// Load decodes a cached value into dst and reports a hit.
func (c *CacheCoordinator) Load(ctx context.Context, key string, dst any) bool {
	if key == "" {
		return false
	}
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache entry undecodable", "key", key, "err", err)
		return false
	}
	return true
}

func (c *CacheCoordinator) Store(ctx context.Context, key string, value any) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache entry unencodable", "key", key, "err", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "err", err)
	}
}

// ConversationChanged drops the message listings of the conversation and
// the conversation listings of every participant plus extraUsers.
func (c *CacheCoordinator) ConversationChanged(ctx context.Context, conversation *models.Conversation, extraUsers ...string) {
	c.invalidate(ctx, cache.MessagesPrefix(conversation.ID))
	c.UsersChanged(ctx, conversation.Participants...)
	c.UsersChanged(ctx, extraUsers...)
}

func (c *CacheCoordinator) UsersChanged(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		c.invalidate(ctx, cache.ConversationsPrefix(id))
	}
}

func (c *CacheCoordinator) invalidate(ctx context.Context, prefix string) {
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		if c.failures != nil {
			c.failures.Inc()
		}
		c.logger.Warn("cache invalidation failed", "prefix", prefix, "err", err)
	}
}
