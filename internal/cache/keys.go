// Package cache holds the listing cache and its key layout.
package cache

import (
	"context"
	"time"
)

func ConversationsPrefix(userID string) string {
	return "chat:conversations:" + userID + ":"
}

func MessagesPrefix(conversationID string) string {
	return "chat:messages:" + conversationID + ":"
}

// Noop is used when no cache is configured. Every read misses.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) DeletePrefix(context.Context, string) error               { return nil }
