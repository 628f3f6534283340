package services

import "context"

type unreadSource interface {
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	CountUnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
}

// UnreadTracker recomputes unread counts from message state on every call.
// Nothing is cached, so counts never drift from the receipts.
type UnreadTracker struct {
	source unreadSource
}

func NewUnreadTracker(source unreadSource) *UnreadTracker {
	return &UnreadTracker{source: source}
}

func (t *UnreadTracker) Count(ctx context.Context, conversationID, userID string) (int, error) {
	return t.source.CountUnread(ctx, conversationID, userID)
}

// CountMany returns a count for every id in conversationIDs, zero included.
func (t *UnreadTracker) CountMany(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	counts, err := t.source.CountUnreadByConversation(ctx, userID, conversationIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range conversationIDs {
		if _, ok := counts[id]; !ok {
			counts[id] = 0
		}
	}
	return counts, nil
}
