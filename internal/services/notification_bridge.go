package services

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

const NotificationNewMessage = "chat:new_message"

// Notifier is the external notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, userID, eventType string, payload any) error
}

type MessageNotification struct {
	ConversationID    string             `json:"conversation_id"`
	ConversationType  string             `json:"conversation_type"`
	ConversationTitle string             `json:"conversation_title,omitempty"`
	MessageID         string             `json:"message_id"`
	SenderID          *string            `json:"sender_id"`
	Type              models.MessageType `json:"type"`
	Preview           string             `json:"preview,omitempty"`
}

// NotificationBridge hands new messages to the notifier for participants
// without a live connection.
type NotificationBridge struct {
	notifier Notifier
	presence Presence
	failures prometheus.Counter
	logger   *log.Logger
	now      func() time.Time
}

func NewNotificationBridge(notifier Notifier, presence Presence, failures prometheus.Counter, logger *log.Logger) *NotificationBridge {
	return &NotificationBridge{
		notifier: notifier,
		presence: presence,
		failures: failures,
		logger:   logger.With("component", "notifications"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MessageCreated returns the users that were handed to the notifier.
func (b *NotificationBridge) MessageCreated(ctx context.Context, conversation *models.Conversation, message *models.Message) []string {
	if conversation.NotificationSettings.MutedAt(b.now()) {
		return nil
	}
	payload := MessageNotification{
		ConversationID:    conversation.ID,
		ConversationType:  string(conversation.Type),
		ConversationTitle: conversation.Title,
		MessageID:         message.ID,
		SenderID:          message.SenderID,
		Type:              message.Type,
		Preview:           preview(message),
	}

	notified := make([]string, 0)
	for _, userID := range conversation.Participants {
		if message.SentBy(userID) || b.presence.IsOnline(userID) {
			continue
		}
		if err := b.notifier.Notify(ctx, userID, NotificationNewMessage, payload); err != nil {
			if b.failures != nil {
				b.failures.Inc()
			}
			b.logger.Warn("notification hand-off failed", "user_id", userID, "message_id", message.ID, "err", err)
			continue
		}
		notified = append(notified, userID)
	}
	return notified
}

const previewLength = 80

func preview(message *models.Message) string {
	switch c := message.Content.(type) {
	case models.TextContent:
		runes := []rune(c.Text)
		if len(runes) > previewLength {
			return string(runes[:previewLength]) + "..."
		}
		return c.Text
	case models.MediaContent:
		return c.Filename
	case models.LocationContent:
		if c.Address != nil {
			return *c.Address
		}
	}
	return ""
}
