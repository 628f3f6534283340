package services

import (
	"time"

	"github.com/saeid-a/DeliveryChat/internal/models"
)

type MessageNewPayload struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

type MessageDeletedPayload struct {
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	DeleteType     models.DeleteType `json:"delete_type"`
	DeletedBy      string            `json:"deleted_by"`
}

type ReactionPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji,omitempty"`
}

type PinPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	By             string `json:"by"`
}

type ReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	MessageIDs     []string  `json:"message_ids"`
	At             time.Time `json:"at"`
}

type ParticipantPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	By             string `json:"by"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type StatusPayload struct {
	ConversationID string                 `json:"conversation_id"`
	OrderID        string                 `json:"order_id"`
	Status         models.OrderChatStatus `json:"status"`
}
