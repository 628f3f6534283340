package models

import (
	"slices"
	"time"
)

type ConversationType string

const (
	ConversationDirect    ConversationType = "direct"
	ConversationSupport   ConversationType = "support"
	ConversationOrder     ConversationType = "order"
	ConversationGroup     ConversationType = "group"
	ConversationBroadcast ConversationType = "broadcast"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationSupport, ConversationOrder, ConversationGroup, ConversationBroadcast:
		return true
	}
	return false
}

type SupportStatus string

const (
	SupportOpen     SupportStatus = "open"
	SupportPending  SupportStatus = "pending"
	SupportResolved SupportStatus = "resolved"
	SupportClosed   SupportStatus = "closed"
)

type OrderChatStatus string

const (
	OrderChatActive    OrderChatStatus = "active"
	OrderChatCompleted OrderChatStatus = "completed"
	OrderChatCancelled OrderChatStatus = "cancelled"
)

const (
	OrderChatLifetime       = 30 * 24 * time.Hour
	OrderChatClosedLifetime = 7 * 24 * time.Hour
	DefaultGroupCapacity    = 100
)

type SupportMetadata struct {
	Department string        `json:"department"`
	Priority   string        `json:"priority"`
	Status     SupportStatus `json:"status"`
	AssignedTo *string       `json:"assigned_to"`
}

type OrderMetadata struct {
	OrderID    string          `json:"order_id"`
	Restaurant *string         `json:"restaurant,omitempty"`
	Driver     *string         `json:"driver,omitempty"`
	Status     OrderChatStatus `json:"status"`
}

type GroupMetadata struct {
	IsPublic        bool     `json:"is_public"`
	MaxParticipants int      `json:"max_participants"`
	Admins          []string `json:"admins"`
	JoinCode        *string  `json:"join_code,omitempty"`
}

// ConversationMetadata carries exactly one arm, matching Conversation.Type.
type ConversationMetadata struct {
	Support *SupportMetadata `json:"support,omitempty"`
	Order   *OrderMetadata   `json:"order,omitempty"`
	Group   *GroupMetadata   `json:"group,omitempty"`
}

type NotificationSettings struct {
	Mute      bool       `json:"mute"`
	MuteUntil *time.Time `json:"mute_until,omitempty"`
}

func (s NotificationSettings) MutedAt(now time.Time) bool {
	if !s.Mute {
		return false
	}
	return s.MuteUntil == nil || s.MuteUntil.After(now)
}

type PrivacySettings struct {
	AllowMedia         bool `json:"allow_media"`
	AllowVoiceMessages bool `json:"allow_voice_messages"`
	AllowLocation      bool `json:"allow_location"`
}

func DefaultPrivacySettings() PrivacySettings {
	return PrivacySettings{AllowMedia: true, AllowVoiceMessages: true, AllowLocation: true}
}

type ConversationStats struct {
	MessageCount     int        `json:"message_count"`
	ParticipantCount int        `json:"participant_count"`
	FirstMessageAt   *time.Time `json:"first_message_at"`
	LastMessageAt    *time.Time `json:"last_message_at"`
}

type Conversation struct {
	ID                   string               `json:"id"`
	Type                 ConversationType     `json:"type"`
	Participants         []string             `json:"participants"`
	Title                string               `json:"title"`
	Description          string               `json:"description,omitempty"`
	Image                string               `json:"image,omitempty"`
	Metadata             ConversationMetadata `json:"metadata"`
	LastMessageID        *string              `json:"last_message_id"`
	LastActivity         time.Time            `json:"last_activity"`
	NotificationSettings NotificationSettings `json:"notification_settings"`
	PrivacySettings      PrivacySettings      `json:"privacy_settings"`
	Tags                 []string             `json:"tags"`
	ArchivedAt           *time.Time           `json:"archived_at"`
	DeletedAt            *time.Time           `json:"deleted_at"`
	ExpiresAt            *time.Time           `json:"expires_at"`
	Stats                ConversationStats    `json:"stats"`
	Version              int                  `json:"-"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// IsActiveAt is derived on read and never persisted.
func (c *Conversation) IsActiveAt(now time.Time) bool {
	if c.ArchivedAt != nil || c.DeletedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	if c.Type == ConversationOrder {
		if c.Metadata.Order == nil || c.Metadata.Order.Status != OrderChatActive {
			return false
		}
	}
	return true
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

func (c *Conversation) IsGroupAdmin(userID string) bool {
	if c.Type != ConversationGroup || c.Metadata.Group == nil {
		return false
	}
	return slices.Contains(c.Metadata.Group.Admins, userID)
}

// OtherParticipants returns every participant except userID, in order.
func (c *Conversation) OtherParticipants(userID string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// DirectKey is the unordered-pair key that makes direct conversations unique.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
	IsActive    bool     `json:"is_active"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
