package models

import "time"

const (
	EventMessageNew             = "message:new"
	EventMessageEdited          = "message:edited"
	EventMessageDeleted         = "message:deleted"
	EventMessageReaction        = "message:reaction"
	EventMessageReactionRemoved = "message:reaction:removed"
	EventMessagePinned          = "message:pinned"
	EventMessageUnpinned        = "message:unpinned"
	EventMessageRead            = "message:read"
	EventParticipantAdded       = "participant:added"
	EventParticipantRemoved     = "participant:removed"
	EventConversationUpdated    = "conversation:updated"
	EventPresence               = "presence"
	EventTyping                 = "typing"
	EventStatus                 = "status"
	EventError                  = "error"
	EventJoined                 = "joined"
	EventLeft                   = "left"
)

type Event struct {
	Type      string    `json:"type"`
	Room      string    `json:"room,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
}
