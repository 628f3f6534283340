package models

import (
	"encoding/json"
	"time"
)

const MaxEditHistory = 10

type DeleteType string

const (
	DeleteBySender DeleteType = "sender"
	DeleteByAdmin  DeleteType = "admin"
	DeleteBySystem DeleteType = "system"
)

func (t DeleteType) Valid() bool {
	return t == DeleteBySender || t == DeleteByAdmin || t == DeleteBySystem
}

type Receipt struct {
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

type DeliveryInfo struct {
	SentAt      time.Time `json:"sent_at"`
	DeliveredTo []Receipt `json:"delivered_to"`
	ReadBy      []Receipt `json:"read_by"`
}

type EditRecord struct {
	Content    Content   `json:"content"`
	ReplacedAt time.Time `json:"replaced_at"`
}

type EditInfo struct {
	IsEdited     bool         `json:"is_edited"`
	EditCount    int          `json:"edit_count"`
	LastEditedAt *time.Time   `json:"last_edited_at"`
	History      []EditRecord `json:"history"`
}

type DeleteInfo struct {
	IsDeleted  bool       `json:"is_deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	DeletedBy  *string    `json:"deleted_by,omitempty"`
	DeleteType DeleteType `json:"delete_type,omitempty"`
}

type Reaction struct {
	User      string    `json:"user"`
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reacted_at"`
}

type PinInfo struct {
	IsPinned bool       `json:"is_pinned"`
	PinnedAt *time.Time `json:"pinned_at,omitempty"`
	PinnedBy *string    `json:"pinned_by,omitempty"`
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       *string      `json:"sender_id"`
	Type           MessageType  `json:"type"`
	Content        Content      `json:"content"`
	ReplyTo        *string      `json:"reply_to,omitempty"`
	Mentions       []string     `json:"mentions"`
	Delivery       DeliveryInfo `json:"delivery"`
	Edited         EditInfo     `json:"edited"`
	Deleted        DeleteInfo   `json:"deleted"`
	Reactions      []Reaction   `json:"reactions"`
	Pinned         PinInfo      `json:"pinned"`
	Version        int          `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (m *Message) SentBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

func (m *Message) ReadByUser(userID string) bool {
	return hasReceipt(m.Delivery.ReadBy, userID)
}

// IsUnreadFor mirrors the unread predicate used by the repository queries.
func (m *Message) IsUnreadFor(userID string) bool {
	return !m.SentBy(userID) && !m.Deleted.IsDeleted && !m.ReadByUser(userID)
}

// MarkRead appends a read receipt unless one exists. It reports whether the
// message changed.
func (m *Message) MarkRead(userID string, at time.Time) bool {
	if hasReceipt(m.Delivery.ReadBy, userID) {
		return false
	}
	m.Delivery.ReadBy = append(m.Delivery.ReadBy, Receipt{User: userID, At: at})
	return true
}

func (m *Message) MarkDelivered(userID string, at time.Time) bool {
	if hasReceipt(m.Delivery.DeliveredTo, userID) {
		return false
	}
	m.Delivery.DeliveredTo = append(m.Delivery.DeliveredTo, Receipt{User: userID, At: at})
	return true
}

// ApplyEdit keeps at most MaxEditHistory prior payloads, oldest first.
func (m *Message) ApplyEdit(content Content, at time.Time) {
	m.Edited.History = append(m.Edited.History, EditRecord{Content: m.Content, ReplacedAt: at})
	if over := len(m.Edited.History) - MaxEditHistory; over > 0 {
		m.Edited.History = append([]EditRecord(nil), m.Edited.History[over:]...)
	}
	m.Content = content
	m.Edited.IsEdited = true
	m.Edited.EditCount++
	m.Edited.LastEditedAt = &at
}

func (m *Message) SoftDelete(actor string, kind DeleteType, at time.Time) {
	m.Deleted = DeleteInfo{IsDeleted: true, DeletedAt: &at, DeletedBy: &actor, DeleteType: kind}
}

// React replaces any earlier reaction by the same user.
func (m *Message) React(userID, emoji string, at time.Time) {
	m.Unreact(userID)
	m.Reactions = append(m.Reactions, Reaction{User: userID, Emoji: emoji, ReactedAt: at})
}

func (m *Message) Unreact(userID string) bool {
	kept := m.Reactions[:0]
	removed := false
	for _, r := range m.Reactions {
		if r.User == userID {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	m.Reactions = kept
	return removed
}

func (m *Message) Pin(actor string, at time.Time) {
	m.Pinned = PinInfo{IsPinned: true, PinnedAt: &at, PinnedBy: &actor}
}

func (m *Message) Unpin() {
	m.Pinned = PinInfo{}
}

func hasReceipt(receipts []Receipt, userID string) bool {
	for _, r := range receipts {
		if r.User == userID {
			return true
		}
	}
	return false
}

type editRecordWire struct {
	Content    json.RawMessage `json:"content"`
	ReplacedAt time.Time       `json:"replaced_at"`
}

type editInfoWire struct {
	IsEdited     bool             `json:"is_edited"`
	EditCount    int              `json:"edit_count"`
	LastEditedAt *time.Time       `json:"last_edited_at"`
	History      []editRecordWire `json:"history"`
}

// DecodeEditInfo needs the owning message type to rebuild historic payloads.
func DecodeEditInfo(t MessageType, raw []byte) (EditInfo, error) {
	var wire editInfoWire
	if len(raw) == 0 {
		return EditInfo{}, nil
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return EditInfo{}, err
	}
	info := EditInfo{
		IsEdited:     wire.IsEdited,
		EditCount:    wire.EditCount,
		LastEditedAt: wire.LastEditedAt,
		History:      make([]EditRecord, 0, len(wire.History)),
	}
	for _, h := range wire.History {
		content, err := DecodeContent(t, h.Content)
		if err != nil {
			return EditInfo{}, err
		}
		info.History = append(info.History, EditRecord{Content: content, ReplacedAt: h.ReplacedAt})
	}
	return info, nil
}

type messageWire struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       *string         `json:"sender_id"`
	Type           MessageType     `json:"type"`
	Content        json.RawMessage `json:"content"`
	ReplyTo        *string         `json:"reply_to,omitempty"`
	Mentions       []string        `json:"mentions"`
	Delivery       DeliveryInfo    `json:"delivery"`
	Edited         json.RawMessage `json:"edited"`
	Deleted        DeleteInfo      `json:"deleted"`
	Reactions      []Reaction      `json:"reactions"`
	Pinned         PinInfo         `json:"pinned"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := DecodeContent(wire.Type, wire.Content)
	if err != nil {
		return err
	}
	edited, err := DecodeEditInfo(wire.Type, wire.Edited)
	if err != nil {
		return err
	}
	*m = Message{
		ID:             wire.ID,
		ConversationID: wire.ConversationID,
		SenderID:       wire.SenderID,
		Type:           wire.Type,
		Content:        content,
		ReplyTo:        wire.ReplyTo,
		Mentions:       wire.Mentions,
		Delivery:       wire.Delivery,
		Edited:         edited,
		Deleted:        wire.Deleted,
		Reactions:      wire.Reactions,
		Pinned:         wire.Pinned,
		CreatedAt:      wire.CreatedAt,
		UpdatedAt:      wire.UpdatedAt,
	}
	return nil
}
