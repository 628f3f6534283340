package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/repository"
)

// AllowedReactions is the fixed reaction palette.
var AllowedReactions = []string{"👍", "❤️", "😂", "😮", "😢", "😡", "🔥", "🎉", "🙏", "👏"}

type messageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetMany(ctx context.Context, ids []string) (map[string]models.Message, error)
	Save(ctx context.Context, m *models.Message) error
	List(ctx context.Context, filter repository.MessageListFilter) ([]models.Message, int, error)
	Search(ctx context.Context, filter repository.MessageSearchFilter) ([]models.Message, int, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
}

// ConversationRef is the only conversation capability the message store
// needs.
type ConversationRef interface {
	UpdateLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) (*models.Conversation, error)
}

// MessageService owns message records. Callers have already checked that the
// actor participates in the conversation passed in.
type MessageService struct {
	repo          messageRepository
	conversations ConversationRef
	logger        *log.Logger
	now           func() time.Time
	newID         func() string
}

func NewMessageService(repo messageRepository, conversations ConversationRef, logger *log.Logger) *MessageService {
	return &MessageService{
		repo:          repo,
		conversations: conversations,
		logger:        logger.With("component", "messages"),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

type ListMessagesOptions struct {
	Page           int
	Limit          int
	Before         *time.Time
	After          *time.Time
	Types          []models.MessageType
	IncludeDeleted bool
	IncludeSystem  bool
}

type SearchOptions struct {
	Term     string
	SenderID *string
	Types    []models.MessageType
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	Limit    int
}

func (o SearchOptions) hasFilter() bool {
	return strings.TrimSpace(o.Term) != "" || o.SenderID != nil || len(o.Types) > 0 || o.DateFrom != nil || o.DateTo != nil
}

// Appended is a freshly stored message plus the conversation as it stood
// after its stats were bumped.
type Appended struct {
	Message      *models.Message
	Conversation *models.Conversation
}

func (s *MessageService) AppendText(
	ctx context.Context,
	conversation *models.Conversation,
	senderID string,
	text string,
	replyTo *string,
	mentions []string,
) (*Appended, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("message text is required")
	}
	if utf8.RuneCountInString(text) > models.MaxTextLength {
		return nil, invalid("message text exceeds %d characters", models.MaxTextLength)
	}
	if err := s.checkReply(ctx, conversation.ID, replyTo); err != nil {
		return nil, err
	}
	message := s.draft(conversation.ID, &senderID, models.MessageText, models.TextContent{Text: text})
	message.ReplyTo = replyTo
	message.Mentions = filterMentions(conversation, mentions)
	return s.append(ctx, conversation, message)
}

// AppendMedia stores the upload descriptor as received.
func (s *MessageService) AppendMedia(
	ctx context.Context,
	conversation *models.Conversation,
	senderID string,
	media models.MediaContent,
	t models.MessageType,
) (*Appended, error) {
	if !t.IsMedia() {
		return nil, invalid("%q is not a media message type", t)
	}
	privacy := conversation.PrivacySettings
	if t == models.MessageAudio && !privacy.AllowVoiceMessages {
		return nil, forbidden("voice messages are disabled in this conversation")
	}
	if t != models.MessageAudio && !privacy.AllowMedia {
		return nil, forbidden("media is disabled in this conversation")
	}
	return s.append(ctx, conversation, s.draft(conversation.ID, &senderID, t, media))
}

// AppendContent stores participant-authored location, contact and sticker
// messages.
func (s *MessageService) AppendContent(
	ctx context.Context,
	conversation *models.Conversation,
	senderID string,
	t models.MessageType,
	content models.Content,
	replyTo *string,
) (*Appended, error) {
	switch t {
	case models.MessageLocation:
		if !conversation.PrivacySettings.AllowLocation {
			return nil, forbidden("location sharing is disabled in this conversation")
		}
		loc, ok := content.(models.LocationContent)
		if !ok || loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
			return nil, invalid("location needs a valid lat and lng")
		}
	case models.MessageContact:
		contact, ok := content.(models.ContactContent)
		if !ok || strings.TrimSpace(contact.Name) == "" {
			return nil, invalid("contact name is required")
		}
	case models.MessageSticker:
		sticker, ok := content.(models.StickerContent)
		if !ok || sticker.StickerID == "" {
			return nil, invalid("sticker id is required")
		}
	default:
		return nil, invalid("message type %q cannot be sent this way", t)
	}
	if err := s.checkReply(ctx, conversation.ID, replyTo); err != nil {
		return nil, err
	}
	message := s.draft(conversation.ID, &senderID, t, content)
	message.ReplyTo = replyTo
	return s.append(ctx, conversation, message)
}

func (s *MessageService) AppendSystem(
	ctx context.Context,
	conversation *models.Conversation,
	action string,
	data map[string]any,
) (*Appended, error) {
	if action == "" {
		return nil, invalid("system action is required")
	}
	return s.append(ctx, conversation, s.draft(conversation.ID, nil, models.MessageSystem, models.SystemContent{Action: action, Data: data}))
}

func (s *MessageService) AppendOrderUpdate(
	ctx context.Context,
	conversation *models.Conversation,
	update models.OrderUpdateContent,
) (*Appended, error) {
	return s.append(ctx, conversation, s.draft(conversation.ID, nil, models.MessageOrderUpdate, update))
}

func (s *MessageService) draft(conversationID string, senderID *string, t models.MessageType, content models.Content) *models.Message {
	now := s.now()
	return &models.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           t,
		Content:        content,
		Mentions:       []string{},
		Delivery: models.DeliveryInfo{
			SentAt:      now,
			DeliveredTo: []models.Receipt{},
			ReadBy:      []models.Receipt{},
		},
		Edited:    models.EditInfo{History: []models.EditRecord{}},
		Reactions: []models.Reaction{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// append persists the message and then bumps conversation stats. The two
// writes are not atomic; a failed stats bump is logged and left to the
// reconcile job.
func (s *MessageService) append(ctx context.Context, conversation *models.Conversation, message *models.Message) (*Appended, error) {
	if err := s.repo.Create(ctx, message); err != nil {
		return nil, translate(err)
	}
	updated, err := s.conversations.UpdateLastMessage(ctx, conversation.ID, message.ID, message.Delivery.SentAt)
	if err != nil {
		s.logger.Warn("conversation stats update failed", "conversation_id", conversation.ID, "message_id", message.ID, "err", err)
		updated = conversation
	}
	return &Appended{Message: message, Conversation: updated}, nil
}

func (s *MessageService) checkReply(ctx context.Context, conversationID string, replyTo *string) error {
	if replyTo == nil {
		return nil
	}
	target, err := s.repo.GetByID(ctx, *replyTo)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && target.ConversationID != conversationID) {
		return invalid("reply target %s is not in this conversation", *replyTo)
	}
	return translate(err)
}

func filterMentions(conversation *models.Conversation, mentions []string) []string {
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		if conversation.HasParticipant(m) && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *MessageService) Get(ctx context.Context, messageID string) (*models.Message, error) {
	message, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, translate(err)
	}
	return message, nil
}

func (s *MessageService) GetMany(ctx context.Context, ids []string) (map[string]models.Message, error) {
	if len(ids) == 0 {
		return map[string]models.Message{}, nil
	}
	return s.repo.GetMany(ctx, ids)
}

// mutate mirrors ConversationService.mutate for message documents.
func (s *MessageService) mutate(ctx context.Context, messageID string, apply func(m *models.Message) error) (*models.Message, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		message, err := s.repo.GetByID(ctx, messageID)
		if err != nil {
			return nil, translate(err)
		}
		if err := apply(message); err != nil {
			if errors.Is(err, errUnchanged) {
				return message, nil
			}
			return nil, err
		}
		message.UpdatedAt = s.now()
		err = s.repo.Save(ctx, message)
		if errors.Is(err, repository.ErrStaleWrite) {
			s.logger.Debug("message changed during write, retrying", "message_id", messageID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, translate(err)
		}
		return message, nil
	}
	return nil, conflict("message %s kept changing", messageID)
}

// Edit replaces the payload of a message. Only the sender may edit, and the
// new payload must keep the message type.
func (s *MessageService) Edit(ctx context.Context, messageID, actorID string, content models.Content) (*models.Message, error) {
	if text, ok := content.(models.TextContent); ok {
		text.Text = strings.TrimSpace(text.Text)
		if text.Text == "" {
			return nil, invalid("message text is required")
		}
		if utf8.RuneCountInString(text.Text) > models.MaxTextLength {
			return nil, invalid("message text exceeds %d characters", models.MaxTextLength)
		}
		content = text
	}
	return s.mutate(ctx, messageID, func(m *models.Message) error {
		if m.Deleted.IsDeleted {
			return ErrNotFound
		}
		if !m.SentBy(actorID) {
			return forbidden("only the sender may edit a message")
		}
		if !models.ContentMatches(m.Type, content) {
			return invalid("content does not match message type %s", m.Type)
		}
		m.ApplyEdit(content, s.now())
		return nil
	})
}

// SoftDelete hides a message. Sender deletes need the sender, admin and
// system deletes need isAdmin.
func (s *MessageService) SoftDelete(
	ctx context.Context,
	messageID, actorID string,
	deleteType models.DeleteType,
	isAdmin bool,
) (*models.Message, error) {
	if !deleteType.Valid() {
		return nil, invalid("unknown delete type %q", deleteType)
	}
	return s.mutate(ctx, messageID, func(m *models.Message) error {
		if m.Deleted.IsDeleted {
			return errUnchanged
		}
		switch deleteType {
		case models.DeleteBySender:
			if !m.SentBy(actorID) {
				return forbidden("only the sender may delete this message")
			}
		case models.DeleteByAdmin, models.DeleteBySystem:
			if !isAdmin {
				return forbidden("admin rights required to delete this message")
			}
		}
		m.SoftDelete(actorID, deleteType, s.now())
		return nil
	})
}

func (s *MessageService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if !slices.Contains(AllowedReactions, emoji) {
		return nil, invalid("reaction %q is not allowed", emoji)
	}
	return s.mutate(ctx, messageID, func(m *models.Message) error {
		if m.Deleted.IsDeleted {
			return ErrNotFound
		}
		m.React(userID, emoji, s.now())
		return nil
	})
}

func (s *MessageService) RemoveReaction(ctx context.Context, messageID, userID string) (*models.Message, bool, error) {
	removed := false
	message, err := s.mutate(ctx, messageID, func(m *models.Message) error {
		removed = m.Unreact(userID)
		if !removed {
			return errUnchanged
		}
		return nil
	})
	return message, removed, err
}

// Pin marks a message of conversation as pinned. Groups restrict pins to
// admins.
func (s *MessageService) Pin(ctx context.Context, conversation *models.Conversation, messageID, actorID string) (*models.Message, error) {
	if err := canPin(conversation, actorID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, messageID, func(m *models.Message) error {
		if m.ConversationID != conversation.ID || m.Deleted.IsDeleted {
			return ErrNotFound
		}
		if m.Pinned.IsPinned {
			return errUnchanged
		}
		m.Pin(actorID, s.now())
		return nil
	})
}

func (s *MessageService) Unpin(ctx context.Context, conversation *models.Conversation, messageID, actorID string) (*models.Message, error) {
	if err := canPin(conversation, actorID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, messageID, func(m *models.Message) error {
		if m.ConversationID != conversation.ID {
			return ErrNotFound
		}
		if !m.Pinned.IsPinned {
			return errUnchanged
		}
		m.Unpin()
		return nil
	})
}

func canPin(conversation *models.Conversation, actorID string) error {
	if conversation.Type == models.ConversationGroup && !conversation.IsGroupAdmin(actorID) {
		return forbidden("only group admins may pin messages")
	}
	return nil
}

// MarkDelivered reports whether a new receipt was written. Senders never get
// receipts on their own messages.
func (s *MessageService) MarkDelivered(ctx context.Context, messageID, userID string) (bool, error) {
	changed := false
	_, err := s.mutate(ctx, messageID, func(m *models.Message) error {
		changed = !m.SentBy(userID) && m.MarkDelivered(userID, s.now())
		if !changed {
			return errUnchanged
		}
		return nil
	})
	return changed, err
}

func (s *MessageService) MarkRead(ctx context.Context, messageID, userID string) (*models.Message, bool, error) {
	changed := false
	message, err := s.mutate(ctx, messageID, func(m *models.Message) error {
		if m.SentBy(userID) {
			changed = false
			return errUnchanged
		}
		now := s.now()
		m.MarkDelivered(userID, now)
		changed = m.MarkRead(userID, now)
		if !changed {
			return errUnchanged
		}
		return nil
	})
	return message, changed, err
}

// MarkAllRead returns the ids of the messages that gained a read receipt.
func (s *MessageService) MarkAllRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	return s.repo.MarkConversationRead(ctx, conversationID, userID, s.now())
}

// List returns one page, oldest first. Pages count back from the newest
// message.
func (s *MessageService) List(ctx context.Context, conversationID string, opts ListMessagesOptions) ([]models.Message, int, error) {
	for _, t := range opts.Types {
		if !t.Valid() {
			return nil, 0, invalid("unknown message type %q", t)
		}
	}
	limit, offset := pageWindow(opts.Page, opts.Limit)
	messages, total, err := s.repo.List(ctx, repository.MessageListFilter{
		ConversationID: conversationID,
		Before:         opts.Before,
		After:          opts.After,
		Types:          opts.Types,
		IncludeDeleted: opts.IncludeDeleted,
		IncludeSystem:  opts.IncludeSystem,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		return nil, 0, err
	}
	slices.Reverse(messages)
	return messages, total, nil
}

func (s *MessageService) Search(ctx context.Context, conversationID string, opts SearchOptions) ([]models.Message, int, error) {
	if !opts.hasFilter() {
		return nil, 0, invalid("search needs a term, sender, type or date range")
	}
	if opts.DateFrom != nil && opts.DateTo != nil && opts.DateTo.Before(*opts.DateFrom) {
		return nil, 0, invalid("date_to is before date_from")
	}
	limit, offset := pageWindow(opts.Page, opts.Limit)
	return s.repo.Search(ctx, repository.MessageSearchFilter{
		ConversationID: conversationID,
		Term:           strings.TrimSpace(opts.Term),
		SenderID:       opts.SenderID,
		Types:          opts.Types,
		DateFrom:       opts.DateFrom,
		DateTo:         opts.DateTo,
		Limit:          limit,
		Offset:         offset,
	})
}
