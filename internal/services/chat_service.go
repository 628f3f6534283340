package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

// Realtime is the fan-out side of the hub.
type Realtime interface {
	// Broadcast delivers event to every connection joined to any of rooms,
	// once per connection, and returns the distinct users it reached.
	Broadcast(event models.Event, rooms ...string) []string
	SendToUser(userID string, event models.Event) bool
	IsOnline(userID string) bool
	// EvictFromRoom drops every connection of userIDs from room.
	EvictFromRoom(room string, userIDs ...string) int
}

type orderDirectory interface {
	GetSnapshot(ctx context.Context, orderID string) (*models.OrderSnapshot, error)
}

type ChatDependencies struct {
	Conversations   *ConversationService
	Messages        *MessageService
	Unread          *UnreadTracker
	Realtime        Realtime
	Cache           *CacheCoordinator
	Notifications   *NotificationBridge
	Orders          orderDirectory
	Uploader        MediaUploader
	MessagesCreated *prometheus.CounterVec
	Logger          *log.Logger
}

// ChatService runs every chat action end to end: persist, bump stats,
// broadcast, invalidate caches and notify offline participants.
type ChatService struct {
	conversations *ConversationService
	messages      *MessageService
	unread        *UnreadTracker
	realtime      Realtime
	cache         *CacheCoordinator
	notifications *NotificationBridge
	orders        orderDirectory
	uploader      MediaUploader
	created       *prometheus.CounterVec
	logger        *log.Logger
	now           func() time.Time
}

func NewChatService(deps ChatDependencies) *ChatService {
	return &ChatService{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		unread:        deps.Unread,
		realtime:      deps.Realtime,
		cache:         deps.Cache,
		notifications: deps.Notifications,
		orders:        deps.Orders,
		uploader:      deps.Uploader,
		created:       deps.MessagesCreated,
		logger:        deps.Logger.With("component", "chat"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type SendMessageInput struct {
	Type     models.MessageType
	Text     string
	Content  json.RawMessage
	ReplyTo  *string
	Mentions []string
}

type ConversationStatsView struct {
	ConversationID string                   `json:"conversation_id"`
	Stats          models.ConversationStats `json:"stats"`
	UnreadCount    int                      `json:"unread_count"`
	IsActive       bool                     `json:"is_active"`
	LastActivity   time.Time                `json:"last_activity"`
}

type conversationPage struct {
	Items []models.ConversationSummary `json:"items"`
	Total int                          `json:"total"`
}

type messagePage struct {
	Items []models.Message `json:"items"`
	Total int              `json:"total"`
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actor Actor,
	opts ListConversationsOptions,
) ([]models.ConversationSummary, int, error) {
	key := ConversationListKey(actor.ID, opts)
	var cached conversationPage
	if s.cache.Load(ctx, key, &cached) {
		return cached.Items, cached.Total, nil
	}

	items, total, err := s.conversations.ListForUser(ctx, actor.ID, opts)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachLastMessages(ctx, items); err != nil {
		return nil, 0, err
	}
	s.cache.Store(ctx, key, conversationPage{Items: items, Total: total})
	return items, total, nil
}

func (s *ChatService) attachLastMessages(ctx context.Context, items []models.ConversationSummary) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.LastMessageID != nil {
			ids = append(ids, *item.LastMessageID)
		}
	}
	found, err := s.messages.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].LastMessageID == nil {
			continue
		}
		if message, ok := found[*items[i].LastMessageID]; ok {
			items[i].LastMessage = &message
		}
	}
	return nil
}

func (s *ChatService) GetConversation(ctx context.Context, actor Actor, conversationID string) (*models.ConversationSummary, error) {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	count, err := s.unread.Count(ctx, conversation.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	summary := []models.ConversationSummary{{
		Conversation: *conversation,
		UnreadCount:  count,
		IsActive:     s.conversations.IsActive(conversation),
	}}
	if err := s.attachLastMessages(ctx, summary); err != nil {
		return nil, err
	}
	return &summary[0], nil
}

func (s *ChatService) Stats(ctx context.Context, actor Actor, conversationID string) (*ConversationStatsView, error) {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	count, err := s.unread.Count(ctx, conversation.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	return &ConversationStatsView{
		ConversationID: conversation.ID,
		Stats:          conversation.Stats,
		UnreadCount:    count,
		IsActive:       s.conversations.IsActive(conversation),
		LastActivity:   conversation.LastActivity,
	}, nil
}

func (s *ChatService) CreateDirect(ctx context.Context, actor Actor, otherUserID string) (*models.Conversation, error) {
	conversation, err := s.conversations.CreateDirect(ctx, actor.ID, otherUserID)
	if err != nil {
		return nil, err
	}
	s.cache.UsersChanged(ctx, conversation.Participants...)
	return conversation, nil
}

func (s *ChatService) CreateSupport(ctx context.Context, actor Actor, department, priority string) (*models.Conversation, error) {
	conversation, err := s.conversations.CreateSupport(ctx, actor.ID, department, priority)
	if err != nil {
		return nil, err
	}
	s.cache.UsersChanged(ctx, conversation.Participants...)
	s.realtime.Broadcast(models.NewEvent(models.EventConversationUpdated, conversation), models.AdminRoom)
	return conversation, nil
}

// CreateOrder opens the chat for an order the actor takes part in.
func (s *ChatService) CreateOrder(ctx context.Context, actor Actor, orderID string) (*models.Conversation, error) {
	order, err := s.orders.GetSnapshot(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !actor.IsAdmin() && !orderMember(order, actor.ID) {
		return nil, forbidden("not a party to order %s", orderID)
	}
	conversation, err := s.conversations.CreateOrder(ctx, order.ID, order.UserID, order.DriverID, order.RestaurantID)
	if err != nil {
		return nil, err
	}
	s.cache.UsersChanged(ctx, conversation.Participants...)
	return conversation, nil
}

func orderMember(order *models.OrderSnapshot, userID string) bool {
	switch {
	case order.UserID == userID:
		return true
	case order.DriverID != nil && *order.DriverID == userID:
		return true
	case order.RestaurantOwnerID != nil && *order.RestaurantOwnerID == userID:
		return true
	}
	return false
}

func (s *ChatService) CreateGroup(ctx context.Context, actor Actor, input GroupInput) (*models.Conversation, error) {
	conversation, err := s.conversations.CreateGroup(ctx, actor.ID, input)
	if err != nil {
		return nil, err
	}
	s.cache.UsersChanged(ctx, conversation.Participants...)
	for _, userID := range conversation.OtherParticipants(actor.ID) {
		s.realtime.SendToUser(userID, models.NewEvent(models.EventParticipantAdded, ParticipantPayload{
			ConversationID: conversation.ID,
			UserID:         userID,
			By:             actor.ID,
		}))
	}
	return conversation, nil
}

func (s *ChatService) JoinGroup(ctx context.Context, actor Actor, code string) (*models.Conversation, error) {
	conversation, err := s.conversations.JoinGroup(ctx, code, actor.ID)
	if err != nil {
		return nil, err
	}
	s.membershipChanged(ctx, conversation, models.EventParticipantAdded, "participant_joined", actor.ID, actor.ID)
	return conversation, nil
}

func (s *ChatService) AddParticipant(ctx context.Context, actor Actor, conversationID, userID string) (*models.Conversation, error) {
	conversation, err := s.conversations.AddParticipant(ctx, conversationID, actor.ID, userID)
	if err != nil {
		return nil, err
	}
	s.membershipChanged(ctx, conversation, models.EventParticipantAdded, "participant_added", userID, actor.ID)
	return conversation, nil
}

func (s *ChatService) RemoveParticipant(ctx context.Context, actor Actor, conversationID, userID string) (*models.Conversation, error) {
	conversation, err := s.conversations.RemoveParticipant(ctx, conversationID, actor.ID, userID)
	if err != nil {
		return nil, err
	}
	s.membershipChanged(ctx, conversation, models.EventParticipantRemoved, "participant_removed", userID, actor.ID)
	return conversation, nil
}

// membershipChanged narrates a join or leave, tells the room and the
// affected user, and drops their listings.
func (s *ChatService) membershipChanged(ctx context.Context, conversation *models.Conversation, event, action, userID, by string) {
	payload := ParticipantPayload{ConversationID: conversation.ID, UserID: userID, By: by}
	room := models.ConversationRoom(conversation.ID)
	s.realtime.Broadcast(models.NewEvent(event, payload), room, models.UserRoom(userID))
	if event == models.EventParticipantRemoved {
		s.realtime.EvictFromRoom(room, userID)
	}
	s.cache.ConversationChanged(ctx, conversation, userID)
	s.narrate(ctx, conversation, action, map[string]any{"user_id": userID, "by": by})
}

// narrate appends a system message. Failures only cost the narration.
func (s *ChatService) narrate(ctx context.Context, conversation *models.Conversation, action string, data map[string]any) {
	appended, err := s.messages.AppendSystem(ctx, conversation, action, data)
	if err != nil {
		s.logger.Warn("system message failed", "conversation_id", conversation.ID, "action", action, "err", err)
		return
	}
	s.publish(ctx, appended)
}

func (s *ChatService) UpdateConversation(ctx context.Context, actor Actor, conversationID string, update ConversationUpdate) (*models.Conversation, error) {
	conversation, err := s.conversations.Update(ctx, conversationID, actor.ID, update)
	if err != nil {
		return nil, err
	}
	s.conversationChanged(ctx, conversation)
	return conversation, nil
}

func (s *ChatService) Archive(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	conversation, err := s.conversations.Archive(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	s.conversationChanged(ctx, conversation)
	return conversation, nil
}

func (s *ChatService) Unarchive(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	conversation, err := s.conversations.Unarchive(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	s.conversationChanged(ctx, conversation)
	return conversation, nil
}

func (s *ChatService) DeleteConversation(ctx context.Context, actor Actor, conversationID string) error {
	conversation, err := s.conversations.SoftDelete(ctx, conversationID, actor)
	if err != nil {
		return err
	}
	s.conversationChanged(ctx, conversation)
	s.realtime.EvictFromRoom(models.ConversationRoom(conversation.ID), conversation.Participants...)
	return nil
}

func (s *ChatService) UpdateSupportStatus(ctx context.Context, actor Actor, conversationID string, status models.SupportStatus) (*models.Conversation, error) {
	conversation, err := s.conversations.UpdateSupportStatus(ctx, conversationID, actor, status)
	if err != nil {
		return nil, err
	}
	s.conversationChanged(ctx, conversation)
	s.narrate(ctx, conversation, "support_status_changed", map[string]any{"status": status, "by": actor.ID})
	return conversation, nil
}

func (s *ChatService) AssignSupport(ctx context.Context, actor Actor, conversationID, agentID string) (*models.Conversation, error) {
	conversation, err := s.conversations.AssignSupport(ctx, conversationID, actor, agentID)
	if err != nil {
		return nil, err
	}
	s.membershipChanged(ctx, conversation, models.EventParticipantAdded, "support_assigned", agentID, actor.ID)
	s.realtime.Broadcast(models.NewEvent(models.EventConversationUpdated, conversation), models.ConversationRoom(conversation.ID))
	return conversation, nil
}

func (s *ChatService) conversationChanged(ctx context.Context, conversation *models.Conversation) {
	s.realtime.Broadcast(models.NewEvent(models.EventConversationUpdated, conversation), models.ConversationRoom(conversation.ID))
	s.cache.ConversationChanged(ctx, conversation)
}

// UpdateOrderStatus closes an order chat. Admins and the order's driver may
// do this.
func (s *ChatService) UpdateOrderStatus(ctx context.Context, actor Actor, orderID string, status models.OrderChatStatus) (*models.Conversation, error) {
	order, err := s.orders.GetSnapshot(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	isDriver := order.DriverID != nil && *order.DriverID == actor.ID
	if !actor.IsAdmin() && !isDriver {
		return nil, forbidden("only admins and the assigned driver may close order %s", orderID)
	}

	conversation, changed, err := s.conversations.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		return conversation, nil
	}

	payload := StatusPayload{ConversationID: conversation.ID, OrderID: orderID, Status: status}
	s.realtime.Broadcast(models.NewEvent(models.EventStatus, payload), models.OrderRoom(orderID), models.ConversationRoom(conversation.ID))
	s.cache.ConversationChanged(ctx, conversation)

	appended, err := s.messages.AppendOrderUpdate(ctx, conversation, models.OrderUpdateContent{
		OrderID: orderID,
		Status:  string(status),
	})
	if err != nil {
		s.logger.Warn("order update message failed", "order_id", orderID, "err", err)
		return conversation, nil
	}
	s.publish(ctx, appended)
	return conversation, nil
}

func (s *ChatService) SendMessage(ctx context.Context, actor Actor, conversationID string, input SendMessageInput) (*models.Message, error) {
	conversation, err := s.conversations.GetActiveForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}

	var appended *Appended
	switch {
	case input.Type == "" || input.Type == models.MessageText:
		appended, err = s.messages.AppendText(ctx, conversation, actor.ID, input.Text, input.ReplyTo, input.Mentions)
	case input.Type.IsMedia():
		var media models.MediaContent
		if err := json.Unmarshal(input.Content, &media); err != nil || media.URL == "" {
			return nil, invalid("media messages need an uploaded file descriptor")
		}
		appended, err = s.messages.AppendMedia(ctx, conversation, actor.ID, media, input.Type)
	case input.Type == models.MessageLocation, input.Type == models.MessageContact, input.Type == models.MessageSticker:
		content, decodeErr := models.DecodeContent(input.Type, input.Content)
		if decodeErr != nil {
			return nil, invalid("%v", decodeErr)
		}
		appended, err = s.messages.AppendContent(ctx, conversation, actor.ID, input.Type, content, input.ReplyTo)
	default:
		return nil, invalid("message type %q cannot be sent by participants", input.Type)
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, appended)
	return appended.Message, nil
}

// UploadMedia stores a file through the upload collaborator and posts it.
func (s *ChatService) UploadMedia(ctx context.Context, actor Actor, conversationID string, file io.Reader, filename string) (*models.Message, error) {
	if s.uploader == nil {
		return nil, invalid("media uploads are not configured")
	}
	conversation, err := s.conversations.GetActiveForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	media, err := s.uploader.Upload(ctx, file, filename, "chat/"+conversation.ID)
	if err != nil {
		return nil, err
	}
	appended, err := s.messages.AppendMedia(ctx, conversation, actor.ID, media, MessageTypeForMime(media.MimeType))
	if err != nil {
		if deleteErr := s.uploader.Delete(ctx, media.URL); deleteErr != nil {
			s.logger.Warn("orphaned upload not removed", "url", media.URL, "err", deleteErr)
		}
		return nil, err
	}
	s.publish(ctx, appended)
	return appended.Message, nil
}

// publish runs the post-write half of a message send.
func (s *ChatService) publish(ctx context.Context, appended *Appended) {
	message, conversation := appended.Message, appended.Conversation
	if s.created != nil {
		s.created.WithLabelValues(string(message.Type)).Inc()
	}

	rooms := []string{models.ConversationRoom(conversation.ID)}
	for _, userID := range conversation.Participants {
		rooms = append(rooms, models.UserRoom(userID))
	}
	reached := s.realtime.Broadcast(models.NewEvent(models.EventMessageNew, MessageNewPayload{
		ConversationID: conversation.ID,
		Message:        message,
	}), rooms...)

	for _, userID := range reached {
		if message.SentBy(userID) || !conversation.HasParticipant(userID) {
			continue
		}
		if _, err := s.messages.MarkDelivered(ctx, message.ID, userID); err != nil {
			s.logger.Warn("delivery receipt failed", "message_id", message.ID, "user_id", userID, "err", err)
		}
	}

	s.cache.ConversationChanged(ctx, conversation)
	s.notifications.MessageCreated(ctx, conversation, message)
}

// ListMessages serves one page. Fetching the first page marks the whole
// conversation read for the actor.
func (s *ChatService) ListMessages(ctx context.Context, actor Actor, conversationID string, opts ListMessagesOptions) ([]models.Message, int, error) {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, 0, err
	}
	if opts.Page <= 1 && opts.Before == nil {
		if err := s.markAllRead(ctx, conversation, actor.ID); err != nil {
			return nil, 0, err
		}
	}

	key := MessageListKey(conversation.ID, opts)
	var cached messagePage
	if s.cache.Load(ctx, key, &cached) {
		return cached.Items, cached.Total, nil
	}
	messages, total, err := s.messages.List(ctx, conversation.ID, opts)
	if err != nil {
		return nil, 0, err
	}
	s.cache.Store(ctx, key, messagePage{Items: messages, Total: total})
	return messages, total, nil
}

func (s *ChatService) MarkConversationRead(ctx context.Context, actor Actor, conversationID string) ([]string, error) {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	ids, err := s.messages.MarkAllRead(ctx, conversation.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	s.readReceipts(ctx, conversation, actor.ID, ids)
	return ids, nil
}

func (s *ChatService) markAllRead(ctx context.Context, conversation *models.Conversation, userID string) error {
	ids, err := s.messages.MarkAllRead(ctx, conversation.ID, userID)
	if err != nil {
		return err
	}
	s.readReceipts(ctx, conversation, userID, ids)
	return nil
}

func (s *ChatService) readReceipts(ctx context.Context, conversation *models.Conversation, userID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.realtime.Broadcast(models.NewEvent(models.EventMessageRead, ReadPayload{
		ConversationID: conversation.ID,
		UserID:         userID,
		MessageIDs:     ids,
		At:             s.now(),
	}), models.ConversationRoom(conversation.ID))
	s.cache.ConversationChanged(ctx, conversation)
}

func (s *ChatService) SearchMessages(ctx context.Context, actor Actor, conversationID string, opts SearchOptions) ([]models.Message, int, error) {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return nil, 0, err
	}
	return s.messages.Search(ctx, conversation.ID, opts)
}

func (s *ChatService) UnreadCount(ctx context.Context, actor Actor, conversationID string) (int, error) {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return 0, err
	}
	return s.unread.Count(ctx, conversation.ID, actor.ID)
}

// loadMessage resolves a message for a participant of its conversation.
// Anyone else gets ErrNotFound.
func (s *ChatService) loadMessage(ctx context.Context, actor Actor, messageID string) (*models.Message, *models.Conversation, error) {
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	conversation, err := s.conversations.GetForParticipant(ctx, message.ConversationID, actor.ID)
	if err != nil {
		return nil, nil, err
	}
	return message, conversation, nil
}

func (s *ChatService) messageChanged(ctx context.Context, conversation *models.Conversation, event string, payload any) {
	s.realtime.Broadcast(models.NewEvent(event, payload), models.ConversationRoom(conversation.ID))
	s.cache.ConversationChanged(ctx, conversation)
}

// EditMessage replaces the payload of a message in an active conversation.
// Text messages take input.Text, other types take input.Content.
func (s *ChatService) EditMessage(ctx context.Context, actor Actor, messageID string, input SendMessageInput) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if !s.conversations.IsActive(conversation) {
		return nil, fmt.Errorf("%w: %s", ErrInactive, conversation.ID)
	}

	var content models.Content
	if message.Type == models.MessageText {
		content = models.TextContent{Text: input.Text}
	} else {
		content, err = models.DecodeContent(message.Type, input.Content)
		if err != nil {
			return nil, invalid("%v", err)
		}
	}

	edited, err := s.messages.Edit(ctx, message.ID, actor.ID, content)
	if err != nil {
		return nil, err
	}
	s.messageChanged(ctx, conversation, models.EventMessageEdited, MessageNewPayload{ConversationID: conversation.ID, Message: edited})
	return edited, nil
}

// DeleteMessage soft-deletes a message. An empty deleteType means sender
// when the actor wrote it and admin otherwise.
func (s *ChatService) DeleteMessage(ctx context.Context, actor Actor, messageID string, deleteType models.DeleteType) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if deleteType == "" {
		deleteType = models.DeleteByAdmin
		if message.SentBy(actor.ID) {
			deleteType = models.DeleteBySender
		}
	}
	isAdmin := actor.IsAdmin() || conversation.IsGroupAdmin(actor.ID)

	deleted, err := s.messages.SoftDelete(ctx, message.ID, actor.ID, deleteType, isAdmin)
	if err != nil {
		return nil, err
	}
	s.messageChanged(ctx, conversation, models.EventMessageDeleted, MessageDeletedPayload{
		ConversationID: conversation.ID,
		MessageID:      deleted.ID,
		DeleteType:     deleteType,
		DeletedBy:      actor.ID,
	})
	return deleted, nil
}

func (s *ChatService) React(ctx context.Context, actor Actor, messageID, emoji string) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	reacted, err := s.messages.AddReaction(ctx, message.ID, actor.ID, emoji)
	if err != nil {
		return nil, err
	}
	s.messageChanged(ctx, conversation, models.EventMessageReaction, ReactionPayload{
		ConversationID: conversation.ID,
		MessageID:      reacted.ID,
		UserID:         actor.ID,
		Emoji:          emoji,
	})
	return reacted, nil
}

func (s *ChatService) Unreact(ctx context.Context, actor Actor, messageID string) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	updated, removed, err := s.messages.RemoveReaction(ctx, message.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if removed {
		s.messageChanged(ctx, conversation, models.EventMessageReactionRemoved, ReactionPayload{
			ConversationID: conversation.ID,
			MessageID:      updated.ID,
			UserID:         actor.ID,
		})
	}
	return updated, nil
}

func (s *ChatService) Pin(ctx context.Context, actor Actor, messageID string) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	pinned, err := s.messages.Pin(ctx, conversation, message.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	s.messageChanged(ctx, conversation, models.EventMessagePinned, PinPayload{ConversationID: conversation.ID, MessageID: pinned.ID, By: actor.ID})
	return pinned, nil
}

func (s *ChatService) Unpin(ctx context.Context, actor Actor, messageID string) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	unpinned, err := s.messages.Unpin(ctx, conversation, message.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	s.messageChanged(ctx, conversation, models.EventMessageUnpinned, PinPayload{ConversationID: conversation.ID, MessageID: unpinned.ID, By: actor.ID})
	return unpinned, nil
}

func (s *ChatService) MarkRead(ctx context.Context, actor Actor, messageID string) (*models.Message, error) {
	message, conversation, err := s.loadMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	read, changed, err := s.messages.MarkRead(ctx, message.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.readReceipts(ctx, conversation, actor.ID, []string{read.ID})
	}
	return read, nil
}

// Typing relays a typing indicator to the conversation room.
func (s *ChatService) Typing(ctx context.Context, actor Actor, conversationID string, isTyping bool) error {
	conversation, err := s.conversations.GetForParticipant(ctx, conversationID, actor.ID)
	if err != nil {
		return err
	}
	s.realtime.Broadcast(models.NewEvent(models.EventTyping, TypingPayload{
		ConversationID: conversation.ID,
		UserID:         actor.ID,
		IsTyping:       isTyping,
	}), models.ConversationRoom(conversation.ID))
	return nil
}
