package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	defaultPriority  = "normal"
)

type conversationRepository interface {
	CreateOrGetDirect(ctx context.Context, c *models.Conversation) (*models.Conversation, error)
	Create(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	GetByIDForParticipant(ctx context.Context, id, userID string) (*models.Conversation, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Conversation, error)
	GetByJoinCode(ctx context.Context, code string) (*models.Conversation, error)
	Save(ctx context.Context, c *models.Conversation) error
	UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, filter repository.ConversationListFilter) ([]models.Conversation, int, error)
}

type supportAgentDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListSupportAgents(ctx context.Context) ([]models.User, error)
}

// Presence answers whether a user currently holds a realtime connection.
type Presence interface {
	IsOnline(userID string) bool
}

type unreadCounter interface {
	CountMany(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
}

// ConversationService owns conversation records and their lifecycle.
type ConversationService struct {
	repo     conversationRepository
	agents   supportAgentDirectory
	presence Presence
	unread   unreadCounter
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

func NewConversationService(
	repo conversationRepository,
	agents supportAgentDirectory,
	presence Presence,
	unread unreadCounter,
	logger *log.Logger,
) *ConversationService {
	return &ConversationService{
		repo:     repo,
		agents:   agents,
		presence: presence,
		unread:   unread,
		logger:   logger.With("component", "conversations"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

type GroupInput struct {
	Title           string
	Description     string
	Image           string
	Participants    []string
	IsPublic        bool
	MaxParticipants int
}

type ConversationUpdate struct {
	Title                *string
	Description          *string
	Image                *string
	NotificationSettings *models.NotificationSettings
	PrivacySettings      *models.PrivacySettings
	Tags                 []string
}

func (u ConversationUpdate) touchesProfile() bool {
	return u.Title != nil || u.Description != nil || u.Image != nil
}

type ListConversationsOptions struct {
	Page            int
	Limit           int
	Type            models.ConversationType
	IncludeArchived bool
	IncludeExpired  bool
}

func (s *ConversationService) blank(t models.ConversationType, participants []string, title string) *models.Conversation {
	now := s.now()
	return &models.Conversation{
		ID:              s.newID(),
		Type:            t,
		Participants:    participants,
		Title:           title,
		LastActivity:    now,
		PrivacySettings: models.DefaultPrivacySettings(),
		Tags:            []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CreateDirect returns the single direct conversation between a and b,
// creating it on first use.
func (s *ConversationService) CreateDirect(ctx context.Context, a, b string) (*models.Conversation, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, invalid("both participants are required")
	}
	if a == b {
		return nil, invalid("cannot start a direct conversation with yourself")
	}
	conversation, err := s.repo.CreateOrGetDirect(ctx, s.blank(models.ConversationDirect, []string{a, b}, ""))
	if err != nil {
		return nil, translate(err)
	}
	return conversation, nil
}

func (s *ConversationService) CreateSupport(ctx context.Context, userID, department, priority string) (*models.Conversation, error) {
	department = strings.TrimSpace(department)
	if userID == "" {
		return nil, invalid("user is required")
	}
	if department == "" {
		return nil, invalid("department is required")
	}
	if priority == "" {
		priority = defaultPriority
	}

	participants := []string{userID}
	meta := &models.SupportMetadata{
		Department: department,
		Priority:   priority,
		Status:     models.SupportOpen,
	}
	if agent := s.findAgent(ctx, userID); agent != "" {
		participants = append(participants, agent)
		meta.AssignedTo = &agent
	}

	conversation := s.blank(models.ConversationSupport, participants, "Support: "+department)
	conversation.Metadata.Support = meta
	if err := s.repo.Create(ctx, conversation); err != nil {
		return nil, translate(err)
	}
	return conversation, nil
}

// findAgent picks the first online support agent. Lookup failures leave the
// chat unassigned.
func (s *ConversationService) findAgent(ctx context.Context, requester string) string {
	agents, err := s.agents.ListSupportAgents(ctx)
	if err != nil {
		s.logger.Warn("support agent lookup failed", "user_id", requester, "err", err)
		return ""
	}
	for _, agent := range agents {
		if agent.ID != requester && s.presence.IsOnline(agent.ID) {
			return agent.ID
		}
	}
	return ""
}

// CreateOrder opens the chat for an order. A second call for the same order
// returns the existing conversation.
func (s *ConversationService) CreateOrder(ctx context.Context, orderID, userID string, driverID, restaurantID *string) (*models.Conversation, error) {
	if orderID == "" || userID == "" {
		return nil, invalid("order and user are required")
	}
	participants := []string{userID}
	if driverID != nil && *driverID != "" && *driverID != userID {
		participants = append(participants, *driverID)
	}

	conversation := s.blank(models.ConversationOrder, participants, "Order #"+orderID)
	expires := conversation.CreatedAt.Add(models.OrderChatLifetime)
	conversation.ExpiresAt = &expires
	conversation.Metadata.Order = &models.OrderMetadata{
		OrderID:    orderID,
		Restaurant: restaurantID,
		Driver:     driverID,
		Status:     models.OrderChatActive,
	}

	err := s.repo.Create(ctx, conversation)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, getErr := s.repo.GetByOrderID(ctx, orderID)
		return existing, translate(getErr)
	}
	if err != nil {
		return nil, translate(err)
	}
	return conversation, nil
}

func (s *ConversationService) CreateGroup(ctx context.Context, creator string, input GroupInput) (*models.Conversation, error) {
	title := strings.TrimSpace(input.Title)
	if creator == "" {
		return nil, invalid("creator is required")
	}
	if title == "" {
		return nil, invalid("group title is required")
	}
	capacity := input.MaxParticipants
	if capacity <= 0 {
		capacity = models.DefaultGroupCapacity
	}

	participants := []string{creator}
	for _, p := range input.Participants {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(participants, p) {
			participants = append(participants, p)
		}
	}
	if len(participants) > capacity {
		return nil, conflict("group of %d exceeds capacity %d", len(participants), capacity)
	}

	conversation := s.blank(models.ConversationGroup, participants, title)
	conversation.Description = strings.TrimSpace(input.Description)
	conversation.Image = strings.TrimSpace(input.Image)
	conversation.Metadata.Group = &models.GroupMetadata{
		IsPublic:        input.IsPublic,
		MaxParticipants: capacity,
		Admins:          []string{creator},
	}
	if input.IsPublic {
		code := newJoinCode()
		conversation.Metadata.Group.JoinCode = &code
	}

	if err := s.repo.Create(ctx, conversation); err != nil {
		return nil, translate(err)
	}
	return conversation, nil
}

func newJoinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// mutate runs a read-modify-write cycle, retrying when another writer bumped
// the version in between.
func (s *ConversationService) mutate(
	ctx context.Context,
	id string,
	apply func(c *models.Conversation) error,
) (*models.Conversation, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		conversation, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, translate(err)
		}
		if conversation.DeletedAt != nil {
			return nil, ErrNotFound
		}
		if err := apply(conversation); err != nil {
			if errors.Is(err, errUnchanged) {
				return conversation, nil
			}
			return nil, err
		}
		err = s.repo.Save(ctx, conversation)
		if errors.Is(err, repository.ErrStaleWrite) {
			s.logger.Debug("conversation changed during write, retrying", "conversation_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, translate(err)
		}
		return conversation, nil
	}
	return nil, conflict("conversation %s kept changing", id)
}

func requireParticipant(c *models.Conversation, userID string) error {
	if !c.HasParticipant(userID) {
		return ErrNotFound
	}
	return nil
}

func (s *ConversationService) AddParticipant(ctx context.Context, conversationID, actorID, userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, invalid("user is required")
	}
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, actorID); err != nil {
			return err
		}
		if c.Type == models.ConversationDirect {
			return invalid("direct conversations have exactly two participants")
		}
		if c.Type == models.ConversationGroup && !c.IsGroupAdmin(actorID) {
			return forbidden("only group admins may add participants")
		}
		if c.HasParticipant(userID) {
			return conflict("user %s is already a participant", userID)
		}
		if err := checkCapacity(c); err != nil {
			return err
		}
		c.Participants = append(c.Participants, userID)
		return nil
	})
}

func checkCapacity(c *models.Conversation) error {
	if c.Type != models.ConversationGroup || c.Metadata.Group == nil {
		return nil
	}
	if len(c.Participants) >= c.Metadata.Group.MaxParticipants {
		return conflict("group is at capacity (%d)", c.Metadata.Group.MaxParticipants)
	}
	return nil
}

// RemoveParticipant removes userID. Anyone may remove themselves; removing
// somebody else from a group requires admin rights.
func (s *ConversationService) RemoveParticipant(ctx context.Context, conversationID, actorID, userID string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, actorID); err != nil {
			return err
		}
		if c.Type == models.ConversationDirect {
			return invalid("direct conversations have exactly two participants")
		}
		if actorID != userID && c.Type == models.ConversationGroup && !c.IsGroupAdmin(actorID) {
			return forbidden("only group admins may remove other participants")
		}
		if !c.HasParticipant(userID) {
			return ErrNotFound
		}
		if len(c.Participants) == 1 {
			return invalid("cannot remove the last participant")
		}
		c.Participants = slices.DeleteFunc(c.Participants, func(p string) bool { return p == userID })
		if c.Metadata.Group != nil {
			c.Metadata.Group.Admins = slices.DeleteFunc(c.Metadata.Group.Admins, func(p string) bool { return p == userID })
			if len(c.Metadata.Group.Admins) == 0 {
				c.Metadata.Group.Admins = []string{c.Participants[0]}
			}
		}
		return nil
	})
}

func (s *ConversationService) JoinGroup(ctx context.Context, code, userID string) (*models.Conversation, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, invalid("join code is required")
	}
	found, err := s.repo.GetByJoinCode(ctx, code)
	if err != nil {
		return nil, translate(err)
	}
	return s.mutate(ctx, found.ID, func(c *models.Conversation) error {
		if c.Metadata.Group == nil || !c.Metadata.Group.IsPublic {
			return ErrNotFound
		}
		if c.HasParticipant(userID) {
			return errUnchanged
		}
		if err := checkCapacity(c); err != nil {
			return err
		}
		c.Participants = append(c.Participants, userID)
		return nil
	})
}

// UpdateLastMessage records a new message on the conversation in a single
// atomic write.
func (s *ConversationService) UpdateLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) (*models.Conversation, error) {
	conversation, err := s.repo.UpdateLastMessage(ctx, conversationID, messageID, at)
	if err != nil {
		return nil, translate(err)
	}
	return conversation, nil
}

func (s *ConversationService) Archive(ctx context.Context, conversationID, actorID string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, actorID); err != nil {
			return err
		}
		if c.ArchivedAt != nil {
			return errUnchanged
		}
		now := s.now()
		c.ArchivedAt = &now
		return nil
	})
}

func (s *ConversationService) Unarchive(ctx context.Context, conversationID, actorID string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, actorID); err != nil {
			return err
		}
		if c.ArchivedAt == nil {
			return errUnchanged
		}
		c.ArchivedAt = nil
		return nil
	})
}

func (s *ConversationService) SoftDelete(ctx context.Context, conversationID string, actor Actor) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, actor.ID); err != nil {
			return err
		}
		if c.Type == models.ConversationGroup && !c.IsGroupAdmin(actor.ID) && !actor.IsAdmin() {
			return forbidden("only group admins may delete the group")
		}
		now := s.now()
		c.DeletedAt = &now
		return nil
	})
}

func (s *ConversationService) Update(ctx context.Context, conversationID, actorID string, update ConversationUpdate) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, actorID); err != nil {
			return err
		}
		if update.touchesProfile() {
			if c.Type == models.ConversationGroup && !c.IsGroupAdmin(actorID) {
				return forbidden("only group admins may edit the group profile")
			}
			if c.Type == models.ConversationDirect {
				return invalid("direct conversations have no title")
			}
		}
		if update.Title != nil {
			title := strings.TrimSpace(*update.Title)
			if title == "" {
				return invalid("title cannot be empty")
			}
			c.Title = title
		}
		if update.Description != nil {
			c.Description = strings.TrimSpace(*update.Description)
		}
		if update.Image != nil {
			c.Image = strings.TrimSpace(*update.Image)
		}
		if update.NotificationSettings != nil {
			c.NotificationSettings = *update.NotificationSettings
		}
		if update.PrivacySettings != nil {
			c.PrivacySettings = *update.PrivacySettings
		}
		if update.Tags != nil {
			c.Tags = dedupeStrings(update.Tags)
		}
		return nil
	})
}

// UpdateOrderStatus moves an order chat out of the active state. The second
// return value is false when status was already the current one.
func (s *ConversationService) UpdateOrderStatus(
	ctx context.Context,
	orderID string,
	status models.OrderChatStatus,
) (*models.Conversation, bool, error) {
	if status != models.OrderChatCompleted && status != models.OrderChatCancelled {
		return nil, false, invalid("unsupported order chat status %q", status)
	}
	found, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, false, translate(err)
	}

	changed := false
	conversation, err := s.mutate(ctx, found.ID, func(c *models.Conversation) error {
		changed = false
		meta := c.Metadata.Order
		if meta == nil {
			return invalid("conversation %s is not an order chat", c.ID)
		}
		if meta.Status == status {
			return errUnchanged
		}
		if meta.Status != models.OrderChatActive {
			return invalid("order chat is already %s", meta.Status)
		}
		meta.Status = status
		expires := s.now().Add(models.OrderChatClosedLifetime)
		c.ExpiresAt = &expires
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return conversation, changed, nil
}

var supportTransitions = map[models.SupportStatus][]models.SupportStatus{
	models.SupportOpen:     {models.SupportPending, models.SupportResolved, models.SupportClosed},
	models.SupportPending:  {models.SupportOpen, models.SupportResolved, models.SupportClosed},
	models.SupportResolved: {models.SupportOpen, models.SupportClosed},
	models.SupportClosed:   {},
}

func (s *ConversationService) UpdateSupportStatus(
	ctx context.Context,
	conversationID string,
	actor Actor,
	status models.SupportStatus,
) (*models.Conversation, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("only support agents may change ticket status")
	}
	if _, known := supportTransitions[status]; !known {
		return nil, invalid("unsupported support status %q", status)
	}
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		meta := c.Metadata.Support
		if meta == nil {
			return invalid("conversation %s is not a support chat", c.ID)
		}
		if meta.Status == status {
			return errUnchanged
		}
		if !slices.Contains(supportTransitions[meta.Status], status) {
			return invalid("support chat cannot move from %s to %s", meta.Status, status)
		}
		meta.Status = status
		return nil
	})
}

// AssignSupport hands a support chat to agentID, adding the agent as a
// participant when needed.
func (s *ConversationService) AssignSupport(ctx context.Context, conversationID string, actor Actor, agentID string) (*models.Conversation, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("only support agents may assign tickets")
	}
	if agentID == "" {
		return nil, invalid("agent is required")
	}
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, translate(err)
	}
	if !agent.IsSupportAgent {
		return nil, invalid("user %s is not a support agent", agentID)
	}
	return s.mutate(ctx, conversationID, func(c *models.Conversation) error {
		meta := c.Metadata.Support
		if meta == nil {
			return invalid("conversation %s is not a support chat", c.ID)
		}
		if meta.AssignedTo != nil && *meta.AssignedTo == agentID && c.HasParticipant(agentID) {
			return errUnchanged
		}
		if !c.HasParticipant(agentID) {
			c.Participants = append(c.Participants, agentID)
		}
		meta.AssignedTo = &agentID
		if meta.Status == models.SupportOpen {
			meta.Status = models.SupportPending
		}
		return nil
	})
}

// GetForParticipant hides conversations the caller does not belong to.
func (s *ConversationService) GetForParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conversation, err := s.repo.GetByIDForParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, translate(err)
	}
	if conversation.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return conversation, nil
}

// GetActiveForParticipant is GetForParticipant plus the write-side check that
// the conversation still accepts messages.
func (s *ConversationService) GetActiveForParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conversation, err := s.GetForParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsActiveAt(s.now()) {
		return nil, fmt.Errorf("%w: %s", ErrInactive, conversation.ID)
	}
	return conversation, nil
}

func (s *ConversationService) GetByOrderID(ctx context.Context, orderID string) (*models.Conversation, error) {
	conversation, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	return conversation, nil
}

func (s *ConversationService) ListForUser(
	ctx context.Context,
	userID string,
	opts ListConversationsOptions,
) ([]models.ConversationSummary, int, error) {
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, 0, invalid("unknown conversation type %q", opts.Type)
	}
	limit, offset := pageWindow(opts.Page, opts.Limit)
	now := s.now()

	conversations, total, err := s.repo.ListForParticipant(ctx, repository.ConversationListFilter{
		UserID:          userID,
		Type:            opts.Type,
		IncludeArchived: opts.IncludeArchived,
		IncludeExpired:  opts.IncludeExpired,
		Now:             now,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.ID)
	}
	counts, err := s.unread.CountMany(ctx, userID, ids)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for i := range conversations {
		summaries = append(summaries, models.ConversationSummary{
			Conversation: conversations[i],
			UnreadCount:  counts[conversations[i].ID],
			IsActive:     conversations[i].IsActiveAt(now),
		})
	}
	return summaries, total, nil
}

func (s *ConversationService) IsActive(c *models.Conversation) bool {
	return c.IsActiveAt(s.now())
}

func pageWindow(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, (page - 1) * limit
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
