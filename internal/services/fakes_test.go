package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/repository"
)

// memoryStore backs both fake repositories so message writes can bump the
// conversation they belong to.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	agents        []models.User

	staleConversationSaves int
	staleMessageSaves      int
	failUpdateLast         error
	failCreateMessage      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
	}
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	out.Tags = slices.Clone(c.Tags)
	if c.Metadata.Group != nil {
		group := *c.Metadata.Group
		group.Admins = slices.Clone(c.Metadata.Group.Admins)
		out.Metadata.Group = &group
	}
	if c.Metadata.Order != nil {
		order := *c.Metadata.Order
		out.Metadata.Order = &order
	}
	if c.Metadata.Support != nil {
		support := *c.Metadata.Support
		out.Metadata.Support = &support
	}
	return &out
}

func cloneMessage(m *models.Message) *models.Message {
	out := *m
	out.Mentions = slices.Clone(m.Mentions)
	out.Delivery.DeliveredTo = slices.Clone(m.Delivery.DeliveredTo)
	out.Delivery.ReadBy = slices.Clone(m.Delivery.ReadBy)
	out.Edited.History = slices.Clone(m.Edited.History)
	out.Reactions = slices.Clone(m.Reactions)
	return &out
}

type fakeConversationRepo struct {
	*memoryStore
}

func (r fakeConversationRepo) CreateOrGetDirect(_ context.Context, c *models.Conversation) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := models.DirectKey(c.Participants[0], c.Participants[1])
	for _, existing := range r.conversations {
		if existing.Type == models.ConversationDirect && models.DirectKey(existing.Participants[0], existing.Participants[1]) == key {
			return cloneConversation(existing), nil
		}
	}
	c.Version = 1
	r.conversations[c.ID] = cloneConversation(c)
	return cloneConversation(c), nil
}

func (r fakeConversationRepo) Create(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conversations[c.ID]; exists {
		return repository.ErrDuplicate
	}
	if c.Metadata.Order != nil {
		for _, existing := range r.conversations {
			if existing.Metadata.Order != nil && existing.Metadata.Order.OrderID == c.Metadata.Order.OrderID {
				return repository.ErrDuplicate
			}
		}
	}
	c.Version = 1
	r.conversations[c.ID] = cloneConversation(c)
	return nil
}

func (r fakeConversationRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (r fakeConversationRepo) GetByIDForParticipant(ctx context.Context, id, userID string) (*models.Conversation, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r fakeConversationRepo) GetByOrderID(_ context.Context, orderID string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.Metadata.Order != nil && c.Metadata.Order.OrderID == orderID {
			return cloneConversation(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeConversationRepo) GetByJoinCode(_ context.Context, code string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.Metadata.Group != nil && c.Metadata.Group.JoinCode != nil && *c.Metadata.Group.JoinCode == code && c.DeletedAt == nil {
			return cloneConversation(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeConversationRepo) Save(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conversations[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.staleConversationSaves > 0 {
		r.staleConversationSaves--
		stored.Version++
		return repository.ErrStaleWrite
	}
	if stored.Version != c.Version {
		return repository.ErrStaleWrite
	}
	c.Version++
	r.conversations[c.ID] = cloneConversation(c)
	return nil
}

func (r fakeConversationRepo) UpdateLastMessage(_ context.Context, id, messageID string, at time.Time) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateLast != nil {
		return nil, r.failUpdateLast
	}
	c, ok := r.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.LastMessageID = &messageID
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}
	c.Stats.MessageCount++
	if c.Stats.FirstMessageAt == nil {
		first := at
		c.Stats.FirstMessageAt = &first
	}
	last := at
	c.Stats.LastMessageAt = &last
	c.Version++
	return cloneConversation(c), nil
}

func (r fakeConversationRepo) ListForParticipant(_ context.Context, filter repository.ConversationListFilter) ([]models.Conversation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]models.Conversation, 0)
	for _, c := range r.conversations {
		if !c.HasParticipant(filter.UserID) || c.DeletedAt != nil {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if !filter.IncludeArchived && c.ArchivedAt != nil {
			continue
		}
		if !filter.IncludeExpired && c.ExpiresAt != nil && !c.ExpiresAt.After(filter.Now) {
			continue
		}
		matches = append(matches, *cloneConversation(c))
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].LastActivity.After(matches[j].LastActivity) })
	return window(matches, filter.Limit, filter.Offset), len(matches), nil
}

type fakeDirectory struct {
	*memoryStore
}

func (d fakeDirectory) GetByID(_ context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, agent := range d.agents {
		if agent.ID == id {
			user := agent
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d fakeDirectory) ListSupportAgents(context.Context) ([]models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.agents), nil
}

type fakeMessageRepo struct {
	*memoryStore
}

func (r fakeMessageRepo) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateMessage != nil {
		return r.failCreateMessage
	}
	m.Version = 1
	r.messages[m.ID] = cloneMessage(m)
	return nil
}

func (r fakeMessageRepo) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r fakeMessageRepo) GetMany(_ context.Context, ids []string) (map[string]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.Message, len(ids))
	for _, id := range ids {
		if m, ok := r.messages[id]; ok {
			out[id] = *cloneMessage(m)
		}
	}
	return out, nil
}

func (r fakeMessageRepo) Save(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.messages[m.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.staleMessageSaves > 0 {
		r.staleMessageSaves--
		stored.Version++
		return repository.ErrStaleWrite
	}
	if stored.Version != m.Version {
		return repository.ErrStaleWrite
	}
	m.Version++
	r.messages[m.ID] = cloneMessage(m)
	return nil
}

// newestFirst returns the conversation's messages matching keep, newest
// first, the order the SQL pages use.
func (r fakeMessageRepo) newestFirst(conversationID string, keep func(m *models.Message) bool) []models.Message {
	matches := make([]models.Message, 0)
	for _, m := range r.messages {
		if m.ConversationID == conversationID && keep(m) {
			matches = append(matches, *cloneMessage(m))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Delivery.SentAt.Equal(matches[j].Delivery.SentAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].Delivery.SentAt.After(matches[j].Delivery.SentAt)
	})
	return matches
}

func (r fakeMessageRepo) List(_ context.Context, filter repository.MessageListFilter) ([]models.Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := r.newestFirst(filter.ConversationID, func(m *models.Message) bool {
		if !filter.IncludeDeleted && m.Deleted.IsDeleted {
			return false
		}
		if !filter.IncludeSystem && m.Type == models.MessageSystem {
			return false
		}
		if filter.Before != nil && !m.Delivery.SentAt.Before(*filter.Before) {
			return false
		}
		if filter.After != nil && !m.Delivery.SentAt.After(*filter.After) {
			return false
		}
		return len(filter.Types) == 0 || slices.Contains(filter.Types, m.Type)
	})
	return window(matches, filter.Limit, filter.Offset), len(matches), nil
}

func (r fakeMessageRepo) Search(_ context.Context, filter repository.MessageSearchFilter) ([]models.Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	term := strings.ToLower(filter.Term)
	matches := r.newestFirst(filter.ConversationID, func(m *models.Message) bool {
		if m.Deleted.IsDeleted {
			return false
		}
		if term != "" {
			text, ok := m.Content.(models.TextContent)
			if !ok || !strings.Contains(strings.ToLower(text.Text), term) {
				return false
			}
		}
		if filter.SenderID != nil && !m.SentBy(*filter.SenderID) {
			return false
		}
		return len(filter.Types) == 0 || slices.Contains(filter.Types, m.Type)
	})
	return window(matches, filter.Limit, filter.Offset), len(matches), nil
}

func (r fakeMessageRepo) MarkConversationRead(_ context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0)
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.IsUnreadFor(readerID) {
			m.MarkRead(readerID, at)
			m.Version++
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r fakeMessageRepo) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.IsUnreadFor(userID) {
			count++
		}
	}
	return count, nil
}

func (r fakeMessageRepo) CountUnreadByConversation(_ context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, m := range r.messages {
		if slices.Contains(conversationIDs, m.ConversationID) && m.IsUnreadFor(userID) {
			counts[m.ConversationID]++
		}
	}
	return counts, nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type stubPresence map[string]bool

func (p stubPresence) IsOnline(userID string) bool {
	return p[userID]
}

type broadcastCall struct {
	event models.Event
	rooms []string
}

// stubRealtime records broadcasts and reports every online participant of
// the targeted user rooms as reached.
type stubRealtime struct {
	mu         sync.Mutex
	online     map[string]bool
	broadcasts []broadcastCall
	direct     map[string][]models.Event
	evictions  map[string][]string
}

func newStubRealtime(online ...string) *stubRealtime {
	rt := &stubRealtime{online: map[string]bool{}, direct: map[string][]models.Event{}, evictions: map[string][]string{}}
	for _, id := range online {
		rt.online[id] = true
	}
	return rt
}

func (r *stubRealtime) Broadcast(event models.Event, rooms ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcastCall{event: event, rooms: rooms})
	reached := make([]string, 0)
	for _, room := range rooms {
		if kind, target, ok := models.ParseRoom(room); ok && kind == models.RoomKindUser && r.online[target] {
			reached = append(reached, target)
		}
	}
	return reached
}

func (r *stubRealtime) SendToUser(userID string, event models.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[userID] = append(r.direct[userID], event)
	return r.online[userID]
}

func (r *stubRealtime) EvictFromRoom(room string, userIDs ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions[room] = append(r.evictions[room], userIDs...)
	return len(userIDs)
}

func (r *stubRealtime) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

func (r *stubRealtime) events(eventType string) []broadcastCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcastCall
	for _, call := range r.broadcasts {
		if call.event.Type == eventType {
			out = append(out, call)
		}
	}
	return out
}

type memoryCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	failures error
	deleted  []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures != nil {
		return nil, false, c.failures
	}
	value, ok := c.values[key]
	return value, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures != nil {
		return c.failures
	}
	c.values[key] = value
	return nil
}

func (c *memoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, prefix)
	if c.failures != nil {
		return c.failures
	}
	for key := range c.values {
		if strings.HasPrefix(key, prefix) {
			delete(c.values, key)
		}
	}
	return nil
}

type notifyCall struct {
	userID  string
	event   string
	payload any
}

type stubNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *stubNotifier) Notify(_ context.Context, userID, eventType string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{userID: userID, event: eventType, payload: payload})
	return n.err
}

func (n *stubNotifier) users() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	users := make([]string, 0, len(n.calls))
	for _, call := range n.calls {
		users = append(users, call.userID)
	}
	return users
}

type stubOrders map[string]*models.OrderSnapshot

func (o stubOrders) GetSnapshot(_ context.Context, orderID string) (*models.OrderSnapshot, error) {
	order, ok := o[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return order, nil
}

type stubUploader struct {
	media    models.MediaContent
	err      error
	deleted  []string
	uploaded int
}

func (u *stubUploader) Upload(_ context.Context, _ io.Reader, filename, _ string) (models.MediaContent, error) {
	u.uploaded++
	if u.err != nil {
		return models.MediaContent{}, u.err
	}
	media := u.media
	media.Filename = filename
	return media, nil
}

func (u *stubUploader) Delete(_ context.Context, fileURL string) error {
	u.deleted = append(u.deleted, fileURL)
	return nil
}

var errBoom = errors.New("boom")

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// clock hands out strictly increasing timestamps so message order is stable.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequence struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (s *sequence) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s%03d", s.prefix, s.next)
}

// fixture wires the real services onto the in-memory fakes.
type fixture struct {
	store         *memoryStore
	clock         *clock
	realtime      *stubRealtime
	cache         *memoryCache
	notifier      *stubNotifier
	orders        stubOrders
	uploader      *stubUploader
	conversations *ConversationService
	messages      *MessageService
	unread        *UnreadTracker
	chat          *ChatService
}

func newFixture(online ...string) *fixture {
	f := &fixture{
		store:    newMemoryStore(),
		clock:    newClock(),
		realtime: newStubRealtime(online...),
		cache:    newMemoryCache(),
		notifier: &stubNotifier{},
		orders:   stubOrders{},
		uploader: &stubUploader{media: models.MediaContent{URL: "https://cdn.example.com/chat/a.jpg", Size: 120, MimeType: "image/jpeg"}},
	}
	conversationIDs := &sequence{prefix: "c"}
	messageIDs := &sequence{prefix: "m"}

	f.unread = NewUnreadTracker(fakeMessageRepo{f.store})
	f.conversations = NewConversationService(fakeConversationRepo{f.store}, fakeDirectory{f.store}, f.realtime, f.unread, testLogger())
	f.conversations.now = f.clock.Now
	f.conversations.newID = conversationIDs.ID

	f.messages = NewMessageService(fakeMessageRepo{f.store}, f.conversations, testLogger())
	f.messages.now = f.clock.Now
	f.messages.newID = messageIDs.ID

	f.wireChat(f.realtime)
	return f
}

// wireChat rebuilds the chat orchestrator on top of realtime.
func (f *fixture) wireChat(realtime Realtime) {
	f.chat = NewChatService(ChatDependencies{
		Conversations: f.conversations,
		Messages:      f.messages,
		Unread:        f.unread,
		Realtime:      realtime,
		Cache:         NewCacheCoordinator(f.cache, time.Minute, nil, testLogger()),
		Notifications: NewNotificationBridge(f.notifier, realtime, nil, testLogger()),
		Orders:        f.orders,
		Uploader:      f.uploader,
		Logger:        testLogger(),
	})
	f.chat.now = f.clock.Now
}

func actor(id string) Actor {
	return Actor{ID: id, Role: models.RoleCustomer}
}

func admin(id string) Actor {
	return Actor{ID: id, Role: models.RoleAdmin}
}
