package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		if testDBErr = testDBPool.Ping(context.Background()); testDBErr != nil {
			return
		}

		var migrated bool
		testDBErr = testDBPool.QueryRow(context.Background(),
			`SELECT to_regclass('public.conversations') IS NOT NULL AND to_regclass('public.messages') IS NOT NULL`,
		).Scan(&migrated)
		if testDBErr == nil && !migrated {
			testDBErr = fmt.Errorf("chat tables missing, run cmd/migrate first")
		}
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

// testID keeps rows from concurrent runs apart.
func testID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func cleanupConversations(t *testing.T, ctx context.Context, pool *pgxpool.Pool, ids ...string) {
	t.Helper()

	if len(ids) == 0 {
		return
	}
	if _, err := pool.Exec(ctx, "DELETE FROM messages WHERE conversation_id = ANY($1)", ids); err != nil {
		t.Fatalf("cleanup messages: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM conversations WHERE id = ANY($1)", ids); err != nil {
		t.Fatalf("cleanup conversations: %v", err)
	}
}

func newTestConversation(kind models.ConversationType, at time.Time, participants ...string) *models.Conversation {
	c := &models.Conversation{
		ID:           testID("conv"),
		Type:         kind,
		Participants: participants,
		LastActivity: at,
		Tags:         []string{},
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if kind == models.ConversationGroup {
		c.Title = "Crew"
		c.Metadata.Group = &models.GroupMetadata{MaxParticipants: 10, Admins: participants[:1]}
	}
	return c
}

func createTestConversation(t *testing.T, ctx context.Context, repo *ConversationRepository, c *models.Conversation) *models.Conversation {
	t.Helper()
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create conversation: %v", err)
	}
	return c
}

func createTestMessage(t *testing.T, ctx context.Context, repo *MessageRepository, conversationID, sender, text string, at time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		ID:             testID("msg"),
		ConversationID: conversationID,
		SenderID:       &sender,
		Type:           models.MessageText,
		Content:        models.TextContent{Text: text},
		Delivery:       models.DeliveryInfo{SentAt: at},
	}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("Create message: %v", err)
	}
	return m
}

func TestCreateOrGetDirectConcurrentCallersShareRow(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	repo := NewConversationRepository(pool)

	alice, bob := testID("u"), testID("u")
	now := time.Now().UTC()

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			participants := []string{alice, bob}
			if i%2 == 1 {
				participants = []string{bob, alice}
			}
			got, err := repo.CreateOrGetDirect(ctx, newTestConversation(models.ConversationDirect, now, participants...))
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = got.ID
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() { cleanupConversations(t, ctx, pool, ids...) })

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: CreateOrGetDirect: %v", i, err)
		}
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected every caller to get %s, got %v", ids[0], ids)
		}
	}

	var rows int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversations WHERE direct_key = $1", models.DirectKey(alice, bob)).Scan(&rows); err != nil {
		t.Fatalf("count direct rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one direct conversation row, got %d", rows)
	}
}

func TestConversationSaveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	repo := NewConversationRepository(pool)

	created := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationGroup, time.Now().UTC(), testID("u"), testID("u")))
	t.Cleanup(func() { cleanupConversations(t, ctx, pool, created.ID) })

	first, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	second, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	first.Title = "Renamed"
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.Version != second.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", second.Version+1, first.Version)
	}

	second.Title = "Lost update"
	if err := repo.Save(ctx, second); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	stored, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Title != "Renamed" {
		t.Fatalf("expected first write kept, got %q", stored.Title)
	}
	if stored.Metadata.Group == nil || stored.Metadata.Group.MaxParticipants != 10 {
		t.Fatalf("expected group metadata round-tripped, got %+v", stored.Metadata)
	}
}

func TestUpdateLastMessageTracksStats(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	repo := NewConversationRepository(pool)

	base := time.Now().UTC().Truncate(time.Microsecond)
	created := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationDirect, base, testID("u"), testID("u")))
	t.Cleanup(func() { cleanupConversations(t, ctx, pool, created.ID) })

	later := base.Add(time.Minute)
	if _, err := repo.UpdateLastMessage(ctx, created.ID, "m-later", later); err != nil {
		t.Fatalf("UpdateLastMessage: %v", err)
	}
	// A write stamped earlier than the current activity must not move it back.
	earlier := base.Add(30 * time.Second)
	updated, err := repo.UpdateLastMessage(ctx, created.ID, "m-earlier", earlier)
	if err != nil {
		t.Fatalf("UpdateLastMessage: %v", err)
	}

	if updated.Stats.MessageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", updated.Stats.MessageCount)
	}
	if !updated.LastActivity.Equal(later) {
		t.Fatalf("expected last_activity %s, got %s", later, updated.LastActivity)
	}
	if updated.Stats.FirstMessageAt == nil || !updated.Stats.FirstMessageAt.Equal(later) {
		t.Fatalf("expected first_message_at kept at %s, got %v", later, updated.Stats.FirstMessageAt)
	}
	if updated.LastMessageID == nil || *updated.LastMessageID != "m-earlier" {
		t.Fatalf("unexpected last_message_id %v", updated.LastMessageID)
	}
	if _, err := repo.UpdateLastMessage(ctx, testID("missing"), "m", base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListForParticipantOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	repo := NewConversationRepository(pool)

	me, other := testID("u"), testID("u")
	now := time.Now().UTC().Truncate(time.Microsecond)
	past := now.Add(-time.Hour)

	oldest := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationGroup, now.Add(-3*time.Minute), me, other))
	newest := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationDirect, now.Add(-time.Minute), me, other))
	archived := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationGroup, now, me, other))
	expiredConv := newTestConversation(models.ConversationSupport, now, me)
	expiredConv.ExpiresAt = &past
	expired := createTestConversation(t, ctx, repo, expiredConv)
	deleted := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationGroup, now, me))
	foreign := createTestConversation(t, ctx, repo, newTestConversation(models.ConversationGroup, now, other))
	t.Cleanup(func() {
		cleanupConversations(t, ctx, pool, oldest.ID, newest.ID, archived.ID, expired.ID, deleted.ID, foreign.ID)
	})

	archived.ArchivedAt = &now
	if err := repo.Save(ctx, archived); err != nil {
		t.Fatalf("Save archived: %v", err)
	}
	deleted.DeletedAt = &now
	if err := repo.Save(ctx, deleted); err != nil {
		t.Fatalf("Save deleted: %v", err)
	}

	ids := func(items []models.Conversation) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.ID)
		}
		return out
	}

	items, total, err := repo.ListForParticipant(ctx, ConversationListFilter{UserID: me, Now: now, Limit: 10})
	if err != nil {
		t.Fatalf("ListForParticipant: %v", err)
	}
	if total != 2 || len(items) != 2 || items[0].ID != newest.ID || items[1].ID != oldest.ID {
		t.Fatalf("expected [newest oldest], got total %d %v", total, ids(items))
	}

	items, total, err = repo.ListForParticipant(ctx, ConversationListFilter{UserID: me, Now: now, Limit: 10, IncludeArchived: true, IncludeExpired: true})
	if err != nil {
		t.Fatalf("ListForParticipant: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected archived and expired included, got %d %v", total, ids(items))
	}
	for _, item := range items {
		if item.ID == deleted.ID || item.ID == foreign.ID {
			t.Fatalf("unexpected conversation %s in listing", item.ID)
		}
	}

	items, total, err = repo.ListForParticipant(ctx, ConversationListFilter{UserID: me, Type: models.ConversationGroup, Now: now, Limit: 10})
	if err != nil {
		t.Fatalf("ListForParticipant: %v", err)
	}
	if total != 1 || items[0].ID != oldest.ID {
		t.Fatalf("expected only the active group, got %v", ids(items))
	}

	items, total, err = repo.ListForParticipant(ctx, ConversationListFilter{UserID: me, Now: now, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListForParticipant: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].ID != oldest.ID {
		t.Fatalf("expected second page [oldest], got total %d %v", total, ids(items))
	}
}

func TestMarkConversationReadAppendsOnce(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	conversations := NewConversationRepository(pool)
	messages := NewMessageRepository(pool)

	sender, reader := testID("u"), testID("u")
	base := time.Now().UTC().Truncate(time.Microsecond)
	conv := createTestConversation(t, ctx, conversations, newTestConversation(models.ConversationDirect, base, sender, reader))
	t.Cleanup(func() { cleanupConversations(t, ctx, pool, conv.ID) })

	first := createTestMessage(t, ctx, messages, conv.ID, sender, "one", base.Add(time.Second))
	createTestMessage(t, ctx, messages, conv.ID, sender, "two", base.Add(2*time.Second))
	createTestMessage(t, ctx, messages, conv.ID, sender, "three", base.Add(3*time.Second))
	createTestMessage(t, ctx, messages, conv.ID, reader, "own", base.Add(4*time.Second))
	removed := createTestMessage(t, ctx, messages, conv.ID, sender, "gone", base.Add(5*time.Second))

	removed.Deleted = models.DeleteInfo{IsDeleted: true}
	if err := messages.Save(ctx, removed); err != nil {
		t.Fatalf("Save deleted: %v", err)
	}
	if !first.MarkRead(reader, base.Add(10*time.Second)) {
		t.Fatal("expected first read recorded")
	}
	if err := messages.Save(ctx, first); err != nil {
		t.Fatalf("Save read: %v", err)
	}

	unread, err := messages.CountUnread(ctx, conv.ID, reader)
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if unread != 2 {
		t.Fatalf("expected 2 unread (own, deleted and read excluded), got %d", unread)
	}
	if counts, err := messages.CountUnreadByConversation(ctx, reader, []string{conv.ID}); err != nil || counts[conv.ID] != 2 {
		t.Fatalf("expected grouped unread 2, got %v (%v)", counts, err)
	}

	marked, err := messages.MarkConversationRead(ctx, conv.ID, reader, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if len(marked) != 2 {
		t.Fatalf("expected 2 messages marked, got %v", marked)
	}
	if unread, _ := messages.CountUnread(ctx, conv.ID, reader); unread != 0 {
		t.Fatalf("expected unread 0 after marking all read, got %d", unread)
	}

	again, err := messages.MarkConversationRead(ctx, conv.ID, reader, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected repeat mark-all to touch nothing, got %v", again)
	}

	page, _, err := messages.List(ctx, MessageListFilter{ConversationID: conv.ID, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, m := range page {
		if m.SentBy(reader) {
			continue
		}
		receipts := 0
		for _, receipt := range m.Delivery.ReadBy {
			if receipt.User == reader {
				receipts++
			}
		}
		if receipts != 1 {
			t.Fatalf("message %s has %d receipts for the reader", m.ID, receipts)
		}
		if m.ID == first.ID && !m.Delivery.ReadBy[0].At.Equal(base.Add(10*time.Second)) {
			t.Fatalf("expected original read time kept, got %s", m.Delivery.ReadBy[0].At)
		}
	}
}

func TestMessageSaveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	conversations := NewConversationRepository(pool)
	messages := NewMessageRepository(pool)

	sender := testID("u")
	now := time.Now().UTC()
	conv := createTestConversation(t, ctx, conversations, newTestConversation(models.ConversationDirect, now, sender, testID("u")))
	t.Cleanup(func() { cleanupConversations(t, ctx, pool, conv.ID) })
	created := createTestMessage(t, ctx, messages, conv.ID, sender, "hi", now)

	stale := *created
	created.React(sender, "👍", now)
	if err := messages.Save(ctx, created); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stale.React(sender, "🔥", now)
	if err := messages.Save(ctx, &stale); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	stored, err := messages.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(stored.Reactions) != 1 || stored.Reactions[0].Emoji != "👍" {
		t.Fatalf("expected first reaction kept, got %+v", stored.Reactions)
	}
	if text, ok := stored.Content.(models.TextContent); !ok || text.Text != "hi" {
		t.Fatalf("unexpected content %#v", stored.Content)
	}
}
