package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

const messageColumns = `
	id, conversation_id, sender_id, type, content, reply_to, mentions, sent_at,
	delivered_to, read_by, edited, deleted, reactions, pinned, version, created_at, updated_at
`

// unreadPredicate expects the conversation id as $1 and the reader as $2.
const unreadPredicate = `
	conversation_id = $1
	AND sender_id IS DISTINCT FROM $2
	AND is_deleted = FALSE
	AND NOT read_by @> jsonb_build_array(jsonb_build_object('user', $2::text))
`

type MessageListFilter struct {
	ConversationID string
	Before         *time.Time
	After          *time.Time
	Types          []models.MessageType
	IncludeDeleted bool
	IncludeSystem  bool
	Limit          int
	Offset         int
}

type MessageSearchFilter struct {
	ConversationID string
	Term           string
	SenderID       *string
	Types          []models.MessageType
	DateFrom       *time.Time
	DateTo         *time.Time
	Limit          int
	Offset         int
}

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

type messageDocs struct {
	content     string
	deliveredTo string
	readBy      string
	edited      string
	deleted     string
	reactions   string
	pinned      string
}

func encodeMessageDocs(m *models.Message) (messageDocs, error) {
	var docs messageDocs
	fields := []struct {
		dst *string
		src any
	}{
		{&docs.content, m.Content},
		{&docs.deliveredTo, nonNilReceipts(m.Delivery.DeliveredTo)},
		{&docs.readBy, nonNilReceipts(m.Delivery.ReadBy)},
		{&docs.edited, m.Edited},
		{&docs.deleted, m.Deleted},
		{&docs.reactions, nonNilReactions(m.Reactions)},
		{&docs.pinned, m.Pinned},
	}
	for _, f := range fields {
		encoded, err := json.Marshal(f.src)
		if err != nil {
			return messageDocs{}, fmt.Errorf("encode message document: %w", err)
		}
		*f.dst = string(encoded)
	}
	return docs, nil
}

func nonNilReceipts(r []models.Receipt) []models.Receipt {
	if r == nil {
		return []models.Receipt{}
	}
	return r
}

func nonNilReactions(r []models.Reaction) []models.Reaction {
	if r == nil {
		return []models.Reaction{}
	}
	return r
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var content, delivered, readBy, edited, deleted, reactions, pinned []byte
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Type,
		&content,
		&m.ReplyTo,
		&m.Mentions,
		&m.Delivery.SentAt,
		&delivered,
		&readBy,
		&edited,
		&deleted,
		&reactions,
		&pinned,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if m.Content, err = models.DecodeContent(m.Type, content); err != nil {
		return nil, err
	}
	if m.Edited, err = models.DecodeEditInfo(m.Type, edited); err != nil {
		return nil, err
	}
	docs := []struct {
		raw []byte
		dst any
	}{
		{delivered, &m.Delivery.DeliveredTo},
		{readBy, &m.Delivery.ReadBy},
		{deleted, &m.Deleted},
		{reactions, &m.Reactions},
		{pinned, &m.Pinned},
	}
	for _, d := range docs {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("decode message document: %w", err)
		}
	}
	if m.Mentions == nil {
		m.Mentions = []string{}
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	docs, err := encodeMessageDocs(m)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO messages (
			id, conversation_id, sender_id, type, content, reply_to, mentions, sent_at,
			delivered_to, read_by, edited, is_deleted, deleted, reactions, pinned, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $13, $14, $8, $8)
		RETURNING ` + messageColumns

	mentions := m.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	created, err := scanMessage(r.db.QueryRow(ctx, query,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.Type,
		docs.content,
		m.ReplyTo,
		mentions,
		m.Delivery.SentAt,
		docs.deliveredTo,
		docs.readBy,
		docs.edited,
		docs.deleted,
		docs.reactions,
		docs.pinned,
	))
	if err != nil {
		return uniqueViolation(err)
	}
	*m = *created
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (r *MessageRepository) GetMany(ctx context.Context, ids []string) (map[string]models.Message, error) {
	found := make(map[string]models.Message, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		found[m.ID] = m
	}
	return found, nil
}

// Save persists the mutable documents of a message, guarded by version.
func (r *MessageRepository) Save(ctx context.Context, m *models.Message) error {
	docs, err := encodeMessageDocs(m)
	if err != nil {
		return err
	}
	query := `
		UPDATE messages
		SET content = $3,
			delivered_to = $4,
			read_by = $5,
			edited = $6,
			is_deleted = $7,
			deleted = $8,
			reactions = $9,
			pinned = $10,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + messageColumns

	saved, err := scanMessage(r.db.QueryRow(ctx, query,
		m.ID,
		m.Version,
		docs.content,
		docs.deliveredTo,
		docs.readBy,
		docs.edited,
		m.Deleted.IsDeleted,
		docs.deleted,
		docs.reactions,
		docs.pinned,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleWrite
		}
		return err
	}
	*m = *saved
	return nil
}

// List pages newest first; callers reorder for display.
func (r *MessageRepository) List(ctx context.Context, filter MessageListFilter) ([]models.Message, int, error) {
	args := []any{filter.ConversationID}
	whereParts := []string{"conversation_id = $1"}

	if !filter.IncludeDeleted {
		whereParts = append(whereParts, "is_deleted = FALSE")
	}
	if !filter.IncludeSystem {
		whereParts = append(whereParts, "type <> 'system'")
	}
	if filter.Before != nil {
		args = append(args, *filter.Before)
		whereParts = append(whereParts, fmt.Sprintf("sent_at < $%d", len(args)))
	}
	if filter.After != nil {
		args = append(args, *filter.After)
		whereParts = append(whereParts, fmt.Sprintf("sent_at > $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		args = append(args, typeStrings(filter.Types))
		whereParts = append(whereParts, fmt.Sprintf("type = ANY($%d)", len(args)))
	}

	return r.page(ctx, whereParts, args, filter.Limit, filter.Offset)
}

func (r *MessageRepository) Search(ctx context.Context, filter MessageSearchFilter) ([]models.Message, int, error) {
	args := []any{filter.ConversationID}
	whereParts := []string{"conversation_id = $1", "is_deleted = FALSE"}

	if term := strings.TrimSpace(filter.Term); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		whereParts = append(whereParts, fmt.Sprintf("type = 'text' AND content->>'text' ILIKE $%d", len(args)))
	}
	if filter.SenderID != nil {
		args = append(args, *filter.SenderID)
		whereParts = append(whereParts, fmt.Sprintf("sender_id = $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		args = append(args, typeStrings(filter.Types))
		whereParts = append(whereParts, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		whereParts = append(whereParts, fmt.Sprintf("sent_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		whereParts = append(whereParts, fmt.Sprintf("sent_at <= $%d", len(args)))
	}

	return r.page(ctx, whereParts, args, filter.Limit, filter.Offset)
}

func (r *MessageRepository) page(
	ctx context.Context,
	whereParts []string,
	args []any,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	where := strings.Join(whereParts, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE %s
		ORDER BY sent_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, messageColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MarkConversationRead appends a read receipt for readerID to every unread
// message in one statement and returns the ids it touched.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID string,
	readerID string,
	at time.Time,
) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE messages
		SET read_by = read_by || jsonb_build_array(jsonb_build_object('user', $2::text, 'at', $3::timestamptz)),
			version = version + 1,
			updated_at = NOW()
		WHERE `+unreadPredicate+`
		RETURNING id
	`, conversationID, readerID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+unreadPredicate, conversationID, userID).Scan(&count)
	return count, err
}

func (r *MessageRepository) CountUnreadByConversation(
	ctx context.Context,
	userID string,
	conversationIDs []string,
) (map[string]int, error) {
	counts := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE conversation_id = ANY($1)
		  AND sender_id IS DISTINCT FROM $2
		  AND is_deleted = FALSE
		  AND NOT read_by @> jsonb_build_array(jsonb_build_object('user', $2::text))
		GROUP BY conversation_id
	`, conversationIDs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func typeStrings(types []models.MessageType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
