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

const conversationColumns = `
	id, type, participants, title, last_message_id, last_activity,
	message_count, first_message_at, last_message_at,
	archived_at, deleted_at, expires_at, details, version, created_at, updated_at
`

// conversationDetails is the JSONB document held next to the indexed columns.
type conversationDetails struct {
	Description          string                      `json:"description,omitempty"`
	Image                string                      `json:"image,omitempty"`
	Metadata             models.ConversationMetadata `json:"metadata"`
	NotificationSettings models.NotificationSettings `json:"notification_settings"`
	PrivacySettings      models.PrivacySettings      `json:"privacy_settings"`
	Tags                 []string                    `json:"tags"`
}

type ConversationListFilter struct {
	UserID          string
	Type            models.ConversationType
	IncludeArchived bool
	IncludeExpired  bool
	Now             time.Time
	Limit           int
	Offset          int
}

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func encodeDetails(c *models.Conversation) (string, error) {
	encoded, err := json.Marshal(conversationDetails{
		Description:          c.Description,
		Image:                c.Image,
		Metadata:             c.Metadata,
		NotificationSettings: c.NotificationSettings,
		PrivacySettings:      c.PrivacySettings,
		Tags:                 c.Tags,
	})
	if err != nil {
		return "", fmt.Errorf("encode conversation details: %w", err)
	}
	return string(encoded), nil
}

func directKey(c *models.Conversation) *string {
	if c.Type != models.ConversationDirect || len(c.Participants) != 2 {
		return nil
	}
	key := models.DirectKey(c.Participants[0], c.Participants[1])
	return &key
}

func orderID(c *models.Conversation) *string {
	if c.Type != models.ConversationOrder || c.Metadata.Order == nil {
		return nil
	}
	id := c.Metadata.Order.OrderID
	return &id
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var (
		c       models.Conversation
		details []byte
	)
	err := row.Scan(
		&c.ID,
		&c.Type,
		&c.Participants,
		&c.Title,
		&c.LastMessageID,
		&c.LastActivity,
		&c.Stats.MessageCount,
		&c.Stats.FirstMessageAt,
		&c.Stats.LastMessageAt,
		&c.ArchivedAt,
		&c.DeletedAt,
		&c.ExpiresAt,
		&details,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var d conversationDetails
	if len(details) > 0 {
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("decode conversation details: %w", err)
		}
	}
	c.Description = d.Description
	c.Image = d.Image
	c.Metadata = d.Metadata
	c.NotificationSettings = d.NotificationSettings
	c.PrivacySettings = d.PrivacySettings
	c.Tags = d.Tags
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.Stats.ParticipantCount = len(c.Participants)
	return &c, nil
}

func (r *ConversationRepository) insertArgs(c *models.Conversation) ([]any, error) {
	details, err := encodeDetails(c)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID,
		c.Type,
		c.Participants,
		directKey(c),
		orderID(c),
		c.Title,
		c.LastActivity,
		c.ExpiresAt,
		details,
		c.CreatedAt,
	}, nil
}

// CreateOrGetDirect relies on the direct_key unique constraint so two
// concurrent callers end up with the same row.
func (r *ConversationRepository) CreateOrGetDirect(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	args, err := r.insertArgs(c)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO conversations (id, type, participants, direct_key, order_id, title, last_activity, expires_at, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (direct_key)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING ` + conversationColumns

	return scanConversation(r.db.QueryRow(ctx, query, args...))
}

func (r *ConversationRepository) Create(ctx context.Context, c *models.Conversation) error {
	args, err := r.insertArgs(c)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO conversations (id, type, participants, direct_key, order_id, title, last_activity, expires_at, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + conversationColumns

	created, err := scanConversation(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return uniqueViolation(err)
	}
	*c = *created
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	c, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByIDForParticipant(ctx context.Context, id, userID string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 AND $2 = ANY(participants)`
	c, err := scanConversation(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE order_id = $1`
	c, err := scanConversation(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByJoinCode(ctx context.Context, code string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE type = 'group' AND details->'metadata'->'group'->>'join_code' = $1 AND deleted_at IS NULL`
	c, err := scanConversation(r.db.QueryRow(ctx, query, code))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// Save writes the document fields guarded by the version the caller read.
// Stats columns are owned by UpdateLastMessage and are not touched here.
func (r *ConversationRepository) Save(ctx context.Context, c *models.Conversation) error {
	details, err := encodeDetails(c)
	if err != nil {
		return err
	}
	query := `
		UPDATE conversations
		SET participants = $3,
			title = $4,
			archived_at = $5,
			deleted_at = $6,
			expires_at = $7,
			details = $8,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + conversationColumns

	saved, err := scanConversation(r.db.QueryRow(ctx, query,
		c.ID,
		c.Version,
		c.Participants,
		c.Title,
		c.ArchivedAt,
		c.DeletedAt,
		c.ExpiresAt,
		details,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleWrite
		}
		return err
	}
	*c = *saved
	return nil
}

func (r *ConversationRepository) UpdateLastMessage(
	ctx context.Context,
	id string,
	messageID string,
	at time.Time,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET last_message_id = $2,
			last_activity = GREATEST(last_activity, $3),
			message_count = message_count + 1,
			first_message_at = COALESCE(first_message_at, $3),
			last_message_at = $3,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + conversationColumns

	c, err := scanConversation(r.db.QueryRow(ctx, query, id, messageID, at))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	filter ConversationListFilter,
) ([]models.Conversation, int, error) {
	args := []any{filter.UserID}
	whereParts := []string{"$1 = ANY(participants)", "deleted_at IS NULL"}

	if filter.Type != "" {
		args = append(args, filter.Type)
		whereParts = append(whereParts, fmt.Sprintf("type = $%d", len(args)))
	}
	if !filter.IncludeArchived {
		whereParts = append(whereParts, "archived_at IS NULL")
	}
	if !filter.IncludeExpired {
		args = append(args, filter.Now)
		whereParts = append(whereParts, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", len(args)))
	}
	where := strings.Join(whereParts, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM conversations
		WHERE %s
		ORDER BY last_activity DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, conversationColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return conversations, total, nil
}

// RecountStats rebuilds message_count from the messages table. It returns
// the number of conversations whose stored count had drifted.
func (r *ConversationRepository) RecountStats(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations c
		SET message_count = counted.total,
			updated_at = NOW()
		FROM (
			SELECT cv.id, COUNT(m.id)::int AS total
			FROM conversations cv
			LEFT JOIN messages m ON m.conversation_id = cv.id
			GROUP BY cv.id
		) counted
		WHERE counted.id = c.id AND c.message_count <> counted.total
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
