package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fundihub/fundichat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Upsert stores c. updated_at never moves backwards and an existing last
// message is kept when c carries none.
func (r *ConversationRepo) Upsert(ctx context.Context, c domain.Conversation) error {
	participants, err := encodeJSON(domain.NormalizeParticipants(c.ParticipantIDs))
	if err != nil {
		return err
	}
	if participants == nil {
		participants = "[]"
	}
	metadata, err := encodeJSON(c.Metadata)
	if err != nil {
		return err
	}
	var last any
	if c.LastMessage != nil {
		if last, err = encodeJSON(toMessageRecord(*c.LastMessage)); err != nil {
			return err
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations(id, kind, participants_json, metadata_json, last_message_json, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE conversations.kind END,
			participants_json = CASE
				WHEN excluded.participants_json != '[]' THEN excluded.participants_json
				ELSE conversations.participants_json
			END,
			metadata_json = COALESCE(excluded.metadata_json, conversations.metadata_json),
			last_message_json = COALESCE(excluded.last_message_json, conversations.last_message_json),
			updated_at = CASE
				WHEN excluded.updated_at > conversations.updated_at THEN excluded.updated_at
				ELSE conversations.updated_at
			END
	`, c.ID, string(c.Kind), participants, metadata, last, toUnixMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	return nil
}

func (r *ConversationRepo) ListRecent(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, participants_json, metadata_json, last_message_json, updated_at
		FROM conversations
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]domain.Conversation, 0)
	for rows.Next() {
		var (
			c            domain.Conversation
			kind         string
			participants sql.NullString
			metadata     sql.NullString
			last         sql.NullString
			updatedMs    int64
		)
		if err := rows.Scan(&c.ID, &kind, &participants, &metadata, &last, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.Kind = domain.ConversationKind(kind)
		c.UpdatedAt = fromUnixMillis(updatedMs)
		if err := decodeJSON(participants, &c.ParticipantIDs); err != nil {
			return nil, err
		}
		if err := decodeJSON(metadata, &c.Metadata); err != nil {
			return nil, err
		}
		if last.Valid {
			var rec messageRecord
			if err := decodeJSON(last, &rec); err != nil {
				return nil, err
			}
			msg := rec.toDomain()
			c.LastMessage = &msg
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return out, nil
}
