package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fundihub/fundichat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// rowKey prefers the server id; optimistic copies are keyed by client id
// until the echo arrives.
func rowKey(m domain.Message) string {
	if m.ID != "" {
		return "id:" + m.ID
	}

	return "local:" + m.ClientID
}

// Upsert stores m, folding it into any cached copy with the same id or
// client id. Read sets are merged and delivery status never regresses.
func (r *MessageRepo) Upsert(ctx context.Context, m domain.Message) error {
	if m.ID == "" && m.ClientID == "" {
		return fmt.Errorf("upsert message: message has neither id nor client id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert message tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	merged := m.Normalize()
	existing, err := findMessage(ctx, tx, m)
	if err != nil {
		return err
	}
	for _, prev := range existing {
		merged = prev.msg.Merge(merged)
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE row_key = ?`, prev.key); err != nil {
			return fmt.Errorf("drop superseded message row: %w", err)
		}
	}

	readBy, err := encodeJSON(merged.ReadBy.Slice())
	if err != nil {
		return err
	}
	file, err := encodeJSON(toFileRecord(merged.File))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages(row_key, id, client_id, conversation_id, sender_id, content, kind, at, read_by_json, file_json, status)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rowKey(merged), nullableString(merged.ID), nullableString(merged.ClientID), merged.ConversationID,
		merged.SenderID, merged.Content, string(merged.Kind), toUnixMillis(merged.Timestamp), readBy, file, int(merged.Status)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert message tx: %w", err)
	}

	return nil
}

// AddReader grows the cached read set. Unknown messages are ignored; the
// receipt will be folded in when the message itself is cached.
func (r *MessageRepo) AddReader(ctx context.Context, conversationID, messageID, userID string) error {
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	if messageID == "" || userID == "" {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add reader tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT read_by_json FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID, messageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load read set: %w", err)
	}

	var ids []string
	if err := decodeJSON(raw, &ids); err != nil {
		return err
	}
	set := domain.NewReadSet(ids...)
	if !set.Add(userID) {
		return nil
	}
	encoded, err := encodeJSON(set.Slice())
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET read_by_json = ? WHERE conversation_id = ? AND id = ?
	`, encoded, conversationID, messageID); err != nil {
		return fmt.Errorf("update read set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add reader tx: %w", err)
	}

	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, conversationID, messageID string) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

// ListRecentByConversation returns up to limit newest messages, oldest first.
func (r *MessageRepo) ListRecentByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, conversation_id, sender_id, content, kind, at, read_by_json, file_json, status
		FROM messages
		WHERE conversation_id = ?
		ORDER BY at DESC, row_key DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages by conversation: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages by conversation: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (r *MessageRepo) LoadRecentPerConversation(ctx context.Context, limit int) (map[string][]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()

		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}
	_ = rows.Close()

	result := make(map[string][]domain.Message, len(ids))
	for _, id := range ids {
		msgs, err := r.ListRecentByConversation(ctx, id, limit)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			result[id] = msgs
		}
	}

	return result, nil
}

// Search does a case-insensitive substring match over cached message text.
func (r *MessageRepo) Search(ctx context.Context, conversationID, query string, limit int) ([]domain.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, conversation_id, sender_id, content, kind, at, read_by_json, file_json, status
		FROM messages
		WHERE conversation_id = ? AND lower(content) LIKE ? ESCAPE '\'
		ORDER BY at DESC
		LIMIT ?
	`, conversationID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	return out, nil
}

type storedMessage struct {
	key string
	msg domain.Message
}

func findMessage(ctx context.Context, tx *sql.Tx, m domain.Message) ([]storedMessage, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT row_key, id, client_id, conversation_id, sender_id, content, kind, at, read_by_json, file_json, status
		FROM messages
		WHERE (? != '' AND id = ?) OR (? != '' AND client_id = ?)
	`, m.ID, m.ID, m.ClientID, m.ClientID)
	if err != nil {
		return nil, fmt.Errorf("find cached message: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []storedMessage
	for rows.Next() {
		var key string
		msg, err := scanMessage(rows, &key)
		if err != nil {
			return nil, err
		}
		out = append(out, storedMessage{key: key, msg: msg})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}

	return out, nil
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}, prefix ...any) (domain.Message, error) {
	var (
		m        domain.Message
		id       sql.NullString
		clientID sql.NullString
		kind     string
		atMs     int64
		readBy   sql.NullString
		file     sql.NullString
		status   int
	)
	dest := append(prefix, &id, &clientID, &m.ConversationID, &m.SenderID, &m.Content, &kind, &atMs, &readBy, &file, &status)
	if err := scanner.Scan(dest...); err != nil {
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ID = id.String
	m.ClientID = clientID.String
	m.Kind = domain.MessageKind(kind)
	m.Timestamp = fromUnixMillis(atMs)
	m.Status = domain.DeliveryStatus(status)

	var ids []string
	if err := decodeJSON(readBy, &ids); err != nil {
		return domain.Message{}, err
	}
	m.ReadBy = domain.NewReadSet(ids...)

	var rec *fileRecord
	if err := decodeJSON(file, &rec); err != nil {
		return domain.Message{}, err
	}
	m.File = rec.toDomain()

	return m.Normalize(), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(s)
}
