package storage

import (
	"fmt"
	"time"

	"telegram-audio-bot/models"
)

// ErrorStore keeps jobs that exhausted their retry budget, keyed by
// (chat_id, message_id), so an explicit /retry can replay them. The
// delivery worker is the only writer.
type ErrorStore struct {
	db *Database
}

func NewErrorStore(db *Database) *ErrorStore {
	return &ErrorStore{db: db}
}

// Put records one terminal failure. A second failure on the same
// placeholder overwrites the first; only the latest reason matters for
// replay.
func (s *ErrorStore) Put(record *models.ErrorRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO error_records (chat_id, message_id, url, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.DB().Exec(query, record.ChatID, record.MessageID, record.URL, record.Reason, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store error record: %w", err)
	}
	return nil
}

// ListByChat returns all outstanding failures for one chat, oldest first.
func (s *ErrorStore) ListByChat(chatID int64) ([]*models.ErrorRecord, error) {
	query := `
		SELECT chat_id, message_id, url, reason, created_at
		FROM error_records WHERE chat_id = ? ORDER BY created_at ASC
	`
	rows, err := s.db.DB().Query(query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query error records: %w", err)
	}
	defer rows.Close()

	var records []*models.ErrorRecord
	for rows.Next() {
		record := &models.ErrorRecord{}
		if err := rows.Scan(&record.ChatID, &record.MessageID, &record.URL, &record.Reason, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// Delete removes a record, typically after a successful replay enqueue.
func (s *ErrorStore) Delete(chatID int64, messageID int) error {
	_, err := s.db.DB().Exec(`DELETE FROM error_records WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete error record: %w", err)
	}
	return nil
}
