package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// Store provides methods for storing and retrieving records from the index
type Store struct {
	index  *Index
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(index *Index, logger *logrus.Logger) *Store {
	return &Store{
		index:  index,
		logger: logger,
	}
}

// UpsertAccount upserts an account in the index
func (s *Store) UpsertAccount(acc *config.AccountConfig) (int, error) {
	query := `
		INSERT INTO accounts (name, imap_host, imap_port, imap_username, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			updated_at = CURRENT_TIMESTAMP
	`
	result, err := s.index.DB().Exec(query, acc.Name, acc.IMAPHost, acc.IMAPPort, acc.IMAPUsername)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		// If insert failed, try to get existing ID
		var accountID int
		err := s.index.DB().QueryRow("SELECT id FROM accounts WHERE name = ?", acc.Name).Scan(&accountID)
		if err != nil {
			return 0, fmt.Errorf("failed to get account ID: %w", err)
		}
		return accountID, nil
	}

	return int(id), nil
}

// GetAccountID returns the account ID by name
func (s *Store) GetAccountID(name string) (int, error) {
	var id int
	err := s.index.DB().QueryRow("SELECT id FROM accounts WHERE name = ?", name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account not found: %s", name)
	}
	return id, nil
}

// Exists reports whether a record with the given message ID is already indexed
func (s *Store) Exists(messageID string) (bool, error) {
	var count int
	err := s.index.DB().QueryRow("SELECT COUNT(*) FROM emails WHERE message_id = ?", messageID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return count > 0, nil
}

// InsertEmail inserts a new email record and returns its generated ID
func (s *Store) InsertEmail(rec *types.EmailRecord) (int64, error) {
	recipientsJSON, err := json.Marshal(rec.To)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal recipients: %w", err)
	}
	ccJSON, err := json.Marshal(rec.Cc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal cc: %w", err)
	}
	referencesJSON, err := json.Marshal(rec.References)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal references: %w", err)
	}

	category := rec.Category
	if !category.Valid() {
		category = types.CategoryUncategorized
	}

	indexedAt := time.Now().UTC()

	query := `
		INSERT INTO emails (account_id, folder, message_id, subject, sender_name, sender_email, recipients, cc, date, body_text, body_html, in_reply_to, reference_ids, category, indexed_at)
		VALUES ((SELECT id FROM accounts WHERE name = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.index.DB().Exec(query,
		rec.AccountName,
		rec.Folder,
		rec.MessageID,
		rec.Subject,
		rec.SenderName,
		rec.SenderEmail,
		string(recipientsJSON),
		string(ccJSON),
		rec.Date.UTC().Format(time.RFC3339),
		rec.BodyText,
		rec.BodyHTML,
		rec.InReplyTo,
		string(referencesJSON),
		string(category),
		indexedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert email: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted email ID: %w", err)
	}

	rec.ID = id
	rec.Category = category
	rec.IndexedAt = indexedAt
	return id, nil
}

// UpdateCategory updates the category of an indexed email
func (s *Store) UpdateCategory(id int64, category types.Category) error {
	if !category.Valid() {
		return fmt.Errorf("invalid category: %s", category)
	}

	result, err := s.index.DB().Exec("UPDATE emails SET category = ? WHERE id = ?", string(category), id)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("email not found: %d", id)
	}

	return nil
}

// updatableColumns lists the email columns UpdateFields is allowed to touch
var updatableColumns = map[string]bool{
	"subject":     true,
	"body_text":   true,
	"body_html":   true,
	"folder":      true,
	"category":    true,
	"in_reply_to": true,
}

// UpdateFields applies a partial update to an indexed email
func (s *Store) UpdateFields(id int64, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}

	var sets []string
	var args []interface{}
	for column, value := range patch {
		if !updatableColumns[column] {
			return fmt.Errorf("field not updatable: %s", column)
		}
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE emails SET %s WHERE id = ?", strings.Join(sets, ", "))
	result, err := s.index.DB().Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update email: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("email not found: %d", id)
	}

	return nil
}

// GetEmail retrieves an email record by ID
func (s *Store) GetEmail(id int64) (*types.EmailRecord, error) {
	query := `
		SELECT e.id, a.name, e.folder, e.message_id, e.subject, e.sender_name, e.sender_email, e.recipients, e.cc, e.date, e.body_text, e.body_html, e.in_reply_to, e.reference_ids, e.category, e.indexed_at
		FROM emails e
		JOIN accounts a ON e.account_id = a.id
		WHERE e.id = ?
	`
	var rec types.EmailRecord
	var recipientsJSON, ccJSON, referencesJSON string
	var category, dateStr, indexedAtStr string

	err := s.index.DB().QueryRow(query, id).Scan(
		&rec.ID,
		&rec.AccountName,
		&rec.Folder,
		&rec.MessageID,
		&rec.Subject,
		&rec.SenderName,
		&rec.SenderEmail,
		&recipientsJSON,
		&ccJSON,
		&dateStr,
		&rec.BodyText,
		&rec.BodyHTML,
		&rec.InReplyTo,
		&referencesJSON,
		&category,
		&indexedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("email not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	rec.Category = types.Category(category)
	rec.Date = parseStoredTime(dateStr)
	rec.IndexedAt = parseStoredTime(indexedAtStr)

	if err := json.Unmarshal([]byte(recipientsJSON), &rec.To); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(ccJSON), &rec.Cc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cc: %w", err)
	}
	if err := json.Unmarshal([]byte(referencesJSON), &rec.References); err != nil {
		return nil, fmt.Errorf("failed to unmarshal references: %w", err)
	}

	return &rec, nil
}

// AggregateByCategory returns indexed email counts grouped by category
func (s *Store) AggregateByCategory() (map[types.Category]int, error) {
	rows, err := s.index.DB().Query("SELECT category, COUNT(*) FROM emails GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Category]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		counts[types.Category(category)] = count
	}

	return counts, rows.Err()
}

// CountEmails returns the total number of indexed emails
func (s *Store) CountEmails() (int, error) {
	var count int
	err := s.index.DB().QueryRow("SELECT COUNT(*) FROM emails").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return count, nil
}

// parseStoredTime parses a stored timestamp, tolerating both driver formats
func parseStoredTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return t
	}
	return time.Time{}
}
