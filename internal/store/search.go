package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// SearchOptions contains search parameters
type SearchOptions struct {
	AccountID *int
	Folder    *string
	Sender    *string
	Recipient *string
	Subject   *string
	Body      *string
	Category  *types.Category
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

// Search performs a filtered search on indexed emails
func (s *Store) Search(opts SearchOptions) ([]types.EmailSummary, error) {
	var conditions []string
	var args []interface{}

	// Build WHERE clause
	if opts.AccountID != nil {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, *opts.AccountID)
	}

	if opts.Folder != nil {
		conditions = append(conditions, "e.folder = ?")
		args = append(args, *opts.Folder)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "(e.sender_email LIKE ? OR e.sender_name LIKE ?)")
		searchTerm := "%" + *opts.Sender + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "e.recipients LIKE ?")
		args = append(args, "%"+*opts.Recipient+"%")
	}

	if opts.Subject != nil {
		conditions = append(conditions, "e.subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Category != nil {
		conditions = append(conditions, "e.category = ?")
		args = append(args, string(*opts.Category))
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "e.date >= ?")
		args = append(args, opts.DateFrom.UTC().Format(time.RFC3339))
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "e.date <= ?")
		args = append(args, opts.DateTo.UTC().Format(time.RFC3339))
	}

	// Full-text search on body
	if opts.Body != nil {
		conditions = append(conditions, "e.id IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?)")
		args = append(args, escapeFTSQuery(*opts.Body))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT e.id, a.name, e.folder, e.subject, e.sender_name, e.sender_email, e.category, e.date, e.body_text
		FROM emails e
		JOIN accounts a ON e.account_id = a.id
		%s
		ORDER BY e.date DESC
		LIMIT ?
	`, whereClause)

	args = append(args, clampLimit(opts.Limit))

	rows, err := s.index.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// SearchFTS performs a full-text search across subject, sender and body
func (s *Store) SearchFTS(query string, accountID *int, limit int) ([]types.EmailSummary, error) {
	var conditions []string
	var args []interface{}

	conditions = append(conditions, "e.id IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?)")
	args = append(args, escapeFTSQuery(query))

	if accountID != nil {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, *accountID)
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	sqlQuery := fmt.Sprintf(`
		SELECT e.id, a.name, e.folder, e.subject, e.sender_name, e.sender_email, e.category, e.date, e.body_text
		FROM emails e
		JOIN accounts a ON e.account_id = a.id
		%s
		ORDER BY e.date DESC
		LIMIT ?
	`, whereClause)

	args = append(args, clampLimit(limit))

	rows, err := s.index.DB().Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform FTS search: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// scanSummaries reads search result rows into summaries
func scanSummaries(rows *sql.Rows) ([]types.EmailSummary, error) {
	var results []types.EmailSummary
	for rows.Next() {
		var summary types.EmailSummary
		var category, dateStr string
		var bodyText sql.NullString

		err := rows.Scan(
			&summary.ID,
			&summary.AccountName,
			&summary.Folder,
			&summary.Subject,
			&summary.SenderName,
			&summary.SenderEmail,
			&category,
			&dateStr,
			&bodyText,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}

		summary.Category = types.Category(category)
		summary.Date = parseStoredTime(dateStr)

		// Create snippet from body
		if bodyText.Valid && len(bodyText.String) > 0 {
			snippet := bodyText.String
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			summary.Snippet = snippet
		}

		results = append(results, summary)
	}

	return results, rows.Err()
}

// escapeFTSQuery escapes special characters for FTS5
func escapeFTSQuery(query string) string {
	query = strings.ReplaceAll(query, "\"", "\"\"")
	return strings.ReplaceAll(query, "'", "''")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
