package store

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	index, err := NewIndex(filepath.Join(t.TempDir(), "index.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	s := NewStore(index, logger)

	_, err = s.UpsertAccount(&config.AccountConfig{
		Name:         "work",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPUsername: "alice@example.com",
	})
	require.NoError(t, err)

	return s
}

func testRecord(messageID string) *types.EmailRecord {
	return &types.EmailRecord{
		AccountName: "work",
		Folder:      "INBOX",
		MessageID:   messageID,
		Subject:     "Quarterly walrus report",
		SenderName:  "Bob",
		SenderEmail: "bob@example.com",
		To:          []string{"alice@example.com"},
		Cc:          []string{"carol@example.com"},
		Date:        time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		BodyText:    "The walrus population is thriving this quarter.",
		Category:    types.CategoryUncategorized,
	}
}

func TestExistsAndInsert(t *testing.T) {
	s := newTestStore(t)

	exists, err := s.Exists("msg-1@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	rec := testRecord("msg-1@example.com")
	id, err := s.InsertEmail(rec)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, id, rec.ID)
	assert.False(t, rec.IndexedAt.IsZero())

	exists, err = s.Exists("msg-1@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInsertRejectsDuplicateMessageID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertEmail(testRecord("dup@example.com"))
	require.NoError(t, err)

	_, err = s.InsertEmail(testRecord("dup@example.com"))
	require.Error(t, err)

	count, err := s.CountEmails()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertRequiresKnownAccount(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord("unknown-account@example.com")
	rec.AccountName = "missing"
	_, err := s.InsertEmail(rec)
	require.Error(t, err)
}

func TestGetEmailRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord("round-trip@example.com")
	rec.InReplyTo = "parent@example.com"
	rec.References = []string{"root@example.com", "parent@example.com"}
	id, err := s.InsertEmail(rec)
	require.NoError(t, err)

	got, err := s.GetEmail(id)
	require.NoError(t, err)

	assert.Equal(t, "work", got.AccountName)
	assert.Equal(t, "INBOX", got.Folder)
	assert.Equal(t, rec.MessageID, got.MessageID)
	assert.Equal(t, rec.Subject, got.Subject)
	assert.Equal(t, rec.To, got.To)
	assert.Equal(t, rec.Cc, got.Cc)
	assert.Equal(t, rec.References, got.References)
	assert.Equal(t, types.CategoryUncategorized, got.Category)
	assert.True(t, rec.Date.Equal(got.Date))

	_, err = s.GetEmail(99999)
	assert.Error(t, err)
}

func TestUpdateCategory(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertEmail(testRecord("categorize@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateCategory(id, types.CategoryInterested))

	got, err := s.GetEmail(id)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryInterested, got.Category)

	assert.Error(t, s.UpdateCategory(id, types.Category("Bogus")))
	assert.Error(t, s.UpdateCategory(99999, types.CategorySpam))
}

func TestUpdateFields(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertEmail(testRecord("patch@example.com"))
	require.NoError(t, err)

	err = s.UpdateFields(id, map[string]interface{}{
		"folder":  "Archive",
		"subject": "Updated subject",
	})
	require.NoError(t, err)

	got, err := s.GetEmail(id)
	require.NoError(t, err)
	assert.Equal(t, "Archive", got.Folder)
	assert.Equal(t, "Updated subject", got.Subject)

	assert.Error(t, s.UpdateFields(id, map[string]interface{}{"message_id": "nope"}))
	assert.NoError(t, s.UpdateFields(id, nil))
}

func TestAggregateByCategory(t *testing.T) {
	s := newTestStore(t)

	for i, category := range []types.Category{
		types.CategoryInterested,
		types.CategoryInterested,
		types.CategorySpam,
	} {
		rec := testRecord(string(rune('a'+i)) + "@example.com")
		id, err := s.InsertEmail(rec)
		require.NoError(t, err)
		require.NoError(t, s.UpdateCategory(id, category))
	}
	_, err := s.InsertEmail(testRecord("d@example.com"))
	require.NoError(t, err)

	counts, err := s.AggregateByCategory()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.CategoryInterested])
	assert.Equal(t, 1, counts[types.CategorySpam])
	assert.Equal(t, 1, counts[types.CategoryUncategorized])
}

func TestSearchFilters(t *testing.T) {
	s := newTestStore(t)

	interested := testRecord("interested@example.com")
	id, err := s.InsertEmail(interested)
	require.NoError(t, err)
	require.NoError(t, s.UpdateCategory(id, types.CategoryInterested))

	other := testRecord("other@example.com")
	other.Subject = "Lunch plans"
	other.SenderEmail = "dave@example.com"
	other.BodyText = "Pizza on Friday?"
	_, err = s.InsertEmail(other)
	require.NoError(t, err)

	category := types.CategoryInterested
	results, err := s.Search(SearchOptions{Category: &category})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.CategoryInterested, results[0].Category)

	sender := "dave"
	results, err = s.Search(SearchOptions{Sender: &sender})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Lunch plans", results[0].Subject)

	body := "walrus"
	results, err = s.Search(SearchOptions{Body: &body})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Snippet, "walrus")
}

func TestSearchFTS(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord("fts@example.com")
	_, err := s.InsertEmail(rec)
	require.NoError(t, err)

	results, err := s.SearchFTS("thriving", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.Subject, results[0].Subject)

	results, err = s.SearchFTS("nonexistentterm", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
