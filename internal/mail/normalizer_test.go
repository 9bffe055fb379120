package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(headers map[string]string, body string) []byte {
	var b strings.Builder
	for key, value := range headers {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func TestNormalizePlainText(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":         "Bob Example <bob@example.com>",
		"To":           "Alice <alice@example.com>, carol@example.com",
		"Cc":           "dave@example.com",
		"Subject":      "Quarterly review",
		"Message-Id":   "<abc123@example.com>",
		"Date":         "Mon, 02 Jun 2025 15:04:05 -0700",
		"Content-Type": "text/plain; charset=utf-8",
	}, "Let's meet on Thursday.")

	rec, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)

	assert.Equal(t, "work", rec.AccountName)
	assert.Equal(t, "INBOX", rec.Folder)
	assert.Equal(t, "Quarterly review", rec.Subject)
	assert.Equal(t, "abc123@example.com", rec.MessageID)
	assert.Equal(t, "bob@example.com", rec.SenderEmail)
	assert.Equal(t, "Bob Example", rec.SenderName)
	assert.Equal(t, []string{"alice@example.com", "carol@example.com"}, rec.To)
	assert.Equal(t, []string{"dave@example.com"}, rec.Cc)
	assert.Contains(t, rec.BodyText, "Let's meet on Thursday.")
	assert.Empty(t, rec.BodyHTML)

	want := time.Date(2025, 6, 2, 15, 4, 5, 0, time.FixedZone("", -7*3600))
	assert.True(t, want.Equal(rec.Date))
}

func TestNormalizeHTMLBody(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":         "bob@example.com",
		"Subject":      "Newsletter",
		"Message-Id":   "<html-msg@example.com>",
		"Content-Type": "text/html; charset=utf-8",
	}, `<html><body><p>Big <b>news</b> this week!</p><a href="https://example.com">Read more</a></body></html>`)

	rec, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)

	assert.Contains(t, rec.BodyText, "Big news this week!")
	assert.NotContains(t, rec.BodyText, "<p>")
	assert.NotEmpty(t, rec.BodyHTML)
}

func TestNormalizeMissingSubject(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":       "bob@example.com",
		"Message-Id": "<nosubject@example.com>",
	}, "body")

	rec, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, rec.Subject)
}

func TestNormalizeMissingMessageIDGeneratesFallback(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":    "bob@example.com",
		"Subject": "No identifier",
	}, "body")

	first, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)
	second, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)

	assert.NotEmpty(t, first.MessageID)
	assert.NotEmpty(t, second.MessageID)
	// Generated identifiers never collide, so the message is always novel.
	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestNormalizeMalformedAddressesDropped(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":       "bob@example.com",
		"To":         "not an address at all,,",
		"Subject":    "Bad recipients",
		"Message-Id": "<badaddr@example.com>",
	}, "body")

	rec, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)
	assert.Empty(t, rec.To)
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "id@example.com", NormalizeMessageID(" <id@example.com> "))
	assert.Equal(t, "id@example.com", NormalizeMessageID("id@example.com"))

	generated := NormalizeMessageID("")
	assert.NotEmpty(t, generated)
	generatedAgain := NormalizeMessageID("   ")
	assert.NotEmpty(t, generatedAgain)
	assert.NotEqual(t, generated, generatedAgain)
}

func TestSplitReferences(t *testing.T) {
	refs := splitReferences("<root@example.com> <reply@example.com>")
	assert.Equal(t, []string{"root@example.com", "reply@example.com"}, refs)

	assert.Empty(t, splitReferences(""))
}

func TestNormalizeThreadingHeaders(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":        "bob@example.com",
		"Subject":     "Re: thread",
		"Message-Id":  "<child@example.com>",
		"In-Reply-To": "<parent@example.com>",
		"References":  "<root@example.com> <parent@example.com>",
	}, "reply body")

	rec, err := Normalize(raw, "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "parent@example.com", rec.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "parent@example.com"}, rec.References)
}
