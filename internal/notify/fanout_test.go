package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func interestedRecord() *types.EmailRecord {
	return &types.EmailRecord{
		ID:          42,
		AccountName: "work",
		Subject:     "Demo request",
		SenderEmail: "buyer@example.com",
		BodyText:    "We would love to see a demo next week.",
		Category:    types.CategoryInterested,
	}
}

func TestNotifyDeliversToAllDestinations(t *testing.T) {
	var hits atomic.Int32
	var gotPayload Payload

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer second.Close()

	f := NewFanout([]string{first.URL, second.URL}, "https://mail.example.com/", time.Second, testLogger())
	result := f.Notify(context.Background(), interestedRecord())

	assert.Equal(t, Result{Delivered: 2}, result)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int64(42), gotPayload.EmailID)
	assert.Equal(t, "Demo request", gotPayload.Subject)
	assert.Equal(t, "buyer@example.com", gotPayload.From)
	assert.Equal(t, "https://mail.example.com/emails/42", gotPayload.Link)
}

func TestNotifyRateLimitedDestinationDoesNotBlockOthers(t *testing.T) {
	var delivered atomic.Int32

	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	}))
	defer healthy.Close()

	f := NewFanout([]string{limited.URL, healthy.URL}, "https://mail.example.com", time.Second, testLogger())
	result := f.Notify(context.Background(), interestedRecord())

	assert.Equal(t, Result{Delivered: 1, Failed: 1}, result)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestNotifyUnreachableDestination(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	f := NewFanout([]string{dead.URL}, "https://mail.example.com", time.Second, testLogger())
	result := f.Notify(context.Background(), interestedRecord())

	assert.Equal(t, Result{Failed: 1}, result)
}

func TestNotifyNoDestinations(t *testing.T) {
	f := NewFanout(nil, "https://mail.example.com", time.Second, testLogger())
	result := f.Notify(context.Background(), interestedRecord())

	assert.Equal(t, Result{}, result)
	assert.Equal(t, 0, f.Destinations())
}

func TestNotifyTruncatesSnippet(t *testing.T) {
	var gotPayload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
	}))
	defer srv.Close()

	rec := interestedRecord()
	for len(rec.BodyText) <= snippetLength {
		rec.BodyText += rec.BodyText
	}

	f := NewFanout([]string{srv.URL}, "https://mail.example.com", time.Second, testLogger())
	result := f.Notify(context.Background(), rec)

	assert.Equal(t, Result{Delivered: 1}, result)
	assert.LessOrEqual(t, len(gotPayload.Snippet), snippetLength+3)
}

func TestNotifySnippetKeepsRuneBoundary(t *testing.T) {
	var gotPayload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
	}))
	defer srv.Close()

	rec := interestedRecord()
	// Place a multibyte rune straddling the snippet cap.
	rec.BodyText = strings.Repeat("x", snippetLength-1) + strings.Repeat("ü", 20)

	f := NewFanout([]string{srv.URL}, "https://mail.example.com", time.Second, testLogger())
	result := f.Notify(context.Background(), rec)

	assert.Equal(t, Result{Delivered: 1}, result)
	assert.True(t, utf8.ValidString(gotPayload.Snippet))
	assert.NotContains(t, gotPayload.Snippet, "�")
	assert.True(t, strings.HasSuffix(gotPayload.Snippet, "..."))
}
