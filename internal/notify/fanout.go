package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// snippetLength caps the body excerpt included in notification payloads
const snippetLength = 200

// Payload is the sanitized summary delivered to each destination
type Payload struct {
	EmailID     int64  `json:"email_id"`
	AccountName string `json:"account_name"`
	Subject     string `json:"subject"`
	From        string `json:"from"`
	Category    string `json:"category"`
	Snippet     string `json:"snippet"`
	Link        string `json:"link"`
}

// Result reports how many destinations accepted a notification
type Result struct {
	Delivered int
	Failed    int
}

// Fanout delivers notifications to a set of independent webhook destinations
type Fanout struct {
	urls       []string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewFanout creates a fanout over the configured destination URLs
func NewFanout(urls []string, publicBaseURL string, timeout time.Duration, logger *logrus.Logger) *Fanout {
	return &Fanout{
		urls:    urls,
		baseURL: strings.TrimSuffix(publicBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Destinations returns the number of configured destinations
func (f *Fanout) Destinations() int {
	return len(f.urls)
}

// Notify delivers a summary of the record to every destination. Each
// delivery is independent; failures are counted, never returned.
func (f *Fanout) Notify(ctx context.Context, rec *types.EmailRecord) Result {
	if len(f.urls) == 0 {
		return Result{}
	}

	payload := f.buildPayload(rec)
	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.WithError(err).Error("Failed to marshal notification payload")
		return Result{Failed: len(f.urls)}
	}

	var (
		mu     sync.Mutex
		result Result
		wg     sync.WaitGroup
	)

	for _, url := range f.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := f.deliver(ctx, url, body)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				f.logger.WithError(err).WithFields(logrus.Fields{
					"url":      url,
					"email_id": rec.ID,
				}).Warn("Notification delivery failed")
			} else {
				result.Delivered++
			}
		}(url)
	}
	wg.Wait()

	f.logger.WithFields(logrus.Fields{
		"email_id":  rec.ID,
		"delivered": result.Delivered,
		"failed":    result.Failed,
	}).Info("Notification fanout completed")

	return result
}

// deliver posts the payload to one destination
func (f *Fanout) deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("destination rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("destination returned status %d", resp.StatusCode)
	}

	return nil
}

// buildPayload produces the sanitized summary for a record
func (f *Fanout) buildPayload(rec *types.EmailRecord) Payload {
	snippet := rec.BodyText
	if len(snippet) > snippetLength {
		snippet = truncate(snippet, snippetLength) + "..."
	}

	return Payload{
		EmailID:     rec.ID,
		AccountName: rec.AccountName,
		Subject:     rec.Subject,
		From:        rec.SenderEmail,
		Category:    string(rec.Category),
		Snippet:     snippet,
		Link:        fmt.Sprintf("%s/emails/%d", f.baseURL, rec.ID),
	}
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
