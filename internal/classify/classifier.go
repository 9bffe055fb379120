package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// maxBodyChars caps how much body text is sent for classification
const maxBodyChars = 4000

const systemPrompt = `You are an email classifier. Classify the email into exactly one of these categories:
Interested, Meeting Booked, Not Interested, Spam, Out of Office, Uncategorized.
Respond with the category name only.`

// Classifier assigns a category to an email. Implementations must always
// return a valid category and never an error; failures degrade to
// Uncategorized.
type Classifier interface {
	Classify(ctx context.Context, subject, body, from string) types.Category
}

// Client classifies emails via an OpenAI-compatible chat completions API
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new classification client
func NewClient(apiKey, model, baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// chatMessage represents a message in a chat conversation
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest represents a chat completion request
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// chatResponse represents a chat completion response
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify assigns one of the fixed categories to the given email.
// Any transport, decode or mapping failure degrades to Uncategorized.
func (c *Client) Classify(ctx context.Context, subject, body, from string) types.Category {
	category, err := c.classify(ctx, subject, body, from)
	if err != nil {
		c.logger.WithError(err).WithField("subject", subject).Warn("Classification failed, defaulting category")
		return types.CategoryUncategorized
	}
	return category
}

func (c *Client) classify(ctx context.Context, subject, body, from string) (types.Category, error) {
	if c.apiKey == "" {
		return types.CategoryUncategorized, fmt.Errorf("classifier not configured")
	}

	body = truncate(body, maxBodyChars)

	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("From: %s\nSubject: %s\n\n%s", from, subject, body)},
		},
		MaxTokens:   10,
		Temperature: 0,
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return types.CategoryUncategorized, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return types.CategoryUncategorized, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.CategoryUncategorized, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.CategoryUncategorized, fmt.Errorf("classification API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.CategoryUncategorized, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return types.CategoryUncategorized, fmt.Errorf("classification API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return types.CategoryUncategorized, fmt.Errorf("classification API returned no choices")
	}

	category, ok := ParseCategory(parsed.Choices[0].Message.Content)
	if !ok {
		return types.CategoryUncategorized, fmt.Errorf("unrecognized category: %q", parsed.Choices[0].Message.Content)
	}
	return category, nil
}

// parseOrder checks longer/negated names first so "not interested" never
// matches as "interested".
var parseOrder = []types.Category{
	types.CategoryNotInterested,
	types.CategoryMeetingBooked,
	types.CategoryOutOfOffice,
	types.CategoryInterested,
	types.CategorySpam,
	types.CategoryUncategorized,
}

// ParseCategory maps free-form classifier output onto a fixed category
func ParseCategory(response string) (types.Category, bool) {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(response), `"'.`))
	if normalized == "" {
		return types.CategoryUncategorized, false
	}

	for _, category := range parseOrder {
		if strings.Contains(normalized, strings.ToLower(string(category))) {
			return category, true
		}
	}

	return types.CategoryUncategorized, false
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
