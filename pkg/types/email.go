package types

import "time"

// Category is the classification outcome assigned to an ingested email.
type Category string

const (
	CategoryInterested    Category = "Interested"
	CategoryMeetingBooked Category = "Meeting Booked"
	CategoryNotInterested Category = "Not Interested"
	CategorySpam          Category = "Spam"
	CategoryOutOfOffice   Category = "Out of Office"
	CategoryUncategorized Category = "Uncategorized"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategorySpam,
	CategoryOutOfOffice,
	CategoryUncategorized,
}

// Valid reports whether c is one of the fixed category values.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// EmailRecord represents a normalized, indexed email message.
type EmailRecord struct {
	ID          int64     `json:"id"`
	AccountName string    `json:"account_name"`
	Folder      string    `json:"folder"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	To          []string  `json:"to"`
	Cc          []string  `json:"cc,omitempty"`
	Date        time.Time `json:"date"`
	BodyText    string    `json:"body_text,omitempty"`
	BodyHTML    string    `json:"body_html,omitempty"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
	References  []string  `json:"references,omitempty"`
	Category    Category  `json:"category"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// EmailSummary represents a summary of an email (for search results)
type EmailSummary struct {
	ID          int64     `json:"id"`
	AccountName string    `json:"account_name"`
	Folder      string    `json:"folder"`
	Subject     string    `json:"subject"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	Category    Category  `json:"category"`
	Date        time.Time `json:"date"`
	Snippet     string    `json:"snippet"`
}

// ConnectionState is a read-only snapshot of one account's sync status.
type ConnectionState struct {
	AccountName string     `json:"account_name"`
	Connected   bool       `json:"connected"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	Error       string     `json:"error,omitempty"`
}
