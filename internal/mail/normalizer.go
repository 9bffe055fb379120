package mail

import (
	"bytes"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/pkg/types"
)

// DefaultSubject is used when a message carries no Subject header
const DefaultSubject = "(no subject)"

// Normalize parses a raw message source into a canonical record.
// ID, Category and IndexedAt are left for the pipeline to fill in.
func Normalize(raw []byte, accountName, folder string) (*types.EmailRecord, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	rec := &types.EmailRecord{
		AccountName: accountName,
		Folder:      folder,
		Subject:     normalizeSubject(env.GetHeader("Subject")),
		MessageID:   NormalizeMessageID(env.GetHeader("Message-Id")),
		BodyText:    extractBodyText(env),
		BodyHTML:    env.HTML,
		To:          flattenAddresses(env, "To"),
		Cc:          flattenAddresses(env, "Cc"),
		InReplyTo:   trimIdentifier(env.GetHeader("In-Reply-To")),
		References:  splitReferences(env.GetHeader("References")),
		Date:        parseDate(env.GetHeader("Date")),
	}

	if from := flattenAddressList(env, "From"); len(from) > 0 {
		rec.SenderEmail = from[0].Address
		rec.SenderName = from[0].Name
	}

	return rec, nil
}

// NormalizeMessageID trims a transport Message-Id header, substituting a
// generated identifier when the header is missing or empty. A generated
// identifier never matches an indexed record, so such messages are always
// treated as novel.
func NormalizeMessageID(header string) string {
	id := trimIdentifier(header)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return DefaultSubject
	}
	return subject
}

// extractBodyText prefers the HTML part converted to plain text, falling
// back to the plain text part, then to an empty string.
func extractBodyText(env *enmime.Envelope) string {
	if env.HTML != "" {
		if text, err := html2text.FromString(env.HTML); err == nil {
			return text
		}
	}
	return env.Text
}

// flattenAddresses returns bare address strings for a header, dropping
// display names and malformed entries.
func flattenAddresses(env *enmime.Envelope, key string) []string {
	var out []string
	for _, addr := range flattenAddressList(env, key) {
		if addr.Address != "" {
			out = append(out, addr.Address)
		}
	}
	return out
}

func flattenAddressList(env *enmime.Envelope, key string) []*netmail.Address {
	addrs, err := env.AddressList(key)
	if err != nil {
		return nil
	}
	return addrs
}

// trimIdentifier strips angle brackets and whitespace from a message identifier
func trimIdentifier(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// splitReferences splits a References header into individual identifiers
func splitReferences(header string) []string {
	var refs []string
	for _, field := range strings.Fields(header) {
		if ref := trimIdentifier(field); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// parseDate parses a Date header, falling back to the current time
func parseDate(header string) time.Time {
	if header != "" {
		if t, err := netmail.ParseDate(header); err == nil {
			return t
		}
	}
	return time.Now()
}
