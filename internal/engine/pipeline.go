package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/classify"
	"github.com/brandon/mailsync/internal/mail"
	"github.com/brandon/mailsync/internal/notify"
	"github.com/brandon/mailsync/pkg/types"
)

// Indexer is the subset of the durable index the pipeline depends on
type Indexer interface {
	Exists(messageID string) (bool, error)
	InsertEmail(rec *types.EmailRecord) (int64, error)
	UpdateCategory(id int64, category types.Category) error
}

// Notifier delivers a record summary to the configured destinations
type Notifier interface {
	Notify(ctx context.Context, rec *types.EmailRecord) notify.Result
}

// Pipeline runs one message through normalize, dedupe, persist, classify,
// and notify.
type Pipeline struct {
	index      Indexer
	classifier classify.Classifier
	notifier   Notifier
	failOpen   bool
	logger     *logrus.Logger
}

// NewPipeline creates an ingestion pipeline. failOpen controls whether a
// failed dedupe lookup treats the message as novel (risking duplicates)
// instead of aborting its ingestion.
func NewPipeline(index Indexer, classifier classify.Classifier, notifier Notifier, failOpen bool, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		index:      index,
		classifier: classifier,
		notifier:   notifier,
		failOpen:   failOpen,
		logger:     logger,
	}
}

// Ingest processes one raw message. It returns the indexed record, or nil
// when the message was skipped as a duplicate. Errors abort only this
// message; callers log and continue with the rest of the batch.
func (p *Pipeline) Ingest(ctx context.Context, accountName, folder string, raw []byte) (*types.EmailRecord, error) {
	rec, err := mail.Normalize(raw, accountName, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize message: %w", err)
	}

	// Dedupe before any classification work; classification calls are
	// rate-limited and must not run twice for the same message.
	exists, err := p.index.Exists(rec.MessageID)
	if err != nil {
		if !p.failOpen {
			return nil, fmt.Errorf("dedupe check failed: %w", err)
		}
		p.logger.WithError(err).WithField("message_id", rec.MessageID).Warn("Dedupe check failed, treating message as novel")
		exists = false
	}
	if exists {
		p.logger.WithFields(logrus.Fields{
			"account":    accountName,
			"message_id": rec.MessageID,
		}).Debug("Skipping already indexed message")
		return nil, nil
	}

	rec.Category = types.CategoryUncategorized
	if _, err := p.index.InsertEmail(rec); err != nil {
		return nil, fmt.Errorf("failed to index message: %w", err)
	}

	category := p.classifier.Classify(ctx, rec.Subject, rec.BodyText, rec.SenderEmail)
	if !category.Valid() {
		category = types.CategoryUncategorized
	}

	if category != types.CategoryUncategorized {
		if err := p.index.UpdateCategory(rec.ID, category); err != nil {
			// The record stays indexed with the default category.
			p.logger.WithError(err).WithField("email_id", rec.ID).Warn("Failed to persist category")
			category = types.CategoryUncategorized
		}
	}
	rec.Category = category

	if category == types.CategoryInterested && p.notifier != nil {
		p.notifier.Notify(ctx, rec)
	}

	p.logger.WithFields(logrus.Fields{
		"account":  accountName,
		"email_id": rec.ID,
		"category": string(category),
	}).Info("Message ingested")

	return rec, nil
}
