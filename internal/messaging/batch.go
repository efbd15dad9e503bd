// Package messaging defines the extraction batch envelope exchanged over the
// message broker and the publishing interface for it.
package messaging

import (
	"errors"
	"time"

	"github.com/showgrid/event-indexer/internal/domain"
)

// ExtractionBatch is one scraper's output for one source crawl, published as
// a single message. The engine ingests the whole batch under one run.
type ExtractionBatch struct {
	// BatchID is a UUID, also used as the broker's dedupe message id
	BatchID string `json:"batch_id"`
	// SiteSlug identifies the site the source belongs to
	SiteSlug string `json:"site_slug"`
	// SourceURL identifies the crawled source within the site
	SourceURL string `json:"source_url"`
	// ExtractedAt is when the scraper finished producing the batch
	ExtractedAt time.Time `json:"extracted_at"`
	// Items are the raw extract results, in page order
	Items []domain.RawExtractResult `json:"items"`
}

// Validate checks the envelope fields the engine cannot proceed without
func (b *ExtractionBatch) Validate() error {
	if b.SiteSlug == "" {
		return errors.New("extraction batch missing site_slug")
	}
	if b.SourceURL == "" {
		return errors.New("extraction batch missing source_url")
	}
	return nil
}
