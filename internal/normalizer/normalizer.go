// Package normalizer converts raw extracted fields into typed canonical
// values: free-text dates into UTC instants, price text into ranges, age
// text into a closed set. It is the first stage of the ingest pipeline and
// has no dependencies beyond the timezone database.
package normalizer

import (
	"strings"
	"time"

	"github.com/showgrid/event-indexer/internal/domain"
)

// Normalizer turns one RawExtractResult into a NormalizedEvent or a typed
// rejection. Stateless and safe for concurrent use.
type Normalizer struct{}

// New creates a field normalizer
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize validates and types one raw extract result. tzName is the venue
// (or site default) IANA timezone local times are interpreted in. Missing
// required fields return a *domain.ValidationError; ambiguous times never
// fail, they are flagged low-confidence instead.
func (n *Normalizer) Normalize(raw *domain.RawExtractResult, tzName string) (*domain.NormalizedEvent, error) {
	var missing []string
	if strings.TrimSpace(raw.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(raw.VenueName) == "" {
		missing = append(missing, "venue_name")
	}
	if strings.TrimSpace(raw.DateText) == "" {
		missing = append(missing, "start_time")
	}
	if len(missing) > 0 {
		return nil, domain.NewValidationError(missing...)
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
		tzName = "UTC"
	}

	start, lowConfidence, err := parseStart(raw.DateText, raw.TimeText, loc)
	if err != nil {
		return nil, domain.NewValidationError("start_time")
	}

	event := &domain.NormalizedEvent{
		Title:             strings.TrimSpace(raw.Title),
		TitleNorm:         domain.NormalizeTitle(raw.Title),
		VenueName:         strings.TrimSpace(raw.VenueName),
		VenueAddr:         strings.TrimSpace(raw.VenueAddress),
		StartsAtUTC:       start.UTC().Truncate(time.Minute),
		TZName:            tzName,
		Price:             ParsePrice(raw.PriceText),
		Age:               ParseAgeRestriction(raw.AgeText),
		LowConfidenceTime: lowConfidence,
		SourceURL:         raw.SourceURL,
		IsCancelled:       raw.IsCancelled,
		Raw:               raw.Raw,
	}

	if artist := strings.TrimSpace(raw.ArtistName); artist != "" {
		event.ArtistName = &artist
	}
	if desc := strings.TrimSpace(raw.Description); desc != "" {
		event.Description = &desc
	}
	if url := strings.TrimSpace(raw.TicketURL); url != "" {
		event.TicketURL = &url
	}
	if id := strings.TrimSpace(raw.ExternalID); id != "" {
		event.ExternalID = &id
	}

	if ends, ok := parseClockAt(raw.EndTimeText, start, loc); ok {
		// Ends at or before the start means the show runs past midnight
		if !ends.After(start) {
			ends = ends.Add(24 * time.Hour)
		}
		utc := ends.UTC().Truncate(time.Minute)
		event.EndsAtUTC = &utc
	}
	if doors, ok := parseClockAt(raw.DoorsText, start, loc); ok {
		// Doors precede showtime; anything else is extractor noise
		if !doors.After(start) {
			utc := doors.UTC().Truncate(time.Minute)
			event.DoorsAtUTC = &utc
		}
	}

	return event, nil
}
