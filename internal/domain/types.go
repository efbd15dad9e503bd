package domain

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// AgeRestriction is the closed set of age policies an event can carry
type AgeRestriction string

const (
	AgeAllAges AgeRestriction = "all_ages"
	Age18Plus  AgeRestriction = "18+"
	Age21Plus  AgeRestriction = "21+"
	AgeUnknown AgeRestriction = "unknown"
)

// IsValidAgeRestriction checks if a value belongs to the closed set
func IsValidAgeRestriction(a AgeRestriction) bool {
	return a == AgeAllAges || a == Age18Plus || a == Age21Plus || a == AgeUnknown
}

// RunStatus represents the lifecycle state of one ingest run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// RawExtractResult is the output of one source's extractor for one listing.
// All fields are as-extracted strings; nothing here is trusted or typed yet.
// This is the engine's input unit and is never persisted as its own table.
type RawExtractResult struct {
	Title        string         `json:"title"`
	ArtistName   string         `json:"artist_name,omitempty"`
	VenueName    string         `json:"venue_name"`
	VenueAddress string         `json:"venue_address,omitempty"`
	DateText     string         `json:"date_text"`
	TimeText     string         `json:"time_text,omitempty"`
	EndTimeText  string         `json:"end_time_text,omitempty"`
	DoorsText    string         `json:"doors_text,omitempty"`
	PriceText    string         `json:"price_text,omitempty"`
	AgeText      string         `json:"age_text,omitempty"`
	TicketURL    string         `json:"ticket_url,omitempty"`
	SourceURL    string         `json:"source_url"`
	ExternalID   string         `json:"external_id,omitempty"`
	Description  string         `json:"description,omitempty"`
	IsCancelled  bool           `json:"is_cancelled,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// PriceRange is a parsed price. Min and Max are nil when the source text was
// "donation" or unparseable; the original text is kept for display fallback.
type PriceRange struct {
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Currency string   `json:"currency"`
	Raw      string   `json:"raw,omitempty"`
}

// IsFree reports whether the event was advertised as free
func (p PriceRange) IsFree() bool {
	return p.Min != nil && p.Max != nil && *p.Min == 0 && *p.Max == 0
}

// NormalizedEvent is one canonical, typed occurrence produced by the field
// normalizer. It is in-memory only until the merge writer persists it.
type NormalizedEvent struct {
	Title       string
	TitleNorm   string
	ArtistName  *string
	Description *string
	VenueName   string
	VenueAddr   string
	StartsAtUTC time.Time
	EndsAtUTC   *time.Time
	DoorsAtUTC  *time.Time
	// TZName is the IANA name of the timezone the source-local times were
	// interpreted in. Retained alongside the UTC instants.
	TZName string
	Price  PriceRange
	Age    AgeRestriction
	// LowConfidenceTime marks times produced by the bare-hour evening
	// heuristic rather than an unambiguous source value.
	LowConfidenceTime bool
	TicketURL         *string
	SourceURL         string
	ExternalID        *string
	IsCancelled       bool
	Raw               map[string]any
}

// StartMinute returns the event start truncated to the minute, the precision
// used by the exact-match key.
func (e *NormalizedEvent) StartMinute() time.Time {
	return e.StartsAtUTC.Truncate(time.Minute)
}

var titleFolder = cases.Fold()

// NormalizeTitle case-folds and collapses whitespace, the shared title
// canonicalization used by both the exact-match key and fuzzy scoring.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(titleFolder.String(strings.TrimSpace(title))), " ")
}

// MatchKind is the type of decision the match engine produced
type MatchKind string

const (
	// MatchExact means the exact key (venue, title, start minute) already exists
	MatchExact MatchKind = "exact"
	// MatchFuzzy means a same-venue candidate scored above the auto-merge threshold
	MatchFuzzy MatchKind = "fuzzy"
	// MatchFlagged means a candidate scored inside the ambiguous band; the event
	// is created but linked to the near-miss for manual review
	MatchFlagged MatchKind = "flagged"
	// MatchNone means no candidate scored above the flag threshold
	MatchNone MatchKind = "none"
)

// MatchDecision is the match engine's verdict for one normalized candidate
type MatchDecision struct {
	Kind MatchKind
	// EventID is the matched (or near-miss, for MatchFlagged) event instance id.
	// Zero for MatchNone.
	EventID int64
	// Confidence is in [0,1]. 1 for exact matches, 0 for MatchNone.
	Confidence float64
}

// ItemOutcome is the per-item result recorded in an ingest summary
type ItemOutcome string

const (
	OutcomeCreated  ItemOutcome = "created"
	OutcomeMerged   ItemOutcome = "merged"
	OutcomeFlagged  ItemOutcome = "flagged"
	OutcomeRejected ItemOutcome = "rejected"
)

// ItemResult records what happened to one raw extract result
type ItemResult struct {
	Index   int         `json:"index"`
	Outcome ItemOutcome `json:"outcome"`
	// EventID is the canonical event the item was written to, zero when rejected
	EventID int64 `json:"event_id,omitempty"`
	// Error carries the rejection reason for OutcomeRejected items
	Error string `json:"error,omitempty"`
}

// IngestSummary is returned by NormalizeAndIngest: aggregate counts plus the
// per-item outcomes for one run's input batch.
type IngestSummary struct {
	Created  int          `json:"created"`
	Merged   int          `json:"merged"`
	Flagged  int          `json:"flagged"`
	Rejected int          `json:"rejected"`
	Items    []ItemResult `json:"items"`
}

// Record tallies one item result into the summary
func (s *IngestSummary) Record(r ItemResult) {
	switch r.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeMerged:
		s.Merged++
	case OutcomeFlagged:
		s.Flagged++
	case OutcomeRejected:
		s.Rejected++
	}
	s.Items = append(s.Items, r)
}

// GeocodeResult is a successful provider lookup for one normalized address
type GeocodeResult struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}
