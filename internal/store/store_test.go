package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestSite(slug string) EnsureSiteInput {
	return EnsureSiteInput{
		Slug:        slug,
		DisplayName: "Charleston",
		TZName:      "America/New_York",
	}
}

func buildTestSource(siteID int64, url string) EnsureSourceInput {
	return EnsureSourceInput{
		SiteID:        siteID,
		Name:          "Music Farm",
		URL:           url,
		ParserType:    "html",
		RateLimitRPS:  0.5,
		RespectRobots: true,
		Active:        true,
	}
}

func buildTestVenue(siteID int64, name, nameNorm string) *schema.Venue {
	return &schema.Venue{
		SiteID:   siteID,
		Name:     name,
		NameNorm: nameNorm,
		TZName:   "America/New_York",
	}
}

var testStart = time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)

func buildTestEvent(siteID, venueID int64, title, titleNorm string, start time.Time) schema.EventInstance {
	return schema.EventInstance{
		SiteID:      siteID,
		VenueID:     venueID,
		Title:       title,
		TitleNorm:   titleNorm,
		StartsAtUTC: start,
		TZName:      "America/New_York",
		Currency:    "USD",
		// AutoMigrate defaults only apply on raw SQL inserts
		AgeRestriction: string(domain.AgeUnknown),
	}
}

func buildTestLink(sourceID, runID int64) LinkInput {
	return LinkInput{
		SourceID:    sourceID,
		IngestRunID: runID,
		SourceURL:   "https://musicfarm.example.com/events/1",
		Normalized:  datatypes.JSON(`{"title":"Jazz Night"}`),
	}
}

// provision creates the site/source/venue/run scaffolding most tests need
func provision(t *testing.T, s Store) (*schema.Site, *schema.Source, *schema.Venue, *schema.IngestRun) {
	t.Helper()
	ctx := context.Background()

	site, err := s.EnsureSite(ctx, buildTestSite("charleston"))
	require.NoError(t, err)

	source, err := s.EnsureSource(ctx, buildTestSource(site.ID, "https://musicfarm.example.com/calendar"))
	require.NoError(t, err)

	venue, err := s.CreateVenue(ctx, buildTestVenue(site.ID, "The Blue Room", "the blue room"))
	require.NoError(t, err)

	run, err := s.CreateIngestRun(ctx, source.ID)
	require.NoError(t, err)

	return site, source, venue, run
}

// =============================================================================
// Site / Source
// =============================================================================

func testEnsureSite(t *testing.T, s Store) {
	ctx := context.Background()

	site, err := s.EnsureSite(ctx, buildTestSite("charleston"))
	require.NoError(t, err)
	require.NotZero(t, site.ID)
	assert.Equal(t, "charleston", site.Slug)
	assert.Equal(t, "America/New_York", site.TZName)

	// Same slug converges on the same row
	again, err := s.EnsureSite(ctx, buildTestSite("charleston"))
	require.NoError(t, err)
	assert.Equal(t, site.ID, again.ID)

	got, err := s.GetSiteBySlug(ctx, "charleston")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, site.ID, got.ID)

	missing, err := s.GetSiteBySlug(ctx, "atlantis")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testEnsureSource(t *testing.T, s Store) {
	ctx := context.Background()
	site, err := s.EnsureSite(ctx, buildTestSite("charleston"))
	require.NoError(t, err)

	source, err := s.EnsureSource(ctx, buildTestSource(site.ID, "https://musicfarm.example.com/calendar"))
	require.NoError(t, err)
	require.NotZero(t, source.ID)
	assert.Equal(t, 0.5, source.RateLimitRPS)

	// Re-ensuring refreshes configuration on the same row
	input := buildTestSource(site.ID, "https://musicfarm.example.com/calendar")
	input.RateLimitRPS = 2
	input.RequiresBrowser = true
	updated, err := s.EnsureSource(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, source.ID, updated.ID)
	assert.Equal(t, float64(2), updated.RateLimitRPS)
	assert.True(t, updated.RequiresBrowser)

	// A second URL under the same site is a distinct source
	other, err := s.EnsureSource(ctx, buildTestSource(site.ID, "https://pourhouse.example.com/shows"))
	require.NoError(t, err)
	assert.NotEqual(t, source.ID, other.ID)

	active, err := s.GetActiveSources(ctx, site.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// Deactivated sources drop out of the active list
	input.Active = false
	_, err = s.EnsureSource(ctx, input)
	require.NoError(t, err)
	active, err = s.GetActiveSources(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other.ID, active[0].ID)
}

// =============================================================================
// Ingest runs
// =============================================================================

func testIngestRunLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	_, source, _, _ := provision(t, s)

	run, err := s.CreateIngestRun(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.RunStatusRunning), run.Status)
	assert.Nil(t, run.FinishedAt)

	summary := domain.IngestSummary{Created: 3, Merged: 2, Flagged: 1, Rejected: 4}
	require.NoError(t, s.FinalizeIngestRun(ctx, run.ID, domain.RunStatusSuccess, nil, summary))

	finished, err := s.GetIngestRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, finished)
	assert.Equal(t, string(domain.RunStatusSuccess), finished.Status)
	require.NotNil(t, finished.FinishedAt)
	assert.Nil(t, finished.Error)
	assert.Equal(t, 3, finished.Created)
	assert.Equal(t, 2, finished.Merged)
	assert.Equal(t, 1, finished.Flagged)
	assert.Equal(t, 4, finished.Rejected)
}

func testIngestRunFailure(t *testing.T, s Store) {
	ctx := context.Background()
	_, source, _, _ := provision(t, s)

	run, err := s.CreateIngestRun(ctx, source.ID)
	require.NoError(t, err)

	require.NoError(t, s.FinalizeIngestRun(ctx, run.ID, domain.RunStatusFailed, domain.ErrRunTimeout, domain.IngestSummary{Created: 1}))

	finished, err := s.GetIngestRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, finished)
	assert.Equal(t, string(domain.RunStatusFailed), finished.Status)
	require.NotNil(t, finished.Error)
	assert.Contains(t, *finished.Error, "wall-clock")
	// Partial counters survive the failure
	assert.Equal(t, 1, finished.Created)
}

// =============================================================================
// Venues and geocode cache
// =============================================================================

func testVenueInsertOrFetch(t *testing.T, s Store) {
	ctx := context.Background()
	site, err := s.EnsureSite(ctx, buildTestSite("charleston"))
	require.NoError(t, err)

	venue, err := s.CreateVenue(ctx, buildTestVenue(site.ID, "The Blue Room", "the blue room"))
	require.NoError(t, err)
	require.NotZero(t, venue.ID)

	// A second create for the same normalized name converges on the first row
	dupe, err := s.CreateVenue(ctx, buildTestVenue(site.ID, "THE BLUE ROOM", "the blue room"))
	require.NoError(t, err)
	assert.Equal(t, venue.ID, dupe.ID)
	assert.Equal(t, "The Blue Room", dupe.Name)

	got, err := s.GetVenueByNameNorm(ctx, site.ID, "the blue room")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, venue.ID, got.ID)

	missing, err := s.GetVenueByNameNorm(ctx, site.ID, "the red room")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Enrichment round-trips
	addr := "32 Ann St"
	lat, lng := 32.7876, -79.9403
	got.AddressLine1 = &addr
	got.Latitude = &lat
	got.Longitude = &lng
	require.NoError(t, s.UpdateVenue(ctx, got))

	enriched, err := s.GetVenueByNameNorm(ctx, site.ID, "the blue room")
	require.NoError(t, err)
	require.True(t, enriched.HasCoordinates())
	assert.Equal(t, 32.7876, *enriched.Latitude)
}

func testGeocodeCache(t *testing.T, s Store) {
	ctx := context.Background()

	missing, err := s.GetGeocodeCache(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, missing)

	entry := &schema.GeocodeCache{
		AddressHash: "deadbeef",
		Query:       "32 ann st",
		Latitude:    32.7876,
		Longitude:   -79.9403,
		Raw:         datatypes.JSON(`{"display_name":"32 Ann St"}`),
		ExpiresAt:   time.Now().Add(-time.Hour).UTC(),
	}
	require.NoError(t, s.UpsertGeocodeCache(ctx, entry))

	got, err := s.GetGeocodeCache(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 32.7876, got.Latitude)
	// Expired entries are still returned; expiry is the caller's call
	assert.True(t, got.Expired(time.Now()))

	// Refresh moves the expiry forward on the same row
	entry.ExpiresAt = time.Now().Add(time.Hour).UTC()
	entry.Latitude = 32.79
	require.NoError(t, s.UpsertGeocodeCache(ctx, entry))

	got, err = s.GetGeocodeCache(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, got.Expired(time.Now()))
	assert.Equal(t, 32.79, got.Latitude)
}

// =============================================================================
// Events: create, exact key, window
// =============================================================================

func testCreateEventWithLink(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	event, created, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NotZero(t, event.ID)

	links, err := s.GetEventSourceLinks(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, source.ID, links[0].SourceID)
	assert.Equal(t, run.ID, links[0].IngestRunID)

	// Losing the exact-key race returns the winner without writing anything
	again, created, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, event.ID, again.ID)

	count, err := s.CountEventSourceLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testCreateEventWithNearMiss(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	near, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	flagged, created, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event:              buildTestEvent(site.ID, venue.ID, "Jazz Nite", "jazz nite", testStart.Add(30*time.Minute)),
		Link:               buildTestLink(source.ID, run.ID),
		NearMissEventID:    near.ID,
		NearMissConfidence: 0.62,
	})
	require.NoError(t, err)
	require.True(t, created)

	conflicts, err := s.GetEventConflicts(ctx, flagged.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, near.ID, conflicts[0].NearEventInstanceID)
	assert.Equal(t, 0.62, conflicts[0].Confidence)
	assert.False(t, conflicts[0].Resolved)
}

func testExactKeyLookup(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	event, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	got, err := s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.ID, got.ID)

	// One minute off is a different key
	got, err = s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetEventByExactKey(ctx, venue.ID+1, "jazz night", testStart)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testVenueWindowCandidates(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	inWindow, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	_, _, err = s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Late Show", "late show", testStart.Add(4*time.Hour)),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	otherVenue, err := s.CreateVenue(ctx, buildTestVenue(site.ID, "Pour House", "pour house"))
	require.NoError(t, err)
	_, _, err = s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, otherVenue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	candidates, err := s.GetEventsByVenueWindow(ctx, venue.ID, testStart.Add(-3*time.Hour), testStart.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, inWindow.ID, candidates[0].ID)
	assert.Equal(t, int64(1), candidates[0].LinkCount)
}

// =============================================================================
// Merge semantics
// =============================================================================

func floatPtr(v float64) *float64 { return &v }
func strPtr(s string) *string     { return &s }

func testMergeFillsEmptyFields(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	event, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	second, err := s.EnsureSource(ctx, buildTestSource(site.ID, "https://pourhouse.example.com/shows"))
	require.NoError(t, err)

	ends := testStart.Add(3 * time.Hour)
	incoming := domain.NormalizedEvent{
		Title:       "Jazz Night",
		TitleNorm:   "jazz night",
		StartsAtUTC: testStart,
		ArtistName:  strPtr("Trio X"),
		EndsAtUTC:   &ends,
		Price:       domain.PriceRange{Min: floatPtr(15), Max: floatPtr(15), Currency: "USD", Raw: "$15"},
		TicketURL:   strPtr("https://tickets.example.com/1"),
		Age:         domain.Age21Plus,
	}
	link := buildTestLink(second.ID, run.ID)
	require.NoError(t, s.MergeEventLink(ctx, MergeEventInput{EventID: event.ID, Link: link, Incoming: incoming}))

	got, err := s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart)
	require.NoError(t, err)
	require.NotNil(t, got.ArtistName)
	assert.Equal(t, "Trio X", *got.ArtistName)
	require.NotNil(t, got.PriceMin)
	assert.Equal(t, float64(15), *got.PriceMin)
	require.NotNil(t, got.TicketURL)
	assert.Equal(t, string(domain.Age21Plus), got.AgeRestriction)
	assert.False(t, got.FieldConflict)

	count, err := s.CountEventSourceLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func testMergePreservesFirstWriter(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	first := buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart)
	first.PriceMin = floatPtr(15)
	first.PriceMax = floatPtr(15)
	first.TicketURL = strPtr("https://tickets.example.com/1")
	event, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: first,
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	second, err := s.EnsureSource(ctx, buildTestSource(site.ID, "https://pourhouse.example.com/shows"))
	require.NoError(t, err)

	incoming := domain.NormalizedEvent{
		Title:       "Jazz Night",
		TitleNorm:   "jazz night",
		StartsAtUTC: testStart,
		Price:       domain.PriceRange{Min: floatPtr(20), Max: floatPtr(20), Currency: "USD", Raw: "$20"},
		TicketURL:   strPtr("https://othertickets.example.com/9"),
	}
	require.NoError(t, s.MergeEventLink(ctx, MergeEventInput{EventID: event.ID, Link: buildTestLink(second.ID, run.ID), Incoming: incoming}))

	got, err := s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart)
	require.NoError(t, err)
	// First writer's snapshot survives; the divergence is flagged
	assert.Equal(t, float64(15), *got.PriceMin)
	assert.Equal(t, "https://tickets.example.com/1", *got.TicketURL)
	assert.True(t, got.FieldConflict)

	// The merging source's own values stay on its link
	links, err := s.GetEventSourceLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func testMergeLinkUniquePerSource(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	event, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	// Re-crawling the same source updates its link in place
	laterRun, err := s.CreateIngestRun(ctx, source.ID)
	require.NoError(t, err)
	link := buildTestLink(source.ID, laterRun.ID)
	link.Normalized = datatypes.JSON(`{"title":"Jazz Night","price_text":"$15"}`)
	incoming := domain.NormalizedEvent{Title: "Jazz Night", TitleNorm: "jazz night", StartsAtUTC: testStart}
	require.NoError(t, s.MergeEventLink(ctx, MergeEventInput{EventID: event.ID, Link: link, Incoming: incoming}))

	links, err := s.GetEventSourceLinks(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, laterRun.ID, links[0].IngestRunID)
	assert.JSONEq(t, `{"title":"Jazz Night","price_text":"$15"}`, string(links[0].Normalized))
}

func testMergeIsIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	event, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	incoming := domain.NormalizedEvent{
		Title:       "Jazz Night",
		TitleNorm:   "jazz night",
		StartsAtUTC: testStart,
		Price:       domain.PriceRange{Min: floatPtr(15), Max: floatPtr(15), Currency: "USD", Raw: "$15"},
	}
	input := MergeEventInput{EventID: event.ID, Link: buildTestLink(source.ID, run.ID), Incoming: incoming}
	require.NoError(t, s.MergeEventLink(ctx, input))
	require.NoError(t, s.MergeEventLink(ctx, input))

	got, err := s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart)
	require.NoError(t, err)
	assert.Equal(t, float64(15), *got.PriceMin)
	assert.False(t, got.FieldConflict)

	count, err := s.CountEventSourceLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testMergeCancellationIsMonotonic(t *testing.T, s Store) {
	ctx := context.Background()
	site, source, venue, run := provision(t, s)

	event, _, err := s.CreateEventWithLink(ctx, CreateEventInput{
		Event: buildTestEvent(site.ID, venue.ID, "Jazz Night", "jazz night", testStart),
		Link:  buildTestLink(source.ID, run.ID),
	})
	require.NoError(t, err)

	second, err := s.EnsureSource(ctx, buildTestSource(site.ID, "https://pourhouse.example.com/shows"))
	require.NoError(t, err)

	cancelled := domain.NormalizedEvent{Title: "Jazz Night", TitleNorm: "jazz night", StartsAtUTC: testStart, IsCancelled: true}
	require.NoError(t, s.MergeEventLink(ctx, MergeEventInput{EventID: event.ID, Link: buildTestLink(second.ID, run.ID), Incoming: cancelled}))

	got, err := s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart)
	require.NoError(t, err)
	assert.True(t, got.IsCancelled)

	// A later non-cancelled version does not flip it back
	active := domain.NormalizedEvent{Title: "Jazz Night", TitleNorm: "jazz night", StartsAtUTC: testStart}
	require.NoError(t, s.MergeEventLink(ctx, MergeEventInput{EventID: event.ID, Link: buildTestLink(source.ID, run.ID), Incoming: active}))

	got, err = s.GetEventByExactKey(ctx, venue.ID, "jazz night", testStart)
	require.NoError(t, err)
	assert.True(t, got.IsCancelled)
}

// RunStoreTests runs all store tests against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"EnsureSite", testEnsureSite},
		{"EnsureSource", testEnsureSource},
		{"IngestRunLifecycle", testIngestRunLifecycle},
		{"IngestRunFailure", testIngestRunFailure},
		{"VenueInsertOrFetch", testVenueInsertOrFetch},
		{"GeocodeCache", testGeocodeCache},
		{"CreateEventWithLink", testCreateEventWithLink},
		{"CreateEventWithNearMiss", testCreateEventWithNearMiss},
		{"ExactKeyLookup", testExactKeyLookup},
		{"VenueWindowCandidates", testVenueWindowCandidates},
		{"MergeFillsEmptyFields", testMergeFillsEmptyFields},
		{"MergePreservesFirstWriter", testMergePreservesFirstWriter},
		{"MergeLinkUniquePerSource", testMergeLinkUniquePerSource},
		{"MergeIsIdempotent", testMergeIsIdempotent},
		{"MergeCancellationIsMonotonic", testMergeCancellationIsMonotonic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
