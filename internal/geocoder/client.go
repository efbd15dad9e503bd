package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/ratelimit"
)

const PROVIDER_NAME = "nominatim"

// searchResult is one hit from the Nominatim search endpoint. Coordinates
// come back as decimal strings.
type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Client defines the interface for geocoding operations to enable mocking
//
//go:generate mockgen -source=client.go -destination=../mocks/geocoder_client.go -package=mocks -mock_names=Client=MockGeocoderClient
type Client interface {
	// Geocode resolves a street address to coordinates. A provider response
	// with no hits returns domain.ErrGeocodeNotFound; transport and decode
	// failures return a *domain.GeocodeError.
	Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error)
}

// NominatimClient implements Client against a Nominatim-compatible endpoint
type NominatimClient struct {
	httpClient     adapter.HTTPClient
	rateLimitProxy ratelimit.Proxy
	baseURL        string
	userAgent      string
	json           adapter.JSON
}

// NewClient creates a Nominatim geocoding client
func NewClient(httpClient adapter.HTTPClient, rateLimitProxy ratelimit.Proxy, cfg config.GeocoderConfig, json adapter.JSON) Client {
	return &NominatimClient{
		httpClient:     httpClient,
		rateLimitProxy: rateLimitProxy,
		baseURL:        cfg.BaseURL,
		userAgent:      cfg.UserAgent,
		json:           json,
	}
}

// Geocode resolves a street address via the provider's search endpoint
func (c *NominatimClient) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	reqURL := fmt.Sprintf("%s/search?q=%s&format=jsonv2&limit=1", c.baseURL, url.QueryEscape(address))

	// Nominatim's usage policy requires an identifying User-Agent
	headers := map[string]string{
		"User-Agent": c.userAgent,
	}

	respBody, err := ratelimit.Request(ctx, c.rateLimitProxy, PROVIDER_NAME, func(ctx context.Context) ([]byte, error) {
		return c.httpClient.GetBytes(ctx, reqURL, headers)
	})
	if err != nil {
		return nil, &domain.GeocodeError{Address: address, Err: fmt.Errorf("failed to call geocoding API: %w", err)}
	}

	var results []searchResult
	if err := c.json.Unmarshal(respBody, &results); err != nil {
		return nil, &domain.GeocodeError{Address: address, Err: fmt.Errorf("failed to unmarshal geocoding response: %w", err)}
	}

	if len(results) == 0 {
		return nil, domain.ErrGeocodeNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, &domain.GeocodeError{Address: address, Err: fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)}
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, &domain.GeocodeError{Address: address, Err: fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)}
	}

	raw, err := c.json.Marshal(results[0])
	if err != nil {
		return nil, &domain.GeocodeError{Address: address, Err: fmt.Errorf("failed to marshal raw result: %w", err)}
	}

	return &domain.GeocodeResult{
		Latitude:  lat,
		Longitude: lon,
		Raw:       json.RawMessage(raw),
	}, nil
}
