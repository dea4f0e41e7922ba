// Package geo resolves coordinates into city/country names for location
// updates. Best-effort: when both providers fail the caller still gets the
// raw coordinates.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/trailmark-io/trailmark/internal/event"
	"go.uber.org/zap"
)

const (
	// DefaultPrimaryURL is the Nominatim reverse endpoint.
	DefaultPrimaryURL = "https://nominatim.openstreetmap.org/reverse"
	// DefaultFallbackURL is the BigDataCloud reverse endpoint, used when the
	// primary fails or times out.
	DefaultFallbackURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"

	requestTimeout = 3 * time.Second
)

// Geocoder performs reverse geocoding against a primary and a fallback
// provider.
type Geocoder struct {
	primaryURL  string
	fallbackURL string
	httpClient  *http.Client
	logger      *zap.Logger
}

// New creates a Geocoder. Empty URLs select the public providers; a nil
// httpClient gets the per-request timeout default.
func New(primaryURL, fallbackURL string, httpClient *http.Client, logger *zap.Logger) *Geocoder {
	if primaryURL == "" {
		primaryURL = DefaultPrimaryURL
	}
	if fallbackURL == "" {
		fallbackURL = DefaultFallbackURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Geocoder{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Reverse resolves lat/lng into a Location. Coordinates are always set on
// the result; City and Country are filled when either provider answers.
func (g *Geocoder) Reverse(ctx context.Context, lat, lng float64) event.Location {
	loc := event.Location{Latitude: lat, Longitude: lng}

	if city, country, err := g.primary(ctx, lat, lng); err == nil {
		loc.City = city
		loc.Country = country
		return loc
	} else {
		g.logger.Debug("primary geocoder failed", zap.Error(err))
	}

	if city, country, err := g.fallback(ctx, lat, lng); err == nil {
		loc.City = city
		loc.Country = country
		return loc
	} else {
		g.logger.Debug("fallback geocoder failed", zap.Error(err))
	}

	return loc
}

// primary queries the Nominatim-shaped endpoint.
func (g *Geocoder) primary(ctx context.Context, lat, lng float64) (city, country string, err error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")

	var resp struct {
		Address struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			Suburb  string `json:"suburb"`
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := g.get(ctx, g.primaryURL+"?"+q.Encode(), &resp); err != nil {
		return "", "", err
	}

	city = resp.Address.City
	for _, alt := range []string{resp.Address.Town, resp.Address.Village, resp.Address.Suburb} {
		if city != "" {
			break
		}
		city = alt
	}
	return city, resp.Address.Country, nil
}

// fallback queries the BigDataCloud-shaped endpoint.
func (g *Geocoder) fallback(ctx context.Context, lat, lng float64) (city, country string, err error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%f", lat))
	q.Set("longitude", fmt.Sprintf("%f", lng))
	q.Set("localityLanguage", "en")

	var resp struct {
		City        string `json:"city"`
		Locality    string `json:"locality"`
		CountryName string `json:"countryName"`
	}
	if err := g.get(ctx, g.fallbackURL+"?"+q.Encode(), &resp); err != nil {
		return "", "", err
	}

	city = resp.City
	if city == "" {
		city = resp.Locality
	}
	return city, resp.CountryName, nil
}

func (g *Geocoder) get(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geo: HTTP %d from %s", resp.StatusCode, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
