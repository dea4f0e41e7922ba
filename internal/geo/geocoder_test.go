package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReverse_PrimarySuccess(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "" {
			t.Error("primary request missing lat")
		}
		_, _ = w.Write([]byte(`{"address":{"city":"Berlin","country":"Germany"}}`))
	}))
	defer primary.Close()

	g := New(primary.URL, "http://127.0.0.1:0", primary.Client(), nil)
	loc := g.Reverse(context.Background(), 52.5, 13.4)

	if loc.City != "Berlin" || loc.Country != "Germany" {
		t.Errorf("unexpected location: %+v", loc)
	}
	if loc.Latitude != 52.5 || loc.Longitude != 13.4 {
		t.Errorf("coordinates must pass through: %+v", loc)
	}
}

func TestReverse_PrimaryCityAlternates(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"address":{"village":"Oia","country":"Greece"}}`))
	}))
	defer primary.Close()

	g := New(primary.URL, "http://127.0.0.1:0", primary.Client(), nil)
	loc := g.Reverse(context.Background(), 36.5, 25.4)
	if loc.City != "Oia" {
		t.Errorf("expected village used as city, got %q", loc.City)
	}
}

func TestReverse_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"locality":"Lagos","countryName":"Nigeria"}`))
	}))
	defer fallback.Close()

	g := New(primary.URL, fallback.URL, nil, nil)
	loc := g.Reverse(context.Background(), 6.5, 3.4)

	if loc.City != "Lagos" || loc.Country != "Nigeria" {
		t.Errorf("expected fallback result, got %+v", loc)
	}
}

func TestReverse_BothFailStillReturnsCoordinates(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	g := New(failing.URL, failing.URL, nil, nil)
	loc := g.Reverse(context.Background(), 1.25, 2.5)

	if loc.City != "" || loc.Country != "" {
		t.Errorf("expected empty place names, got %+v", loc)
	}
	if loc.Latitude != 1.25 || loc.Longitude != 2.5 {
		t.Errorf("coordinates must survive total failure: %+v", loc)
	}
}
