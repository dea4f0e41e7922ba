// Package relay is the interactive-context side of the pipeline: it accepts
// activity events over HTTP, forwards them to the tracking coordinator, and
// answers the coordinator's auth requests by running token acquisition.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/trailmark-io/trailmark/internal/event"
	"github.com/trailmark-io/trailmark/internal/format"
	"github.com/trailmark-io/trailmark/internal/storage"
	"github.com/trailmark-io/trailmark/internal/tracker"
	"go.uber.org/zap"
)

// clickTextLimit caps the element text captured for click events.
const clickTextLimit = 50

// Coordinator is the slice of the tracker the relay talks to.
type Coordinator interface {
	Send(tracker.Inbound)
	Outbound() <-chan tracker.Outbound
}

// TokenProvider performs interactive token acquisition. The consent flow
// itself is an external capability; the provider just yields the opaque
// bearer token it produced.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider serves a preconfigured token, for service-account
// style deployments and local development.
type StaticTokenProvider string

func (p StaticTokenProvider) Token(context.Context) (string, error) {
	if p == "" {
		return "", errors.New("relay: no token configured")
	}
	return string(p), nil
}

// Resolver reverse-geocodes coordinates into place names.
type Resolver interface {
	Reverse(ctx context.Context, lat, lng float64) event.Location
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Coordinator   Coordinator
	Provider      TokenProvider
	Geo           Resolver        // nil disables reverse geocoding
	Reader        *storage.Reader // nil if the analytics mirror is unavailable
	Logger        *zap.Logger
	IngestKeyHash string // bcrypt hash of the ingest key; empty disables auth
	CacheTTL      time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/events", deps.authMiddleware(deps.handleIngestEvent))
	mux.HandleFunc("POST /v1/location", deps.authMiddleware(deps.handleLocationUpdate))

	// Activity listing (served from the analytics mirror)
	mux.HandleFunc("GET /v1/events", deps.handleListEvents)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

// Pump consumes the coordinator's outbound stream until ctx is done. Auth
// requests run in their own goroutine so the pump never stalls.
func (d *Dependencies) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.Coordinator.Outbound():
			if !ok {
				return
			}
			switch m := msg.(type) {
			case tracker.RequestAuthMsg:
				go d.acquireToken(ctx)
			case tracker.InitializedMsg:
				d.Logger.Info("tracker initialized")
			case tracker.ReportErrorMsg:
				d.Logger.Warn("tracker error", zap.String("message", m.Message))
			}
		}
	}
}

func (d *Dependencies) acquireToken(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()

	token, err := d.Provider.Token(ctx)
	if err != nil {
		d.Logger.Warn("token acquisition failed", zap.Error(err))
		d.Coordinator.Send(tracker.AuthTokenMsg{Err: err.Error()})
		return
	}
	d.Coordinator.Send(tracker.AuthTokenMsg{Token: token})
}

// envelope is the wire form of an inbound event: a type tag plus payload.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AcceptedResp acknowledges an ingested event.
type AcceptedResp struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorResp is the JSON error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

func (d *Dependencies) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var env envelope
	if err := readJSON(r, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	var kind event.Kind
	switch env.Type {
	case "PAGE_VIEW":
		kind = event.KindPageView
	case "CLICK":
		kind = event.KindClick
	case "ERROR":
		kind = event.KindError
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Unknown event type: " + env.Type})
		return
	}

	var e event.TrackerEvent
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid event payload"})
			return
		}
	}
	e.Kind = kind
	e.EventID = uuid.NewString()
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if e.Element != nil {
		e.Element.Text = format.Truncate(e.Element.Text, clickTextLimit)
	}

	switch kind {
	case event.KindPageView:
		d.Coordinator.Send(tracker.PageViewMsg{Event: e})
	case event.KindClick:
		d.Coordinator.Send(tracker.ClickMsg{Event: e})
	case event.KindError:
		d.Coordinator.Send(tracker.ErrorEventMsg{Event: e})
	}

	writeJSON(w, http.StatusAccepted, AcceptedResp{Status: "accepted", EventID: e.EventID})
}

// locationReq is the body of POST /v1/location.
type locationReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
}

func (d *Dependencies) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	var req locationReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "latitude and longitude are required"})
		return
	}

	loc := event.Location{
		City:      req.City,
		Country:   req.Country,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	}
	if (loc.City == "" || loc.Country == "") && d.Geo != nil {
		resolved := d.Geo.Reverse(r.Context(), loc.Latitude, loc.Longitude)
		if loc.City == "" {
			loc.City = resolved.City
		}
		if loc.Country == "" {
			loc.Country = resolved.Country
		}
	}

	d.Coordinator.Send(tracker.LocationUpdateMsg{Location: loc})
	writeJSON(w, http.StatusAccepted, AcceptedResp{Status: "accepted"})
}

// ActivityResp is one mirrored event in the listing response.
type ActivityResp struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Page      string    `json:"page"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
	DeviceOS  string    `json:"device_os,omitempty"`
	Browser   string    `json:"browser,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ActivityListResp is the listing response body.
type ActivityListResp struct {
	Events []ActivityResp `json:"events"`
	Count  int            `json:"count"`
}

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Analytics mirror not configured"})
		return
	}

	q := r.URL.Query()
	params := storage.ListParams{Limit: queryInt(q.Get("limit"), 100)}
	if v := q.Get("kind"); v != "" {
		params.Kind = &v
	}
	if v := q.Get("user_id"); v != "" {
		params.UserID = &v
	}
	if v := q.Get("page"); v != "" {
		params.Page = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	records, err := d.Reader.ListRecent(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list activity", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := ActivityListResp{Events: make([]ActivityResp, 0, len(records))}
	for _, rec := range records {
		browser := rec.BrowserName
		if rec.BrowserVersion != "" {
			browser += " " + rec.BrowserVersion
		}
		resp.Events = append(resp.Events, ActivityResp{
			EventID:   rec.EventID,
			Kind:      rec.Kind,
			Page:      rec.Page,
			Timestamp: rec.Timestamp,
			UserID:    rec.UserID,
			UserName:  rec.UserName,
			City:      rec.City,
			Country:   rec.Country,
			DeviceOS:  rec.DeviceOS,
			Browser:   browser,
			Error:     rec.ErrorMessage,
		})
	}
	resp.Count = len(resp.Events)

	writeJSON(w, http.StatusOK, resp)
}
