package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// --- Ingest-key cache (stale-while-revalidate) ---
//
// bcrypt comparison costs tens of milliseconds, far too much per event.
// Verified keys are cached with a TTL; an expired entry is still served
// while one goroutine re-verifies in the background.

type cacheEntry struct {
	expiresAt  time.Time
	refreshing atomic.Bool
}

type keyCache struct {
	store sync.Map // map[string]*cacheEntry (keyed by full ingest key)
	ttl   time.Duration
}

func newKeyCache(ttl time.Duration) *keyCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &keyCache{ttl: ttl}
}

func (c *keyCache) get(key string) (hit, needsRefresh bool) {
	v, ok := c.store.Load(key)
	if !ok {
		return false, false
	}
	entry := v.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return true, false // fresh
	}
	// Stale — serve it but signal refresh (only one goroutine refreshes)
	return true, entry.refreshing.CompareAndSwap(false, true)
}

func (c *keyCache) set(key string) {
	c.store.Store(key, &cacheEntry{expiresAt: time.Now().Add(c.ttl)})
}

func (c *keyCache) delete(key string) {
	c.store.Delete(key)
}

// --- Auth middleware ---

// authMiddleware validates the Bearer ingest key against the configured
// bcrypt hash. An empty hash disables auth (local development).
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if d.IngestKeyHash == "" {
		return next
	}
	cache := newKeyCache(d.CacheTTL)

	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := extractBearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
			return
		}

		hit, needsRefresh := cache.get(key)
		if hit && needsRefresh {
			// Stale hit — serve it, re-verify in the background.
			go d.refreshKey(cache, key)
		}
		if hit {
			next(w, r)
			return
		}

		// Cache miss — synchronous bcrypt check. Only successes are cached
		// so unknown keys cannot grow the cache.
		if err := bcrypt.CompareHashAndPassword([]byte(d.IngestKeyHash), []byte(key)); err != nil {
			d.Logger.Warn("ingest auth failed")
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid ingest key"})
			return
		}

		cache.set(key)
		next(w, r)
	}
}

func (d *Dependencies) refreshKey(cache *keyCache, key string) {
	if err := bcrypt.CompareHashAndPassword([]byte(d.IngestKeyHash), []byte(key)); err != nil {
		cache.delete(key)
		return
	}
	cache.set(key)
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	return defaultVal
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

// The ingest surface is called straight from browsers, so the relay answers
// preflight requests itself.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
