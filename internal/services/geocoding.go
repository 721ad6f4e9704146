package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"loadtrace-backend/internal/models"
)

// Coordinates represents latitude and longitude
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Generous continental bounding box; provider results outside it are treated
// as garbage and discarded
const (
	minPlausibleLat = 14.0
	maxPlausibleLat = 75.0
	minPlausibleLng = -180.0
	maxPlausibleLng = -50.0
)

// minAddressLength rejects obviously unresolvable inputs before they cost a
// network call
const minAddressLength = 5

// StopCoordinateWriter persists resolved coordinates back onto a stop
type StopCoordinateWriter interface {
	SetStopCoordinates(stopID string, lat, lng float64) error
}

// GeoResolverConfig carries the resolver tunables. Zero values fall back to
// the defaults in NewGeoResolver.
type GeoResolverConfig struct {
	PrimaryBaseURL  string // Nominatim-style /search endpoint
	FallbackBaseURL string // HERE-style /v1/geocode endpoint
	FallbackAPIKey  string // Fallback is only tried when this is set
	UserAgent       string
	CacheTTL        time.Duration
	MinRequestGap   time.Duration // Global gap between outbound calls
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RequestTimeout  time.Duration
}

type geoCacheEntry struct {
	coords     *Coordinates // nil records a miss, so bad addresses don't hammer the provider
	insertedAt time.Time
}

// GeoResolver turns free-text addresses into coordinates. It caches hits and
// misses, retries transient provider failures with backoff, and spaces all
// outbound calls behind one global rate gate. Resolve never returns an
// error: every internal failure degrades to a miss.
type GeoResolver struct {
	cfg    GeoResolverConfig
	client *http.Client
	stops  StopCoordinateWriter

	mu    sync.Mutex
	cache map[string]geoCacheEntry

	// The provider's rate limit is global, so the gate is a single shared
	// next-allowed-time, not a per-call limiter
	gateMu      sync.Mutex
	nextAllowed time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewGeoResolver creates a resolver. stops may be nil when write-through of
// stop coordinates isn't wanted.
func NewGeoResolver(cfg GeoResolverConfig, stops StopCoordinateWriter) *GeoResolver {
	if cfg.PrimaryBaseURL == "" {
		cfg.PrimaryBaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.FallbackBaseURL == "" {
		cfg.FallbackBaseURL = "https://geocode.search.hereapi.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "loadtrace-backend/1.0"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.MinRequestGap == 0 {
		cfg.MinRequestGap = 1100 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &GeoResolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		stops:  stops,
		cache:  make(map[string]geoCacheEntry),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// normalizeAddress builds the cache key: trimmed, lower-cased, whitespace collapsed
func normalizeAddress(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// Resolve converts an address to coordinates. The boolean is false on a miss.
func (r *GeoResolver) Resolve(address string) (Coordinates, bool) {
	trimmed := strings.TrimSpace(address)
	if len(trimmed) < minAddressLength {
		log.Printf("🌍 [GEOCODE] Rejecting address %q: too short to resolve", trimmed)
		return Coordinates{}, false
	}

	key := normalizeAddress(trimmed)

	if coords, found, cached := r.cacheLookup(key); cached {
		if !found {
			log.Printf("🌍 [GEOCODE] Cache hit (miss) for %q", key)
			return Coordinates{}, false
		}
		log.Printf("🌍 [GEOCODE] Cache hit for %q: (%.6f, %.6f)", key, coords.Lat, coords.Lng)
		return coords, true
	}

	coords := r.resolvePrimary(key)

	if coords == nil && r.cfg.FallbackAPIKey != "" {
		log.Printf("🌍 [GEOCODE] Primary exhausted for %q, trying fallback provider", key)
		coords = r.resolveFallback(key)
	}

	if coords != nil && !plausible(coords.Lat, coords.Lng) {
		log.Printf("⚠️  [GEOCODE] Discarding out-of-bounds result (%.6f, %.6f) for %q",
			coords.Lat, coords.Lng, key)
		coords = nil
	}

	// Cache both outcomes; persistently bad addresses shouldn't hammer the provider
	r.cacheStore(key, coords)

	if coords == nil {
		log.Printf("🌍 [GEOCODE] No result for %q (miss cached)", key)
		return Coordinates{}, false
	}

	log.Printf("🌍 [GEOCODE] Resolved %q to (%.6f, %.6f)", key, coords.Lat, coords.Lng)
	return *coords, true
}

// ResolveStop resolves a stop's address and writes the coordinates back onto
// the stop so future evaluations skip resolution entirely
func (r *GeoResolver) ResolveStop(stop *models.Stop) (Coordinates, bool) {
	if stop.HasCoordinates() {
		return Coordinates{Lat: *stop.Latitude, Lng: *stop.Longitude}, true
	}

	coords, ok := r.Resolve(stop.Address)
	if !ok {
		return Coordinates{}, false
	}

	if r.stops != nil {
		if err := r.stops.SetStopCoordinates(stop.ID, coords.Lat, coords.Lng); err != nil {
			log.Printf("⚠️  [GEOCODE] Failed to backfill coordinates on stop %s: %v", stop.ID, err)
		} else {
			lat, lng := coords.Lat, coords.Lng
			stop.Latitude = &lat
			stop.Longitude = &lng
		}
	}
	return coords, true
}

// cacheLookup returns (coords, found, cached): cached=false means no usable
// entry, cached=true with found=false means a cached miss
func (r *GeoResolver) cacheLookup(key string) (Coordinates, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[key]
	if !ok {
		return Coordinates{}, false, false
	}
	if r.now().Sub(entry.insertedAt) > r.cfg.CacheTTL {
		delete(r.cache, key)
		return Coordinates{}, false, false
	}
	if entry.coords == nil {
		return Coordinates{}, false, true
	}
	return *entry.coords, true, true
}

func (r *GeoResolver) cacheStore(key string, coords *Coordinates) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = geoCacheEntry{coords: coords, insertedAt: r.now()}
}

// waitTurn blocks until this call's slot in the global request schedule.
// Concurrent callers are serialized so the provider never sees two requests
// closer than MinRequestGap apart.
func (r *GeoResolver) waitTurn() {
	r.gateMu.Lock()
	now := r.now()
	var wait time.Duration
	if now.Before(r.nextAllowed) {
		wait = r.nextAllowed.Sub(now)
		r.nextAllowed = r.nextAllowed.Add(r.cfg.MinRequestGap)
	} else {
		r.nextAllowed = now.Add(r.cfg.MinRequestGap)
	}
	r.gateMu.Unlock()

	if wait > 0 {
		r.sleep(wait)
	}
}

// resolvePrimary queries the Nominatim-style provider with exponential backoff
func (r *GeoResolver) resolvePrimary(address string) *Coordinates {
	delay := r.cfg.RetryBaseDelay
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		coords, err := r.queryPrimary(address)
		if err == nil {
			return coords
		}

		log.Printf("⚠️  [GEOCODE] Primary attempt %d/%d failed for %q: %v",
			attempt, r.cfg.MaxAttempts, address, err)
		if attempt < r.cfg.MaxAttempts {
			r.sleep(delay)
			delay *= 2
		}
	}
	return nil
}

func (r *GeoResolver) queryPrimary(address string) (*Coordinates, error) {
	r.waitTurn()

	params := url.Values{}
	params.Add("q", address)
	params.Add("format", "json")
	params.Add("limit", "1")

	fullURL := fmt.Sprintf("%s/search?%s", r.cfg.PrimaryBaseURL, params.Encode())

	req, err := http.NewRequest(http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	// Nominatim returns lat/lon as strings
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(results) == 0 {
		return nil, nil // Provider answered: no such place
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	return &Coordinates{Lat: lat, Lng: lng}, nil
}

// resolveFallback queries the HERE-style keyed provider, single attempt
func (r *GeoResolver) resolveFallback(address string) *Coordinates {
	r.waitTurn()

	params := url.Values{}
	params.Add("q", address)
	params.Add("apiKey", r.cfg.FallbackAPIKey)

	fullURL := fmt.Sprintf("%s/v1/geocode?%s", r.cfg.FallbackBaseURL, params.Encode())

	resp, err := r.client.Get(fullURL)
	if err != nil {
		log.Printf("⚠️  [GEOCODE] Fallback request failed for %q: %v", address, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️  [GEOCODE] Fallback returned status %d for %q", resp.StatusCode, address)
		return nil
	}

	var result struct {
		Items []struct {
			Position struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"position"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("⚠️  [GEOCODE] Failed to decode fallback response for %q: %v", address, err)
		return nil
	}

	if len(result.Items) == 0 {
		return nil
	}

	return &Coordinates{Lat: result.Items[0].Position.Lat, Lng: result.Items[0].Position.Lng}
}

func plausible(lat, lng float64) bool {
	return lat >= minPlausibleLat && lat <= maxPlausibleLat &&
		lng >= minPlausibleLng && lng <= maxPlausibleLng
}
