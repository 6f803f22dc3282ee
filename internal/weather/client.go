// Package weather proxies OpenWeather current conditions, the 5 day forecast
// and reverse geocoding for the dashboard.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/afroash/krishi-monitor/internal/models"
	"github.com/afroash/krishi-monitor/internal/observability"
)

var (
	ErrNoAPIKey    = errors.New("OpenWeather API key not configured")
	ErrBreakerOpen = errors.New("weather service temporarily unavailable")
)

const breakerTarget = "openweather"

// Request kinds, used for cache keys, metric labels and error prefixes.
const (
	KindCurrent  = "current"
	KindForecast = "forecast"
	KindGeocode  = "geocode"
)

// APIError is a non-2xx reply from OpenWeather.
type APIError struct {
	Kind       string
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindForecast:
		return "forecast API error: " + e.Status
	case KindGeocode:
		return "geocoding API error: " + e.Status
	default:
		return "weather API error: " + e.Status
	}
}

// Cache stores serialized upstream results. storage.SQLiteStore implements it.
type Cache interface {
	GetCached(ctx context.Context, key string) ([]byte, bool, error)
	PutCached(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Location is either a city name or a coordinate pair. Coordinates win when
// both are set.
type Location struct {
	City string
	Lat  *float64
	Lon  *float64
}

// HasCoords reports whether both coordinates are present.
func (l Location) HasCoords() bool {
	return l.Lat != nil && l.Lon != nil
}

func (l Location) query() url.Values {
	q := url.Values{}
	if l.HasCoords() {
		q.Set("lat", formatCoord(*l.Lat))
		q.Set("lon", formatCoord(*l.Lon))
	} else {
		q.Set("q", l.City)
	}
	return q
}

func (l Location) cacheKey(kind string) string {
	if l.HasCoords() {
		return fmt.Sprintf("%s:%.4f,%.4f", kind, *l.Lat, *l.Lon)
	}
	return kind + ":" + strings.ToLower(strings.TrimSpace(l.City))
}

// Config holds client settings.
type Config struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	CacheTTL        time.Duration
	BreakerFailures int
	BreakerOpenFor  time.Duration
	BreakerInterval time.Duration
}

// Client talks to OpenWeather through a circuit breaker and an optional cache.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   Cache
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewClient creates a weather client. cache and metrics may be nil.
func NewClient(cfg Config, cache Cache, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		metrics: metrics,
		logger:  logger.With().Str("component", "weather").Logger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     breakerTarget,
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		// A 4xx means the request was bad, not that OpenWeather is down.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			c.metrics.SetCircuitBreakerState(name, breakerGauge(to))
		},
	})

	return c
}

// Current returns current conditions for loc.
func (c *Client) Current(ctx context.Context, loc Location) (models.WeatherData, error) {
	if c.cfg.APIKey == "" {
		return models.WeatherData{}, ErrNoAPIKey
	}
	return cached(ctx, c, loc.cacheKey(KindCurrent), func() (models.WeatherData, error) {
		var raw currentResponse
		if err := c.call(ctx, KindCurrent, "/data/2.5/weather", withUnits(loc.query()), &raw); err != nil {
			return models.WeatherData{}, err
		}
		data, err := raw.toWeatherData(loc.City)
		if err != nil {
			return models.WeatherData{}, fmt.Errorf("decode current response: %w", err)
		}
		return data, nil
	})
}

// Forecast returns the 5 day / 3 hour forecast for loc.
func (c *Client) Forecast(ctx context.Context, loc Location) (models.WeatherForecast, error) {
	if c.cfg.APIKey == "" {
		return models.WeatherForecast{}, ErrNoAPIKey
	}
	return cached(ctx, c, loc.cacheKey(KindForecast), func() (models.WeatherForecast, error) {
		var raw forecastResponse
		if err := c.call(ctx, KindForecast, "/data/2.5/forecast", withUnits(loc.query()), &raw); err != nil {
			return models.WeatherForecast{}, err
		}
		return raw.toForecast(loc.City), nil
	})
}

// ReverseGeocode returns the place name nearest to lat/lon, or "" when
// OpenWeather knows none.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNoAPIKey
	}
	loc := Location{Lat: &lat, Lon: &lon}
	return cached(ctx, c, loc.cacheKey(KindGeocode), func() (string, error) {
		q := loc.query()
		q.Set("limit", "1")
		var raw []struct {
			Name string `json:"name"`
		}
		if err := c.call(ctx, KindGeocode, "/geo/1.0/reverse", q, &raw); err != nil {
			return "", err
		}
		if len(raw) == 0 {
			return "", nil
		}
		return raw[0].Name, nil
	})
}

// BreakerState reports the breaker state: "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// cached serves key from the cache or runs load and stores its result.
// Cache failures are logged and never fail the request.
func cached[T any](ctx context.Context, c *Client, key string, load func() (T, error)) (T, error) {
	if c.cache != nil {
		payload, ok, err := c.cache.GetCached(ctx, key)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Weather cache read failed")
		}
		if ok {
			var v T
			if err := json.Unmarshal(payload, &v); err == nil {
				c.metrics.CacheHit()
				return v, nil
			}
		}
		c.metrics.CacheMiss()
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	if c.cache != nil && c.cfg.CacheTTL > 0 {
		payload, err := json.Marshal(v)
		if err == nil {
			err = c.cache.PutCached(ctx, key, payload, c.cfg.CacheTTL)
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Weather cache write failed")
		}
	}
	return v, nil
}

// call performs one GET through the circuit breaker and decodes the JSON body
// into out.
func (c *Client) call(ctx context.Context, kind, path string, q url.Values, out any) error {
	q.Set("appid", c.cfg.APIKey)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + q.Encode()

	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.get(ctx, kind, endpoint, out)
	})
	c.metrics.UpstreamRequest(kind, time.Since(start), err == nil)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("kind", kind).Msg("OpenWeather request failed")
	}
	return err
}

func (c *Client) get(ctx context.Context, kind, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Kind: kind, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}

func withUnits(q url.Values) url.Values {
	q.Set("units", "metric")
	return q
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return observability.BreakerOpen
	case gobreaker.StateHalfOpen:
		return observability.BreakerHalfOpen
	default:
		return observability.BreakerClosed
	}
}
