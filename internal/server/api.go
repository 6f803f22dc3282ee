package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
	"github.com/afroash/krishi-monitor/internal/observability"
	"github.com/afroash/krishi-monitor/internal/recommend"
	"github.com/afroash/krishi-monitor/internal/storage"
)

const (
	defaultHistoryLimit         = 20
	defaultRecommendationsLimit = 20
	maxListLimit                = 500
)

// APIHandler handles HTTP API requests for the dashboard
type APIHandler struct {
	resolver *recommend.Resolver
	engine   *recommend.Engine
	store    ReadingStore
	weather  WeatherService
	audit    AuditLog
	history  RecommendationHistory
	dbStats  StorageStatsProvider
	nodes    func() []NodeConnection
	metrics  *observability.Metrics
	logger   zerolog.Logger

	defaultCity string
	defaultCrop string
	version     string
}

// NewAPIHandler creates a new API handler. weather may be nil, in which case
// the weather endpoints fail.
func NewAPIHandler(resolver *recommend.Resolver, store ReadingStore, weather WeatherService, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		resolver:    resolver,
		engine:      recommend.NewEngine(resolver),
		store:       store,
		weather:     weather,
		logger:      logger,
		defaultCity: recommend.DefaultCity,
		defaultCrop: recommend.DefaultCrop,
		version:     "dev",
	}
}

// SetAuditLog enables recording and reading back issued recommendations
func (api *APIHandler) SetAuditLog(audit AuditLog, history RecommendationHistory) {
	api.audit = audit
	api.history = history
}

// SetStorageStats enables database statistics in /api/stats
func (api *APIHandler) SetStorageStats(p StorageStatsProvider) {
	api.dbStats = p
}

// SetNodeSource sets where /api/nodes reads connected field nodes from
func (api *APIHandler) SetNodeSource(nodes func() []NodeConnection) {
	api.nodes = nodes
}

// SetMetrics sets the metrics sink
func (api *APIHandler) SetMetrics(m *observability.Metrics) {
	api.metrics = m
}

// SetDefaults overrides the city and crop used when a request omits them
func (api *APIHandler) SetDefaults(city, crop string) {
	if city != "" {
		api.defaultCity = city
	}
	if crop != "" {
		api.defaultCrop = crop
	}
}

// SetVersion sets the version reported by /health
func (api *APIHandler) SetVersion(v string) {
	api.version = v
}

// HandleRecommendation evaluates one irrigation recommendation
func (api *APIHandler) HandleRecommendation(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(w, r)
	if err != nil {
		api.fail(w, r, err)
		return
	}

	req := body.recommendationRequest(api.defaultCity, api.defaultCrop)
	reading, rec := api.engine.Evaluate(req)

	api.metrics.RecommendationIssued(string(rec.IrrigationStatus))
	if api.audit != nil {
		api.audit.Record(req.City, req.Crop, rec, reading.Timestamp)
	}

	api.logger.Info().
		Str("city", req.City).
		Str("crop", req.Crop).
		Float64("soil_moisture", reading.SoilMoisture).
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Str("status", string(rec.IrrigationStatus)).
		Int("confidence", rec.Confidence).
		Msg("Recommendation issued")

	writeJSON(w, http.StatusOK, rec)
}

// HandleSensorData returns a freshly simulated reading and keeps it in history
func (api *APIHandler) HandleSensorData(w http.ResponseWriter, r *http.Request) {
	reading := api.resolver.Simulate()
	reading.SensorID = SimulatedSensorID
	api.store.Add(&reading)

	api.logger.Debug().
		Float64("soil_moisture", reading.SoilMoisture).
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Msg("Generated sensor data")

	writeJSON(w, http.StatusOK, reading)
}

// HandleWeather returns current conditions for a city or coordinates
func (api *APIHandler) HandleWeather(w http.ResponseWriter, r *http.Request) {
	if api.weather == nil {
		api.fail(w, r, errWeatherDisabled)
		return
	}
	body, err := decodeObject(w, r)
	if err != nil {
		api.fail(w, r, err)
		return
	}

	loc := body.location(api.defaultCity)
	data, err := api.weather.Current(r.Context(), loc)
	if err != nil {
		api.fail(w, r, err)
		return
	}

	if loc.HasCoords() {
		name, err := api.weather.ReverseGeocode(r.Context(), *loc.Lat, *loc.Lon)
		if err != nil {
			api.logger.Debug().Err(err).Msg("Reverse geocoding failed, keeping upstream city")
		} else if name != "" {
			data.City = name
		}
	}

	writeJSON(w, http.StatusOK, data)
}

// HandleForecast returns the 5 day forecast for a city or coordinates
func (api *APIHandler) HandleForecast(w http.ResponseWriter, r *http.Request) {
	if api.weather == nil {
		api.fail(w, r, errWeatherDisabled)
		return
	}
	body, err := decodeObject(w, r)
	if err != nil {
		api.fail(w, r, err)
		return
	}

	forecast, err := api.weather.Forecast(r.Context(), body.location(api.defaultCity))
	if err != nil {
		api.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// HandleHistory returns recent readings for charting, newest first
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		sensorID = api.defaultSensor()
	}

	limit := queryLimit(r, defaultHistoryLimit)
	writeJSON(w, http.StatusOK, api.store.GetLatest(sensorID, limit))
}

// DashboardData contains all data for the dashboard
type DashboardData struct {
	CurrentReading *models.Reading              `json:"currentReading"`
	Stats          StoreStats                   `json:"stats"`
	SensorIDs      []string                     `json:"sensorIds"`
	LastIrrigation *models.RecommendationRecord `json:"lastIrrigation,omitempty"`
	LastUpdate     time.Time                    `json:"lastUpdate"`
}

// HandleDashboardData returns combined data for the dashboard
func (api *APIHandler) HandleDashboardData(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		sensorID = api.defaultSensor()
	}

	data := DashboardData{
		CurrentReading: api.store.GetCurrentReading(sensorID),
		Stats:          api.store.Stats(),
		SensorIDs:      api.store.GetSensorIDs(),
		LastUpdate:     time.Now().UTC(),
	}

	if api.history != nil {
		last, err := api.history.GetLastIrrigation()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to load last irrigation")
		}
		data.LastIrrigation = last
	}

	writeJSON(w, http.StatusOK, data)
}

// HandleLastIrrigation returns the latest recommendation that switched irrigation on
func (api *APIHandler) HandleLastIrrigation(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusNotFound, errHistoryDisabled.Error())
		return
	}

	last, err := api.history.GetLastIrrigation()
	if err != nil {
		api.fail(w, r, err)
		return
	}
	if last == nil {
		writeError(w, http.StatusNotFound, "no irrigation recommended yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// HandleRecommendations returns recent audit records, newest first
func (api *APIHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusNotFound, errHistoryDisabled.Error())
		return
	}

	recs, err := api.history.GetRecentRecommendations(queryLimit(r, defaultRecommendationsLimit))
	if err != nil {
		api.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.RecommendationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// StatsResponse is the body of /api/stats
type StatsResponse struct {
	Memory  StoreStats            `json:"memory"`
	Storage *storage.StorageStats `json:"storage,omitempty"`
}

// HandleStats returns reading history and database statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Memory: api.store.Stats()}
	if api.dbStats != nil {
		stats, err := api.dbStats.GetStorageStats()
		if err != nil {
			api.fail(w, r, err)
			return
		}
		resp.Storage = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleNodes lists the field nodes currently streaming readings
func (api *APIHandler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []NodeConnection{}
	if api.nodes != nil {
		nodes = api.nodes()
	}
	writeJSON(w, http.StatusOK, nodes)
}

// HealthResponse is the /health payload. WeatherBreaker is omitted when
// weather is not configured.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	WeatherBreaker string `json:"weatherBreaker,omitempty"`
}

// HandleHealth reports liveness, version and the weather breaker state
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: api.version}
	if api.weather != nil {
		resp.WeatherBreaker = api.weather.BreakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}

var (
	errWeatherDisabled = errors.New("weather service not configured")
	errHistoryDisabled = errors.New("recommendation history is not enabled")
)

// defaultSensor prefers the simulated sensor, then the first known one.
func (api *APIHandler) defaultSensor() string {
	ids := api.store.GetSensorIDs()
	for _, id := range ids {
		if id == SimulatedSensorID {
			return id
		}
	}
	if len(ids) > 0 {
		return ids[0]
	}
	return SimulatedSensorID
}

// fail logs err and replies 500 {error}.
func (api *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	api.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return min(limit, maxListLimit)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
