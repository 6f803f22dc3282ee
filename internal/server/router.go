package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/observability"
)

// NewRouter wires the dashboard API, the field-node stream and /metrics.
// The returned handler recovers panics, adds CORS headers and logs every
// request, in that order from the outside in.
func NewRouter(api *APIHandler, stream *Handler, metrics *observability.Metrics, logger zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(routeMetrics(metrics))

	r.HandleFunc("/api/recommendation", api.HandleRecommendation).Methods(http.MethodPost)
	r.HandleFunc("/api/sensor-data", api.HandleSensorData).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/weather", api.HandleWeather).Methods(http.MethodPost)
	r.HandleFunc("/api/weather-forecast", api.HandleForecast).Methods(http.MethodPost)

	r.HandleFunc("/api/history", api.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/dashboard-data", api.HandleDashboardData).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", api.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/nodes", api.HandleNodes).Methods(http.MethodGet)
	r.HandleFunc("/api/irrigation/last", api.HandleLastIrrigation).Methods(http.MethodGet)
	r.HandleFunc("/api/recommendations", api.HandleRecommendations).Methods(http.MethodGet)

	r.HandleFunc("/health", api.HandleHealth).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	if stream != nil {
		r.Handle("/sensor-stream", stream).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return Recover(logger, CORS(AccessLog(logger, r)))
}
