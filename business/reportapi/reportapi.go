// Package reportapi serves the read-only HTTP report/status endpoints from
// spec section 6, grounded on the teacher's gorilla/mux web service in
// app/gtfs-tripupdate-svc/tripupdate/web_service.go.
package reportapi

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/data/tripstore"
	"github.com/fleetsignal/motiontrack/business/motion/odometer"
)

// Handler holds the dependencies the report API reads from.
type Handler struct {
	log *logger.Logger
	db  *sqlx.DB
}

func makeHandler(log *logger.Logger, db *sqlx.DB) *Handler {
	return &Handler{log: log, db: db}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Printf("reportapi: error writing json response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// statusResponse is the payload for GET /devices/{deviceId}/status.
type statusResponse struct {
	DeviceID         string                       `json:"deviceId"`
	CurrentState     motiondata.Health             `json:"health"`
	Odometer         motiondata.TrackerOdometerView `json:"odometer"`
	LastPosition     motiondata.GeoPoint          `json:"lastPosition"`
	LastSpeed        float64                      `json:"lastSpeed"`
	LastSeenAt       time.Time                    `json:"lastSeenAt"`
	TotalTripsCount  int                          `json:"totalTripsCount"`
	TotalStopsCount  int                          `json:"totalStopsCount"`
	TotalDrivingTime int                          `json:"totalDrivingTime"`
	TotalIdleTime    int                          `json:"totalIdleTime"`
}

// statusFromTracker builds the status payload shared by the single-device
// and fleet-wide listing endpoints.
func statusFromTracker(ts *motiondata.TrackerState) statusResponse {
	return statusResponse{
		DeviceID:         ts.DeviceID,
		CurrentState:     ts.Health(time.Now()),
		Odometer:         odometer.BuildView(ts),
		LastPosition:     motiondata.NewGeoPoint(ts.LastLatitude, ts.LastLongitude),
		LastSpeed:        ts.LastSpeed,
		LastSeenAt:       ts.LastSeenAt,
		TotalTripsCount:  ts.TotalTripsCount,
		TotalStopsCount:  ts.TotalStopsCount,
		TotalDrivingTime: ts.TotalDrivingTime,
		TotalIdleTime:    ts.TotalIdleTime,
	}
}

// Status serves GET /devices/{deviceId}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	ts, err := tripstore.GetTrackerState(h.db, deviceID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	h.writeJSON(w, http.StatusOK, statusFromTracker(ts))
}

// FleetStatus serves GET /devices/status, the fleet-wide listing over every
// tracked device.
func (h *Handler) FleetStatus(w http.ResponseWriter, r *http.Request) {
	states, err := tripstore.GetAllTrackerStates(h.db)
	if err != nil {
		h.log.Printf("reportapi: error querying fleet status: %v", err)
		h.writeError(w, http.StatusInternalServerError, "error querying fleet status")
		return
	}
	resp := make([]statusResponse, 0, len(states))
	for _, ts := range states {
		resp = append(resp, statusFromTracker(ts))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// powerResponse is the payload for GET /devices/{deviceId}/power.
type powerResponse struct {
	DeviceID           string              `json:"deviceId"`
	PowerType          motiondata.PowerType `json:"powerType"`
	OvernightGapCount  int                 `json:"overnightGapCount"`
	LastOvernightGapAt *time.Time          `json:"lastOvernightGapAt,omitempty"`
	LastIgnition       bool                `json:"lastIgnition"`
}

// Power serves GET /devices/{deviceId}/power.
func (h *Handler) Power(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	ts, err := tripstore.GetTrackerState(h.db, deviceID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	h.writeJSON(w, http.StatusOK, powerResponse{
		DeviceID:           ts.DeviceID,
		PowerType:          ts.PowerType,
		OvernightGapCount:  ts.OvernightGapCount,
		LastOvernightGapAt: ts.LastOvernightGapAt,
		LastIgnition:       ts.LastIgnition,
	})
}

// parseTimeRange reads the from/to query params, defaulting to the last 24h.
func parseTimeRange(r *http.Request) (from, to time.Time, err error) {
	now := time.Now()
	from, to = now.Add(-24*time.Hour), now
	if v := r.URL.Query().Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

// metadataFilter pulls the single metadata.<key>=<value> query parameter, if
// present, from the request's raw query string.
func metadataFilter(r *http.Request) (key, value string) {
	for k, vals := range r.URL.Query() {
		if strings.HasPrefix(k, "metadata.") && len(vals) > 0 {
			return strings.TrimPrefix(k, "metadata."), vals[0]
		}
	}
	return "", ""
}

// Trips serves GET /devices/{deviceId}/trips.
func (h *Handler) Trips(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	from, to, err := parseTimeRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from/to")
		return
	}
	key, value := metadataFilter(r)
	trips, err := tripstore.GetTrips(h.db, deviceID, from, to, key, value)
	if err != nil {
		h.log.Printf("reportapi: error querying trips for %s: %v", deviceID, err)
		h.writeError(w, http.StatusInternalServerError, "error querying trips")
		return
	}
	h.writeJSON(w, http.StatusOK, trips)
}

// Stops serves GET /devices/{deviceId}/stops.
func (h *Handler) Stops(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	from, to, err := parseTimeRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from/to")
		return
	}
	key, value := metadataFilter(r)
	stops, err := tripstore.GetStops(h.db, deviceID, from, to, key, value)
	if err != nil {
		h.log.Printf("reportapi: error querying stops for %s: %v", deviceID, err)
		h.writeError(w, http.StatusInternalServerError, "error querying stops")
		return
	}
	h.writeJSON(w, http.StatusOK, stops)
}

type setOdometerRequest struct {
	InitialOdometer float64 `json:"initialOdometer"`
	Force           bool    `json:"force"`
}

type setOdometerResponse struct {
	PreviousOdometer float64 `json:"previousOdometer"`
	NewOdometer      float64 `json:"newOdometer"`
	OdometerOffset   float64 `json:"odometerOffset"`
}

// SetOdometer serves POST /devices/{deviceId}/odometer.
func (h *Handler) SetOdometer(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	var req setOdometerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ts, err := tripstore.GetTrackerState(h.db, deviceID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	previous := ts.DisplayOdometer()
	if err := odometer.ValidateCorrection(ts, req.InitialOdometer, req.Force); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	odometer.Correct(ts, req.InitialOdometer)

	if err := tripstore.RecordTrackerState(h.db, ts); err != nil {
		h.log.Printf("reportapi: error persisting odometer correction for %s: %v", deviceID, err)
		h.writeError(w, http.StatusInternalServerError, "error persisting odometer correction")
		return
	}

	h.writeJSON(w, http.StatusOK, setOdometerResponse{
		PreviousOdometer: previous,
		NewOdometer:      ts.DisplayOdometer(),
		OdometerOffset:   ts.OdometerOffset,
	})
}

// Healthz reports basic liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness by checking the database connection.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// createServer builds the configured http.Server for the report API.
func createServer(log *logger.Logger, db *sqlx.DB, httpPort int) *http.Server {
	h := makeHandler(log, db)

	r := mux.NewRouter()
	r.HandleFunc("/devices/status", h.FleetStatus).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceId}/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceId}/power", h.Power).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceId}/trips", h.Trips).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceId}/stops", h.Stops).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceId}/odometer", h.SetOdometer).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)

	return &http.Server{
		Addr:         "0.0.0.0:" + strconv.Itoa(httpPort),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      r,
	}
}

// Run starts the report API and blocks until shutdownSignal fires.
func Run(log *logger.Logger, wg *sync.WaitGroup, db *sqlx.DB, httpPort int, shutdownSignal chan bool) {
	wg.Add(1)
	defer wg.Done()

	srv := createServer(log, db, httpPort)
	log.Printf("reportapi: starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("reportapi: server ListenAndServe ended: %s", err)
		}
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	<-shutdownSignal
	log.Printf("reportapi: ending webservice on shutdown signal")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("reportapi: error shutting down webservice: %s", err)
	}
}
