// Package api exposes the tracking agent over a local REST surface so the
// host app can drive permissions, tracking, and proximity queries.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/lifecycle"
	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/proximity"
	"github.com/beautycita/geotrack/internal/resilience"
)

// Sessions reads the current session snapshot.
type Sessions interface {
	Get(ctx context.Context) (model.LocationSession, error)
	Clear(ctx context.Context) error
}

// Permissions drives the permission state machine.
type Permissions interface {
	Check(ctx context.Context) (model.PermissionStatus, error)
	Request(ctx context.Context) (model.Position, bool, error)
}

// Tracker controls the tracking loops.
type Tracker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	StartBooking(ctx context.Context, bookingID string) error
	StopBooking(ctx context.Context) error
	Running() bool
}

// Finder runs proximity queries.
type Finder interface {
	Nearby(ctx context.Context, radiusKm float64, limit int) ([]model.StylistMatch, error)
	Search(ctx context.Context, q proximity.Query) ([]model.StylistMatch, error)
	InPuertoVallarta(ctx context.Context) (bool, error)
	LocationString(ctx context.Context) string
	Neighborhoods() []string
	AllStylists() []model.Stylist
}

// DeadLetters lists undeliverable pushes.
type DeadLetters interface {
	ListDeadLetters(ctx context.Context, limit int) ([]resilience.PushDeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}

// Routes holds the handler dependencies.
type Routes struct {
	sessions    Sessions
	permissions Permissions
	tracker     Tracker
	finder      Finder
	coordinator *lifecycle.Coordinator
	deadLetters DeadLetters
}

// NewRoutes creates the Routes with injected dependencies.
func NewRoutes(sessions Sessions, permissions Permissions, tracker Tracker, finder Finder, coordinator *lifecycle.Coordinator, deadLetters DeadLetters) *Routes {
	return &Routes{
		sessions:    sessions,
		permissions: permissions,
		tracker:     tracker,
		finder:      finder,
		coordinator: coordinator,
		deadLetters: deadLetters,
	}
}

// Router builds the chi router for the agent API.
func Router(rr *Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", rr.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", rr.getSession)
		r.Delete("/session", rr.clearSession)

		r.Post("/permission/check", rr.checkPermission)
		r.Post("/permission/request", rr.requestPermission)

		r.Post("/tracking/start", rr.startTracking)
		r.Post("/tracking/stop", rr.stopTracking)
		r.Post("/booking/start", rr.startBooking)
		r.Post("/booking/stop", rr.stopBooking)

		r.Post("/lifecycle", rr.lifecycleEvent)

		r.Get("/position", rr.getPosition)
		r.Get("/nearby", rr.nearby)
		r.Post("/search", rr.search)
		r.Get("/neighborhoods", rr.neighborhoods)
		r.Get("/stylists", rr.stylists)

		r.Get("/deadletters", rr.listDeadLetters)
		r.Delete("/deadletters/{id}", rr.deleteDeadLetter)
	})

	return r
}

func (rr *Routes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rr *Routes) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := rr.sessions.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (rr *Routes) clearSession(w http.ResponseWriter, r *http.Request) {
	if rr.tracker.Running() {
		if err := rr.tracker.Stop(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to stop tracking")
			return
		}
	}
	if err := rr.sessions.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (rr *Routes) checkPermission(w http.ResponseWriter, r *http.Request) {
	status, err := rr.permissions.Check(r.Context())
	if err != nil {
		zap.L().Error("permission check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "permission check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissionStatus": status})
}

func (rr *Routes) requestPermission(w http.ResponseWriter, r *http.Request) {
	pos, ok, err := rr.permissions.Request(r.Context())
	if err != nil {
		zap.L().Error("location request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "location request failed")
		return
	}
	resp := map[string]any{"granted": ok}
	if ok {
		resp["location"] = pos
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rr *Routes) startTracking(w http.ResponseWriter, r *http.Request) {
	if err := rr.tracker.Start(r.Context()); err != nil {
		writeError(w, http.StatusConflict, eris.ToString(err, false))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "tracking"})
}

func (rr *Routes) stopTracking(w http.ResponseWriter, r *http.Request) {
	if err := rr.tracker.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop tracking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (rr *Routes) startBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID string `json:"bookingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookingID == "" {
		writeError(w, http.StatusBadRequest, "bookingId is required")
		return
	}
	if err := rr.tracker.StartBooking(r.Context(), req.BookingID); err != nil {
		writeError(w, http.StatusConflict, eris.ToString(err, false))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "booking", "bookingId": req.BookingID})
}

func (rr *Routes) stopBooking(w http.ResponseWriter, r *http.Request) {
	if err := rr.tracker.StopBooking(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop booking tracking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "tracking"})
}

func (rr *Routes) lifecycleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event lifecycle.EventKind `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Event.Valid() {
		writeError(w, http.StatusBadRequest, "event must be one of hidden, visible, online, offline")
		return
	}
	rr.coordinator.Handle(r.Context(), lifecycle.Event{Kind: req.Event})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rr *Routes) getPosition(w http.ResponseWriter, r *http.Request) {
	sess, err := rr.sessions.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	if sess.LastLocation == nil {
		writeError(w, http.StatusNotFound, "no location available")
		return
	}
	inPV, err := rr.finder.InPuertoVallarta(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "area check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location":         sess.LastLocation,
		"address":          rr.finder.LocationString(r.Context()),
		"inPuertoVallarta": inPV,
	})
}

func (rr *Routes) nearby(w http.ResponseWriter, r *http.Request) {
	radius := queryFloat(r, "radius", 0)
	limit := int(queryFloat(r, "limit", 0))

	matches, err := rr.finder.Nearby(r.Context(), radius, limit)
	if err != nil {
		if eris.Is(err, proximity.ErrLocationUnavailable) {
			writeError(w, http.StatusConflict, "location not available, enable location access first")
			return
		}
		writeError(w, http.StatusInternalServerError, "nearby query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stylists": matches, "total": len(matches)})
}

func (rr *Routes) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Specialty    string   `json:"specialty"`
		PriceRanges  []string `json:"priceRange"`
		MinRating    float64  `json:"rating"`
		Availability *bool    `json:"availability"`
		Neighborhood string   `json:"neighborhood"`
		RadiusKm     float64  `json:"radius"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid search request")
		return
	}

	q := proximity.Query{
		Specialty:    req.Specialty,
		MinRating:    req.MinRating,
		Availability: req.Availability,
		Neighborhood: req.Neighborhood,
		RadiusKm:     req.RadiusKm,
	}
	for _, p := range req.PriceRanges {
		q.PriceRanges = append(q.PriceRanges, model.PriceTier(p))
	}

	matches, err := rr.finder.Search(r.Context(), q)
	if err != nil {
		if eris.Is(err, proximity.ErrLocationUnavailable) {
			writeError(w, http.StatusConflict, "location not available, enable location access first")
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stylists": matches, "total": len(matches)})
}

func (rr *Routes) neighborhoods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"neighborhoods": rr.finder.Neighborhoods()})
}

func (rr *Routes) stylists(w http.ResponseWriter, _ *http.Request) {
	all := rr.finder.AllStylists()
	writeJSON(w, http.StatusOK, map[string]any{"stylists": all, "total": len(all)})
}

func (rr *Routes) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int(queryFloat(r, "limit", 100))
	dls, err := rr.deadLetters.ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": dls, "total": len(dls)})
}

func (rr *Routes) deleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := rr.deadLetters.DeleteDeadLetter(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete dead letter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
