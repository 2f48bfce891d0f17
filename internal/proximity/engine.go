package proximity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/search"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/pkg/nominatim"
)

// Puerto Vallarta metro area: center of the service region and the radius
// that covers it.
const (
	pvCenterLat  = 20.6134
	pvCenterLng  = -105.2298
	pvRadiusKm   = 30
	defaultLimit = 20
)

// ErrLocationUnavailable is returned by queries that need the caller's
// position when no fix has been cached yet.
var ErrLocationUnavailable = eris.New("proximity: location not available, enable location access first")

// SessionReader provides the current session snapshot.
type SessionReader interface {
	Get(ctx context.Context) (model.LocationSession, error)
}

// Query is a filtered stylist search. Zero-valued fields do not filter.
// All set fields must match (they are ANDed together).
type Query struct {
	Specialty    string
	PriceRanges  []model.PriceTier
	MinRating    float64
	Availability *bool
	Neighborhood string
	RadiusKm     float64
}

// Engine runs proximity queries against the stylist registry, anchored on
// the session's cached location.
type Engine struct {
	sessions        SessionReader
	registry        *Registry
	geocoder        nominatim.Client
	defaultRadiusKm float64

	// matcher folds case and diacritics so "Peinados" matches "peinados"
	// and "Vásquez" matches "vasquez". The registry mixes Spanish and
	// English, so matching is tag-neutral.
	matcher *search.Matcher
}

// NewEngine creates an Engine. geocoder may be nil, in which case address
// lookups fall back to raw coordinates.
func NewEngine(sessions SessionReader, registry *Registry, geocoder nominatim.Client, defaultRadiusKm float64) *Engine {
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = 25
	}
	return &Engine{
		sessions:        sessions,
		registry:        registry,
		geocoder:        geocoder,
		defaultRadiusKm: defaultRadiusKm,
		matcher:         search.New(language.Und, search.Loose),
	}
}

// Nearby returns stylists within radiusKm of the cached location, closest
// first, capped at limit. Zero values take the configured defaults.
func (e *Engine) Nearby(ctx context.Context, radiusKm float64, limit int) ([]model.StylistMatch, error) {
	if radiusKm <= 0 {
		radiusKm = e.defaultRadiusKm
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	sess, err := e.sessions.Get(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "proximity: read session")
	}
	if sess.LastLocation == nil {
		return nil, ErrLocationUnavailable
	}
	origin := *sess.LastLocation

	// Cheap bounding-box prefilter before the trig-heavy exact distance.
	bounds := radiusBounds(origin.Latitude, origin.Longitude, radiusKm)

	var matches []model.StylistMatch
	for _, s := range e.registry.Stylists() {
		if bounds != nil && !bounds.OverlapsPoint(geom.XY, geom.Coord{s.Longitude, s.Latitude}) {
			continue
		}
		d := Haversine(origin.Latitude, origin.Longitude, s.Latitude, s.Longitude)
		if d > radiusKm {
			continue
		}
		matches = append(matches, model.StylistMatch{Stylist: s, DistanceKm: d})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Search returns nearby stylists matching every set filter in q.
func (e *Engine) Search(ctx context.Context, q Query) ([]model.StylistMatch, error) {
	nearby, err := e.Nearby(ctx, q.RadiusKm, defaultLimit)
	if err != nil {
		return nil, err
	}

	var out []model.StylistMatch
	for _, m := range nearby {
		if q.Specialty != "" && !e.matchesSpecialty(m.Specialty, q.Specialty) {
			continue
		}
		if len(q.PriceRanges) > 0 && !containsTier(q.PriceRanges, m.PriceRange) {
			continue
		}
		if q.MinRating > 0 && m.Rating < q.MinRating {
			continue
		}
		if q.Availability != nil && m.Availability != *q.Availability {
			continue
		}
		if q.Neighborhood != "" && m.Neighborhood != q.Neighborhood {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// InPuertoVallarta reports whether the cached location falls inside the
// service area. A missing location is simply "not in the area", not an error.
func (e *Engine) InPuertoVallarta(ctx context.Context) (bool, error) {
	sess, err := e.sessions.Get(ctx)
	if err != nil {
		return false, eris.Wrap(err, "proximity: read session")
	}
	if sess.LastLocation == nil {
		return false, nil
	}
	d := Haversine(sess.LastLocation.Latitude, sess.LastLocation.Longitude, pvCenterLat, pvCenterLng)
	return d <= pvRadiusKm, nil
}

// AddressFor resolves a coordinate pair to a display address, falling back
// to "lat, lng" with four decimals when geocoding is off or fails.
func (e *Engine) AddressFor(ctx context.Context, lat, lng float64) string {
	fallback := fmt.Sprintf("%.4f, %.4f", lat, lng)
	if e.geocoder == nil {
		return fallback
	}
	name, err := e.geocoder.Reverse(ctx, lat, lng)
	if err != nil {
		zap.L().Debug("proximity: reverse geocode failed", zap.Error(err))
		return fallback
	}
	return name
}

// LocationString renders the cached location for display.
func (e *Engine) LocationString(ctx context.Context) string {
	sess, err := e.sessions.Get(ctx)
	if err != nil || sess.LastLocation == nil {
		return "Location not available"
	}
	return e.AddressFor(ctx, sess.LastLocation.Latitude, sess.LastLocation.Longitude)
}

// Neighborhoods returns the distinct neighborhoods in the registry.
func (e *Engine) Neighborhoods() []string {
	return e.registry.Neighborhoods()
}

// AllStylists returns the full registry, unfiltered.
func (e *Engine) AllStylists() []model.Stylist {
	return e.registry.Stylists()
}

func (e *Engine) matchesSpecialty(specialties []string, query string) bool {
	pattern := e.matcher.CompileString(query)
	for _, s := range specialties {
		if start, _ := pattern.IndexString(s); start >= 0 {
			return true
		}
	}
	return false
}

func containsTier(tiers []model.PriceTier, t model.PriceTier) bool {
	for _, tier := range tiers {
		if tier == t {
			return true
		}
	}
	return false
}

// radiusBounds builds a lat/lng bounding box that fully contains the radius
// circle. Returns nil near the poles where the longitude span degenerates.
func radiusBounds(lat, lng, radiusKm float64) *geom.Bounds {
	const kmPerDegree = 111.32
	cosLat := math.Cos(toRadians(lat))
	if cosLat < 1e-6 {
		return nil
	}
	dLat := radiusKm / kmPerDegree
	dLng := radiusKm / (kmPerDegree * cosLat)
	return geom.NewBounds(geom.XY).Set(lng-dLng, lat-dLat, lng+dLng, lat+dLat)
}
