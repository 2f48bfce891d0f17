package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/events"
	"github.com/beautycita/geotrack/internal/geosource"
	"github.com/beautycita/geotrack/internal/lifecycle"
	"github.com/beautycita/geotrack/internal/permission"
	"github.com/beautycita/geotrack/internal/proximity"
	"github.com/beautycita/geotrack/internal/session"
	"github.com/beautycita/geotrack/internal/tracker"
	"github.com/beautycita/geotrack/pkg/locationapi"
	"github.com/beautycita/geotrack/pkg/nominatim"
)

// agentEnv holds the initialized store, clients, and managers shared by the
// track/serve/query commands.
type agentEnv struct {
	Store       session.Store
	Sessions    *session.Manager
	Source      geosource.Source
	Machine     *permission.Machine
	Tracker     *tracker.Manager
	Queue       *tracker.PushQueue
	Engine      *proximity.Engine
	Coordinator *lifecycle.Coordinator
	Revocations *events.Broadcaster[events.Revocation]
}

// Close releases resources held by the agent environment. Tracking loops are
// shut down without touching the persisted session so a restart resumes
// where the agent left off.
func (ae *agentEnv) Close() {
	if ae.Tracker != nil {
		ae.Tracker.Shutdown()
	}
	if ae.Sessions != nil {
		ae.Sessions.Close()
	}
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initAgent sets up the session store, the position bridge, the permission
// machine, the tracker, and the proximity engine. Callers should defer
// env.Close().
func initAgent(ctx context.Context) (*agentEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	sessions := session.NewManager(st)

	src := geosource.NewHTTPBridge(cfg.Source.BridgeURL,
		geosource.WithRequestTimeout(time.Duration(cfg.Source.RequestTimeoutMS)*time.Millisecond),
		geosource.WithWatchInterval(time.Duration(cfg.Source.WatchIntervalMS)*time.Millisecond),
	)

	// Without a bridge the grant state cannot be queried directly, so
	// permission checks fall back to the cached-grant heuristic.
	var prober permission.Prober
	if cfg.Source.BridgeURL != "" {
		prober = permission.NewNativeProber(src)
	} else {
		zap.L().Warn("no position bridge configured, using cached grant heuristic")
		prober = permission.NewCachedProber(sessions)
	}

	revocations := events.NewBroadcaster[events.Revocation]()

	apiClient := locationapi.NewClient(cfg.API.BaseURL, locationapi.WithToken(cfg.API.Token))
	queue := tracker.NewPushQueue(apiClient, st, cfg.Tracker.QueueDepth, cfg.Tracker.PushMaxAttempts)
	trk := tracker.NewManager(sessions, src, queue, revocations, cfg.Tracker.NormalInterval(), cfg.Tracker.BookingInterval())

	machine := permission.NewMachine(sessions, src, prober, revocations)
	machine.SetOnGranted(trk.Start)
	machine.SetOnRevoked(trk.Shutdown)

	var reg *proximity.Registry
	if cfg.Registry.Path != "" {
		reg, err = proximity.LoadFromFile(cfg.Registry.Path)
	} else {
		reg, err = proximity.NewEmbeddedRegistry()
	}
	if err != nil {
		sessions.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "load stylist registry")
	}
	zap.L().Info("stylist registry loaded", zap.Int("stylists", len(reg.Stylists())))

	geocoder := nominatim.NewClient(cfg.Nominatim.BaseURL,
		nominatim.WithRateLimit(cfg.Nominatim.RatePerSec),
		nominatim.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Nominatim.TimeoutSecs) * time.Second}),
	)
	engine := proximity.NewEngine(sessions, reg, geocoder, cfg.Registry.RadiusKm)

	return &agentEnv{
		Store:       st,
		Sessions:    sessions,
		Source:      src,
		Machine:     machine,
		Tracker:     trk,
		Queue:       queue,
		Engine:      engine,
		Coordinator: lifecycle.NewCoordinator(trk, sessions),
		Revocations: revocations,
	}, nil
}

func initStore(ctx context.Context) (session.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "geotrack.db"
		}
		return session.NewSQLite(dsn)
	case "postgres":
		return session.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
