package session

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/model"
)

// Manager serializes all session reads and writes through a single actor
// goroutine, so interleaved callbacks (watch samples, push ticks, permission
// changes) cannot clobber each other's updates. Writes go through the store's
// sequence CAS; on a lost race the actor reloads and re-applies the mutation
// against the fresh record.
type Manager struct {
	store Store
	reqs  chan request
	done  chan struct{}
}

type request struct {
	mutate func(*model.LocationSession) // nil for reads
	clear  bool
	reply  chan reply
}

type reply struct {
	sess model.LocationSession
	err  error
}

// NewManager creates a Manager and starts its actor goroutine.
func NewManager(store Store) *Manager {
	m := &Manager{
		store: store,
		reqs:  make(chan request),
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops the actor. Pending requests complete first.
func (m *Manager) Close() {
	close(m.reqs)
	<-m.done
}

// Get returns the current session snapshot.
func (m *Manager) Get(ctx context.Context) (model.LocationSession, error) {
	return m.send(ctx, request{})
}

// Update applies mutate to the current session and persists the result.
// The returned snapshot reflects the applied mutation.
func (m *Manager) Update(ctx context.Context, mutate func(*model.LocationSession)) (model.LocationSession, error) {
	return m.send(ctx, request{mutate: mutate})
}

// Clear deletes the stored record and resets the in-memory session to the
// lazy default.
func (m *Manager) Clear(ctx context.Context) error {
	_, err := m.send(ctx, request{clear: true})
	return err
}

func (m *Manager) send(ctx context.Context, req request) (model.LocationSession, error) {
	req.reply = make(chan reply, 1)
	select {
	case m.reqs <- req:
	case <-ctx.Done():
		return model.LocationSession{}, eris.Wrap(ctx.Err(), "session: send")
	}
	select {
	case r := <-req.reply:
		return r.sess, r.err
	case <-ctx.Done():
		return model.LocationSession{}, eris.Wrap(ctx.Err(), "session: await reply")
	}
}

func (m *Manager) run() {
	defer close(m.done)

	ctx := context.Background()
	var (
		rec    Record
		loaded bool
	)

	for req := range m.reqs {
		if !loaded {
			r, err := m.store.Load(ctx)
			if err != nil {
				req.reply <- reply{err: err}
				continue
			}
			rec = r
			loaded = true
		}

		switch {
		case req.clear:
			if err := m.store.Clear(ctx); err != nil {
				req.reply <- reply{err: err}
				continue
			}
			rec = Record{Session: model.DefaultSession()}
			req.reply <- reply{sess: rec.Session}

		case req.mutate != nil:
			sess, err := m.applyMutation(ctx, &rec, req.mutate)
			req.reply <- reply{sess: sess, err: err}

		default:
			req.reply <- reply{sess: rec.Session}
		}
	}
}

// applyMutation runs mutate against the current record and saves it with the
// CAS guard, reloading and retrying once if another writer won the race.
func (m *Manager) applyMutation(ctx context.Context, rec *Record, mutate func(*model.LocationSession)) (model.LocationSession, error) {
	for attempt := 0; ; attempt++ {
		next := rec.Session
		mutate(&next)
		enforceInvariants(rec.Session, &next)

		saved, err := m.store.Save(ctx, next, rec.Seq)
		if err == nil {
			*rec = saved
			return saved.Session, nil
		}
		if !eris.Is(err, ErrSequenceConflict) || attempt >= 1 {
			return model.LocationSession{}, err
		}

		zap.L().Warn("session: lost update race, reloading", zap.Int64("stale_seq", rec.Seq))
		fresh, loadErr := m.store.Load(ctx)
		if loadErr != nil {
			return model.LocationSession{}, loadErr
		}
		*rec = fresh
	}
}

// enforceInvariants repairs mutations that would violate the session's
// documented invariants.
func enforceInvariants(prev model.LocationSession, next *model.LocationSession) {
	// Tracking requires a grant. The transient checking state keeps an
	// existing grant's tracking alive while the probe is in flight.
	if next.TrackingEnabled &&
		next.PermissionStatus != model.PermissionGranted &&
		next.PermissionStatus != model.PermissionChecking {
		next.TrackingEnabled = false
	}
	// A booking id requires tracking.
	if next.BookingTrackingID != "" && !next.TrackingEnabled {
		next.BookingTrackingID = ""
	}
	// The last fix only moves forward in time.
	if prev.LastLocation != nil && next.LastLocation != nil &&
		next.LastLocation.Timestamp.Before(prev.LastLocation.Timestamp) {
		loc := *prev.LastLocation
		next.LastLocation = &loc
	}
	if !next.PermissionStatus.Valid() {
		next.PermissionStatus = model.PermissionPrompt
	}
}
