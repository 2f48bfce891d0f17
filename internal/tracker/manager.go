package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beautycita/geotrack/internal/events"
	"github.com/beautycita/geotrack/internal/geosource"
	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/pkg/locationapi"
)

// Sessions is the slice of the session manager the tracker mutates.
type Sessions interface {
	Get(ctx context.Context) (model.LocationSession, error)
	Update(ctx context.Context, mutate func(*model.LocationSession)) (model.LocationSession, error)
}

// Pusher accepts outbound pushes. Satisfied by PushQueue.
type Pusher interface {
	Enqueue(payload model.PushPayload, endpoint string)
}

// Manager runs the tracking loops: a watch pump that keeps the session's fix
// fresh and a push ticker that reports it. While a booking is active the
// ticker tightens its cadence and every fresh fix is additionally pushed to
// the booking-track endpoint right away.
type Manager struct {
	sessions    Sessions
	src         geosource.Source
	pusher      Pusher
	revocations *events.Broadcaster[events.Revocation]

	normalInterval  time.Duration
	bookingInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	paused  bool
	cadence chan time.Duration
}

// NewManager creates a tracker. Intervals default to 60s normal and 30s
// booking when zero.
func NewManager(sessions Sessions, src geosource.Source, pusher Pusher, revocations *events.Broadcaster[events.Revocation], normalInterval, bookingInterval time.Duration) *Manager {
	if normalInterval <= 0 {
		normalInterval = 60 * time.Second
	}
	if bookingInterval <= 0 {
		bookingInterval = 30 * time.Second
	}
	return &Manager{
		sessions:        sessions,
		src:             src,
		pusher:          pusher,
		revocations:     revocations,
		normalInterval:  normalInterval,
		bookingInterval: bookingInterval,
		cadence:         make(chan time.Duration, 1),
	}
}

// Start begins tracking, replacing any loops already running. It requires a
// granted permission and records TrackingEnabled in the session.
func (m *Manager) Start(ctx context.Context) error {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		return eris.Wrap(err, "tracker: read session")
	}
	if sess.PermissionStatus != model.PermissionGranted {
		return eris.New("tracker: cannot start without a location grant")
	}

	m.stopLoops()

	sess, err = m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.TrackingEnabled = true
	})
	if err != nil {
		return eris.Wrap(err, "tracker: enable tracking")
	}

	interval := m.normalInterval
	if sess.BookingTrackingID != "" {
		interval = m.bookingInterval
	}

	// Loops are tied to the manager, not the caller's request.
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.paused = false
	m.drainCadenceLocked()
	m.mu.Unlock()

	go m.run(loopCtx, done, interval)

	zap.L().Info("tracking started", zap.Duration("push_interval", interval))
	return nil
}

// Stop halts the loops and records tracking as disabled. Safe to call when
// already stopped.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopLoops()

	_, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.TrackingEnabled = false
		s.BookingTrackingID = ""
	})
	if err != nil {
		return eris.Wrap(err, "tracker: disable tracking")
	}
	zap.L().Info("tracking stopped")
	return nil
}

// StartBooking ties tracking to a booking: tracking starts if it is not
// already running and the push cadence tightens.
func (m *Manager) StartBooking(ctx context.Context, bookingID string) error {
	if bookingID == "" {
		return eris.New("tracker: empty booking id")
	}
	if !m.Running() {
		if err := m.Start(ctx); err != nil {
			return err
		}
	}
	if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.BookingTrackingID = bookingID
	}); err != nil {
		return eris.Wrap(err, "tracker: record booking id")
	}
	m.setCadence(m.bookingInterval)
	zap.L().Info("booking tracking started", zap.String("booking_id", bookingID))
	return nil
}

// StopBooking detaches tracking from the booking and relaxes the cadence.
// Background tracking keeps running.
func (m *Manager) StopBooking(ctx context.Context) error {
	if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.BookingTrackingID = ""
	}); err != nil {
		return eris.Wrap(err, "tracker: clear booking id")
	}
	m.setCadence(m.normalInterval)
	zap.L().Info("booking tracking stopped")
	return nil
}

// Pause suspends periodic pushes without tearing down the watch. Used when
// the app goes to the background.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	zap.L().Debug("push ticker paused")
}

// Resume re-enables periodic pushes, but only while a booking is active;
// idle tracking stays paused until the next explicit start. Booking pushes
// resume at the tight cadence.
func (m *Manager) Resume(ctx context.Context) error {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		return eris.Wrap(err, "tracker: read session")
	}
	if sess.BookingTrackingID == "" {
		return nil
	}

	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.setCadence(m.bookingInterval)
	zap.L().Debug("push ticker resumed for booking", zap.String("booking_id", sess.BookingTrackingID))
	return nil
}

// FlushOnce pushes the cached fix immediately, if tracking is on and a fix
// exists. Used when connectivity returns.
func (m *Manager) FlushOnce(ctx context.Context) error {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		return eris.Wrap(err, "tracker: read session")
	}
	if !sess.TrackingEnabled || sess.LastLocation == nil {
		return nil
	}
	m.pusher.Enqueue(model.NewPushPayload(*sess.LastLocation, sess.BookingTrackingID), pushEndpoint(sess.BookingTrackingID))
	return nil
}

// Shutdown halts the loops without touching the persisted session, so a
// restarted agent resumes tracking from the stored state.
func (m *Manager) Shutdown() {
	m.stopLoops()
}

// Running reports whether the tracking loops are alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// IsTracking reports the persisted tracking flag.
func (m *Manager) IsTracking(ctx context.Context) (bool, error) {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		return false, err
	}
	return sess.TrackingEnabled, nil
}

// LastLocation returns the cached fix, or nil when none exists.
func (m *Manager) LastLocation(ctx context.Context) (*model.Position, error) {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		return nil, err
	}
	return sess.LastLocation, nil
}

func (m *Manager) stopLoops() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	var revoked sync.Once
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.watchPump(ctx, &revoked) })
	g.Go(func() error { return m.pushLoop(ctx, interval) })

	if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
		zap.L().Warn("tracking loops exited", zap.Error(err))
	}
}

// watchPump consumes watch samples, refreshing the session's fix. While a
// booking is active each fresh fix is pushed immediately.
func (m *Manager) watchPump(ctx context.Context, revoked *sync.Once) error {
	samples, err := m.src.Watch(ctx)
	if err != nil {
		return eris.Wrap(err, "tracker: start watch")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			if sample.Err != nil {
				if eris.Is(sample.Err, geosource.ErrPermissionDenied) {
					m.handleRevoked(ctx, revoked)
					return sample.Err
				}
				// Transient watch failures skip the sample; the next
				// poll usually recovers.
				continue
			}

			pos := sample.Position
			now := time.Now().UTC()
			sess, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
				s.LastLocation = &pos
				s.LastUpdateTime = &now
			})
			if err != nil {
				zap.L().Warn("failed to record fix", zap.Error(err))
				continue
			}
			if sess.BookingTrackingID != "" {
				m.pusher.Enqueue(model.NewPushPayload(pos, sess.BookingTrackingID), locationapi.BookingTrackPath)
			}
		}
	}
}

// pushLoop reports the cached fix on the current cadence.
func (m *Manager) pushLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-m.cadence:
			ticker.Reset(d)
		case <-ticker.C:
			m.mu.Lock()
			paused := m.paused
			m.mu.Unlock()
			if paused {
				continue
			}
			m.pushCurrent(ctx)
		}
	}
}

func (m *Manager) pushCurrent(ctx context.Context) {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		zap.L().Warn("failed to read session for push", zap.Error(err))
		return
	}
	if !sess.TrackingEnabled || sess.LastLocation == nil {
		return
	}
	m.pusher.Enqueue(model.NewPushPayload(*sess.LastLocation, sess.BookingTrackingID), pushEndpoint(sess.BookingTrackingID))
}

// pushEndpoint selects the backend endpoint the way the push payload does:
// fixes tied to a booking go to the booking-track endpoint.
func pushEndpoint(bookingID string) string {
	if bookingID != "" {
		return locationapi.BookingTrackPath
	}
	return locationapi.UpdatePath
}

// handleRevoked records a mid-session revocation: denied status, tracking
// off, and exactly one broadcast to subscribers. The alreadyDenied capture
// runs on the session actor, so when a permission probe recorded the same
// revocation first only that path broadcasts.
func (m *Manager) handleRevoked(ctx context.Context, revoked *sync.Once) {
	revoked.Do(func() {
		zap.L().Warn("location grant revoked mid-session, stopping tracking")
		alreadyDenied := false
		if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
			alreadyDenied = s.PermissionStatus == model.PermissionDenied
			s.PermissionStatus = model.PermissionDenied
			s.TrackingEnabled = false
			s.BookingTrackingID = ""
		}); err != nil {
			zap.L().Error("failed to record revocation", zap.Error(err))
			return
		}
		if !alreadyDenied && m.revocations != nil {
			m.revocations.Publish(events.Revocation{})
		}
	})
}

func (m *Manager) setCadence(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainCadenceLocked()
	select {
	case m.cadence <- d:
	default:
	}
}

func (m *Manager) drainCadenceLocked() {
	select {
	case <-m.cadence:
	default:
	}
}
