package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beautycita/geotrack/internal/events"
	"github.com/beautycita/geotrack/internal/geosource"
	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/session"
)

type scriptedSource struct {
	samples chan geosource.Sample
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{samples: make(chan geosource.Sample, 16)}
}

func (s *scriptedSource) Current(context.Context) (model.Position, error) {
	return model.Position{}, geosource.ErrUnavailable
}

func (s *scriptedSource) Watch(context.Context) (<-chan geosource.Sample, error) {
	return s.samples, nil
}

func (s *scriptedSource) Permission(context.Context) (model.PermissionStatus, error) {
	return model.PermissionGranted, nil
}

type capturePusher struct {
	mu   sync.Mutex
	jobs []pushJob
}

func (p *capturePusher) Enqueue(payload model.PushPayload, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, pushJob{payload: payload, endpoint: endpoint})
}

func (p *capturePusher) byEndpoint(endpoint string) []model.PushPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.PushPayload
	for _, j := range p.jobs {
		if j.endpoint == endpoint {
			out = append(out, j.payload)
		}
	}
	return out
}

type trackerFixture struct {
	mgr         *Manager
	sessions    *session.Manager
	src         *scriptedSource
	pusher      *capturePusher
	revocations *events.Broadcaster[events.Revocation]
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	sessions := session.NewManager(session.NewMemory())
	t.Cleanup(sessions.Close)

	src := newScriptedSource()
	pusher := &capturePusher{}
	revocations := events.NewBroadcaster[events.Revocation]()
	mgr := NewManager(sessions, src, pusher, revocations, 25*time.Millisecond, 15*time.Millisecond)
	t.Cleanup(func() { _ = mgr.Stop(context.Background()) })

	return &trackerFixture{mgr: mgr, sessions: sessions, src: src, pusher: pusher, revocations: revocations}
}

func (fx *trackerFixture) grant(t *testing.T, withFix bool) {
	t.Helper()
	if _, err := fx.sessions.Update(context.Background(), func(s *model.LocationSession) {
		s.PermissionStatus = model.PermissionGranted
		if withFix {
			s.LastLocation = &model.Position{Latitude: 20.61, Longitude: -105.23, Timestamp: time.Now().UTC()}
		}
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStart_RequiresGrant(t *testing.T) {
	fx := newTrackerFixture(t)

	if err := fx.mgr.Start(context.Background()); err == nil {
		t.Fatal("start without a grant must fail")
	}
	if fx.mgr.Running() {
		t.Error("loops running despite failed start")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, false)
	ctx := context.Background()

	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// A second start replaces the loops rather than stacking them.
	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !fx.mgr.Running() {
		t.Fatal("not running after start")
	}

	tracking, err := fx.mgr.IsTracking(ctx)
	if err != nil || !tracking {
		t.Fatalf("tracking=%v err=%v after start", tracking, err)
	}

	if err := fx.mgr.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := fx.mgr.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if fx.mgr.Running() {
		t.Error("still running after stop")
	}

	sess, _ := fx.sessions.Get(ctx)
	if sess.TrackingEnabled || sess.BookingTrackingID != "" {
		t.Errorf("session not cleaned up: %+v", sess)
	}
}

func TestWatchPump_RecordsFixAndPushesForBooking(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, false)
	ctx := context.Background()

	if err := fx.mgr.StartBooking(ctx, "bk-7"); err != nil {
		t.Fatalf("start booking: %v", err)
	}

	fix := model.Position{Latitude: 20.62, Longitude: -105.25, Timestamp: time.Now().UTC()}
	fx.src.samples <- geosource.Sample{Position: fix}

	waitFor(t, time.Second, func() bool {
		sess, err := fx.sessions.Get(ctx)
		return err == nil && sess.LastLocation != nil && sess.LastLocation.Latitude == 20.62
	}, "fix never recorded in the session")

	waitFor(t, time.Second, func() bool {
		return len(fx.pusher.byEndpoint("/api/location/booking-track")) >= 1
	}, "no immediate booking push for the fresh fix")

	pushes := fx.pusher.byEndpoint("/api/location/booking-track")
	if pushes[0].BookingID == nil || *pushes[0].BookingID != "bk-7" {
		t.Errorf("booking push missing id: %+v", pushes[0])
	}
}

func TestWatchPump_NoImmediatePushWithoutBooking(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, false)
	ctx := context.Background()

	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	fx.src.samples <- geosource.Sample{Position: model.Position{Latitude: 1, Longitude: 2, Timestamp: time.Now().UTC()}}

	waitFor(t, time.Second, func() bool {
		sess, err := fx.sessions.Get(ctx)
		return err == nil && sess.LastLocation != nil
	}, "fix never recorded")

	if n := len(fx.pusher.byEndpoint("/api/location/booking-track")); n != 0 {
		t.Errorf("%d booking pushes without an active booking", n)
	}
}

func TestPushLoop_ReportsCachedFix(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, true)
	ctx := context.Background()

	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return len(fx.pusher.byEndpoint("/api/location/update")) >= 2
	}, "periodic pushes never fired")

	p := fx.pusher.byEndpoint("/api/location/update")[0]
	if p.Latitude != 20.61 || p.BookingID != nil {
		t.Errorf("unexpected periodic payload: %+v", p)
	}
}

func TestRevocation_StopsTrackingAndBroadcastsOnce(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, true)
	ctx := context.Background()

	evs, cancel := fx.revocations.Subscribe()
	defer cancel()

	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	fx.src.samples <- geosource.Sample{Err: geosource.ErrPermissionDenied}

	select {
	case <-evs:
	case <-time.After(time.Second):
		t.Fatal("no revocation event")
	}
	select {
	case <-evs:
		t.Fatal("revocation broadcast more than once")
	case <-time.After(50 * time.Millisecond):
	}

	waitFor(t, time.Second, func() bool { return !fx.mgr.Running() }, "loops still alive after revocation")

	sess, _ := fx.sessions.Get(ctx)
	if sess.PermissionStatus != model.PermissionDenied || sess.TrackingEnabled {
		t.Errorf("revocation not recorded: %+v", sess)
	}
}

func TestTransientWatchErrorKeepsTracking(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, false)
	ctx := context.Background()

	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	fx.src.samples <- geosource.Sample{Err: geosource.ErrTimeout}
	fx.src.samples <- geosource.Sample{Position: model.Position{Latitude: 3, Longitude: 4, Timestamp: time.Now().UTC()}}

	waitFor(t, time.Second, func() bool {
		sess, err := fx.sessions.Get(ctx)
		return err == nil && sess.LastLocation != nil && sess.LastLocation.Latitude == 3
	}, "tracking did not survive a transient watch error")

	if !fx.mgr.Running() {
		t.Error("loops died on a transient error")
	}
}

func TestPauseAndBookingOnlyResume(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, true)
	ctx := context.Background()

	if err := fx.mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	fx.mgr.Pause()
	time.Sleep(60 * time.Millisecond)
	base := len(fx.pusher.byEndpoint("/api/location/update"))
	time.Sleep(80 * time.Millisecond)
	if got := len(fx.pusher.byEndpoint("/api/location/update")); got != base {
		t.Fatalf("pushes continued while paused: %d -> %d", base, got)
	}

	// Without a booking, resume is a no-op: idle tracking stays quiet
	// until explicitly restarted.
	if err := fx.mgr.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := len(fx.pusher.byEndpoint("/api/location/update")); got != base {
		t.Fatalf("idle resume restarted pushes: %d -> %d", base, got)
	}

	// With a booking, resume tightens the cadence and pushes flow again,
	// routed to the booking-track endpoint.
	if err := fx.mgr.StartBooking(ctx, "bk-9"); err != nil {
		t.Fatalf("start booking: %v", err)
	}
	fx.mgr.Pause()
	if err := fx.mgr.Resume(ctx); err != nil {
		t.Fatalf("booking resume: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(fx.pusher.byEndpoint("/api/location/booking-track")) > 0
	}, "booking resume did not restart pushes")
}

func TestPushLoop_BookingRoutesToBookingTrack(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, true)
	ctx := context.Background()

	if err := fx.mgr.StartBooking(ctx, "bk-3"); err != nil {
		t.Fatalf("start booking: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return len(fx.pusher.byEndpoint("/api/location/booking-track")) >= 2
	}, "periodic booking pushes never fired")

	p := fx.pusher.byEndpoint("/api/location/booking-track")[0]
	if p.BookingID == nil || *p.BookingID != "bk-3" {
		t.Errorf("periodic booking payload missing id: %+v", p)
	}
	if n := len(fx.pusher.byEndpoint("/api/location/update")); n != 0 {
		t.Errorf("%d pushes leaked to the update endpoint during a booking", n)
	}
}

func TestStopBooking_KeepsBackgroundTracking(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.grant(t, true)
	ctx := context.Background()

	if err := fx.mgr.StartBooking(ctx, "bk-1"); err != nil {
		t.Fatalf("start booking: %v", err)
	}
	if err := fx.mgr.StopBooking(ctx); err != nil {
		t.Fatalf("stop booking: %v", err)
	}

	sess, _ := fx.sessions.Get(ctx)
	if sess.BookingTrackingID != "" {
		t.Errorf("booking id survived StopBooking: %+v", sess)
	}
	if !sess.TrackingEnabled || !fx.mgr.Running() {
		t.Error("background tracking did not survive StopBooking")
	}
}

func TestFlushOnce(t *testing.T) {
	fx := newTrackerFixture(t)
	ctx := context.Background()

	// Without tracking, flush is a no-op.
	if err := fx.mgr.FlushOnce(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(fx.pusher.byEndpoint("/api/location/update")) != 0 {
		t.Fatal("flush pushed without tracking")
	}

	fx.grant(t, true)
	if _, err := fx.sessions.Update(ctx, func(s *model.LocationSession) {
		s.TrackingEnabled = true
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fx.mgr.FlushOnce(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(fx.pusher.byEndpoint("/api/location/update")) != 1 {
		t.Fatal("flush did not push the cached fix")
	}

	// With a booking attached, the flush goes to the booking-track endpoint.
	if _, err := fx.sessions.Update(ctx, func(s *model.LocationSession) {
		s.BookingTrackingID = "bk-5"
	}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if err := fx.mgr.FlushOnce(ctx); err != nil {
		t.Fatalf("booking flush: %v", err)
	}
	pushes := fx.pusher.byEndpoint("/api/location/booking-track")
	if len(pushes) != 1 {
		t.Fatal("booking flush did not route to booking-track")
	}
	if pushes[0].BookingID == nil || *pushes[0].BookingID != "bk-5" {
		t.Errorf("booking flush payload missing id: %+v", pushes[0])
	}
}
