package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beautycita/geotrack/internal/model"
)

type sessionStub struct {
	tracking bool
}

func (s *sessionStub) Get(context.Context) (model.LocationSession, error) {
	sess := model.DefaultSession()
	if s.tracking {
		sess.PermissionStatus = model.PermissionGranted
		sess.TrackingEnabled = true
	}
	return sess, nil
}

type recordingTracker struct {
	mu      sync.Mutex
	paused  int
	resumed int
	flushed int
}

func (r *recordingTracker) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused++
}

func (r *recordingTracker) Resume(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed++
	return nil
}

func (r *recordingTracker) FlushOnce(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed++
	return nil
}

func (r *recordingTracker) counts() (paused, resumed, flushed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused, r.resumed, r.flushed
}

func TestHandle(t *testing.T) {
	tr := &recordingTracker{}
	c := NewCoordinator(tr, &sessionStub{tracking: true})
	ctx := context.Background()

	c.Handle(ctx, Event{Kind: EventHidden})
	c.Handle(ctx, Event{Kind: EventVisible})
	c.Handle(ctx, Event{Kind: EventOnline})
	c.Handle(ctx, Event{Kind: EventOffline})
	c.Handle(ctx, Event{Kind: EventKind("bogus")})

	paused, resumed, flushed := tr.counts()
	if paused != 1 || resumed != 1 || flushed != 1 {
		t.Errorf("paused=%d resumed=%d flushed=%d, want 1 each", paused, resumed, flushed)
	}
}

func TestHandle_HiddenWithoutTrackingDoesNotPause(t *testing.T) {
	tr := &recordingTracker{}
	c := NewCoordinator(tr, &sessionStub{})

	c.Handle(context.Background(), Event{Kind: EventHidden})

	if paused, _, _ := tr.counts(); paused != 0 {
		t.Errorf("paused %d times with tracking off, want 0", paused)
	}
}

func TestRun_ConsumesUntilClose(t *testing.T) {
	tr := &recordingTracker{}
	c := NewCoordinator(tr, &sessionStub{tracking: true})

	events := make(chan Event, 4)
	events <- Event{Kind: EventHidden}
	events <- Event{Kind: EventOnline}
	close(events)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), events) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return after channel close")
	}

	paused, _, flushed := tr.counts()
	if paused != 1 || flushed != 1 {
		t.Errorf("paused=%d flushed=%d, want 1 each", paused, flushed)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	tr := &recordingTracker{}
	c := NewCoordinator(tr, &sessionStub{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan Event)) }()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestEventKindValid(t *testing.T) {
	for _, k := range []EventKind{EventHidden, EventVisible, EventOnline, EventOffline} {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if EventKind("sideways").Valid() {
		t.Error("unknown kind reported valid")
	}
}
