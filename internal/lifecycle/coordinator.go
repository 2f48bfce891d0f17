// Package lifecycle reacts to app visibility and connectivity changes,
// throttling or flushing the tracker accordingly.
package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/model"
)

// EventKind identifies a lifecycle transition reported by the host app.
type EventKind string

const (
	// EventHidden means the app went to the background.
	EventHidden EventKind = "hidden"
	// EventVisible means the app returned to the foreground.
	EventVisible EventKind = "visible"
	// EventOnline means connectivity returned.
	EventOnline EventKind = "online"
	// EventOffline means connectivity was lost.
	EventOffline EventKind = "offline"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventHidden, EventVisible, EventOnline, EventOffline:
		return true
	}
	return false
}

// Event is one lifecycle transition.
type Event struct {
	Kind EventKind
}

// TrackerControl is the slice of the tracker the coordinator drives.
type TrackerControl interface {
	Pause()
	Resume(ctx context.Context) error
	FlushOnce(ctx context.Context) error
}

// SessionReader provides the tracking flags the coordinator guards on.
type SessionReader interface {
	Get(ctx context.Context) (model.LocationSession, error)
}

// Coordinator applies lifecycle events to the tracker:
//
//   - hidden pauses periodic pushes while tracking is on (the watch keeps
//     running),
//   - visible resumes them, but only while a booking is active,
//   - online flushes the cached fix once,
//   - offline is recorded and otherwise ignored; queued pushes already
//     retry on their own.
type Coordinator struct {
	tracker  TrackerControl
	sessions SessionReader
}

// NewCoordinator creates a Coordinator for the given tracker.
func NewCoordinator(tracker TrackerControl, sessions SessionReader) *Coordinator {
	return &Coordinator{tracker: tracker, sessions: sessions}
}

// Run consumes lifecycle events until ctx is cancelled or the channel closes.
func (c *Coordinator) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(ctx, ev)
		}
	}
}

// Handle applies a single lifecycle event.
func (c *Coordinator) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventHidden:
		sess, err := c.sessions.Get(ctx)
		if err != nil {
			zap.L().Warn("session read on hidden failed", zap.Error(err))
			return
		}
		if !sess.TrackingEnabled {
			return
		}
		zap.L().Debug("app hidden, pausing pushes")
		c.tracker.Pause()
	case EventVisible:
		zap.L().Debug("app visible")
		if err := c.tracker.Resume(ctx); err != nil {
			zap.L().Warn("resume after visibility failed", zap.Error(err))
		}
	case EventOnline:
		zap.L().Info("connectivity restored, flushing cached fix")
		if err := c.tracker.FlushOnce(ctx); err != nil {
			zap.L().Warn("flush after reconnect failed", zap.Error(err))
		}
	case EventOffline:
		zap.L().Info("connectivity lost, pushes will queue")
	default:
		zap.L().Warn("unknown lifecycle event", zap.String("kind", string(ev.Kind)))
	}
}
