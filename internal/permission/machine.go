package permission

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/events"
	"github.com/beautycita/geotrack/internal/geosource"
	"github.com/beautycita/geotrack/internal/model"
)

// Sessions is the slice of the session manager the machine mutates.
type Sessions interface {
	Get(ctx context.Context) (model.LocationSession, error)
	Update(ctx context.Context, mutate func(*model.LocationSession)) (model.LocationSession, error)
}

// Machine drives permission transitions. All session writes go through the
// serializing manager, so concurrent Check and Request calls cannot leave the
// state half-updated.
type Machine struct {
	sessions    Sessions
	src         geosource.Source
	prober      Prober
	revocations *events.Broadcaster[events.Revocation]

	onGranted func(ctx context.Context) error
	onRevoked func()
}

// NewMachine creates a permission Machine.
func NewMachine(sessions Sessions, src geosource.Source, prober Prober, revocations *events.Broadcaster[events.Revocation]) *Machine {
	return &Machine{
		sessions:    sessions,
		src:         src,
		prober:      prober,
		revocations: revocations,
	}
}

// SetOnGranted registers the callback invoked after a grant is recorded.
// The tracker uses this to start itself as soon as permission lands.
func (m *Machine) SetOnGranted(fn func(ctx context.Context) error) {
	m.onGranted = fn
}

// SetOnRevoked registers the callback invoked when a denial revokes a prior
// grant. The tracker uses this to halt its loops when the revocation is
// observed through a probe rather than through the watch stream.
func (m *Machine) SetOnRevoked(fn func()) {
	m.onRevoked = fn
}

// Check probes the platform permission state and records it. A grant starts
// tracking; a denial observed after a grant is treated as a revocation.
func (m *Machine) Check(ctx context.Context) (model.PermissionStatus, error) {
	prev, err := m.sessions.Get(ctx)
	if err != nil {
		return "", eris.Wrap(err, "permission: read session")
	}
	wasGranted := prev.PermissionStatus == model.PermissionGranted

	if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.PermissionStatus = model.PermissionChecking
	}); err != nil {
		return "", eris.Wrap(err, "permission: enter checking")
	}

	status, err := m.prober.Probe(ctx)
	if err != nil {
		// An unanswerable probe is not a denial. Leave the user promptable.
		zap.L().Warn("permission: probe failed", zap.Error(err))
		if _, uerr := m.sessions.Update(ctx, func(s *model.LocationSession) {
			s.PermissionStatus = model.PermissionPrompt
		}); uerr != nil {
			return "", uerr
		}
		return model.PermissionPrompt, nil
	}

	switch status {
	case model.PermissionGranted:
		if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
			s.PermissionStatus = model.PermissionGranted
		}); err != nil {
			return "", err
		}
		if m.onGranted != nil {
			if err := m.onGranted(ctx); err != nil {
				zap.L().Warn("permission: start after grant failed", zap.Error(err))
			}
		}
	case model.PermissionDenied:
		if err := m.recordDenial(ctx, wasGranted); err != nil {
			return "", err
		}
	default:
		if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
			s.PermissionStatus = model.PermissionPrompt
		}); err != nil {
			return "", err
		}
		status = model.PermissionPrompt
	}
	return status, nil
}

// Request obtains a position, prompting the platform if needed. When the
// session already holds a grant and a cached fix it returns that fix without
// touching the source. Returns ok=false when the user cannot or will not
// share a location; the session's permission status carries the reason.
func (m *Machine) Request(ctx context.Context) (model.Position, bool, error) {
	sess, err := m.sessions.Get(ctx)
	if err != nil {
		return model.Position{}, false, eris.Wrap(err, "permission: read session")
	}
	if sess.PermissionStatus == model.PermissionGranted && sess.LastLocation != nil {
		return *sess.LastLocation, true, nil
	}

	pos, err := m.src.Current(ctx)
	if err != nil {
		wasGranted := sess.PermissionStatus == model.PermissionGranted
		return model.Position{}, false, m.recordFailure(ctx, err, wasGranted)
	}

	now := time.Now().UTC()
	if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.PermissionStatus = model.PermissionGranted
		s.LastLocation = &pos
		s.LastUpdateTime = &now
	}); err != nil {
		return model.Position{}, false, eris.Wrap(err, "permission: record grant")
	}

	if m.onGranted != nil {
		if err := m.onGranted(ctx); err != nil {
			zap.L().Warn("permission: start after grant failed", zap.Error(err))
		}
	}
	return pos, true, nil
}

// recordFailure maps a source error onto the permission state. Only an
// explicit denial is terminal; timeouts and unavailability leave the user
// promptable for a retry.
func (m *Machine) recordFailure(ctx context.Context, srcErr error, wasGranted bool) error {
	if eris.Is(srcErr, geosource.ErrPermissionDenied) {
		return m.recordDenial(ctx, wasGranted)
	}

	zap.L().Info("permission: position request failed, staying promptable", zap.Error(srcErr))
	_, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		s.PermissionStatus = model.PermissionPrompt
	})
	return err
}

// recordDenial persists the denied state and, when it revokes a prior grant,
// stops the tracking loops and broadcasts exactly one revocation event. The
// alreadyDenied capture runs on the session actor, so when the watch stream
// observed the same revocation first only that path broadcasts.
func (m *Machine) recordDenial(ctx context.Context, wasGranted bool) error {
	if wasGranted && m.onRevoked != nil {
		m.onRevoked()
	}

	alreadyDenied := false
	if _, err := m.sessions.Update(ctx, func(s *model.LocationSession) {
		alreadyDenied = s.PermissionStatus == model.PermissionDenied
		s.PermissionStatus = model.PermissionDenied
		s.TrackingEnabled = false
		s.BookingTrackingID = ""
	}); err != nil {
		return err
	}

	if wasGranted && !alreadyDenied && m.revocations != nil {
		zap.L().Warn("permission: grant revoked")
		m.revocations.Publish(events.Revocation{})
	}
	return nil
}
