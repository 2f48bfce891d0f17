// Package permission owns the permission state machine: checking, prompt,
// granted, denied, and the transitions between them.
package permission

import (
	"context"

	"github.com/beautycita/geotrack/internal/geosource"
	"github.com/beautycita/geotrack/internal/model"
)

// Prober reports the platform's permission state without prompting the user.
// Platforms that cannot be queried directly fall back to CachedProber.
type Prober interface {
	Probe(ctx context.Context) (model.PermissionStatus, error)
}

// NativeProber asks the position source's platform bridge.
type NativeProber struct {
	src geosource.Source
}

// NewNativeProber creates a Prober backed by the platform bridge.
func NewNativeProber(src geosource.Source) *NativeProber {
	return &NativeProber{src: src}
}

func (p *NativeProber) Probe(ctx context.Context) (model.PermissionStatus, error) {
	return p.src.Permission(ctx)
}

// SessionReader is the slice of the session manager the cached prober needs.
type SessionReader interface {
	Get(ctx context.Context) (model.LocationSession, error)
}

// CachedProber infers the permission state from the persisted session: a
// prior grant that produced a fix is treated as still granted, anything else
// as prompt. It never reports denied, since a stale denial would block the
// user from ever being asked again.
type CachedProber struct {
	sessions SessionReader
}

// NewCachedProber creates a Prober backed by the persisted session.
func NewCachedProber(sessions SessionReader) *CachedProber {
	return &CachedProber{sessions: sessions}
}

func (p *CachedProber) Probe(ctx context.Context) (model.PermissionStatus, error) {
	sess, err := p.sessions.Get(ctx)
	if err != nil {
		return "", err
	}
	if sess.PermissionStatus == model.PermissionGranted && sess.LastLocation != nil {
		return model.PermissionGranted, nil
	}
	return model.PermissionPrompt, nil
}
