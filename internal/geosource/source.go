// Package geosource abstracts where position fixes come from. The production
// implementation polls a platform bridge daemon over HTTP; tests substitute
// scripted sources.
package geosource

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/beautycita/geotrack/internal/model"
)

// Sentinel errors classifying why a fix could not be produced. Callers decide
// what each one means for the permission state: a denial is terminal, a
// timeout is retryable, unavailability is neither a grant nor a denial.
var (
	ErrPermissionDenied = eris.New("geosource: permission denied")
	ErrTimeout          = eris.New("geosource: timed out waiting for a fix")
	ErrUnavailable      = eris.New("geosource: position unavailable")
)

// Sample is one emission from a watch stream: either a fix or the error that
// prevented one.
type Sample struct {
	Position model.Position
	Err      error
}

// Source produces position fixes.
type Source interface {
	// Current blocks for a single fix.
	Current(ctx context.Context) (model.Position, error)

	// Watch streams fixes until ctx is cancelled. The returned channel is
	// closed when the stream ends. Errors are delivered in-band as samples
	// so a transient failure does not tear the stream down.
	Watch(ctx context.Context) (<-chan Sample, error)

	// Permission reports the platform's current permission state without
	// prompting the user.
	Permission(ctx context.Context) (model.PermissionStatus, error)
}
