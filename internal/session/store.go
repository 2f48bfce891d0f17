// Package session persists the LocationSession aggregate and serializes all
// mutations through a single actor goroutine.
package session

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
)

// StorageKey is the fixed key the session blob is stored under. It matches
// the key used by earlier clients so a session survives an agent upgrade.
const StorageKey = "beautycita_location_session"

// ErrSequenceConflict is returned by Save when the stored sequence no longer
// matches the caller's snapshot, meaning a concurrent writer got there first.
var ErrSequenceConflict = eris.New("session: sequence conflict")

// Record pairs a session snapshot with the monotonically increasing sequence
// number used as a compare-and-swap guard on writes.
type Record struct {
	Session model.LocationSession `json:"session"`
	Seq     int64                 `json:"seq"`
}

// Store defines the persistence interface for the session blob and the push
// dead-letter list.
type Store interface {
	// Load returns the stored record, or the lazy default with Seq 0 when
	// nothing has been stored yet.
	Load(ctx context.Context) (Record, error)

	// Save persists the session, succeeding only while the stored sequence
	// still equals seq. Returns ErrSequenceConflict on a lost race.
	Save(ctx context.Context, sess model.LocationSession, seq int64) (Record, error)

	// Clear deletes the stored record (logout equivalent).
	Clear(ctx context.Context) error

	// Dead letters
	AppendDeadLetter(ctx context.Context, dl resilience.PushDeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]resilience.PushDeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
