package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "geotrack.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSQLiteStore_LoadDefault(t *testing.T) {
	s := newTestSQLite(t)

	rec, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Seq != 0 {
		t.Errorf("seq = %d, want 0", rec.Seq)
	}
	if rec.Session.PermissionStatus != model.PermissionPrompt {
		t.Errorf("status = %q, want prompt", rec.Session.PermissionStatus)
	}
	if rec.Session.TrackingEnabled {
		t.Error("default session must not have tracking enabled")
	}
}

func TestSQLiteStore_SaveAndReload(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	sess := model.LocationSession{
		PermissionStatus: model.PermissionGranted,
		LastLocation:     &model.Position{Latitude: 20.6077, Longitude: -105.24, Timestamp: now},
		TrackingEnabled:  true,
		LastUpdateTime:   &now,
	}

	rec, err := s.Save(ctx, sess, 0)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.Seq != 1 {
		t.Errorf("seq = %d, want 1", rec.Seq)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Session.PermissionStatus != model.PermissionGranted {
		t.Errorf("status = %q, want granted", got.Session.PermissionStatus)
	}
	if got.Session.LastLocation == nil || got.Session.LastLocation.Latitude != 20.6077 {
		t.Errorf("last location not round-tripped: %+v", got.Session.LastLocation)
	}
}

func TestSQLiteStore_SequenceConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sess := model.DefaultSession()
	if _, err := s.Save(ctx, sess, 0); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A save with a stale sequence must be rejected.
	_, err := s.Save(ctx, sess, 0)
	if !eris.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}

	// Saving with the current sequence succeeds and bumps it, and the
	// returned sequence is the one this write stored.
	rec, err := s.Save(ctx, sess, 1)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if rec.Seq != 2 {
		t.Errorf("seq = %d, want 2", rec.Seq)
	}
	stored, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Seq != rec.Seq {
		t.Errorf("stored seq %d does not match returned seq %d", stored.Seq, rec.Seq)
	}
}

func TestSQLiteStore_Clear(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, model.LocationSession{PermissionStatus: model.PermissionGranted}, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	rec, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Seq != 0 || rec.Session.PermissionStatus != model.PermissionPrompt {
		t.Errorf("expected default record after clear, got %+v", rec)
	}
}

func TestSQLiteStore_DeadLetters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	booking := "bk-100"
	dl := resilience.PushDeadLetter{
		ID: "dl-1",
		Payload: model.PushPayload{
			Latitude:  20.61,
			Longitude: -105.23,
			Timestamp: now.Format(time.RFC3339),
			BookingID: &booking,
		},
		Endpoint:     "/api/location/booking-track",
		Error:        "503 service unavailable",
		ErrorType:    "transient",
		Attempts:     3,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := s.AppendDeadLetter(ctx, dl); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(got))
	}
	if got[0].Payload.BookingID == nil || *got[0].Payload.BookingID != "bk-100" {
		t.Errorf("booking id not round-tripped: %+v", got[0].Payload)
	}

	if err := s.DeleteDeadLetter(ctx, "dl-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty dead letter list, got %d", len(got))
	}
}
