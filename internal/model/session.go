package model

import "time"

// PermissionStatus is the lifecycle state of the device location grant.
type PermissionStatus string

const (
	// PermissionChecking means a probe of the grant state is in flight.
	PermissionChecking PermissionStatus = "checking"
	// PermissionPrompt means the user has not yet been asked (or a transient
	// failure left the request retryable).
	PermissionPrompt PermissionStatus = "prompt"
	// PermissionGranted means location access is currently allowed.
	PermissionGranted PermissionStatus = "granted"
	// PermissionDenied means access was refused; terminal until the user
	// changes device settings.
	PermissionDenied PermissionStatus = "denied"
)

// Valid reports whether s is one of the four known states.
func (s PermissionStatus) Valid() bool {
	switch s {
	case PermissionChecking, PermissionPrompt, PermissionGranted, PermissionDenied:
		return true
	}
	return false
}

// Position is a single geographic fix.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationSession is the sole persisted tracking aggregate. It is stored as a
// single JSON blob and survives agent restarts.
//
// Invariants maintained by the session manager:
//   - TrackingEnabled implies PermissionStatus is granted (or transiently
//     checking, while a probe of an existing grant is in flight).
//   - A non-empty BookingTrackingID implies TrackingEnabled.
//   - LastLocation only moves forward in time; stale fixes are dropped.
type LocationSession struct {
	PermissionStatus  PermissionStatus `json:"permissionStatus"`
	LastLocation      *Position        `json:"lastLocation"`
	TrackingEnabled   bool             `json:"trackingEnabled"`
	BookingTrackingID string           `json:"bookingTrackingId,omitempty"`
	LastUpdateTime    *time.Time       `json:"lastUpdateTime,omitempty"`
}

// DefaultSession is the lazy default used when no record has been stored yet.
func DefaultSession() LocationSession {
	return LocationSession{PermissionStatus: PermissionPrompt}
}

// PushPayload is the wire body for backend location pushes. BookingID is a
// pointer so that an unset id serializes as an explicit null.
type PushPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
	BookingID *string `json:"bookingId"`
}

// NewPushPayload builds a payload from a fix and an optional booking id.
func NewPushPayload(pos Position, bookingID string) PushPayload {
	p := PushPayload{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Timestamp: pos.Timestamp.UTC().Format(time.RFC3339),
	}
	if bookingID != "" {
		p.BookingID = &bookingID
	}
	return p
}
