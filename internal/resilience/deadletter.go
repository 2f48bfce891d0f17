package resilience

import (
	"time"

	"github.com/beautycita/geotrack/internal/model"
)

// PushDeadLetter records a location ping that exhausted its retry budget or
// was rejected by a full queue. Dead letters are persisted so a later flush
// can replay booking-mode pings whose continuity matters.
type PushDeadLetter struct {
	ID           string            `json:"id"`
	Payload      model.PushPayload `json:"payload"`
	Endpoint     string            `json:"endpoint"`
	Error        string            `json:"error"`
	ErrorType    string            `json:"error_type"` // "transient" or "permanent"
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	LastFailedAt time.Time         `json:"last_failed_at"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
