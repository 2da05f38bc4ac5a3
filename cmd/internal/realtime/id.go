package realtime

import (
	"time"

	"leaderlite/cmd/internal/ids"
)

// NewConnID returns a ULID used as the websocket connection id.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as an envelope id. ULIDs sort by
// time, which keeps frames orderable in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
