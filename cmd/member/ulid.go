package member

import (
	"time"

	"leaderlite/cmd/internal/ids"
)

// NewULID returns a new ULID (26-char string) suitable for member IDs.
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
