package guard

import "errors"

var (
	// ErrProfileMissing is returned when an authenticated identity has no
	// member profile. The only safe response is signing the client out.
	ErrProfileMissing = errors.New("member profile missing")
)
