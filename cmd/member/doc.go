// Package member is the persistence boundary for member profiles.
//
// A member record is both the security principal (the id matches the
// authenticated identity, credentials live alongside in the same schema)
// and the leaderboard row (points, display name). Role is stored on the
// profile and read back by the routing guard on every evaluation.
package member
