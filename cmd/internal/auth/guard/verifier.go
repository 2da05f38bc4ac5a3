package guard

import (
	"context"

	"leaderlite/cmd/member"
)

// MemberDirectory is the slice of the member store the verifier needs.
type MemberDirectory interface {
	GetByID(ctx context.Context, id string) (member.Member, error)
}

// RoleVerifier resolves the authoritative role for an identity.
type RoleVerifier interface {
	VerifyRole(ctx context.Context, memberID string) (member.Role, error)
}

// StoreRoleVerifier reads roles straight from the member store, so a role
// change takes effect on the very next decision.
type StoreRoleVerifier struct {
	members MemberDirectory
}

// NewStoreRoleVerifier constructs a StoreRoleVerifier.
func NewStoreRoleVerifier(members MemberDirectory) *StoreRoleVerifier {
	return &StoreRoleVerifier{members: members}
}

// VerifyRole returns the stored role, or ErrProfileMissing when the
// authenticated identity has no profile row.
func (v *StoreRoleVerifier) VerifyRole(ctx context.Context, memberID string) (member.Role, error) {
	m, err := v.members.GetByID(ctx, memberID)
	if err != nil {
		if member.IsNotFound(err) {
			return "", ErrProfileMissing
		}
		return "", err
	}
	return m.Role, nil
}
