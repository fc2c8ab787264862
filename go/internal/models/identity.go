package models

// IdentityKind discriminates the Identity union.
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityAnonymous     IdentityKind = "anonymous"
)

// Identity is who is calling, as asserted by the external auth collaborator.
// It is either an AuthenticatedUser or Anonymous.
type Identity interface {
	Kind() IdentityKind
	isIdentity()
}

// AuthenticatedUser is a caller vouched for by the identity provider.
type AuthenticatedUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (AuthenticatedUser) Kind() IdentityKind { return IdentityAuthenticated }
func (AuthenticatedUser) isIdentity()        {}

// Anonymous is a caller without an identity.
type Anonymous struct{}

func (Anonymous) Kind() IdentityKind { return IdentityAnonymous }
func (Anonymous) isIdentity()        {}

// IdentityID returns the stable id of an authenticated identity, or nil.
func IdentityID(id Identity) *string {
	if u, ok := id.(AuthenticatedUser); ok && u.ID != "" {
		v := u.ID
		return &v
	}
	return nil
}

// Actor is the caller of a coordinator operation. Privileged is an explicit
// assertion made by the caller; the coordinator never infers it.
type Actor struct {
	Identity      Identity
	ParticipantID string
	Privileged    bool
}
