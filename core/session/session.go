package session

import "github.com/pkg/errors"

// Roles
const (
	RoleParent  = "parent"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"

	// RoleLegacyUser is the pre-rebrand alias for parent accounts; it still
	// appears in stored sessions created by old login flows.
	RoleLegacyUser = "user"
)

var ErrNoSession = errors.New("no session")

// Session is the authenticated identity persisted by the login flow. It is
// read-only to the messaging core; the login/logout screens own its lifecycle.
type Session struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token"`
	// User is the raw user blob the login flow stores alongside the token.
	User string `json:"user,omitempty"`
}

func (s Session) Authenticated() bool { return s.Token != "" }

// EffectiveRole normalizes the stored role for routing purposes: the legacy
// "user" alias and a missing role both resolve to parent.
func (s Session) EffectiveRole() string {
	switch s.Role {
	case RoleTeacher, RoleAdmin:
		return s.Role
	default:
		return RoleParent
	}
}

func (s Session) IsAdmin() bool   { return s.Role == RoleAdmin }
func (s Session) IsTeacher() bool { return s.Role == RoleTeacher }

// IsParent reports whether the session's role resolves to the parent portal.
func (s Session) IsParent() bool { return s.EffectiveRole() == RoleParent }

// Provider abstracts the persisted client storage the login flow writes to.
// The messaging core only ever depends on this interface, never on ambient
// storage reads.
type Provider interface {
	// Get returns the current session; ErrNoSession when storage is empty.
	Get() (Session, error)
	Set(Session) error
	Clear() error
	// OnChange registers fn to run after every Set/Clear; the returned func
	// unregisters it.
	OnChange(fn func(Session)) (unsubscribe func())
}
