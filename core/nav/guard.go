package nav

import (
	"time"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/session"
)

// State is the guard's authentication state for one navigation.
type State int

const (
	StateChecking State = iota
	StateAuthenticated
	StateUnauthenticated
)

// Action says what the view layer should do with the navigation.
type Action int

const (
	ActionAllow Action = iota
	ActionRedirect
)

// Decision is the guard's verdict for a single path evaluation. The guard
// never renders or throws; auth problems always come back as redirects.
type Decision struct {
	State  State
	Action Action
	Target string // redirect target when Action == ActionRedirect
}

func allow(state State) Decision { return Decision{State: state, Action: ActionAllow} }

func redirect(state State, target string) Decision {
	return Decision{State: state, Action: ActionRedirect, Target: target}
}

// Guard gates view access by session presence and role. It is re-evaluated on
// every path change; decisions are pure, stateless functions of (session,
// path) apart from the failsafe timer in Resolve.
type Guard struct {
	sess     session.Provider
	failsafe time.Duration
	log      core.Logger
}

func NewGuard(conf *core.Config, sess session.Provider, log core.Logger) *Guard {
	if log == nil {
		log = core.NopLogger{}
	}
	return &Guard{sess: sess, failsafe: conf.Messaging.AuthFailsafe, log: log}
}

// Check evaluates the path against the currently stored session.
func (g *Guard) Check(path string) Decision {
	sess, err := g.sess.Get()
	if err != nil {
		sess = session.Session{}
	}
	return Evaluate(sess, path)
}

// Resolve evaluates the path against a session produced by fetch (e.g. a
// token validation round-trip). If fetch does not complete within the
// failsafe window the guard decides as unauthenticated rather than hanging
// the navigation forever; availability wins over correctness here, and the
// worst case is an unnecessary trip through the login page.
func (g *Guard) Resolve(path string, fetch func() (session.Session, error)) Decision {
	type result struct {
		sess session.Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := fetch()
		ch <- result{sess, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return Evaluate(session.Session{}, path)
		}
		return Evaluate(r.sess, path)
	case <-time.After(g.failsafe):
		g.log.Warn("nav: session check timed out, deciding as unauthenticated")
		return Evaluate(session.Session{}, path)
	}
}

// Evaluate applies the role-based routing rules.
//
// Unlisted private paths are allowed for any authenticated session. That
// default-permit inside the private zone matches the shipped client; a
// stricter deployment can flip classDefault handling below to a redirect
// without touching anything else.
func Evaluate(sess session.Session, path string) Decision {
	class := classify(path)

	if !sess.Authenticated() {
		if class == classPublic {
			return allow(StateUnauthenticated)
		}
		// the last cached role picks the login page, parent by default
		return redirect(StateUnauthenticated, loginFor(sess.Role))
	}

	switch class {
	case classAdminOnly:
		switch {
		case sess.IsAdmin():
			return allow(StateAuthenticated)
		case sess.IsTeacher():
			return redirect(StateAuthenticated, TeacherHome)
		default: // parent or unknown role
			return redirect(StateAuthenticated, ParentHome)
		}

	case classTeacherOrAdmin:
		switch {
		case sess.IsTeacher() || sess.IsAdmin():
			return allow(StateAuthenticated)
		case sess.Role == session.RoleParent, sess.Role == session.RoleLegacyUser, sess.Role == "":
			return redirect(StateAuthenticated, ParentHome)
		default:
			return redirect(StateAuthenticated, Unauthorized)
		}

	case classParentOnly:
		switch {
		case sess.Role == session.RoleParent, sess.Role == session.RoleLegacyUser, sess.Role == "":
			return allow(StateAuthenticated)
		case sess.IsTeacher():
			return redirect(StateAuthenticated, TeacherHome)
		case sess.IsAdmin():
			return redirect(StateAuthenticated, AdminHome)
		default:
			return redirect(StateAuthenticated, Unauthorized)
		}

	case classRoot:
		return redirect(StateAuthenticated, homeFor(sess.EffectiveRole()))

	default: // classPublic, classCommon, classDefault
		return allow(StateAuthenticated)
	}
}

func homeFor(role string) string {
	switch role {
	case session.RoleAdmin:
		return AdminHome
	case session.RoleTeacher:
		return TeacherHome
	default:
		return ParentHome
	}
}

func loginFor(lastRole string) string {
	switch lastRole {
	case session.RoleAdmin:
		return AdminLogin
	case session.RoleTeacher:
		return TeacherLogin
	default:
		return ParentLogin
	}
}
