package guard

import "slices"

// Reason explains why a decision is not an allow.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInitializing     Reason = "initializing"
	ReasonNotAuthenticated Reason = "not_authenticated"
	ReasonInsufficientRole Reason = "insufficient_role"
	ReasonInvalidStatus    Reason = "invalid_status"
	ReasonAccessDenied     Reason = "access_denied"
)

const (
	DefaultLoginPath = "/login"

	RoleAdmin    = "admin"
	StatusActive = "active"
)

// Session is what the guard knows about the current user. HasProfile is
// false when the user is authenticated but their role and status could not
// be resolved.
type Session struct {
	Initialized   bool   `json:"initialized"`
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role,omitempty"`
	Status        string `json:"status,omitempty"`
	HasProfile    bool   `json:"hasProfile"`
}

// Requirements describe who may see a route. The zero value is a public
// route.
type Requirements struct {
	RequireAuth    bool
	RequiredRole   string
	AllowedRoles   []string
	RequiredStatus string

	// RedirectTo is where unauthenticated sessions are sent. Defaults to
	// DefaultLoginPath.
	RedirectTo string

	// DeniedRedirectTo is where authenticated but unauthorised sessions
	// are sent. Defaults to RedirectTo.
	DeniedRedirectTo string

	// Allow is an extra check run after the role and status checks.
	Allow func(Session) bool
}

// AdminOnly requires an authenticated admin with active status.
func AdminOnly() Requirements {
	return Requirements{RequireAuth: true, RequiredRole: RoleAdmin, RequiredStatus: StatusActive}
}

// ActiveUser requires any authenticated user with active status.
func ActiveUser() Requirements {
	return Requirements{RequireAuth: true, RequiredStatus: StatusActive}
}

// Public lets everyone through.
func Public() Requirements { return Requirements{} }

func (r Requirements) loginTarget() string {
	if r.RedirectTo == "" {
		return DefaultLoginPath
	}
	return r.RedirectTo
}

func (r Requirements) deniedTarget() string {
	if r.DeniedRedirectTo == "" {
		return r.loginTarget()
	}
	return r.DeniedRedirectTo
}

func (r Requirements) needsProfile() bool {
	return r.RequiredRole != "" || len(r.AllowedRoles) > 0 || r.RequiredStatus != ""
}

// Decision is the outcome of evaluating a session against requirements.
// Once Loading is false exactly one of Allowed and NeedsRedirect is set.
type Decision struct {
	Allowed        bool   `json:"isAllowed"`
	Loading        bool   `json:"isLoading"`
	NeedsRedirect  bool   `json:"needsRedirect"`
	RedirectTarget string `json:"redirectTarget,omitempty"`
	Reason         Reason `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, target string) Decision {
	return Decision{NeedsRedirect: true, RedirectTarget: target, Reason: reason}
}

// Decide evaluates sess against req. It has no side effects.
func Decide(sess Session, req Requirements) Decision {
	if !sess.Initialized {
		return Decision{Loading: true, Reason: ReasonInitializing}
	}
	if !req.RequireAuth {
		return allow()
	}
	if !sess.Authenticated {
		return deny(ReasonNotAuthenticated, req.loginTarget())
	}

	if req.needsProfile() && !sess.HasProfile {
		return deny(ReasonAccessDenied, req.deniedTarget())
	}
	if req.RequiredRole != "" && sess.Role != req.RequiredRole {
		return deny(ReasonInsufficientRole, req.deniedTarget())
	}
	if len(req.AllowedRoles) > 0 && !slices.Contains(req.AllowedRoles, sess.Role) {
		return deny(ReasonInsufficientRole, req.deniedTarget())
	}
	if req.RequiredStatus != "" && sess.Status != req.RequiredStatus {
		return deny(ReasonInvalidStatus, req.deniedTarget())
	}
	if req.Allow != nil && !req.Allow(sess) {
		return deny(ReasonAccessDenied, req.deniedTarget())
	}

	return allow()
}
