package authsession

// State is the position of the session in the login flow
type State string

const (
	StateUnauthenticated   State = "unauthenticated"
	StateAwaitingTwoFactor State = "awaiting_2fa"
	StateAuthorized        State = "authorized"
)

func (s State) String() string {
	return string(s)
}

// Access classifies what, if anything, still stands between the user and
// protected content.
type Access string

const (
	AccessPending                   Access = "pending"
	AccessTwoFactorRequired         Access = "two_factor_required"
	AccessLoginRequired             Access = "login_required"
	AccessProfileRequired           Access = "profile_required"
	AccessEmailVerificationRequired Access = "email_verification_required"
	AccessGranted                   Access = "granted"
)

// Snapshot is an immutable copy of the session record. Version increases by
// one for every committed change.
type Snapshot struct {
	State             State
	User              *UserProfile
	IdentitySession   *IdentitySession
	Loading           bool
	Error             string
	ErrorKind         ErrorKind
	ErrorStatus       int
	TwoFactorRequired bool
	Version           uint64
}

// IsAuthorized reports whether the second factor was verified
func (s Snapshot) IsAuthorized() bool {
	return s.State == StateAuthorized
}

// HasError reports whether a failure is recorded
func (s Snapshot) HasError() bool {
	return s.Error != ""
}

// Access gates protected content. Checks run in order: loading, pending
// second factor, missing authorization, unknown profile, unverified email.
// An authorized session whose profile fetch failed cannot prove a verified
// email, so it reports AccessProfileRequired until RefreshProfile succeeds.
func (s Snapshot) Access() Access {
	switch {
	case s.Loading:
		return AccessPending
	case s.TwoFactorRequired:
		return AccessTwoFactorRequired
	case s.State != StateAuthorized:
		return AccessLoginRequired
	case s.User == nil:
		return AccessProfileRequired
	case !s.User.EmailVerified:
		return AccessEmailVerificationRequired
	default:
		return AccessGranted
	}
}

func (s Snapshot) clone() Snapshot {
	s.User = s.User.Clone()
	s.IdentitySession = s.IdentitySession.Clone()
	return s
}
