package authsession

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	msgInitFailed          = "Authentication initialization failed"
	msgSignupFailed        = "Signup failed"
	msgLoginFailed         = "Login failed"
	msgSendOTPFailed       = "Failed to send verification code"
	msgVerifyOTPFailed     = "Verification failed"
	msgProfileFailed       = "Failed to fetch user profile"
	msgForgotPasswordFail  = "Failed to send password reset email"
	msgResetPasswordFailed = "Password reset failed"
	msgVerifyEmailFailed   = "Email verification failed"
)

type opFlags uint8

const (
	// opLoading marks operations that decide the next state
	opLoading opFlags = 1 << iota
	// opIssuesToken marks operations whose result carries a bearer token
	opIssuesToken
	opStartup
)

// Machine is the authentication session state machine. It is safe for
// concurrent use; collaborator calls are never made with the lock held and
// every state change is committed atomically.
type Machine struct {
	backend           Backend
	store             TokenStore
	identity          IdentityProvider
	activitySource    ActivitySource
	activitySink      ActivitySink
	clock             Clock
	logger            Logger
	loggerProvider    LoggerProvider
	inactivityTimeout time.Duration
	teardownTimeout   time.Duration
	phoneRegion       string

	observers observerSet

	mu                  sync.Mutex
	state               State
	user                *UserProfile
	identitySession     *IdentitySession
	errMessage          string
	errKind             ErrorKind
	errStatus           int
	starting            bool
	pending             int
	tokenOps            int
	signingOut          int
	epoch               uint64
	version             uint64
	guard               *inactivityGuard
	unsubscribeIdentity func()
	closed              bool
}

// New returns a Machine in the unauthenticated state with Loading set until
// Init (or Start) resolves it. A nil store means an in-memory store.
func New(backend Backend, store TokenStore, opts ...Option) *Machine {
	if store == nil {
		store = NewMemoryTokenStore()
	}

	m := &Machine{
		backend:           backend,
		store:             store,
		activitySink:      noopActivitySink{},
		clock:             SystemClock(),
		inactivityTimeout: DefaultInactivityTimeout,
		teardownTimeout:   defaultTeardownTimeout,
		phoneRegion:       DefaultPhoneRegion,
		state:             StateUnauthenticated,
		starting:          true,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.loggerProvider, m.logger = ResolveLogger("authsession.machine", m.loggerProvider, m.logger)
	return m
}

// Start subscribes to identity provider notifications and runs Init.
func (m *Machine) Start(ctx context.Context) error {
	if m.identity != nil {
		m.mu.Lock()
		subscribed := m.unsubscribeIdentity != nil || m.closed
		m.mu.Unlock()

		if !subscribed {
			unsubscribe := m.identity.OnAuthStateChange(m.handleIdentityEvent)
			m.mu.Lock()
			if m.unsubscribeIdentity == nil && !m.closed {
				m.unsubscribeIdentity = unsubscribe
				unsubscribe = nil
			}
			m.mu.Unlock()
			if unsubscribe != nil {
				unsubscribe()
			}
		}
	}
	return m.Init(ctx)
}

// Init resolves the session from the persisted token: it adopts a live
// identity provider session, probes the second-factor status and fetches the
// profile when the second factor is already satisfied. It may be run again.
func (m *Machine) Init(ctx context.Context) error {
	const flags = opLoading | opStartup
	epoch := m.begin(ctx, flags)
	logger := m.logger.WithContext(ctx)

	token, _ := m.store.Get()

	if m.identity != nil {
		session, err := m.identity.GetSession(ctx)
		switch {
		case err != nil:
			logger.Warn("identity session unavailable", "error", err)
		case session.Live(m.clock.Now()):
			token = session.AccessToken
			m.mu.Lock()
			if epoch == m.epoch {
				m.store.Set(token)
				m.identitySession = session.Clone()
			}
			m.mu.Unlock()
		}
	}

	if token == "" {
		logger.Debug("no persisted token, session starts unauthenticated")
		m.apply(ctx, func(tx *txn) { tx.finish(flags) })
		return nil
	}

	status, err := m.backend.Status(ctx)
	if err != nil {
		return m.fail(ctx, epoch, flags, err, msgInitFailed, true, "")
	}

	if status == nil || !status.Success {
		superseded := false
		m.apply(ctx, func(tx *txn) {
			tx.finish(flags)
			if epoch != m.epoch {
				superseded = true
				return
			}
			tx.restoreAwaitingTwoFactor()
		})
		if superseded {
			return m.superseded(ctx, "init")
		}
		logger.Debug("persisted token still awaits second factor", "token", maskToken(token))
		return nil
	}

	profile, err := m.backend.GetProfile(ctx)
	if err != nil {
		return m.profileFailure(ctx, epoch, flags, err, "", "init")
	}

	superseded := false
	m.apply(ctx, func(tx *txn) {
		tx.finish(flags)
		if epoch != m.epoch {
			superseded = true
			return
		}
		tx.authorize("", profile)
		tx.record(ActivityEvent{EventType: ActivityEventSessionRestored})
	})
	if superseded {
		return m.superseded(ctx, "init")
	}
	return nil
}

// Close releases the identity subscription, the inactivity guard and every
// observer. The persisted token is kept.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	guard := m.guard
	m.guard = nil
	unsubscribe := m.unsubscribeIdentity
	m.unsubscribeIdentity = nil
	m.mu.Unlock()

	if guard != nil {
		guard.stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	m.observers.clear()
}

// Snapshot returns a copy of the current session record.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn for committed changes. Observers run outside the
// machine lock, one delivery at a time and in Version order, and may call back
// into the Machine. Changes committed while a delivery is running are
// coalesced, so fn always ends on the latest snapshot.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return m.observers.subscribe(fn)
}

// Access classifies the current snapshot for gating protected content.
func (m *Machine) Access() Access {
	return m.Snapshot().Access()
}

// Signup registers a new account. It never changes the session.
func (m *Machine) Signup(ctx context.Context, req SignupRequest) (*Result, error) {
	epoch := m.begin(ctx, 0)
	res, err := m.backend.Signup(ctx, req)
	if err != nil {
		return nil, m.fail(ctx, epoch, 0, err, msgSignupFailed, false, "")
	}
	m.recordActivity(ctx, ActivityEvent{EventType: ActivityEventSignup, Email: req.Email})
	return res, nil
}

// Login performs the password step. A returned token only opens the second
// factor step; the user stays unknown until VerifyTwoFactorOTP succeeds.
func (m *Machine) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	const flags = opLoading | opIssuesToken
	epoch := m.begin(ctx, flags)

	res, err := m.backend.Login(ctx, creds)
	if err != nil {
		return nil, m.fail(ctx, epoch, flags, err, msgLoginFailed, false, ActivityEventLoginFailure)
	}

	superseded := false
	m.apply(ctx, func(tx *txn) {
		tx.finish(flags)
		if res == nil || res.AccessToken == "" {
			return
		}
		if epoch != m.epoch {
			superseded = true
			return
		}
		tx.awaitTwoFactor(res.AccessToken, creds.Email)
	})
	if superseded {
		return nil, m.superseded(ctx, "login")
	}
	if res == nil || res.AccessToken == "" {
		m.logger.WithContext(ctx).Warn("login succeeded without an access token", "email", creds.Email)
		return res, nil
	}

	m.logger.WithContext(ctx).Debug("password accepted, awaiting second factor",
		"email", creds.Email,
		"token", maskToken(res.AccessToken),
	)
	return res, nil
}

// Logout ends the session. Remote sign-out failures are logged; the local
// session is always cleared.
func (m *Machine) Logout(ctx context.Context) {
	m.endSession(ctx, ReasonLogout, nil, false)
}

// SendTwoFactorOTP asks the backend to dispatch a one-time code. Every call
// is an independent dispatch.
func (m *Machine) SendTwoFactorOTP(ctx context.Context, email string) (*Result, error) {
	epoch := m.begin(ctx, 0)
	res, err := m.backend.SendOTP(ctx, email)
	if err != nil {
		return nil, m.fail(ctx, epoch, 0, err, msgSendOTPFailed, true, "")
	}
	m.recordActivity(ctx, ActivityEvent{EventType: ActivityEventTwoFactorSent, Email: email})
	return res, nil
}

// VerifyTwoFactorOTP completes the second factor. On success the returned
// token is persisted and the session becomes authorized. When the response
// carries no profile it is fetched; a non-denial failure of that fetch leaves
// the session authorized without a profile and records the error.
func (m *Machine) VerifyTwoFactorOTP(ctx context.Context, email, code string) (*VerifyOTPResult, error) {
	const flags = opLoading | opIssuesToken
	epoch := m.begin(ctx, flags)

	res, err := m.backend.VerifyOTP(ctx, email, code)
	if err != nil {
		return nil, m.fail(ctx, epoch, flags, err, msgVerifyOTPFailed, true, ActivityEventTwoFactorFailure)
	}
	if res == nil {
		res = &VerifyOTPResult{}
	}

	token := res.AccessToken
	if token == "" {
		token, _ = m.store.Get()
	}
	if token == "" {
		return nil, m.fail(ctx, epoch, flags, ErrMissingToken, "", false, ActivityEventTwoFactorFailure)
	}

	user := res.User
	if user == nil {
		// the profile endpoint authenticates with the verified token
		if !m.stageToken(epoch, token) {
			m.apply(ctx, func(tx *txn) { tx.finish(flags) })
			return nil, m.superseded(ctx, "verify_otp")
		}

		profile, err := m.backend.GetProfile(ctx)
		if err != nil {
			if ferr := m.profileFailure(ctx, epoch, flags, err, token, "verify_otp"); ferr != nil {
				return nil, ferr
			}
			return res, nil
		}
		user = profile
	}

	superseded := false
	m.apply(ctx, func(tx *txn) {
		tx.finish(flags)
		if epoch != m.epoch {
			superseded = true
			return
		}
		tx.authorize(token, user)
		tx.record(ActivityEvent{EventType: ActivityEventTwoFactorVerified, Email: email})
	})
	if superseded {
		return nil, m.superseded(ctx, "verify_otp")
	}
	return res, nil
}

// ForgotPassword starts a password reset for email.
func (m *Machine) ForgotPassword(ctx context.Context, email string) (*Result, error) {
	epoch := m.begin(ctx, 0)
	res, err := m.backend.ForgotPassword(ctx, email)
	if err != nil {
		return nil, m.fail(ctx, epoch, 0, err, msgForgotPasswordFail, false, "")
	}
	m.recordActivity(ctx, ActivityEvent{EventType: ActivityEventPasswordResetRequested, Email: email})
	return res, nil
}

// ResetPassword finalizes a password reset with the emailed token.
func (m *Machine) ResetPassword(ctx context.Context, token, newPassword string) (*Result, error) {
	epoch := m.begin(ctx, 0)
	res, err := m.backend.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		return nil, m.fail(ctx, epoch, 0, err, msgResetPasswordFailed, false, "")
	}
	m.recordActivity(ctx, ActivityEvent{EventType: ActivityEventPasswordReset})
	return res, nil
}

// VerifyEmail confirms an email address. When it matches the current
// profile, the profile is marked verified.
func (m *Machine) VerifyEmail(ctx context.Context, token, email string) (*Result, error) {
	epoch := m.begin(ctx, 0)
	res, err := m.backend.VerifyEmail(ctx, token, email)
	if err != nil {
		return nil, m.fail(ctx, epoch, 0, err, msgVerifyEmailFailed, false, "")
	}

	m.apply(ctx, func(tx *txn) {
		tx.record(ActivityEvent{EventType: ActivityEventEmailVerified, Email: email})
		if epoch != m.epoch || m.user == nil || m.user.EmailVerified {
			return
		}
		if !strings.EqualFold(strings.TrimSpace(m.user.Email), strings.TrimSpace(email)) {
			return
		}
		user := m.user.Clone()
		user.EmailVerified = true
		m.user = user
		tx.changed = true
	})
	return res, nil
}

// RefreshProfile re-reads the profile of an authorized session.
func (m *Machine) RefreshProfile(ctx context.Context) (*UserProfile, error) {
	m.mu.Lock()
	authorized := m.state == StateAuthorized
	m.mu.Unlock()
	if !authorized {
		return nil, NormalizeError(ErrNotAuthorized, "")
	}

	epoch := m.begin(ctx, 0)
	profile, err := m.backend.GetProfile(ctx)
	if err != nil {
		return nil, m.fail(ctx, epoch, 0, err, msgProfileFailed, true, "")
	}

	superseded := false
	m.apply(ctx, func(tx *txn) {
		if epoch != m.epoch || m.state != StateAuthorized {
			superseded = true
			return
		}
		tx.setUser(profile)
	})
	if superseded {
		return nil, m.superseded(ctx, "refresh_profile")
	}
	return profile.Clone(), nil
}

// ClearError drops the recorded failure and nothing else.
func (m *Machine) ClearError() {
	m.apply(context.Background(), func(tx *txn) {
		tx.clearError()
	})
}

// RecordActivity feeds a user activity signal to the inactivity timer.
// Signals outside the activity set and signals while not authorized are
// ignored.
func (m *Machine) RecordActivity(signal ActivitySignal) {
	m.mu.Lock()
	guard := m.guard
	m.mu.Unlock()
	if guard != nil {
		guard.touch(signal)
	}
}

// LastActivity reports when the authorized session last saw activity.
func (m *Machine) LastActivity() (time.Time, bool) {
	m.mu.Lock()
	guard := m.guard
	m.mu.Unlock()
	if guard == nil {
		return time.Time{}, false
	}
	return guard.idleSince(), true
}

func (m *Machine) endSession(ctx context.Context, reason string, onlyEpoch *uint64, skipIdentity bool) {
	logger := m.logger.WithContext(ctx)
	m.begin(ctx, opLoading)

	if _, ok := m.store.Get(); ok {
		if err := m.backend.Logout(ctx); err != nil {
			logger.Warn("backend logout failed, clearing local session anyway", "reason", reason, "error", err)
		}
	}
	if m.identity != nil && !skipIdentity {
		m.mu.Lock()
		m.signingOut++
		m.mu.Unlock()
		err := m.identity.SignOut(ctx)
		m.mu.Lock()
		m.signingOut--
		m.mu.Unlock()
		if err != nil {
			logger.Warn("identity provider sign out failed", "reason", reason, "error", err)
		}
	}

	m.apply(ctx, func(tx *txn) {
		tx.finish(opLoading)
		if onlyEpoch != nil && *onlyEpoch != m.epoch {
			return
		}
		tx.deauthorize(reason)
	})
	logger.Info("session ended", "reason", reason)
}

func (m *Machine) onIdle(guard *inactivityGuard) {
	m.mu.Lock()
	if m.guard != guard {
		m.mu.Unlock()
		return
	}
	epoch := m.epoch
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.teardownTimeout)
	defer cancel()

	m.logger.Info("session idle, signing out",
		"guard_id", guard.id,
		"last_activity", guard.idleSince(),
		"timeout", m.inactivityTimeout,
	)
	m.endSession(ctx, ReasonInactivityTimeout, &epoch, false)
}

func (m *Machine) handleIdentityEvent(event IdentityEvent) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	switch event.Type {
	case IdentitySignedIn:
		session := event.Session
		if !session.Live(m.clock.Now()) {
			m.logger.Debug("ignoring identity sign-in without a live session")
			return
		}
		m.apply(context.Background(), func(tx *txn) {
			m.identitySession = session.Clone()
			// explicit login and verification own the token while in flight
			if m.tokenOps == 0 {
				m.store.Set(session.AccessToken)
			}
			tx.changed = true
			tx.record(ActivityEvent{
				EventType: ActivityEventIdentitySignedIn,
				UserID:    session.Subject,
				Metadata:  map[string]any{"token_adopted": m.tokenOps == 0},
			})
		})
	case IdentitySignedOut:
		if m.signOutIsEcho() {
			m.logger.Debug("ignoring identity sign-out, session already ended")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.teardownTimeout)
		defer cancel()
		m.endSession(ctx, ReasonIdentitySignedOut, nil, true)
	default:
		m.logger.Debug("ignoring identity event", "type", event.Type)
	}
}

// signOutIsEcho reports whether a SIGNED_OUT notification only reflects a
// sign-out this machine already performed or is performing.
func (m *Machine) signOutIsEcho() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signingOut > 0 {
		return true
	}
	_, hasToken := m.store.Get()
	return m.state == StateUnauthenticated && !hasToken && m.tokenOps == 0
}

func (m *Machine) begin(ctx context.Context, flags opFlags) uint64 {
	var epoch uint64
	m.apply(ctx, func(tx *txn) {
		tx.clearError()
		tx.start(flags)
		epoch = m.epoch
	})
	return epoch
}

// stageToken persists token ahead of the commit that authorizes it.
func (m *Machine) stageToken(epoch uint64, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return false
	}
	m.store.Set(token)
	return true
}

// fail records a collaborator failure. Authorization denials observed by
// authenticated calls end the session. Failures of superseded operations
// are returned but not recorded.
func (m *Machine) fail(ctx context.Context, epoch uint64, flags opFlags, err error, fallback string, authenticated bool, event ActivityEventType) *NormalizedError {
	normalized := NormalizeError(err, fallback)
	m.apply(ctx, func(tx *txn) {
		tx.finish(flags)
		if epoch != m.epoch {
			return
		}
		tx.setError(normalized)
		if event != "" {
			tx.record(ActivityEvent{
				EventType: event,
				Metadata: map[string]any{
					"error_kind":   normalized.Kind.String(),
					"error_status": normalized.Status,
				},
			})
		}
		if authenticated && normalized.Kind == KindAuthorizationDenied {
			tx.deauthorize(ReasonAuthorizationDenied)
		}
	})

	m.logger.WithContext(ctx).Debug("session operation failed",
		"kind", normalized.Kind.String(),
		"status", normalized.Status,
		"error", err,
	)
	return normalized
}

// profileFailure handles a failed profile fetch after the second factor
// was satisfied. A denial ends the session and is returned; anything else
// authorizes without a profile, records the error and returns nil.
func (m *Machine) profileFailure(ctx context.Context, epoch uint64, flags opFlags, err error, token, op string) error {
	normalized := NormalizeError(err, msgProfileFailed)
	superseded := false
	m.apply(ctx, func(tx *txn) {
		tx.finish(flags)
		if epoch != m.epoch {
			superseded = true
			return
		}
		tx.setError(normalized)
		if normalized.Kind == KindAuthorizationDenied {
			tx.deauthorize(ReasonAuthorizationDenied)
			return
		}
		tx.authorize(token, nil)
	})

	switch {
	case superseded:
		return m.superseded(ctx, op)
	case normalized.Kind == KindAuthorizationDenied:
		return normalized
	}

	m.logger.WithContext(ctx).Warn("authorized without profile", "op", op, "error", err)
	return nil
}

func (m *Machine) superseded(ctx context.Context, op string) *NormalizedError {
	m.logger.WithContext(ctx).Debug("discarding result of superseded operation", "op", op)
	return NormalizeError(ErrSessionSuperseded, "")
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:             m.state,
		User:              m.user,
		IdentitySession:   m.identitySession,
		Loading:           m.starting || m.pending > 0,
		Error:             m.errMessage,
		ErrorKind:         m.errKind,
		ErrorStatus:       m.errStatus,
		TwoFactorRequired: m.state == StateAwaitingTwoFactor,
		Version:           m.version,
	}
	return s.clone()
}

func (m *Machine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock.Now().UTC()
	}
	if err := m.activitySink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "error", err, "event", event.EventType)
	}
}

// apply runs fn under the machine lock, then (unlocked) releases and arms
// inactivity guards, notifies observers and records activity.
func (m *Machine) apply(ctx context.Context, fn func(tx *txn)) {
	m.mu.Lock()
	tx := &txn{m: m}
	fn(tx)
	var snapshot Snapshot
	if tx.changed {
		m.version++
		snapshot = m.snapshotLocked()
	}
	m.mu.Unlock()

	for _, guard := range tx.released {
		guard.stop()
	}
	if tx.armed != nil {
		tx.armed.arm(m.activitySource)
	}
	if tx.changed {
		m.observers.notify(snapshot)
	}
	for _, event := range tx.events {
		m.recordActivity(ctx, event)
	}
}

// txn collects the side effects of one commit. Its methods run with the
// machine lock held.
type txn struct {
	m        *Machine
	changed  bool
	released []*inactivityGuard
	armed    *inactivityGuard
	events   []ActivityEvent
}

func (tx *txn) start(flags opFlags) {
	m := tx.m
	wasLoading := m.starting || m.pending > 0
	if flags&opLoading != 0 {
		m.pending++
	}
	if flags&opIssuesToken != 0 {
		m.tokenOps++
	}
	if wasLoading != (m.starting || m.pending > 0) {
		tx.changed = true
	}
}

func (tx *txn) finish(flags opFlags) {
	m := tx.m
	wasLoading := m.starting || m.pending > 0
	if flags&opLoading != 0 && m.pending > 0 {
		m.pending--
	}
	if flags&opIssuesToken != 0 && m.tokenOps > 0 {
		m.tokenOps--
	}
	if flags&opStartup != 0 {
		m.starting = false
	}
	if wasLoading != (m.starting || m.pending > 0) {
		tx.changed = true
	}
}

func (tx *txn) clearError() {
	m := tx.m
	if m.errMessage == "" && m.errKind == KindNone && m.errStatus == 0 {
		return
	}
	m.errMessage = ""
	m.errKind = KindNone
	m.errStatus = 0
	tx.changed = true
}

func (tx *txn) setError(err *NormalizedError) {
	if err == nil {
		return
	}
	m := tx.m
	m.errMessage = err.Message
	m.errKind = err.Kind
	m.errStatus = err.Status
	tx.changed = true
}

func (tx *txn) record(event ActivityEvent) {
	m := tx.m
	if event.FromState == "" {
		event.FromState = m.state
	}
	if event.UserID == "" && m.user != nil {
		event.UserID = string(m.user.ID)
	}
	if event.Email == "" && m.user != nil {
		event.Email = m.user.Email
	}
	if m.guard != nil {
		event.Metadata = withGuardID(event.Metadata, m.guard)
	}
	tx.events = append(tx.events, event)
}

// withGuardID tags metadata with the inactivity guard of the session so the
// events that open and close it can be correlated.
func withGuardID(metadata map[string]any, guard *inactivityGuard) map[string]any {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["guard_id"] = guard.id.String()
	return metadata
}

func (tx *txn) releaseGuard() {
	m := tx.m
	if m.guard != nil {
		tx.released = append(tx.released, m.guard)
		m.guard = nil
	}
}

// awaitTwoFactor commits a password login. It ends any previous session, so
// operations still in flight for it are superseded.
func (tx *txn) awaitTwoFactor(token, email string) {
	m := tx.m
	from := m.state
	m.store.Set(token)
	m.state = StateAwaitingTwoFactor
	m.user = nil
	m.epoch++
	tx.releaseGuard()
	tx.changed = true
	tx.events = append(tx.events, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Email:     email,
		FromState: from,
		ToState:   StateAwaitingTwoFactor,
	})
}

func (tx *txn) restoreAwaitingTwoFactor() {
	m := tx.m
	if m.state == StateAwaitingTwoFactor && m.user == nil {
		return
	}
	if m.state == StateAuthorized {
		m.epoch++
	}
	m.state = StateAwaitingTwoFactor
	m.user = nil
	tx.releaseGuard()
	tx.changed = true
}

// authorize commits the authorized state. The inactivity guard is created
// once per authorized lifetime.
func (tx *txn) authorize(token string, user *UserProfile) {
	m := tx.m
	if token != "" {
		m.store.Set(token)
	}
	m.state = StateAuthorized
	tx.setUser(user)
	if user == nil {
		m.user = nil
	}
	if m.guard == nil && !m.closed {
		m.guard = newInactivityGuard(m.clock, m.inactivityTimeout, m.onIdle)
		tx.armed = m.guard
	}
	tx.changed = true
}

func (tx *txn) setUser(user *UserProfile) {
	if user == nil {
		return
	}
	m := tx.m
	u := user.Clone()
	u.NormalizePhone(m.phoneRegion)
	m.user = u
	tx.changed = true
}

// deauthorize returns to the unauthenticated baseline and clears the token.
// Bumping the epoch supersedes every operation still in flight.
func (tx *txn) deauthorize(reason string) {
	m := tx.m
	from := m.state
	user := m.user
	guard := m.guard

	m.store.Remove()
	m.state = StateUnauthenticated
	m.user = nil
	m.identitySession = nil
	m.epoch++
	tx.releaseGuard()
	tx.changed = true

	event := ActivityEvent{
		EventType: deauthEventType(reason),
		FromState: from,
		ToState:   StateUnauthenticated,
		Reason:    reason,
	}
	if user != nil {
		event.UserID = string(user.ID)
		event.Email = user.Email
	}
	if guard != nil {
		event.Metadata = withGuardID(event.Metadata, guard)
	}
	tx.events = append(tx.events, event)
}
