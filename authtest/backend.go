package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	authsession "github.com/goliatone/go-authsession"
)

// Op names a backend call for failure injection, hooks and counters.
type Op string

const (
	OpSignup         Op = "signup"
	OpLogin          Op = "login"
	OpLogout         Op = "logout"
	OpForgotPassword Op = "forgot_password"
	OpResetPassword  Op = "reset_password"
	OpVerifyEmail    Op = "verify_email"
	OpSendOTP        Op = "send_otp"
	OpVerifyOTP      Op = "verify_otp"
	OpStatus         Op = "status"
	OpProfile        Op = "profile"
)

const tokenTTL = time.Hour

var otpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type account struct {
	profile      authsession.UserProfile
	passwordHash []byte
	otpSecret    string
	lastCode     string
	resetToken   string
	verifyToken  string
}

type tokenSession struct {
	email     string
	verified  bool
	expiresAt time.Time
}

// Backend is an in-memory authsession.Backend. Password logins issue a
// pending token; a TOTP code sent through SendOTP upgrades it. Authenticated
// calls read the bearer from the configured TokenReader, like a real HTTP
// adapter would.
type Backend struct {
	mu           sync.Mutex
	tokens       authsession.TokenReader
	now          func() time.Time
	signingKey   []byte
	embedProfile bool

	accounts map[string]*account
	sessions map[string]*tokenSession

	failures map[Op][]error
	sticky   map[Op]error
	hooks    map[Op]func()
	calls    map[Op]int
}

var _ authsession.Backend = (*Backend)(nil)

// BackendOption configures a Backend
type BackendOption func(*Backend)

// WithTokenReader sets where the bearer token is read from.
func WithTokenReader(tokens authsession.TokenReader) BackendOption {
	return func(b *Backend) {
		b.tokens = tokens
	}
}

// WithNow sets the backend clock.
func WithNow(now func() time.Time) BackendOption {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithEmbeddedProfile controls whether VerifyOTP returns the user profile.
func WithEmbeddedProfile(embed bool) BackendOption {
	return func(b *Backend) {
		b.embedProfile = embed
	}
}

func NewBackend(opts ...BackendOption) *Backend {
	b := &Backend{
		now:          time.Now,
		signingKey:   []byte(uuid.NewString()),
		embedProfile: true,
		accounts:     map[string]*account{},
		sessions:     map[string]*tokenSession{},
		failures:     map[Op][]error{},
		sticky:       map[Op]error{},
		hooks:        map[Op]func(){},
		calls:        map[Op]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// SetTokenReader sets the bearer source after construction
func (b *Backend) SetTokenReader(tokens authsession.TokenReader) {
	b.mu.Lock()
	b.tokens = tokens
	b.mu.Unlock()
}

// AddUser registers an account. A blank profile ID gets a random one.
func (b *Backend) AddUser(email, password string, profile authsession.UserProfile) *authsession.UserProfile {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "authtest", AccountName: email})
	if err != nil {
		panic(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if profile.ID == "" {
		profile.ID = authsession.UserID(uuid.NewString())
	}
	profile.Email = email
	if profile.CreatedAt == nil {
		now := b.now()
		profile.CreatedAt = &now
	}

	b.accounts[normalizeEmail(email)] = &account{
		profile:      profile,
		passwordHash: hash,
		otpSecret:    key.Secret(),
	}
	return profile.Clone()
}

// Fail makes the next call of op return err.
func (b *Backend) Fail(op Op, err error) {
	b.mu.Lock()
	b.failures[op] = append(b.failures[op], err)
	b.mu.Unlock()
}

// FailAlways makes every call of op return err until Recover.
func (b *Backend) FailAlways(op Op, err error) {
	b.mu.Lock()
	b.sticky[op] = err
	b.mu.Unlock()
}

func (b *Backend) Recover(op Op) {
	b.mu.Lock()
	delete(b.sticky, op)
	delete(b.failures, op)
	b.mu.Unlock()
}

// OnCall runs fn inside every call of op, before it completes. Use it to
// interleave events with an in-flight request.
func (b *Backend) OnCall(op Op, fn func()) {
	b.mu.Lock()
	if fn == nil {
		delete(b.hooks, op)
	} else {
		b.hooks[op] = fn
	}
	b.mu.Unlock()
}

func (b *Backend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// LastCode returns the last one-time code sent to email
func (b *Backend) LastCode(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[normalizeEmail(email)]; ok {
		return acc.lastCode
	}
	return ""
}

// ResetToken returns the password reset token issued to email
func (b *Backend) ResetToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[normalizeEmail(email)]; ok {
		return acc.resetToken
	}
	return ""
}

// VerificationToken returns the email verification token issued at signup
func (b *Backend) VerificationToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[normalizeEmail(email)]; ok {
		return acc.verifyToken
	}
	return ""
}

// Revoke invalidates token server-side
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	delete(b.sessions, token)
	b.mu.Unlock()
}

// ActiveTokens is the number of tokens the backend still honours
func (b *Backend) ActiveTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Backend) Signup(ctx context.Context, req authsession.SignupRequest) (*authsession.Result, error) {
	if err := b.enter(ctx, OpSignup); err != nil {
		return nil, err
	}
	b.mu.Lock()
	_, exists := b.accounts[normalizeEmail(req.Email)]
	b.mu.Unlock()
	if exists {
		return nil, HTTPError(400, "Email already registered")
	}

	b.AddUser(req.Email, req.Password, authsession.UserProfile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})

	b.mu.Lock()
	b.accounts[normalizeEmail(req.Email)].verifyToken = uuid.NewString()
	b.mu.Unlock()

	return &authsession.Result{Success: true, Message: "Account created, check your email"}, nil
}

func (b *Backend) Login(ctx context.Context, creds authsession.Credentials) (*authsession.LoginResult, error) {
	if err := b.enter(ctx, OpLogin); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[normalizeEmail(creds.Email)]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(creds.Password)) != nil {
		return nil, HTTPError(401, "Invalid email or password")
	}

	token, err := b.mintLocked(acc, false)
	if err != nil {
		return nil, err
	}
	return &authsession.LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(tokenTTL / time.Second),
		Message:     "Verification code required",
	}, nil
}

func (b *Backend) Logout(ctx context.Context) error {
	if err := b.enter(ctx, OpLogout); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	token, _, err := b.sessionLocked()
	if err != nil {
		return err
	}
	delete(b.sessions, token)
	return nil
}

func (b *Backend) ForgotPassword(ctx context.Context, email string) (*authsession.Result, error) {
	if err := b.enter(ctx, OpForgotPassword); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if acc, ok := b.accounts[normalizeEmail(email)]; ok {
		acc.resetToken = uuid.NewString()
	}
	b.mu.Unlock()
	return &authsession.Result{Success: true, Message: "If the account exists, a reset link was sent"}, nil
}

func (b *Backend) ResetPassword(ctx context.Context, req authsession.ResetPasswordRequest) (*authsession.Result, error) {
	if err := b.enter(ctx, OpResetPassword); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		return nil, HTTPError(400, "Invalid password")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acc := range b.accounts {
		if req.Token != "" && acc.resetToken == req.Token {
			acc.passwordHash = hash
			acc.resetToken = ""
			return &authsession.Result{Success: true, Message: "Password updated"}, nil
		}
	}
	return nil, HTTPError(400, "Invalid or expired reset token")
}

func (b *Backend) VerifyEmail(ctx context.Context, token, email string) (*authsession.Result, error) {
	if err := b.enter(ctx, OpVerifyEmail); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok || token == "" || acc.verifyToken != token {
		return nil, HTTPError(400, "Invalid verification link")
	}
	acc.profile.EmailVerified = true
	acc.verifyToken = ""
	return &authsession.Result{Success: true, Message: "Email verified"}, nil
}

func (b *Backend) SendOTP(ctx context.Context, email string) (*authsession.Result, error) {
	if err := b.enter(ctx, OpSendOTP); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, _, err := b.sessionLocked(); err != nil {
		return nil, err
	}
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok {
		return nil, HTTPError(404, "User not found")
	}
	code, err := totp.GenerateCodeCustom(acc.otpSecret, b.now(), otpOpts)
	if err != nil {
		return nil, HTTPError(500, "Unable to generate code")
	}
	acc.lastCode = code
	return &authsession.Result{Success: true, Message: "Verification code sent"}, nil
}

func (b *Backend) VerifyOTP(ctx context.Context, email, code string) (*authsession.VerifyOTPResult, error) {
	if err := b.enter(ctx, OpVerifyOTP); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	token, session, err := b.sessionLocked()
	if err != nil {
		return nil, err
	}
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok || normalizeEmail(session.email) != normalizeEmail(email) {
		return nil, HTTPError(403, "Token does not belong to this user")
	}

	valid, err := totp.ValidateCustom(code, acc.otpSecret, b.now(), otpOpts)
	if err != nil || !valid {
		return nil, HTTPError(400, "Invalid or expired code")
	}

	delete(b.sessions, token)
	verified, err := b.mintLocked(acc, true)
	if err != nil {
		return nil, err
	}

	res := &authsession.VerifyOTPResult{AccessToken: verified, Message: "Verified"}
	if b.embedProfile {
		res.User = acc.profile.Clone()
	}
	return res, nil
}

func (b *Backend) Status(ctx context.Context) (*authsession.TwoFactorStatus, error) {
	if err := b.enter(ctx, OpStatus); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, session, err := b.sessionLocked()
	if err != nil {
		return nil, err
	}
	if !session.verified {
		return &authsession.TwoFactorStatus{Success: false, Message: "Verification pending"}, nil
	}
	return &authsession.TwoFactorStatus{Success: true}, nil
}

func (b *Backend) GetProfile(ctx context.Context) (*authsession.UserProfile, error) {
	if err := b.enter(ctx, OpProfile); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, session, err := b.sessionLocked()
	if err != nil {
		return nil, err
	}
	if !session.verified {
		return nil, HTTPError(403, "Two-factor verification required")
	}
	acc, ok := b.accounts[normalizeEmail(session.email)]
	if !ok {
		return nil, HTTPError(404, "User not found")
	}
	return acc.profile.Clone(), nil
}

func (b *Backend) enter(ctx context.Context, op Op) error {
	b.mu.Lock()
	b.calls[op]++
	hook := b.hooks[op]
	var err error
	if queued := b.failures[op]; len(queued) > 0 {
		err = queued[0]
		b.failures[op] = queued[1:]
	} else if sticky, ok := b.sticky[op]; ok {
		err = sticky
	}
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (b *Backend) sessionLocked() (string, *tokenSession, error) {
	if b.tokens == nil {
		return "", nil, HTTPError(401, "Not authenticated")
	}
	token, ok := b.tokens.Get()
	if !ok {
		return "", nil, HTTPError(401, "Not authenticated")
	}
	session, ok := b.sessions[token]
	if !ok {
		return "", nil, Unauthorized()
	}
	if !b.now().Before(session.expiresAt) {
		delete(b.sessions, token)
		return "", nil, Unauthorized()
	}
	return token, session, nil
}

func (b *Backend) mintLocked(acc *account, verified bool) (string, error) {
	now := b.now()
	expiresAt := now.Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   string(acc.profile.ID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		return "", HTTPError(500, "Unable to issue token")
	}
	b.sessions[token] = &tokenSession{
		email:     acc.profile.Email,
		verified:  verified,
		expiresAt: expiresAt,
	}
	return token, nil
}

// MintIdentityToken returns a JWT with sub and exp, for identity provider
// sessions in tests.
func MintIdentityToken(subject string, expiresAt time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("authtest-identity"))
	if err != nil {
		panic(err)
	}
	return token
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
