// Package httpbackend implements authsession.Backend over the identity
// backend's JSON HTTP API.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	authsession "github.com/goliatone/go-authsession"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20

	pathSignup         = "/auth/signup"
	pathLogin          = "/auth/login"
	pathLogout         = "/auth/logout"
	pathForgotPassword = "/auth/forgot-password"
	pathResetPassword  = "/auth/reset-password"
	pathVerifyEmail    = "/auth/verify-email"
	pathSendOTP        = "/auth/2fa/send-otp"
	pathVerifyOTP      = "/auth/2fa/verify-otp"
	pathTwoFactorState = "/auth/2fa/status"
	pathProfile        = "/user/profile"
)

// Config holds the backend client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Tokens supplies the bearer token for authenticated calls. It is only
	// read, never written.
	Tokens authsession.TokenReader

	HTTPClient     *http.Client
	Logger         authsession.Logger
	LoggerProvider authsession.LoggerProvider
	UserAgent      string
}

// Client implements authsession.Backend.
type Client struct {
	baseURL    *url.URL
	tokens     authsession.TokenReader
	httpClient *http.Client
	logger     authsession.Logger
	userAgent  string
}

var _ authsession.Backend = (*Client)(nil)

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, authsession.ErrInvalidConfig.Clone().WithMetadata(map[string]any{
			"base_url": cfg.BaseURL,
		})
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = authsession.NewMemoryTokenStore()
	}

	_, logger := authsession.ResolveLogger("authsession.httpbackend", cfg.LoggerProvider, cfg.Logger)

	return &Client{
		baseURL:    base,
		tokens:     tokens,
		httpClient: client,
		logger:     logger,
		userAgent:  cfg.UserAgent,
	}, nil
}

// FromConfig builds a client from the [backend] section of a session config.
func FromConfig(cfg authsession.BackendConfig, tokens authsession.TokenReader, logger authsession.Logger) (*Client, error) {
	return New(Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout(),
		Tokens:  tokens,
		Logger:  logger,
	})
}

func (c *Client) Signup(ctx context.Context, req authsession.SignupRequest) (*authsession.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidRequest("signup", err)
	}
	res := &authsession.Result{}
	if err := c.do(ctx, call{method: http.MethodPost, path: pathSignup, body: req, out: res}); err != nil {
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (c *Client) Login(ctx context.Context, creds authsession.Credentials) (*authsession.LoginResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, invalidRequest("login", err)
	}
	res := &authsession.LoginResult{}
	err := c.do(ctx, call{method: http.MethodPost, path: pathLogin, body: creds, out: res, sensitive: true})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodPost, path: pathLogout, authenticated: true})
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (*authsession.Result, error) {
	if err := authsession.ValidateEmail(email); err != nil {
		return nil, invalidRequest("forgot_password", err)
	}
	res := &authsession.Result{}
	body := map[string]string{"email": email}
	if err := c.do(ctx, call{method: http.MethodPost, path: pathForgotPassword, body: body, out: res}); err != nil {
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (c *Client) ResetPassword(ctx context.Context, req authsession.ResetPasswordRequest) (*authsession.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidRequest("reset_password", err)
	}
	res := &authsession.Result{}
	if err := c.do(ctx, call{method: http.MethodPost, path: pathResetPassword, body: req, out: res, sensitive: true}); err != nil {
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (c *Client) VerifyEmail(ctx context.Context, token, email string) (*authsession.Result, error) {
	if strings.TrimSpace(token) == "" {
		return nil, invalidRequest("verify_email", goerrors.New("token: cannot be blank.", goerrors.CategoryValidation))
	}
	if err := authsession.ValidateEmail(email); err != nil {
		return nil, invalidRequest("verify_email", err)
	}
	res := &authsession.Result{}
	body := map[string]string{"token": token, "email": email}
	if err := c.do(ctx, call{method: http.MethodPost, path: pathVerifyEmail, body: body, out: res, sensitive: true}); err != nil {
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (c *Client) SendOTP(ctx context.Context, email string) (*authsession.Result, error) {
	if err := authsession.ValidateEmail(email); err != nil {
		return nil, invalidRequest("send_otp", err)
	}
	res := &authsession.Result{}
	body := map[string]string{"email": email}
	if err := c.do(ctx, call{method: http.MethodPost, path: pathSendOTP, body: body, out: res, authenticated: true}); err != nil {
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*authsession.VerifyOTPResult, error) {
	if err := authsession.ValidateEmail(email); err != nil {
		return nil, invalidRequest("verify_otp", err)
	}
	if err := authsession.ValidateOTPCode(code); err != nil {
		return nil, invalidRequest("verify_otp", err)
	}
	res := &authsession.VerifyOTPResult{}
	body := map[string]string{"email": email, "code": code}
	err := c.do(ctx, call{method: http.MethodPost, path: pathVerifyOTP, body: body, out: res, authenticated: true, sensitive: true})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Status(ctx context.Context) (*authsession.TwoFactorStatus, error) {
	res := &authsession.TwoFactorStatus{}
	if err := c.do(ctx, call{method: http.MethodGet, path: pathTwoFactorState, out: res, authenticated: true}); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetProfile(ctx context.Context) (*authsession.UserProfile, error) {
	res := &authsession.UserProfile{}
	if err := c.do(ctx, call{method: http.MethodGet, path: pathProfile, out: res, authenticated: true}); err != nil {
		return nil, err
	}
	return res, nil
}

type call struct {
	method        string
	path          string
	body          any
	out           any
	authenticated bool
	sensitive     bool
}

func (c *Client) do(ctx context.Context, in call) error {
	logger := c.logger.WithContext(ctx)

	var token string
	if in.authenticated {
		t, ok := c.tokens.Get()
		if !ok {
			return missingToken(in.path)
		}
		token = t
	}

	var reader io.Reader
	if in.body != nil {
		raw, err := json.Marshal(in.body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request").
				WithTextCode(authsession.TextCodeInvalidRequest)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, in.method, c.endpoint(in.path), reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request").
			WithTextCode(authsession.TextCodeInvalidRequest)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("backend request failed", "method", in.method, "path", in.path, "error", err)
		return transportError(in.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(in.path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, body)
		logger.Debug("backend rejected request",
			"method", in.method,
			"path", in.path,
			"status", resp.StatusCode,
			"text_code", apiErr.TextCode,
		)
		return apiErr.WithMetadata(map[string]any{"path": in.path})
	}

	if in.out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, in.out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "backend returned an invalid response").
			WithCode(resp.StatusCode).
			WithTextCode("INVALID_RESPONSE").
			WithMetadata(map[string]any{"path": in.path})
	}

	if in.sensitive {
		logger.Debug("backend response", "method", in.method, "path", in.path, "status", resp.StatusCode)
	} else {
		logger.Debug("backend response",
			"method", in.method,
			"path", in.path,
			"status", resp.StatusCode,
			"body", print.MaybePrettyJSON(in.out),
		)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func invalidRequest(op string, err error) *goerrors.Error {
	return goerrors.New(err.Error(), goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(authsession.TextCodeInvalidRequest).
		WithMetadata(map[string]any{"operation": op})
}

func missingToken(path string) error {
	clone := authsession.ErrMissingToken.Clone()
	if clone == nil {
		return authsession.ErrMissingToken
	}
	clone.Message = "no bearer token available"
	clone.Source = authsession.ErrMissingToken
	return clone.WithMetadata(map[string]any{"path": path})
}

func transportError(path string, err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "Network error, please try again").
		WithTextCode(authsession.TextCodeTransport).
		WithMetadata(map[string]any{"path": path})
}
