package authsession

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// OTPCodeLength is the number of digits in a second-factor code
const OTPCodeLength = 6

// UserID is the backend identifier of a user. Backends send it either as a
// JSON number or a string; both decode to the same textual form.
type UserID string

// UnmarshalJSON accepts numbers and strings.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

// Int returns the numeric form of the id, if it has one
func (id UserID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// UserProfile is the authenticated user's profile as reported by the backend
type UserProfile struct {
	ID            UserID     `json:"id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LastSignInAt  *time.Time `json:"last_sign_in_at,omitempty"`
}

// FullName joins first and last name
func (u *UserProfile) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Clone returns a deep copy so snapshots never share mutable state.
func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	if u.CreatedAt != nil {
		t := *u.CreatedAt
		c.CreatedAt = &t
	}
	if u.LastSignInAt != nil {
		t := *u.LastSignInAt
		c.LastSignInAt = &t
	}
	return &c
}

// NormalizePhone rewrites Phone in E.164 form when it parses as a valid
// number for region. Unparseable numbers are left untouched.
func (u *UserProfile) NormalizePhone(region string) {
	if u == nil || strings.TrimSpace(u.Phone) == "" {
		return
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(u.Phone, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return
	}
	u.Phone = phonenumbers.Format(num, phonenumbers.E164)
}

// Credentials are the password login payload
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the login payload shape
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required),
	)
}

// SignupRequest is the registration payload
type SignupRequest struct {
	Email     string         `json:"email"`
	Password  string         `json:"password"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the registration payload shape
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
	)
}

// ResetPasswordRequest finalizes a password reset
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Validate checks the reset payload shape
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

// ValidateOTPCode checks that code is a six digit numeric string
func ValidateOTPCode(code string) error {
	return validation.Validate(code,
		validation.Required,
		validation.Length(OTPCodeLength, OTPCodeLength),
		is.Digit,
	)
}

// ValidateEmail checks a single email address
func ValidateEmail(email string) error {
	return validation.Validate(email, validation.Required, is.Email)
}

// Result is the generic acknowledgement returned by stateless calls
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// LoginResult is returned by a password login. A token here only opens the
// second-factor step.
type LoginResult struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Message      string `json:"message,omitempty"`
}

// VerifyOTPResult is returned by a successful code verification
type VerifyOTPResult struct {
	AccessToken string       `json:"access_token,omitempty"`
	User        *UserProfile `json:"user,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// TwoFactorStatus reports whether the current token already passed the
// second factor. Success false means verification is still pending.
type TwoFactorStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
