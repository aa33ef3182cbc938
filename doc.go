// Package authsession manages a client-side authenticated session against a
// remote identity backend that requires a second factor after password login.
//
// Session lifecycle:
//   - Machine owns the session record (state, profile, identity session,
//     loading flag, last error) and moves it between StateUnauthenticated,
//     StateAwaitingTwoFactor and StateAuthorized. A password login only opens
//     the second-factor step; the profile is known once VerifyTwoFactorOTP
//     succeeds.
//   - Every change is committed atomically under one lock and published to
//     subscribers as an immutable Snapshot. Collaborator calls never run with
//     the lock held. A call that completes after the session was torn down is
//     discarded and reported as ErrSessionSuperseded.
//   - Authorization denials (401/403) observed by an authenticated call end
//     the session and clear the token. Logout always clears the local session,
//     even when the remote calls fail.
//
// Token storage:
//   - TokenStore never fails. NewTokenStore wraps a TokenMedium (a JSON file or
//     a bun-backed table) and degrades to an in-session copy when the medium is
//     unavailable.
//
// Errors:
//   - NormalizeError maps any failure into a NormalizedError with a message, an
//     optional backend status and a closed ErrorKind. The machine classifies
//     failures only through it.
//
// Inactivity and identity providers:
//   - An authorized session is signed out after DefaultInactivityTimeout
//     without ActivitySignal input. An optional IdentityProvider is reconciled
//     at startup and through its change notifications; sign-out always wins.
//
// Activity sinks:
//   - ActivitySink receives audit events for logins, verifications and
//     session ends. Sinks run best-effort (errors are logged). See the
//     activitymap package for a transport-agnostic shape.
package authsession
