package authsession_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	authsession "github.com/goliatone/go-authsession"
)

func TestSnapshotAccess(t *testing.T) {
	verified := &authsession.UserProfile{ID: "1", EmailVerified: true}
	unverified := &authsession.UserProfile{ID: "1"}

	cases := []struct {
		name string
		snap authsession.Snapshot
		want authsession.Access
	}{
		{
			name: "loading wins over everything",
			snap: authsession.Snapshot{Loading: true, State: authsession.StateAuthorized, User: verified},
			want: authsession.AccessPending,
		},
		{
			name: "second factor pending",
			snap: authsession.Snapshot{State: authsession.StateAwaitingTwoFactor, TwoFactorRequired: true},
			want: authsession.AccessTwoFactorRequired,
		},
		{
			name: "signed out",
			snap: authsession.Snapshot{State: authsession.StateUnauthenticated},
			want: authsession.AccessLoginRequired,
		},
		{
			name: "unverified email",
			snap: authsession.Snapshot{State: authsession.StateAuthorized, User: unverified},
			want: authsession.AccessEmailVerificationRequired,
		},
		{
			name: "authorized without profile",
			snap: authsession.Snapshot{State: authsession.StateAuthorized},
			want: authsession.AccessProfileRequired,
		},
		{
			name: "granted",
			snap: authsession.Snapshot{State: authsession.StateAuthorized, User: verified},
			want: authsession.AccessGranted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.snap.Access())
		})
	}
}

func TestSnapshotHelpers(t *testing.T) {
	snap := authsession.Snapshot{State: authsession.StateAuthorized, Error: "Failed to fetch user profile"}
	assert.True(t, snap.IsAuthorized())
	assert.True(t, snap.HasError())
	assert.Equal(t, "authorized", snap.State.String())

	assert.False(t, authsession.Snapshot{}.IsAuthorized())
	assert.False(t, authsession.Snapshot{}.HasError())
}

func TestActivitySignalsResetInactivity(t *testing.T) {
	for _, signal := range []authsession.ActivitySignal{
		authsession.SignalPointerDown,
		authsession.SignalPointerMove,
		authsession.SignalKeyPress,
		authsession.SignalScroll,
		authsession.SignalTouchStart,
	} {
		assert.True(t, signal.ResetsInactivity(), signal)
	}
	assert.False(t, authsession.ActivitySignal("resize").ResetsInactivity())
}
