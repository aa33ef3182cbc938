package activitymap_test

import (
	"context"
	"testing"
	"time"

	authsession "github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := authsession.ActivityEvent{
		EventType: authsession.ActivityEventExpired,
		UserID:    "user-100",
		Email:     "a@b.com",
		FromState: authsession.StateAuthorized,
		ToState:   authsession.StateUnauthenticated,
		Reason:    authsession.ReasonInactivityTimeout,
		Metadata: map[string]any{
			"ticket": "SEC-204",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(authsession.ActivityEventExpired) {
		t.Fatalf("expected verb %q, got %q", authsession.ActivityEventExpired, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "user-100" {
		t.Fatalf("expected object_id user-100, got %q", out.ObjectID)
	}
	if out.Channel != "auth_session" {
		t.Fatalf("expected channel auth_session, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["ticket"] != "SEC-204" {
		t.Fatalf("expected metadata ticket SEC-204, got %#v", out.Metadata["ticket"])
	}
	if out.Metadata[activitymap.MetadataKeyEmail] != "a@b.com" {
		t.Fatalf("expected metadata email a@b.com, got %#v", out.Metadata[activitymap.MetadataKeyEmail])
	}
	if out.Metadata[activitymap.MetadataKeyFromState] != string(authsession.StateAuthorized) {
		t.Fatalf("expected metadata from_state authorized, got %#v", out.Metadata[activitymap.MetadataKeyFromState])
	}
	if out.Metadata[activitymap.MetadataKeyToState] != string(authsession.StateUnauthenticated) {
		t.Fatalf("expected metadata to_state unauthenticated, got %#v", out.Metadata[activitymap.MetadataKeyToState])
	}
	if out.Metadata[activitymap.MetadataKeyReason] != authsession.ReasonInactivityTimeout {
		t.Fatalf("expected metadata reason, got %#v", out.Metadata[activitymap.MetadataKeyReason])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeActorFallsBackToEmail(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(authsession.ActivityEvent{
		EventType: authsession.ActivityEventLoginSuccess,
		Email:     " A@B.com ",
	})

	if out.ActorID != "a@b.com" {
		t.Fatalf("expected email actor, got %q", out.ActorID)
	}
	if out.ObjectID != "" {
		t.Fatalf("expected empty object id, got %q", out.ObjectID)
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyEmail]; ok {
		t.Fatalf("email already used as actor should not be repeated in metadata")
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	event := authsession.ActivityEvent{
		EventType: authsession.ActivityEventPasswordResetRequested,
		Metadata: map[string]any{
			"request_id": "reset-1",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel(" audit "),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithActorFallback("system"),
		activitymap.WithObjectIDResolver(func(e authsession.ActivityEvent) string {
			return e.Metadata["request_id"].(string)
		}),
		activitymap.WithNow(func() time.Time { return fixed }),
	)

	if out.ActorID != "system" {
		t.Fatalf("expected fallback actor, got %q", out.ActorID)
	}
	if out.Channel != "audit" {
		t.Fatalf("expected trimmed channel, got %q", out.Channel)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object type override, got %q", out.ObjectType)
	}
	if out.ObjectID != "reset-1" {
		t.Fatalf("expected resolved object id, got %q", out.ObjectID)
	}
	if !out.OccurredAt.Equal(fixed) {
		t.Fatalf("expected injected timestamp, got %v", out.OccurredAt)
	}
}

func TestSinkForwardsNormalizedEvents(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(_ context.Context, n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("web"))

	err := sink.Record(context.Background(), authsession.ActivityEvent{
		EventType: authsession.ActivityEventTwoFactorVerified,
		UserID:    "7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one forwarded event, got %d", len(got))
	}
	if got[0].Channel != "web" || got[0].Verb != string(authsession.ActivityEventTwoFactorVerified) {
		t.Fatalf("unexpected normalized event %+v", got[0])
	}
}
