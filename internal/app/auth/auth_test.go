package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func newTestResolver() *Resolver {
	return NewResolver(Config{
		SessionSecret:   []byte("session-secret"),
		ServiceSecret:   []byte("service-secret"),
		AllowedServices: []string{"scheduler"},
	})
}

func mustToken(t *testing.T, issue func() (string, error)) string {
	t.Helper()
	tok, err := issue()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func TestResolve(t *testing.T) {
	r := newTestResolver()
	userID := uuid.NewString()

	session := mustToken(t, func() (string, error) { return r.IssueSession(userID, "admin", time.Hour) })
	service := mustToken(t, func() (string, error) { return r.IssueService("scheduler", time.Hour) })
	stranger := mustToken(t, func() (string, error) { return r.IssueService("stranger", time.Hour) })
	expired := mustToken(t, func() (string, error) { return r.IssueSession(userID, "", -time.Minute) })

	forged := mustToken(t, func() (string, error) {
		other := NewResolver(Config{SessionSecret: []byte("not-the-secret")})
		return other.IssueSession(userID, "", time.Hour)
	})
	wrongAlg := mustToken(t, func() (string, error) {
		claims := &SessionClaims{UserID: userID}
		return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("session-secret"))
	})
	// A session token presented as a service token has no service_id.
	crossed := mustToken(t, func() (string, error) {
		claims := &SessionClaims{UserID: userID}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("service-secret"))
	})

	tests := []struct {
		name string
		ev   Evidence
		want Trust
	}{
		{"no evidence", Evidence{}, Anonymous},
		{"user id header alone", Evidence{UserID: userID}, Anonymous},
		{"valid session", Evidence{SessionToken: session}, Session},
		{"session with matching user header", Evidence{SessionToken: session, UserID: userID}, Session},
		{"session with other user header", Evidence{SessionToken: session, UserID: uuid.NewString()}, Anonymous},
		{"expired session", Evidence{SessionToken: expired}, Anonymous},
		{"forged session", Evidence{SessionToken: forged}, Anonymous},
		{"unexpected algorithm", Evidence{SessionToken: wrongAlg}, Anonymous},
		{"garbage session", Evidence{SessionToken: "not-a-jwt"}, Anonymous},
		{"allowed service", Evidence{ServiceToken: service}, System},
		{"allowed service for user", Evidence{ServiceToken: service, UserID: userID}, System},
		{"service with malformed user", Evidence{ServiceToken: service, UserID: "bob"}, Anonymous},
		{"service not allowed", Evidence{ServiceToken: stranger}, Anonymous},
		{"service token without service id", Evidence{ServiceToken: crossed}, Anonymous},
		{"both tokens", Evidence{SessionToken: session, ServiceToken: service}, Anonymous},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Resolve(context.Background(), tc.ev)
			if got.Trust != tc.want {
				t.Fatalf("trust = %s, want %s (reason %q)", got.Trust, tc.want, got.Reason)
			}
		})
	}
}

func TestResolvePrincipalFields(t *testing.T) {
	r := newTestResolver()
	userID := uuid.NewString()

	session := mustToken(t, func() (string, error) { return r.IssueSession(userID, "editor", time.Hour) })
	p := r.Resolve(context.Background(), Evidence{SessionToken: session})
	if p.UserID != userID || p.Role != "editor" || p.ServiceID != "" {
		t.Fatalf("unexpected session principal: %+v", p)
	}

	service := mustToken(t, func() (string, error) { return r.IssueService("scheduler", time.Hour) })
	for i := 0; i < 2; i++ {
		p = r.Resolve(context.Background(), Evidence{ServiceToken: service, UserID: userID})
		if p.ServiceID != "scheduler" || p.UserID != userID {
			t.Fatalf("unexpected service principal (attempt %d): %+v", i, p)
		}
	}
	if r.validated.Len() != 1 {
		t.Fatalf("expected validated service token to be cached")
	}
}

func TestUnconfiguredSecretsRejectEverything(t *testing.T) {
	issuer := newTestResolver()
	r := NewResolver(Config{AllowedServices: []string{"scheduler"}})

	service := mustToken(t, func() (string, error) { return issuer.IssueService("scheduler", time.Hour) })
	if got := r.Resolve(context.Background(), Evidence{ServiceToken: service}); got.Trust != Anonymous {
		t.Fatalf("trust = %s, want anonymous", got.Trust)
	}
}

func TestPrincipalContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Trust != Anonymous {
		t.Fatalf("empty context trust = %s", got.Trust)
	}
	ctx := WithPrincipal(context.Background(), Principal{Trust: System, ServiceID: "scheduler"})
	if got := FromContext(ctx); got.Trust != System || got.ServiceID != "scheduler" {
		t.Fatalf("unexpected principal: %+v", got)
	}
}
