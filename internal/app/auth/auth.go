// Package auth maps caller credential evidence to a trust level.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// Trust is the level of trust established for a caller.
type Trust int

const (
	// Anonymous is the trust of a caller with missing, invalid or ambiguous
	// evidence.
	Anonymous Trust = iota
	// Session is an authenticated end user.
	Session
	// System is an internal service principal.
	System
)

func (t Trust) String() string {
	switch t {
	case Session:
		return "session"
	case System:
		return "system"
	default:
		return "anonymous"
	}
}

// Evidence is the raw credential material presented by a caller.
type Evidence struct {
	SessionToken string
	ServiceToken string
	UserID       string
}

// Principal is the resolved caller.
type Principal struct {
	Trust     Trust
	UserID    string
	ServiceID string
	Role      string
	// Reason explains why the caller ended up anonymous, for logging only.
	Reason string
}

// SessionClaims are carried by end-user session tokens.
type SessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ServiceClaims are carried by service-to-service tokens.
type ServiceClaims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// Config configures a Resolver.
type Config struct {
	SessionSecret   []byte
	ServiceSecret   []byte
	AllowedServices []string
	Logger          *logging.Logger
}

// Resolver validates evidence. It is safe for concurrent use.
type Resolver struct {
	sessionSecret   []byte
	serviceSecret   []byte
	allowedServices map[string]bool
	logger          *logging.Logger
	validated       *expirable.LRU[string, cachedToken]
}

type cachedToken struct {
	claims    *ServiceClaims
	expiresAt time.Time
}

const (
	tokenCacheSize = 1000
	tokenCacheTTL  = 5 * time.Minute
	issuer         = "cloudless"
)

// NewResolver creates a resolver. A nil logger disables logging.
func NewResolver(cfg Config) *Resolver {
	allowed := make(map[string]bool, len(cfg.AllowedServices))
	for _, svc := range cfg.AllowedServices {
		allowed[svc] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		sessionSecret:   cfg.SessionSecret,
		serviceSecret:   cfg.ServiceSecret,
		allowedServices: allowed,
		logger:          logger,
		validated:       expirable.NewLRU[string, cachedToken](tokenCacheSize, nil, tokenCacheTTL),
	}
}

// Resolve maps evidence to exactly one principal. It never fails: anything
// it cannot verify resolves to Anonymous.
func (r *Resolver) Resolve(ctx context.Context, ev Evidence) Principal {
	switch {
	case ev.SessionToken != "" && ev.ServiceToken != "":
		return r.anonymous(ctx, "both session and service tokens presented")
	case ev.ServiceToken != "":
		return r.resolveService(ctx, ev)
	case ev.SessionToken != "":
		return r.resolveSession(ctx, ev)
	default:
		return Principal{Trust: Anonymous}
	}
}

func (r *Resolver) resolveSession(ctx context.Context, ev Evidence) Principal {
	claims, err := r.validateSession(ev.SessionToken)
	if err != nil {
		return r.anonymous(ctx, err.Error())
	}
	if ev.UserID != "" && ev.UserID != claims.UserID {
		return r.anonymous(ctx, "user id header does not match session")
	}
	return Principal{Trust: Session, UserID: claims.UserID, Role: claims.Role}
}

func (r *Resolver) resolveService(ctx context.Context, ev Evidence) Principal {
	claims, err := r.validateService(ev.ServiceToken)
	if err != nil {
		return r.anonymous(ctx, err.Error())
	}
	if !r.isServiceAllowed(claims.ServiceID) {
		return r.anonymous(ctx, fmt.Sprintf("service %s not in allowed list", claims.ServiceID))
	}
	if ev.UserID != "" && !isValidUserID(ev.UserID) {
		return r.anonymous(ctx, "malformed user id header")
	}
	return Principal{Trust: System, ServiceID: claims.ServiceID, UserID: ev.UserID}
}

func (r *Resolver) anonymous(ctx context.Context, reason string) Principal {
	r.logger.LogSecurityEvent(ctx, "evidence_rejected", map[string]interface{}{
		"reason": reason,
	})
	return Principal{Trust: Anonymous, Reason: reason}
}

func (r *Resolver) validateSession(tokenString string) (*SessionClaims, error) {
	if len(r.sessionSecret) == 0 {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "session tokens not configured")
	}
	claims := &SessionClaims{}
	if err := r.parse(tokenString, claims, r.sessionSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing user_id claim")
	}
	return claims, nil
}

func (r *Resolver) validateService(tokenString string) (*ServiceClaims, error) {
	if cached, ok := r.validated.Get(tokenString); ok && time.Now().Before(cached.expiresAt) {
		return cached.claims, nil
	}
	if len(r.serviceSecret) == 0 {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "service tokens not configured")
	}

	claims := &ServiceClaims{}
	if err := r.parse(tokenString, claims, r.serviceSecret); err != nil {
		return nil, err
	}
	if claims.ServiceID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing service_id claim")
	}

	expiry := time.Now().Add(tokenCacheTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiry) {
		expiry = claims.ExpiresAt.Time
	}
	r.validated.Add(tokenString, cachedToken{claims: claims, expiresAt: expiry})
	return claims, nil
}

func (r *Resolver) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return errors.InvalidToken(err)
	}
	if !token.Valid {
		return errors.InvalidToken(nil)
	}
	return nil
}

func (r *Resolver) isServiceAllowed(serviceID string) bool {
	return r.allowedServices[serviceID]
}

// IssueSession signs a session token for userID.
func (r *Resolver) IssueSession(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.sessionSecret)
}

// IssueService signs a service token for serviceID.
func (r *Resolver) IssueService(serviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &ServiceClaims{
		ServiceID: serviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
			Subject:   serviceID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.serviceSecret)
}

func isValidUserID(userID string) bool {
	_, err := uuid.Parse(userID)
	return err == nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or an anonymous one.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Principal{Trust: Anonymous}
}
