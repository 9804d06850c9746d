// Package auth authenticates privileged callers such as the delinquency monitor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleMonitor may push delinquency reports
const RoleMonitor = "monitor"

// Caller identifies an authenticated principal
type Caller struct {
	Subject string
	Role    string
}

type ctxKey int

const callerKey ctxKey = 1

// WithCaller attaches an authenticated caller to ctx
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller attached by the middleware
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// IsMonitor reports whether ctx carries the monitor role
func IsMonitor(ctx context.Context) bool {
	c, ok := CallerFromContext(ctx)
	return ok && c.Role == RoleMonitor
}

// Claims are the JWT claims issued to callers
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens
type Issuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// NewIssuer creates a token issuer
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

// Sign issues a token for caller
func (i *Issuer) Sign(c Caller) (string, time.Time, error) {
	now := i.Now().UTC()
	expiresAt := now.Add(i.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    "note-lending",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	s, err := token.SignedString(i.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return s, expiresAt, nil
}

// Verify parses token and returns its caller
func (i *Issuer) Verify(token string) (Caller, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.Secret, nil
	}, jwt.WithTimeFunc(i.Now))
	if err != nil {
		return Caller{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Caller{}, errors.New("invalid token")
	}
	return Caller{Subject: c.Subject, Role: c.Role}, nil
}

// ErrInvalidCredentials is returned for a wrong monitor key
var ErrInvalidCredentials = errors.New("invalid credentials")

// MonitorLogin exchanges the monitor API key for a token
type MonitorLogin struct {
	keyHash []byte
	issuer  *Issuer
}

// NewMonitorLogin creates a login for the bcrypt hash of the monitor key
func NewMonitorLogin(keyHash string, issuer *Issuer) *MonitorLogin {
	return &MonitorLogin{keyHash: []byte(keyHash), issuer: issuer}
}

// Enabled reports whether a monitor key hash is configured
func (m *MonitorLogin) Enabled() bool {
	return len(m.keyHash) > 0
}

// Login verifies apiKey and returns a monitor token
func (m *MonitorLogin) Login(apiKey string) (string, time.Time, error) {
	if len(m.keyHash) == 0 || apiKey == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(m.keyHash, []byte(apiKey)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return m.issuer.Sign(Caller{Subject: "delinquency-monitor", Role: RoleMonitor})
}

// HashKey returns the bcrypt hash to configure as MONITOR_KEY_HASH
func HashKey(apiKey string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(h), nil
}
