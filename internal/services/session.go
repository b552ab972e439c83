package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "docreconstruct"

// ErrInvalidSession is returned for a missing, expired or tampered session token.
var ErrInvalidSession = errors.New("invalid session")

type sessionClaims struct {
	Email          string      `json:"email"`
	Role           models.Role `json:"role"`
	QuotaLimit     int         `json:"quota_limit"`
	QuotaUnlimited bool        `json:"quota_unlimited"`
	jwt.RegisteredClaims
}

// SessionIssuer signs claims into HS256 session tokens and parses them back.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *SessionIssuer) Issue(c models.Claims) (string, time.Time, error) {
	issuedAt := c.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.now()
	}
	expiresAt := issuedAt.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email:          c.Email,
		Role:           c.Role,
		QuotaLimit:     c.Quota.Limit,
		QuotaUnlimited: c.Quota.Unlimited,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   c.IdentityID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *SessionIssuer) Parse(raw string) (models.Claims, error) {
	var sc sessionClaims
	_, err := jwt.ParseWithClaims(raw, &sc, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if sc.Subject == "" || !sc.Role.Valid() || sc.QuotaLimit < 0 {
		return models.Claims{}, fmt.Errorf("%w: malformed claims", ErrInvalidSession)
	}
	// Unlimited quota belongs to privileged identities and to no one else.
	if (sc.Role == models.RolePrivileged) != sc.QuotaUnlimited {
		return models.Claims{}, fmt.Errorf("%w: role %s does not match quota", ErrInvalidSession, sc.Role)
	}

	c := models.Claims{
		IdentityID: sc.Subject,
		Email:      sc.Email,
		Role:       sc.Role,
		Quota:      models.Quota{Limit: sc.QuotaLimit, Unlimited: sc.QuotaUnlimited},
		ExpiresAt:  sc.ExpiresAt.Time,
	}
	if sc.IssuedAt != nil {
		c.IssuedAt = sc.IssuedAt.Time
	}
	return c, nil
}
