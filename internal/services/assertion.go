package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// AssertionVerifier validates an identity provider token.
type AssertionVerifier interface {
	Verify(ctx context.Context, token string) (models.Assertion, error)
}

type assertionClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// HMACAssertionVerifier accepts HS256 assertions minted by a trusted
// authentication proxy that shares the secret.
type HMACAssertionVerifier struct {
	secret []byte
}

func NewHMACAssertionVerifier(secret string) *HMACAssertionVerifier {
	return &HMACAssertionVerifier{secret: []byte(secret)}
}

func (v *HMACAssertionVerifier) Verify(_ context.Context, raw string) (models.Assertion, error) {
	var c assertionClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Assertion{}, fmt.Errorf("%w: %v", models.ErrInvalidAssertion, err)
	}
	if c.Subject == "" || c.Email == "" {
		return models.Assertion{}, fmt.Errorf("%w: subject and email are required", models.ErrInvalidAssertion)
	}
	return models.Assertion{
		SubjectID:   c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		AvatarURL:   c.Picture,
	}, nil
}

// ChainVerifier tries each verifier in order and returns the first success.
type ChainVerifier []AssertionVerifier

func (c ChainVerifier) Verify(ctx context.Context, raw string) (models.Assertion, error) {
	err := fmt.Errorf("%w: no verifier configured", models.ErrInvalidAssertion)
	for _, v := range c {
		var a models.Assertion
		if a, err = v.Verify(ctx, raw); err == nil {
			return a, nil
		}
	}
	return models.Assertion{}, err
}
