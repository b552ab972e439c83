package gcp

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"google.golang.org/api/idtoken"
)

// GoogleVerifier turns a Google-issued ID token into an assertion.
type GoogleVerifier struct {
	validator *idtoken.Validator
	audience  string
}

func NewGoogleVerifier(ctx context.Context, audience string) (*GoogleVerifier, error) {
	if audience == "" {
		return nil, fmt.Errorf("audience must be provided to verify Google ID tokens")
	}
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create ID token validator: %w", err)
	}
	return &GoogleVerifier{validator: v, audience: audience}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, token string) (models.Assertion, error) {
	payload, err := g.validator.Validate(ctx, token, g.audience)
	if err != nil {
		return models.Assertion{}, fmt.Errorf("%w: %v", models.ErrInvalidAssertion, err)
	}
	return AssertionFromClaims(payload.Subject, payload.Claims)
}

// AssertionFromClaims maps OpenID Connect claims onto an assertion. Tokens whose
// email is explicitly unverified are rejected.
func AssertionFromClaims(subject string, claims map[string]interface{}) (models.Assertion, error) {
	if verified, ok := claims["email_verified"].(bool); ok && !verified {
		return models.Assertion{}, fmt.Errorf("%w: email not verified", models.ErrInvalidAssertion)
	}
	a := models.Assertion{
		SubjectID:   subject,
		Email:       stringClaim(claims, "email"),
		DisplayName: stringClaim(claims, "name"),
		AvatarURL:   stringClaim(claims, "picture"),
	}
	if a.SubjectID == "" || a.Email == "" {
		return models.Assertion{}, fmt.Errorf("%w: subject and email are required", models.ErrInvalidAssertion)
	}
	return a, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}
