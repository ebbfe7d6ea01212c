package jwt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// Issuer mints access and refresh tokens under a tenant's security
// policy. It lives next to the validating strategy so the claim layout
// stays in one package.
type Issuer struct {
	provider tenant.ConfigProvider
}

// NewIssuer creates an Issuer.
func NewIssuer(provider tenant.ConfigProvider) *Issuer {
	return &Issuer{provider: provider}
}

// TokenPair is the result of a successful credential exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Issue creates an access/refresh token pair for the identity. Each token
// carries a unique jti so it can be revoked individually.
func (i *Issuer) Issue(ctx context.Context, tenantID int64, identity auth.Identity) (TokenPair, error) {
	policy, err := i.provider.SecurityPolicy(ctx, tenantID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("loading security policy: %w", err)
	}
	if err := vetSecret(policy.JWTSecret); err != nil {
		return TokenPair{}, fmt.Errorf("tenant %d: %v: %w", tenantID, err, auth.ErrConfiguration)
	}

	method := signingMethod(policy.JWTAlgorithm)
	now := time.Now()

	accessTTL := policy.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	refreshTTL := policy.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}

	access, err := signToken(method, policy.JWTSecret, jwtlib.MapClaims{
		"sub":         strconv.FormatInt(identity.ID, 10),
		"email":       identity.Email,
		"roles":       identity.Roles,
		"permissions": identity.Permissions,
		"type":        "access",
		"jti":         uuid.NewString(),
		"iat":         now.Unix(),
		"exp":         now.Add(accessTTL).Unix(),
	})
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := signToken(method, policy.JWTSecret, jwtlib.MapClaims{
		"sub":  strconv.FormatInt(identity.ID, 10),
		"type": "refresh",
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(refreshTTL).Unix(),
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTTL / time.Second),
	}, nil
}

func signToken(method jwtlib.SigningMethod, secret string, claims jwtlib.MapClaims) (string, error) {
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func signingMethod(alg string) jwtlib.SigningMethod {
	switch alg {
	case "HS384":
		return jwtlib.SigningMethodHS384
	case "HS512":
		return jwtlib.SigningMethodHS512
	default:
		return jwtlib.SigningMethodHS256
	}
}
