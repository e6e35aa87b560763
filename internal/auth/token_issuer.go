// Package auth issues and validates the API's bearer tokens.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 60 * time.Minute
	defaultIssuer   = "career-copilot-auth"
	defaultAudience = "career-copilot-api"
	tokenUseAccess  = "access"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errUnexpectedTokenUse   = errors.New("token is not an access token")
)

// accessClaims marks tokens minted for API access so other HS256 tokens signed with the same
// secret are not accepted as bearer credentials.
type accessClaims struct {
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and verifies access tokens for authenticated accounts.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
	parser   *jwt.Parser
}

// NewTokenIssuer constructs a TokenIssuer, filling issuer, audience and TTL defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := &TokenIssuer{
		secret:   cfg.SigningSecret,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		ttl:      cfg.TokenTTL,
		clock:    cfg.Clock,
	}
	if issuer.issuer == "" {
		issuer.issuer = defaultIssuer
	}
	if issuer.audience == "" {
		issuer.audience = defaultAudience
	}
	if issuer.ttl <= 0 {
		issuer.ttl = defaultTokenTTL
	}
	if issuer.clock == nil {
		issuer.clock = time.Now
	}
	issuer.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(issuer.audience),
		jwt.WithIssuer(issuer.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(issuer.clock),
	)
	return issuer, nil
}

// IssueToken signs an access token for the account id and returns it with its lifetime in seconds.
func (i *TokenIssuer) IssueToken(_ context.Context, subject string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}
	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", 0, err
	}

	issuedAt := i.clock().UTC()
	expiresAt := issuedAt.Add(i.ttl)
	claims := accessClaims{
		TokenUse: tokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.ttl / time.Second), nil
}

// ValidateToken verifies signature, issuer, audience, expiry and token use, returning the account id.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &accessClaims{}
	if _, err := i.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}); err != nil {
		return "", err
	}
	if claims.TokenUse != tokenUseAccess {
		return "", errUnexpectedTokenUse
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
