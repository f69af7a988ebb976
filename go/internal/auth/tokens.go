package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/models"
)

// DefaultTokenTTL matches the length of an event day.
const DefaultTokenTTL = 12 * time.Hour

const issuer = "codebid"

// Claims is the JWT body. Subject holds the team ID for team tokens.
type Claims struct {
	Role     models.Role `json:"role"`
	Email    string      `json:"email"`
	TeamName string      `json:"team_name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer token into an identity
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// TokenManager issues and verifies HMAC-signed tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewTokenManager(secret string, ttl time.Duration, clock clockwork.Clock) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

// Issue signs a token for identity and returns it with its expiry.
func (m *TokenManager) Issue(identity models.Identity) (string, time.Time, error) {
	now := m.clock.Now()
	expires := now.Add(m.ttl)

	claims := Claims{
		Role:     identity.Role,
		Email:    identity.Email,
		TeamName: identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if identity.IsTeam() {
		claims.Subject = identity.TeamID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature and expiry and rebuilds the identity.
func (m *TokenManager) Verify(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, apperr.Auth("no token provided")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.clock.Now), jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return models.Identity{}, apperr.Auth("token has expired")
	}
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.KindAuth, err, "invalid token")
	}

	switch claims.Role {
	case models.RoleAdmin:
		return models.AdminIdentity(claims.Email), nil
	case models.RoleTeam:
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return models.Identity{}, apperr.Wrap(apperr.KindAuth, err, "invalid token subject")
		}
		return models.TeamIdentity(id, claims.TeamName, claims.Email), nil
	default:
		return models.Identity{}, apperr.Auth("invalid token role")
	}
}
