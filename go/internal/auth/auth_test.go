package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store/memory"
)

func newTokens(t *testing.T, clock clockwork.Clock) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("test-secret", time.Hour, clock)
	require.NoError(t, err)
	return m
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTokens(t, clockwork.NewFakeClock())

	team := models.TeamIdentity(uuid.New(), "alpha", "alpha@example.com")
	token, _, err := m.Issue(team)
	require.NoError(t, err)

	got, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, team, got)

	admin := models.AdminIdentity("ops@example.com")
	token, _, err = m.Issue(admin)
	require.NoError(t, err)

	got, err = m.Verify(token)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())
	assert.Equal(t, "ops@example.com", got.Email)
}

func TestTokenExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTokens(t, clock)

	token, expires, err := m.Issue(models.AdminIdentity("ops@example.com"))
	require.NoError(t, err)
	assert.True(t, expires.Equal(clock.Now().Add(time.Hour)))

	clock.Advance(2 * time.Hour)
	_, err = m.Verify(token)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Contains(t, apperr.Message(err), "expired")
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	m := newTokens(t, clockwork.NewRealClock())

	_, err := m.Verify("")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = m.Verify("not-a-jwt")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	other, err := NewTokenManager("other-secret", time.Hour, clockwork.NewRealClock())
	require.NoError(t, err)
	token, _, err := other.Issue(models.AdminIdentity("ops@example.com"))
	require.NoError(t, err)
	_, err = m.Verify(token)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: models.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Verify(unsigned)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", time.Hour, clockwork.NewRealClock())
	assert.Error(t, err)
}

func newApp(t *testing.T) *App {
	t.Helper()
	hash, err := HashPassword("admin-pass")
	require.NoError(t, err)
	return NewApp(
		memory.New(clockwork.NewRealClock()),
		newTokens(t, clockwork.NewRealClock()),
		[]Admin{{Email: "Ops@Example.com", PasswordHash: hash}},
		models.StartingCoins,
	)
}

func TestSignupAndLogin(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	team, err := app.Signup(ctx, SignupRequest{
		TeamName: "alpha", RepName: "Ada", Email: " Alpha@Example.com ", Password: "hunter22",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StartingCoins, team.Coins)
	assert.Equal(t, "alpha@example.com", team.Email)
	assert.NotEqual(t, "hunter22", team.PasswordHash)

	session, err := app.Login(ctx, LoginRequest{Email: "alpha@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, models.RoleTeam, session.Identity.Role)
	assert.Equal(t, team.ID, session.Identity.TeamID)

	verified, err := app.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Identity, verified)

	me, err := app.Me(ctx, verified)
	require.NoError(t, err)
	require.NotNil(t, me.Team)
	assert.Equal(t, "alpha", me.Team.TeamName)

	_, err = app.Login(ctx, LoginRequest{Email: "alpha@example.com", Password: "wrong-pass"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = app.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestSignupValidation(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SignupRequest
		want apperr.Kind
	}{
		{"missing rep", SignupRequest{TeamName: "a", Email: "a@example.com", Password: "secret1"}, apperr.KindValidation},
		{"bad email", SignupRequest{TeamName: "a", RepName: "r", Email: "nope", Password: "secret1"}, apperr.KindValidation},
		{"short password", SignupRequest{TeamName: "a", RepName: "r", Email: "a@example.com", Password: "123"}, apperr.KindValidation},
		{"admin email", SignupRequest{TeamName: "a", RepName: "r", Email: "ops@example.com", Password: "secret1"}, apperr.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Signup(ctx, tt.req)
			assert.Equal(t, tt.want, apperr.KindOf(err), "got %v", err)
		})
	}

	_, err := app.Signup(ctx, SignupRequest{TeamName: "alpha", RepName: "r", Email: "alpha@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = app.Signup(ctx, SignupRequest{TeamName: "alpha", RepName: "r", Email: "other@example.com", Password: "secret1"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestAdminLogin(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	session, err := app.Login(ctx, LoginRequest{Email: "ops@example.com", Password: "admin-pass"})
	require.NoError(t, err)
	assert.True(t, session.Identity.IsAdmin())
	assert.Nil(t, session.Team)

	_, err = app.Login(ctx, LoginRequest{Email: "ops@example.com", Password: "nope"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	me, err := app.Me(ctx, session.Identity)
	require.NoError(t, err)
	assert.Nil(t, me.Team)
}
