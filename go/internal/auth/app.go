package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

const minPasswordLen = 6

// TeamsRepository defines what the app layer needs from the repository
type TeamsRepository interface {
	CreateTeam(ctx context.Context, p store.CreateTeamParams) (*models.Team, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetTeamByEmail(ctx context.Context, email string) (*models.Team, error)
}

// Admin is an operator account configured outside the team store
type Admin struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

// SignupRequest registers a team
type SignupRequest struct {
	TeamName string `json:"team_name"`
	RepName  string `json:"rep_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest authenticates a team or an admin
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is a successful login
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  models.Identity `json:"identity"`
	Team      *models.Team    `json:"team,omitempty"`
}

// App handles signup and login
type App struct {
	repo          TeamsRepository
	tokens        *TokenManager
	admins        map[string]Admin
	startingCoins int
}

// NewApp creates a new auth App
func NewApp(repo TeamsRepository, tokens *TokenManager, admins []Admin, startingCoins int) *App {
	byEmail := make(map[string]Admin, len(admins))
	for _, a := range admins {
		byEmail[normalizeEmail(a.Email)] = a
	}
	if startingCoins <= 0 {
		startingCoins = models.StartingCoins
	}
	return &App{
		repo:          repo,
		tokens:        tokens,
		admins:        byEmail,
		startingCoins: startingCoins,
	}
}

// Signup creates a team with the starting stake
func (a *App) Signup(ctx context.Context, req SignupRequest) (*models.Team, error) {
	req.TeamName = strings.TrimSpace(req.TeamName)
	req.RepName = strings.TrimSpace(req.RepName)
	req.Email = normalizeEmail(req.Email)

	if req.TeamName == "" || req.RepName == "" || req.Email == "" || req.Password == "" {
		return nil, apperr.Validation("team name, rep name, email and password are required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, apperr.Validation("email address is invalid")
	}
	if len(req.Password) < minPasswordLen {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLen)
	}
	if _, ok := a.admins[req.Email]; ok {
		return nil, apperr.Conflict("email is reserved")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	team, err := a.repo.CreateTeam(ctx, store.CreateTeamParams{
		TeamName:     req.TeamName,
		RepName:      req.RepName,
		Email:        req.Email,
		PasswordHash: hash,
		Coins:        a.startingCoins,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.Conflict("team name or email is already registered")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	log.Info().Str("team_id", team.ID.String()).Str("team_name", team.TeamName).Msg("team signed up")
	return team, nil
}

// Login checks credentials and issues a token. Admin accounts take
// precedence over teams with the same email.
func (a *App) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	if admin, ok := a.admins[email]; ok {
		if !checkPassword(admin.PasswordHash, req.Password) {
			return nil, apperr.Auth("invalid email or password")
		}
		return a.issue(models.AdminIdentity(email), nil)
	}

	team, err := a.repo.GetTeamByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Auth("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team by email: %w", err)
	}
	if !checkPassword(team.PasswordHash, req.Password) {
		return nil, apperr.Auth("invalid email or password")
	}

	return a.issue(models.TeamIdentity(team.ID, team.TeamName, team.Email), team)
}

// Me returns the caller's identity and, for teams, the fresh ledger entry.
func (a *App) Me(ctx context.Context, identity models.Identity) (*Session, error) {
	s := &Session{Identity: identity}
	if !identity.IsTeam() {
		return s, nil
	}
	team, err := a.repo.GetTeam(ctx, identity.TeamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("team not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	s.Team = team
	return s, nil
}

func (a *App) issue(identity models.Identity, team *models.Team) (*Session, error) {
	token, expires, err := a.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}
	log.Info().Str("email", identity.Email).Str("role", string(identity.Role)).Msg("login")
	return &Session{Token: token, ExpiresAt: expires, Identity: identity, Team: team}, nil
}

// HashPassword bcrypts a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
