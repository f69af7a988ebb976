// Package memory is a process-local store. Every operation runs under one
// mutex, so conditional updates are trivially atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

type Store struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	teams  map[uuid.UUID]*models.Team
	rounds map[uuid.UUID]*models.Round
	order  []uuid.UUID // rounds by creation
}

// New creates an empty store stamping rows with clock.
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:  clock,
		teams:  make(map[uuid.UUID]*models.Team),
		rounds: make(map[uuid.UUID]*models.Round),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// ---- teams ----

func (s *Store) CreateTeam(ctx context.Context, p store.CreateTeamParams) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.teams {
		if strings.EqualFold(t.Email, p.Email) || t.TeamName == p.TeamName {
			return nil, store.ErrDuplicate
		}
	}

	now := s.clock.Now()
	t := &models.Team{
		ID:           uuid.New(),
		TeamName:     p.TeamName,
		RepName:      p.RepName,
		Email:        strings.ToLower(p.Email),
		PasswordHash: p.PasswordHash,
		Coins:        p.Coins,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.teams[t.ID] = t
	return copyTeam(t), nil
}

func (s *Store) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTeam(t), nil
}

func (s *Store) GetTeamByEmail(ctx context.Context, email string) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.teams {
		if strings.EqualFold(t.Email, email) {
			return copyTeam(t), nil
		}
	}
	return nil, store.ErrNotFound
}

// ListTeams returns teams ordered by coins descending, then name.
func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	teams := make([]models.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, *copyTeam(t))
	}
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].Coins != teams[j].Coins {
			return teams[i].Coins > teams[j].Coins
		}
		return teams[i].TeamName < teams[j].TeamName
	})
	return teams, nil
}

func (s *Store) ClaimBidAttempt(ctx context.Context, teamID uuid.UUID, at time.Time, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return store.ErrNotFound
	}
	if t.LastBidAt != nil && at.Sub(*t.LastBidAt) < cooldown {
		return store.ErrConditionFailed
	}
	t.LastBidAt = &at
	t.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) SwapActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, store.ErrNotFound
	}
	prev := t.ActiveConnectionID
	t.ActiveConnectionID = &connID
	return prev, nil
}

func (s *Store) ClearActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !t.HoldsConnection(connID) {
		return false, nil
	}
	t.ActiveConnectionID = nil
	return true, nil
}

func (s *Store) SetTeamActive(ctx context.Context, id uuid.UUID, active bool) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.IsActive = active
	if !active {
		t.ActiveConnectionID = nil
	}
	t.UpdatedAt = s.clock.Now()
	return copyTeam(t), nil
}

func (s *Store) SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.Coins = coins
	t.UpdatedAt = s.clock.Now()
	return copyTeam(t), nil
}

func (s *Store) ResetAllTeams(ctx context.Context, coins int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, t := range s.teams {
		t.Coins = coins
		t.CorrectAnswers = 0
		t.WrongAnswers = 0
		t.TotalBids = 0
		t.LastBidAt = nil
		t.IsActive = true
		t.UpdatedAt = now
	}
	return len(s.teams), nil
}

func (s *Store) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.teams, id)
	return nil
}

// ---- rounds ----

func (s *Store) CreateRound(ctx context.Context, r models.Round) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveRound() != nil {
		return nil, store.ErrLiveRoundExists
	}
	for _, existing := range s.rounds {
		if existing.RoundNumber == r.RoundNumber {
			return nil, store.ErrDuplicate
		}
	}

	now := s.clock.Now()
	created := copyRound(&r)
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	if created.Bids == nil {
		created.Bids = []models.Bid{}
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	s.rounds[created.ID] = created
	s.order = append(s.order, created.ID)
	return copyRound(created), nil
}

func (s *Store) GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRound(r), nil
}

func (s *Store) GetLiveRound(ctx context.Context) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.liveRound()
	if r == nil {
		return nil, store.ErrNotFound
	}
	return copyRound(r), nil
}

func (s *Store) LastRoundNumber(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := 0
	for _, r := range s.rounds {
		if r.RoundNumber > last {
			last = r.RoundNumber
		}
	}
	return last, nil
}

// ListRounds returns up to limit rounds, newest first.
func (s *Store) ListRounds(ctx context.Context, limit int) ([]models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds := make([]models.Round, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(rounds) < limit; i-- {
		rounds = append(rounds, *copyRound(s.rounds[s.order[i]]))
	}
	return rounds, nil
}

func (s *Store) AppendBid(ctx context.Context, roundID uuid.UUID, bid models.Bid) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RoundStatusBidding {
		return nil, store.ErrConditionFailed
	}
	if r.HasBidFrom(bid.TeamID) {
		return nil, store.ErrDuplicate
	}
	r.Bids = append(r.Bids, bid)
	r.UpdatedAt = s.clock.Now()
	return copyRound(r), nil
}

func (s *Store) CloseBidding(ctx context.Context, roundID uuid.UUID, endedAt time.Time, decide store.CloseFunc) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RoundStatusBidding {
		return nil, store.ErrConditionFailed
	}

	outcome := decide(copyRound(r).Bids)
	r.Status = outcome.Status()
	r.BiddingEndedAt = &endedAt
	r.WinnerID = outcome.WinnerID
	r.WinnerName = outcome.WinnerName
	r.WinningBid = outcome.WinningBid
	if r.Status == models.RoundStatusCompleted {
		r.CompletedAt = &endedAt
	}
	r.UpdatedAt = s.clock.Now()
	return copyRound(r), nil
}

func (s *Store) SubmitAnswer(ctx context.Context, roundID, teamID uuid.UUID, answer string) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RoundStatusReviewing || !r.IsWinner(teamID) || r.SubmittedAnswer != nil {
		return nil, store.ErrConditionFailed
	}
	r.SubmittedAnswer = &answer
	r.UpdatedAt = s.clock.Now()
	return copyRound(r), nil
}

func (s *Store) SettleRound(ctx context.Context, st store.Settlement) (*models.Round, *models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[st.RoundID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if r.Status != models.RoundStatusReviewing || r.WinnerID == nil {
		return nil, nil, store.ErrConditionFailed
	}
	t, ok := s.teams[*r.WinnerID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	adjusted, delta := st.Adjust(*copyRound(r), *copyTeam(t))
	now := s.clock.Now()
	t.Coins = adjusted.Coins
	t.IsActive = adjusted.IsActive
	t.CorrectAnswers = adjusted.CorrectAnswers
	t.WrongAnswers = adjusted.WrongAnswers
	t.TotalBids = adjusted.TotalBids
	t.UpdatedAt = now

	result := st.Result
	completedAt := st.CompletedAt
	r.Status = models.RoundStatusCompleted
	r.Result = &result
	r.CoinsAwarded = delta
	r.CompletedAt = &completedAt
	r.UpdatedAt = now
	return copyRound(r), copyTeam(t), nil
}

func (s *Store) ForceComplete(ctx context.Context, roundID uuid.UUID, completedAt time.Time) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !r.Status.IsLive() {
		return nil, store.ErrConditionFailed
	}
	r.Status = models.RoundStatusCompleted
	r.CompletedAt = &completedAt
	r.UpdatedAt = s.clock.Now()
	return copyRound(r), nil
}

func (s *Store) liveRound() *models.Round {
	for _, r := range s.rounds {
		if r.Status.IsLive() {
			return r
		}
	}
	return nil
}
