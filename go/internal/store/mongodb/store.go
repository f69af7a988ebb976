// Package mongodb persists teams and rounds in MongoDB. Bids live inside the
// round document so bid placement and bidding close are single-document
// conditional updates. Settlement touches two documents and runs in a
// transaction, which needs a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

const (
	teamsCollection  = "teams"
	roundsCollection = "rounds"
	liveIndexName    = "rounds_single_live"

	// closeAttempts bounds the optimistic retry when bids land while
	// bidding is being closed.
	closeAttempts = 10
)

var liveStatuses = bson.A{string(models.RoundStatusBidding), string(models.RoundStatusReviewing)}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	teams  *mongo.Collection
	rounds *mongo.Collection
	clock  clockwork.Clock
}

// Open connects to uri, verifies the connection and selects database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return NewStore(client, database, clockwork.NewRealClock()), nil
}

func NewStore(client *mongo.Client, database string, clock clockwork.Clock) *Store {
	db := client.Database(database)
	return &Store{
		client: client,
		db:     db,
		teams:  db.Collection(teamsCollection),
		rounds: db.Collection(roundsCollection),
		clock:  clock,
	}
}

// EnsureIndexes creates the unique indexes the conditional updates rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.teams.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("teams_email")},
		{Keys: bson.D{{Key: "team_name", Value: 1}}, Options: options.Index().SetUnique(true).SetName("teams_name")},
	})
	if err != nil {
		return fmt.Errorf("failed to create team indexes: %w", err)
	}

	_, err = s.rounds.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "round_number", Value: 1}}, Options: options.Index().SetUnique(true).SetName("rounds_number")},
		{
			Keys: bson.D{{Key: "live", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(liveIndexName).
				SetPartialFilterExpression(bson.M{"live": true}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create round indexes: %w", err)
	}

	log.Info().Str("database", s.db.Name()).Msg("mongo indexes ensured")
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("failed to disconnect from mongo")
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), liveIndexName) {
			return store.ErrLiveRoundExists
		}
		return store.ErrDuplicate
	}
	return err
}

func after() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// ---- teams ----

func (s *Store) CreateTeam(ctx context.Context, p store.CreateTeamParams) (*models.Team, error) {
	now := s.now()
	doc := teamDoc{
		ID:           uuid.New().String(),
		TeamName:     p.TeamName,
		RepName:      p.RepName,
		Email:        strings.ToLower(p.Email),
		PasswordHash: p.PasswordHash,
		Coins:        p.Coins,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.teams.InsertOne(ctx, doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.toModel(), nil
}

func (s *Store) findTeam(ctx context.Context, filter bson.M) (*models.Team, error) {
	var doc teamDoc
	if err := s.teams.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.toModel(), nil
}

func (s *Store) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	return s.findTeam(ctx, bson.M{"_id": id.String()})
}

func (s *Store) GetTeamByEmail(ctx context.Context, email string) (*models.Team, error) {
	return s.findTeam(ctx, bson.M{"email": strings.ToLower(email)})
}

func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	opts := options.Find().SetSort(bson.D{{Key: "coins", Value: -1}, {Key: "team_name", Value: 1}})
	cursor, err := s.teams.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	var docs []teamDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode teams: %w", err)
	}
	teams := make([]models.Team, len(docs))
	for i := range docs {
		teams[i] = *docs[i].toModel()
	}
	return teams, nil
}

func (s *Store) ClaimBidAttempt(ctx context.Context, teamID uuid.UUID, at time.Time, cooldown time.Duration) error {
	filter := bson.M{
		"_id": teamID.String(),
		"$or": bson.A{
			bson.M{"last_bid_at": nil},
			bson.M{"last_bid_at": bson.M{"$lte": at.Add(-cooldown)}},
		},
	}
	res, err := s.teams.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"last_bid_at": at, "updated_at": s.now()}})
	if err != nil {
		return fmt.Errorf("failed to claim bid attempt: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetTeam(ctx, teamID); err != nil {
		return err
	}
	return store.ErrConditionFailed
}

func (s *Store) SwapActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (*string, error) {
	var before teamDoc
	err := s.teams.FindOneAndUpdate(ctx,
		bson.M{"_id": teamID.String()},
		bson.M{"$set": bson.M{"active_connection_id": connID}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		return nil, mapErr(err)
	}
	return before.ActiveConnectionID, nil
}

func (s *Store) ClearActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (bool, error) {
	res, err := s.teams.UpdateOne(ctx,
		bson.M{"_id": teamID.String(), "active_connection_id": connID},
		bson.M{"$set": bson.M{"active_connection_id": nil}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear active connection: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetTeam(ctx, teamID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) updateTeam(ctx context.Context, id uuid.UUID, set bson.M) (*models.Team, error) {
	set["updated_at"] = s.now()
	var doc teamDoc
	err := s.teams.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, bson.M{"$set": set}, after()).Decode(&doc)
	if err != nil {
		return nil, mapErr(err)
	}
	return doc.toModel(), nil
}

func (s *Store) SetTeamActive(ctx context.Context, id uuid.UUID, active bool) (*models.Team, error) {
	set := bson.M{"is_active": active}
	if !active {
		set["active_connection_id"] = nil
	}
	return s.updateTeam(ctx, id, set)
}

func (s *Store) SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error) {
	return s.updateTeam(ctx, id, bson.M{"coins": coins})
}

func (s *Store) ResetAllTeams(ctx context.Context, coins int) (int, error) {
	res, err := s.teams.UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{
		"coins":           coins,
		"correct_answers": 0,
		"wrong_answers":   0,
		"total_bids":      0,
		"last_bid_at":     nil,
		"is_active":       true,
		"updated_at":      s.now(),
	}})
	if err != nil {
		return 0, fmt.Errorf("failed to reset teams: %w", err)
	}
	return int(res.MatchedCount), nil
}

func (s *Store) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	res, err := s.teams.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- rounds ----

func (s *Store) CreateRound(ctx context.Context, r models.Round) (*models.Round, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := s.now()
	doc := roundDoc{
		ID:               r.ID.String(),
		RoundNumber:      r.RoundNumber,
		Title:            r.Title,
		Category:         string(r.Category),
		Status:           string(r.Status),
		Live:             r.Status.IsLive(),
		Bids:             []bidDoc{},
		BidDuration:      r.BidDuration,
		AnswerDuration:   r.AnswerDuration,
		BiddingStartedAt: r.BiddingStartedAt.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.rounds.InsertOne(ctx, doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.toModel(), nil
}

func (s *Store) findRound(ctx context.Context, filter bson.M) (*models.Round, error) {
	var doc roundDoc
	if err := s.rounds.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.toModel(), nil
}

func (s *Store) GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error) {
	return s.findRound(ctx, bson.M{"_id": id.String()})
}

func (s *Store) GetLiveRound(ctx context.Context) (*models.Round, error) {
	return s.findRound(ctx, bson.M{"status": bson.M{"$in": liveStatuses}})
}

func (s *Store) LastRoundNumber(ctx context.Context) (int, error) {
	var doc roundDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "round_number", Value: -1}})
	err := s.rounds.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last round number: %w", err)
	}
	return doc.RoundNumber, nil
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]models.Round, error) {
	opts := options.Find().SetSort(bson.D{{Key: "round_number", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.rounds.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	var docs []roundDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode rounds: %w", err)
	}
	rounds := make([]models.Round, len(docs))
	for i := range docs {
		rounds[i] = *docs[i].toModel()
	}
	return rounds, nil
}

// AppendBid pushes the bid only while the round is bidding and the team has
// no bid yet. On a miss the round is re-read to name the failed condition.
func (s *Store) AppendBid(ctx context.Context, roundID uuid.UUID, bid models.Bid) (*models.Round, error) {
	teamID := bid.TeamID.String()
	filter := bson.M{
		"_id":          roundID.String(),
		"status":       string(models.RoundStatusBidding),
		"bids.team_id": bson.M{"$ne": teamID},
	}
	update := bson.M{
		"$push": bson.M{"bids": bidDoc{
			TeamID:    teamID,
			TeamName:  bid.TeamName,
			Amount:    bid.Amount,
			Timestamp: bid.Timestamp.UTC(),
		}},
		"$set": bson.M{"updated_at": s.now()},
	}

	var doc roundDoc
	err := s.rounds.FindOneAndUpdate(ctx, filter, update, after()).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}

	current, err := s.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.RoundStatusBidding {
		return nil, store.ErrConditionFailed
	}
	if current.HasBidFrom(bid.TeamID) {
		return nil, store.ErrDuplicate
	}
	return nil, store.ErrConditionFailed
}

// CloseBidding decides on a snapshot of the bids and commits only if no bid
// was appended since, retrying otherwise.
func (s *Store) CloseBidding(ctx context.Context, roundID uuid.UUID, endedAt time.Time, decide store.CloseFunc) (*models.Round, error) {
	for attempt := 0; attempt < closeAttempts; attempt++ {
		var current roundDoc
		err := s.rounds.FindOne(ctx, bson.M{"_id": roundID.String()}).Decode(&current)
		if err != nil {
			return nil, mapErr(err)
		}
		if current.Status != string(models.RoundStatusBidding) {
			return nil, store.ErrConditionFailed
		}

		outcome := decide(bidsFromDocs(current.Bids))
		status := outcome.Status()
		set := bson.M{
			"status":           string(status),
			"live":             status.IsLive(),
			"winner_id":        idPtr(outcome.WinnerID),
			"winner_name":      outcome.WinnerName,
			"winning_bid":      outcome.WinningBid,
			"bidding_ended_at": endedAt.UTC(),
			"updated_at":       s.now(),
		}
		if status == models.RoundStatusCompleted {
			set["completed_at"] = endedAt.UTC()
		}

		filter := bson.M{
			"_id":    roundID.String(),
			"status": string(models.RoundStatusBidding),
			"bids":   bson.M{"$size": len(current.Bids)},
		}
		var doc roundDoc
		err = s.rounds.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, after()).Decode(&doc)
		if err == nil {
			return doc.toModel(), nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to close bidding: %w", err)
		}
		log.Debug().Str("round_id", roundID.String()).Int("attempt", attempt).Msg("bids changed during close, retrying")
	}
	return nil, store.ErrConditionFailed
}

func (s *Store) SubmitAnswer(ctx context.Context, roundID, teamID uuid.UUID, answer string) (*models.Round, error) {
	filter := bson.M{
		"_id":              roundID.String(),
		"status":           string(models.RoundStatusReviewing),
		"winner_id":        teamID.String(),
		"submitted_answer": nil,
	}
	update := bson.M{"$set": bson.M{"submitted_answer": answer, "updated_at": s.now()}}

	var doc roundDoc
	err := s.rounds.FindOneAndUpdate(ctx, filter, update, after()).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to submit answer: %w", err)
	}
	if _, err := s.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	return nil, store.ErrConditionFailed
}

func (s *Store) SettleRound(ctx context.Context, st store.Settlement) (*models.Round, *models.Team, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	type settled struct {
		round *models.Round
		team  *models.Team
	}

	out, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var rd roundDoc
		err := s.rounds.FindOne(sc, bson.M{"_id": st.RoundID.String()}).Decode(&rd)
		if err != nil {
			return nil, mapErr(err)
		}
		if rd.Status != string(models.RoundStatusReviewing) || rd.WinnerID == nil {
			return nil, store.ErrConditionFailed
		}

		var td teamDoc
		if err := s.teams.FindOne(sc, bson.M{"_id": *rd.WinnerID}).Decode(&td); err != nil {
			return nil, mapErr(err)
		}

		adjusted, delta := st.Adjust(*rd.toModel(), *td.toModel())
		now := s.now()

		var team teamDoc
		err = s.teams.FindOneAndUpdate(sc, bson.M{"_id": td.ID}, bson.M{"$set": bson.M{
			"coins":           adjusted.Coins,
			"is_active":       adjusted.IsActive,
			"correct_answers": adjusted.CorrectAnswers,
			"wrong_answers":   adjusted.WrongAnswers,
			"total_bids":      adjusted.TotalBids,
			"updated_at":      now,
		}}, after()).Decode(&team)
		if err != nil {
			return nil, fmt.Errorf("failed to update team ledger: %w", err)
		}

		var round roundDoc
		err = s.rounds.FindOneAndUpdate(sc,
			bson.M{"_id": rd.ID, "status": string(models.RoundStatusReviewing)},
			bson.M{"$set": bson.M{
				"status":        string(models.RoundStatusCompleted),
				"live":          false,
				"result":        string(st.Result),
				"coins_awarded": delta,
				"completed_at":  st.CompletedAt.UTC(),
				"updated_at":    now,
			}}, after()).Decode(&round)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrConditionFailed
		}
		if err != nil {
			return nil, fmt.Errorf("failed to complete round: %w", err)
		}
		return settled{round: round.toModel(), team: team.toModel()}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := out.(settled)
	return res.round, res.team, nil
}

func (s *Store) ForceComplete(ctx context.Context, roundID uuid.UUID, completedAt time.Time) (*models.Round, error) {
	filter := bson.M{"_id": roundID.String(), "status": bson.M{"$in": liveStatuses}}
	update := bson.M{"$set": bson.M{
		"status":       string(models.RoundStatusCompleted),
		"live":         false,
		"completed_at": completedAt.UTC(),
		"updated_at":   s.now(),
	}}

	var doc roundDoc
	err := s.rounds.FindOneAndUpdate(ctx, filter, update, after()).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to force complete round: %w", err)
	}
	if _, err := s.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	return nil, store.ErrConditionFailed
}
