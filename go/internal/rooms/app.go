package rooms

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms/repository"
	"github.com/mcdev12/planningpoker/go/internal/votestats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	roomIDLength        = 6
	roomIDAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxRoomIDAttempts   = 5
	participantIDPrefix = "participant-"
)

// Repository defines what the app layer needs from the room store
type Repository interface {
	CreateRoom(ctx context.Context, req repository.CreateRoomRequest) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, bool, error)
	UpdateRoom(ctx context.Context, id string, patch repository.RoomPatch) (*models.Room, bool, error)
	CreateParticipant(ctx context.Context, req repository.CreateParticipantRequest) (*models.Participant, error)
	GetParticipant(ctx context.Context, id string) (*models.Participant, bool, error)
	GetParticipantsByRoom(ctx context.Context, roomID string) ([]models.Participant, error)
	RemoveParticipant(ctx context.Context, id string) (bool, error)
	CreateOrUpdateVote(ctx context.Context, req repository.UpsertVoteRequest) (*models.Vote, error)
	GetVotesByRoomAndRound(ctx context.Context, roomID string, round int) ([]models.Vote, error)
	CreateVotingHistory(ctx context.Context, req repository.CreateHistoryRequest) (*models.VotingHistory, bool, error)
	GetVotingHistoryByRoom(ctx context.Context, roomID string) ([]models.VotingHistory, error)
}

// App is the session coordinator. It serializes mutations per room and
// publishes a fresh snapshot after each one.
type App struct {
	repo      Repository
	publisher Publisher
	catalog   Catalog
	metrics   *appMetrics
	newRoomID func() (string, error)

	locks sync.Map // room id -> *sync.Mutex
}

type Option func(*App)

func WithPublisher(p Publisher) Option {
	return func(a *App) {
		if p != nil {
			a.publisher = p
		}
	}
}

func WithCatalog(c Catalog) Option {
	return func(a *App) { a.catalog = c }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.metrics = newAppMetrics(reg) }
}

func WithRoomIDGenerator(gen func() (string, error)) Option {
	return func(a *App) { a.newRoomID = gen }
}

// NewApp creates a new rooms App
func NewApp(repo Repository, opts ...Option) *App {
	a := &App{
		repo:      repo,
		publisher: nopPublisher{},
		catalog:   DefaultCatalog(),
		newRoomID: generateRoomID,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = newAppMetrics(nil)
	}
	return a
}

// SetPublisher replaces the event publisher. It must be called before the App
// serves traffic.
func (a *App) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	a.publisher = p
}

func (a *App) lockRoom(roomID string) func() {
	mu, _ := a.locks.LoadOrStore(roomID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func generateRoomID() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(roomIDAlphabet)))
	for i := 0; i < roomIDLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate room id: %w", err)
		}
		b.WriteByte(roomIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// CreateRoomInput carries optional room settings. Nil fields take defaults; a
// non-nil empty value list is rejected.
type CreateRoomInput struct {
	Name             string              `json:"name"`
	VotingSystem     models.VotingSystem `json:"votingSystem"`
	TimeUnits        models.TimeUnit     `json:"timeUnits"`
	ComplexityValues []string            `json:"complexityValues"`
	TimeValues       []string            `json:"timeValues"`
	DualVoting       *bool               `json:"dualVoting"`
	AutoReveal       *bool               `json:"autoReveal"`
}

// CreateRoom creates a room owned by the actor's identity, if any.
func (a *App) CreateRoom(ctx context.Context, actor models.Actor, in CreateRoomInput) (*models.Room, error) {
	req, err := a.resolveCreateRoom(in)
	if err != nil {
		return nil, err
	}
	req.CreatedBy = models.IdentityID(actor.Identity)

	var room *models.Room
	for attempt := 0; attempt < maxRoomIDAttempts; attempt++ {
		if req.ID, err = a.newRoomID(); err != nil {
			return nil, err
		}
		room, err = a.repo.CreateRoom(ctx, req)
		if errors.Is(err, repository.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}
		break
	}
	if room == nil {
		return nil, fmt.Errorf("failed to allocate a unique room id after %d attempts", maxRoomIDAttempts)
	}

	a.metrics.roomsCreated.Inc()
	log.Info().
		Str("room_id", room.ID).
		Str("voting_system", string(room.VotingSystem)).
		Bool("dual_voting", room.DualVoting).
		Msg("room created")
	return room, nil
}

func (a *App) resolveCreateRoom(in CreateRoomInput) (repository.CreateRoomRequest, error) {
	req := repository.CreateRoomRequest{
		Name:         strings.TrimSpace(in.Name),
		VotingSystem: in.VotingSystem,
		TimeUnits:    in.TimeUnits,
		DualVoting:   DefaultDualVoting,
		AutoReveal:   DefaultAutoReveal,
	}
	if req.Name == "" {
		req.Name = DefaultRoomName
	}
	if req.VotingSystem == "" {
		req.VotingSystem = DefaultVotingSystem
	}
	if req.TimeUnits == "" {
		req.TimeUnits = DefaultTimeUnits
	}
	if in.DualVoting != nil {
		req.DualVoting = *in.DualVoting
	}
	if in.AutoReveal != nil {
		req.AutoReveal = *in.AutoReveal
	}

	switch {
	case in.ComplexityValues != nil:
		if len(in.ComplexityValues) == 0 {
			return req, invalid("complexityValues", "must not be empty")
		}
		req.ComplexityValues = append([]string(nil), in.ComplexityValues...)
	default:
		deck, ok := a.catalog.ComplexityDeck(req.VotingSystem)
		if !ok {
			return req, invalid("votingSystem", fmt.Sprintf("unknown voting system %q", req.VotingSystem))
		}
		req.ComplexityValues = deck
	}

	switch {
	case in.TimeValues != nil:
		if len(in.TimeValues) == 0 {
			return req, invalid("timeValues", "must not be empty")
		}
		req.TimeValues = append([]string(nil), in.TimeValues...)
	default:
		deck, ok := a.catalog.TimeDeck(req.TimeUnits)
		if !ok {
			return req, invalid("timeUnits", fmt.Sprintf("unknown time unit %q", req.TimeUnits))
		}
		req.TimeValues = deck
	}
	return req, nil
}

// JoinInput identifies who is joining. ParticipantID and Token are set when
// the client remembers a previous session.
type JoinInput struct {
	RoomID        string
	Name          string
	ParticipantID string
	Token         string
	WantCreator   bool
	Identity      models.Identity
}

// JoinResult carries the participant's session token. It is the only place
// the token is ever returned.
type JoinResult struct {
	Participant *models.Participant `json:"participant"`
	Token       string              `json:"token"`
	Room        *models.Room        `json:"room"`
	Rehydrated  bool                `json:"rehydrated"`
}

// JoinRoom adds a participant to a room, or resumes an existing participant of
// the same room when its token is presented. A participant id without the
// matching token joins as a new participant.
func (a *App) JoinRoom(ctx context.Context, in JoinInput) (*JoinResult, error) {
	unlock := a.lockRoom(in.RoomID)
	defer unlock()

	room, err := a.getRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}

	if in.ParticipantID != "" {
		p, found, err := a.repo.GetParticipant(ctx, in.ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up participant: %w", err)
		}
		if found && p.RoomID == room.ID && tokenMatches(p.Token, in.Token) {
			a.metrics.joins.WithLabelValues("rehydrated").Inc()
			return &JoinResult{Participant: p, Token: p.Token, Room: room, Rehydrated: true}, nil
		}
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}

	wantCreator := in.WantCreator
	if owner := models.IdentityID(in.Identity); owner != nil && room.CreatedBy != nil && *owner == *room.CreatedBy {
		wantCreator = true
	}

	p, err := a.repo.CreateParticipant(ctx, repository.CreateParticipantRequest{
		ID:          participantIDPrefix + uuid.NewString(),
		RoomID:      room.ID,
		Name:        name,
		WantCreator: wantCreator,
		Token:       uuid.NewString(),
	})
	if errors.Is(err, repository.ErrRoomMissing) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}

	a.metrics.joins.WithLabelValues("new").Inc()
	log.Info().
		Str("room_id", room.ID).
		Str("participant_id", p.ID).
		Bool("is_creator", p.IsCreator).
		Msg("participant joined")

	_, _ = a.publishLocked(ctx, EventRoomUpdated, room.ID, "")
	return &JoinResult{Participant: p, Token: p.Token, Room: room}, nil
}

// VoteInput is a vote for the room's current round. At least one value is
// required; a nil value leaves any previous value for that dimension intact.
type VoteInput struct {
	RoomID          string
	ParticipantID   string
	ComplexityValue *string
	TimeValue       *string
}

// SubmitVote records a vote and reveals the round when auto-reveal is on and
// every participant has covered every enabled dimension.
func (a *App) SubmitVote(ctx context.Context, in VoteInput) (*models.Vote, error) {
	if in.ComplexityValue == nil && in.TimeValue == nil {
		return nil, invalid("vote", "a complexity or time value is required")
	}

	unlock := a.lockRoom(in.RoomID)
	defer unlock()

	room, err := a.getRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	if _, err := a.member(ctx, room.ID, in.ParticipantID); err != nil {
		return nil, err
	}
	if err := validateVote(room, in); err != nil {
		return nil, err
	}

	vote, err := a.repo.CreateOrUpdateVote(ctx, repository.UpsertVoteRequest{
		RoomID:          room.ID,
		ParticipantID:   in.ParticipantID,
		Round:           room.CurrentRound,
		ComplexityValue: in.ComplexityValue,
		TimeValue:       in.TimeValue,
	})
	if errors.Is(err, repository.ErrParticipantMissing) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}
	a.metrics.votes.Inc()

	if room.AutoReveal && !room.Revealed {
		all, err := a.everyoneVoted(ctx, room)
		if err != nil {
			return nil, err
		}
		if all {
			if err := a.reveal(ctx, room, "auto"); err != nil {
				return nil, err
			}
		}
	}

	_, _ = a.publishLocked(ctx, EventRoomUpdated, room.ID, "")
	return vote, nil
}

func validateVote(room *models.Room, in VoteInput) error {
	if in.ComplexityValue != nil && !room.AcceptsComplexity(*in.ComplexityValue) {
		return invalid("complexityValue", fmt.Sprintf("%q is not in the room's deck", *in.ComplexityValue))
	}
	if in.TimeValue != nil {
		if !room.DualVoting {
			return invalid("timeValue", "time estimates are disabled in this room")
		}
		if !room.AcceptsTime(*in.TimeValue) {
			return invalid("timeValue", fmt.Sprintf("%q is not in the room's deck", *in.TimeValue))
		}
	}
	return nil
}

func (a *App) everyoneVoted(ctx context.Context, room *models.Room) (bool, error) {
	participants, err := a.repo.GetParticipantsByRoom(ctx, room.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list participants: %w", err)
	}
	if len(participants) == 0 {
		return false, nil
	}
	votes, err := a.repo.GetVotesByRoomAndRound(ctx, room.ID, room.CurrentRound)
	if err != nil {
		return false, fmt.Errorf("failed to list votes: %w", err)
	}
	byParticipant := make(map[string]*models.Vote, len(votes))
	for i := range votes {
		byParticipant[votes[i].ParticipantID] = &votes[i]
	}
	for _, p := range participants {
		if !byParticipant[p.ID].Covers(room.DualVoting) {
			return false, nil
		}
	}
	return true, nil
}

// Reveal reveals the current round. Revealing an already revealed round does
// nothing.
func (a *App) Reveal(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	unlock := a.lockRoom(roomID)
	defer unlock()

	room, err := a.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Revealed {
		return a.snapshot(ctx, room.ID)
	}
	if err := a.reveal(ctx, room, "manual"); err != nil {
		return nil, err
	}
	return a.publishLocked(ctx, EventRoomUpdated, room.ID, "")
}

// reveal archives the current round (when it has votes) and flips the room to
// revealed. The caller holds the room lock.
func (a *App) reveal(ctx context.Context, room *models.Room, trigger string) error {
	if err := a.archive(ctx, room); err != nil {
		return err
	}

	revealed := true
	round := room.CurrentRound
	_, found, err := a.updateRoom(ctx, room.ID, repository.RoomPatch{
		Revealed:    &revealed,
		ExpectRound: &round,
	})
	switch {
	case errors.Is(err, repository.ErrRoundChanged):
		log.Debug().Str("room_id", room.ID).Int("round", round).Msg("round advanced elsewhere; skipping reveal")
		return nil
	case err != nil:
		return fmt.Errorf("failed to reveal round: %w", err)
	case !found:
		return ErrRoomNotFound
	}

	a.metrics.reveals.WithLabelValues(trigger).Inc()
	log.Info().Str("room_id", room.ID).Int("round", round).Str("trigger", trigger).Msg("round revealed")
	return nil
}

// archive writes the voting history entry for the room's current round if it
// has votes. Repeated calls for the same round leave the first entry intact.
func (a *App) archive(ctx context.Context, room *models.Room) error {
	votes, err := a.repo.GetVotesByRoomAndRound(ctx, room.ID, room.CurrentRound)
	if err != nil {
		return fmt.Errorf("failed to list votes: %w", err)
	}
	if len(votes) == 0 {
		return nil
	}
	participants, err := a.repo.GetParticipantsByRoom(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	req := buildHistory(room, votes, participants)
	_, created, err := a.repo.CreateVotingHistory(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to archive round: %w", err)
	}
	if created {
		a.metrics.archived.Inc()
	}
	return nil
}

func buildHistory(room *models.Room, votes []models.Vote, participants []models.Participant) repository.CreateHistoryRequest {
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}

	var complexity, timeEstimates []votestats.Ballot
	for _, v := range votes {
		voter := names[v.ParticipantID]
		if v.ComplexityValue != nil {
			complexity = append(complexity, votestats.Ballot{Value: *v.ComplexityValue, Voter: voter})
		}
		if v.TimeValue != nil {
			timeEstimates = append(timeEstimates, votestats.Ballot{Value: *v.TimeValue, Voter: voter})
		}
	}

	description := strings.TrimSpace(room.CurrentDescription)
	if description == "" {
		description = fmt.Sprintf("Round %d", room.CurrentRound)
	}

	req := repository.CreateHistoryRequest{
		RoomID:      room.ID,
		Round:       room.CurrentRound,
		Description: description,
	}
	c := votestats.SummarizeBallots(complexity)
	req.ComplexityConsensus, req.ComplexityAverage, req.ComplexityMin, req.ComplexityMax = summaryFields(c)
	t := votestats.SummarizeBallots(timeEstimates)
	req.TimeConsensus, req.TimeAverage, req.TimeMin, req.TimeMax = summaryFields(t)
	return req
}

func summaryFields(s votestats.Summary) (consensus, average, lo, hi *string) {
	if s.Count == 0 {
		return nil, nil, nil, nil
	}
	consensus = &s.Consensus
	if s.HasNumeric {
		average, lo, hi = &s.Average, &s.Min, &s.Max
	}
	return consensus, average, lo, hi
}

// NextRound archives a revealed round that has votes, then starts the next
// round with the given description.
func (a *App) NextRound(ctx context.Context, roomID string, description *string) (*models.RoomSnapshot, error) {
	unlock := a.lockRoom(roomID)
	defer unlock()

	room, err := a.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Revealed {
		if err := a.archive(ctx, room); err != nil {
			return nil, err
		}
	}

	round := room.CurrentRound
	next := round + 1
	revealed := false
	desc := ""
	if description != nil {
		desc = strings.TrimSpace(*description)
	}
	_, found, err := a.updateRoom(ctx, room.ID, repository.RoomPatch{
		CurrentRound:       &next,
		Revealed:           &revealed,
		CurrentDescription: &desc,
		ExpectRound:        &round,
	})
	switch {
	case errors.Is(err, repository.ErrRoundChanged):
		log.Debug().Str("room_id", room.ID).Int("round", round).Msg("round already advanced")
		return a.snapshot(ctx, room.ID)
	case err != nil:
		return nil, fmt.Errorf("failed to start next round: %w", err)
	case !found:
		return nil, ErrRoomNotFound
	}

	a.metrics.rounds.Inc()
	log.Info().Str("room_id", room.ID).Int("round", next).Msg("round started")
	return a.publishLocked(ctx, EventRoomUpdated, room.ID, "")
}

// SettingsPatch changes room settings. Unknown voting systems and time units
// are ignored; known ones also replace the matching deck.
type SettingsPatch struct {
	Name               *string              `json:"name,omitempty"`
	VotingSystem       *models.VotingSystem `json:"votingSystem,omitempty"`
	TimeUnits          *models.TimeUnit     `json:"timeUnits,omitempty"`
	DualVoting         *bool                `json:"dualVoting,omitempty"`
	AutoReveal         *bool                `json:"autoReveal,omitempty"`
	CurrentDescription *string              `json:"currentDescription,omitempty"`
	ComplexityValues   []string             `json:"complexityValues,omitempty"`
	TimeValues         []string             `json:"timeValues,omitempty"`
}

// PatchSettings applies a settings patch. Only privileged actors may do this.
func (a *App) PatchSettings(ctx context.Context, actor models.Actor, roomID string, in SettingsPatch) (*models.Room, error) {
	if !actor.Privileged {
		return nil, ErrForbidden
	}

	unlock := a.lockRoom(roomID)
	defer unlock()

	if _, err := a.getRoom(ctx, roomID); err != nil {
		return nil, err
	}

	patch := repository.RoomPatch{
		DualVoting:         in.DualVoting,
		AutoReveal:         in.AutoReveal,
		CurrentDescription: in.CurrentDescription,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		patch.Name = &name
	}
	if in.VotingSystem != nil {
		if deck, ok := a.catalog.ComplexityDeck(*in.VotingSystem); ok {
			patch.VotingSystem = in.VotingSystem
			patch.ComplexityValues = deck
		} else if *in.VotingSystem == models.VotingSystemCustom && len(in.ComplexityValues) > 0 {
			patch.VotingSystem = in.VotingSystem
		}
	}
	if in.ComplexityValues != nil && patch.ComplexityValues == nil {
		if len(in.ComplexityValues) == 0 {
			return nil, invalid("complexityValues", "must not be empty")
		}
		patch.ComplexityValues = append([]string(nil), in.ComplexityValues...)
	}
	if in.TimeUnits != nil {
		if deck, ok := a.catalog.TimeDeck(*in.TimeUnits); ok {
			patch.TimeUnits = in.TimeUnits
			patch.TimeValues = deck
		}
	}
	if in.TimeValues != nil && patch.TimeValues == nil {
		if len(in.TimeValues) == 0 {
			return nil, invalid("timeValues", "must not be empty")
		}
		patch.TimeValues = append([]string(nil), in.TimeValues...)
	}

	updated, found, err := a.updateRoom(ctx, roomID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update room settings: %w", err)
	}
	if !found {
		return nil, ErrRoomNotFound
	}

	log.Info().Str("room_id", roomID).Str("participant_id", actor.ParticipantID).Msg("room settings updated")
	_, _ = a.publishLocked(ctx, EventRoomUpdated, roomID, "")
	return updated, nil
}

// updateRoom applies a patch, retrying for as long as ctx allows when the
// store keeps losing optimistic races.
func (a *App) updateRoom(ctx context.Context, roomID string, patch repository.RoomPatch) (*models.Room, bool, error) {
	for attempt := 1; ; attempt++ {
		room, found, err := a.repo.UpdateRoom(ctx, roomID, patch)
		if !errors.Is(err, repository.ErrConflict) {
			return room, found, err
		}
		log.Warn().Str("room_id", roomID).Int("attempt", attempt).Msg("room update lost to concurrent writers; retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, true, ctxErr
		}
	}
}

// Kick removes a participant and their votes. Only privileged actors may do
// this.
func (a *App) Kick(ctx context.Context, actor models.Actor, roomID, participantID string) (*models.RoomSnapshot, error) {
	if !actor.Privileged {
		return nil, ErrForbidden
	}

	unlock := a.lockRoom(roomID)
	defer unlock()

	room, err := a.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := a.member(ctx, room.ID, participantID); err != nil {
		return nil, err
	}

	removed, err := a.repo.RemoveParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove participant: %w", err)
	}
	if !removed {
		return nil, ErrParticipantNotFound
	}

	a.metrics.kicks.Inc()
	log.Info().
		Str("room_id", room.ID).
		Str("participant_id", participantID).
		Str("by", actor.ParticipantID).
		Msg("participant kicked")
	return a.publishLocked(ctx, EventParticipantKicked, room.ID, participantID)
}

// Snapshot returns the current full state of a room.
func (a *App) Snapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	unlock := a.lockRoom(roomID)
	defer unlock()

	if _, err := a.getRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return a.snapshot(ctx, roomID)
}

// History returns archived rounds, most recent first.
func (a *App) History(ctx context.Context, roomID string) ([]models.VotingHistory, error) {
	if _, err := a.getRoom(ctx, roomID); err != nil {
		return nil, err
	}
	history, err := a.repo.GetVotingHistoryByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voting history: %w", err)
	}
	return history, nil
}

// Announce publishes the room's current snapshot without mutating it.
func (a *App) Announce(ctx context.Context, roomID string) error {
	unlock := a.lockRoom(roomID)
	defer unlock()

	if _, err := a.getRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := a.publishLocked(ctx, EventRoomUpdated, roomID, "")
	return err
}

// CheckMembership returns the participant if it belongs to the room.
func (a *App) CheckMembership(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	if _, err := a.getRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return a.member(ctx, roomID, participantID)
}

// Authenticate returns the participant when it belongs to the room and token
// is its session token.
func (a *App) Authenticate(ctx context.Context, roomID, participantID, token string) (*models.Participant, error) {
	p, err := a.CheckMembership(ctx, roomID, participantID)
	if err != nil {
		return nil, err
	}
	if !tokenMatches(p.Token, token) {
		return nil, ErrBadToken
	}
	return p, nil
}

func tokenMatches(stored, presented string) bool {
	return stored != "" && subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// ResolveActor builds the actor for a participant of a room. The actor is
// privileged when the identity owns the room, or when the participant is the
// room's creator and token is its session token. Participant ids are public,
// so a creator id alone grants nothing. An empty participantID is allowed for
// identity-only callers.
func (a *App) ResolveActor(ctx context.Context, roomID, participantID, token string, identity models.Identity) (models.Actor, error) {
	actor := models.Actor{Identity: identity, ParticipantID: participantID}
	if identity == nil {
		actor.Identity = models.Anonymous{}
	}

	room, err := a.getRoom(ctx, roomID)
	if err != nil {
		return actor, err
	}
	if owner := models.IdentityID(identity); owner != nil && room.CreatedBy != nil && *owner == *room.CreatedBy {
		actor.Privileged = true
	}
	if participantID != "" {
		p, err := a.member(ctx, roomID, participantID)
		if err != nil {
			return actor, err
		}
		if token != "" && !tokenMatches(p.Token, token) {
			return actor, ErrBadToken
		}
		if p.IsCreator && token != "" {
			actor.Privileged = true
		}
	}
	return actor, nil
}

func (a *App) getRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, found, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if !found {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (a *App) member(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	if participantID == "" {
		return nil, ErrParticipantNotFound
	}
	p, found, err := a.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	if !found || p.RoomID != roomID {
		return nil, ErrParticipantNotFound
	}
	return p, nil
}

// snapshot assembles the room state. Callers hold the room lock when the
// result is published.
func (a *App) snapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	room, err := a.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	participants, err := a.repo.GetParticipantsByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	votes, err := a.repo.GetVotesByRoomAndRound(ctx, roomID, room.CurrentRound)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	history, err := a.repo.GetVotingHistoryByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voting history: %w", err)
	}
	return &models.RoomSnapshot{
		Room:         room,
		Participants: participants,
		Votes:        votes,
		History:      history,
	}, nil
}

// publishLocked snapshots the room and hands the event to the publisher. The
// mutation has already committed, so publisher failures are only logged. An
// error is returned when the snapshot itself could not be read.
func (a *App) publishLocked(ctx context.Context, eventType EventType, roomID, participantID string) (*models.RoomSnapshot, error) {
	snap, err := a.snapshot(ctx, roomID)
	if err != nil {
		a.metrics.publishErrors.Inc()
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to snapshot room for broadcast")
		return nil, err
	}
	event := RoomEvent{
		Type:          eventType,
		RoomID:        roomID,
		ParticipantID: participantID,
		Snapshot:      snap,
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.metrics.publishErrors.Inc()
		log.Warn().Err(err).Str("room_id", roomID).Str("event", string(eventType)).Msg("failed to publish room event")
	}
	return snap, nil
}
