// Package repository persists rooms, participants, votes and voting history.
//
// Store is the swappable persistence boundary. MemoryStore serves a single
// process; SQLStore serves Postgres or SQLite and keeps its guarantees across
// processes through unique keys and a version column.
package repository

import (
	"context"
	"errors"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

var (
	// ErrRoundChanged is returned by UpdateRoom when RoomPatch.ExpectRound no
	// longer matches the stored round.
	ErrRoundChanged = errors.New("room round changed")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("concurrent room update")
	// ErrRoomExists is returned by CreateRoom on an id collision.
	ErrRoomExists = errors.New("room id already exists")
	// ErrRoomMissing is returned when a child row references an absent room.
	ErrRoomMissing = errors.New("room does not exist")
	// ErrParticipantExists is returned by CreateParticipant on an id collision.
	ErrParticipantExists = errors.New("participant id already exists")
	// ErrParticipantMissing is returned when a vote references an absent participant.
	ErrParticipantMissing = errors.New("participant does not exist")
)

type Store interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, bool, error)
	UpdateRoom(ctx context.Context, id string, patch RoomPatch) (*models.Room, bool, error)

	CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*models.Participant, error)
	GetParticipant(ctx context.Context, id string) (*models.Participant, bool, error)
	GetParticipantsByRoom(ctx context.Context, roomID string) ([]models.Participant, error)
	RemoveParticipant(ctx context.Context, id string) (bool, error)

	CreateOrUpdateVote(ctx context.Context, req UpsertVoteRequest) (*models.Vote, error)
	GetVotesByRoomAndRound(ctx context.Context, roomID string, round int) ([]models.Vote, error)
	GetVoteByParticipantAndRound(ctx context.Context, participantID string, round int) (*models.Vote, bool, error)

	CreateVotingHistory(ctx context.Context, req CreateHistoryRequest) (*models.VotingHistory, bool, error)
	GetVotingHistoryByRoom(ctx context.Context, roomID string) ([]models.VotingHistory, error)
}

type CreateRoomRequest struct {
	ID               string
	Name             string
	VotingSystem     models.VotingSystem
	TimeUnits        models.TimeUnit
	ComplexityValues []string
	TimeValues       []string
	DualVoting       bool
	AutoReveal       bool
	CreatedBy        *string
}

// RoomPatch is a merge patch: nil fields are left untouched.
type RoomPatch struct {
	Name               *string
	VotingSystem       *models.VotingSystem
	TimeUnits          *models.TimeUnit
	ComplexityValues   []string
	TimeValues         []string
	DualVoting         *bool
	AutoReveal         *bool
	CurrentRound       *int
	CurrentDescription *string
	Revealed           *bool

	// ExpectRound makes the update conditional on the stored round.
	ExpectRound *int
}

func (p RoomPatch) apply(r *models.Room) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.VotingSystem != nil {
		r.VotingSystem = *p.VotingSystem
	}
	if p.TimeUnits != nil {
		r.TimeUnits = *p.TimeUnits
	}
	if p.ComplexityValues != nil {
		r.ComplexityValues = append([]string(nil), p.ComplexityValues...)
	}
	if p.TimeValues != nil {
		r.TimeValues = append([]string(nil), p.TimeValues...)
	}
	if p.DualVoting != nil {
		r.DualVoting = *p.DualVoting
	}
	if p.AutoReveal != nil {
		r.AutoReveal = *p.AutoReveal
	}
	if p.CurrentRound != nil {
		r.CurrentRound = *p.CurrentRound
	}
	if p.CurrentDescription != nil {
		r.CurrentDescription = *p.CurrentDescription
	}
	if p.Revealed != nil {
		r.Revealed = *p.Revealed
	}
}

type CreateParticipantRequest struct {
	ID     string
	RoomID string
	Name   string
	// WantCreator asks for the creator designation. It is granted only when
	// the room has no creator yet; the first participant of a room also
	// receives it.
	WantCreator bool
	// Token is the session secret proving later requests come from this
	// participant.
	Token string
}

// UpsertVoteRequest writes a vote. Nil values keep whatever was stored before.
type UpsertVoteRequest struct {
	RoomID          string
	ParticipantID   string
	Round           int
	ComplexityValue *string
	TimeValue       *string
}

type CreateHistoryRequest struct {
	RoomID      string
	Round       int
	Description string

	ComplexityConsensus *string
	ComplexityAverage   *string
	ComplexityMin       *string
	ComplexityMax       *string

	TimeConsensus *string
	TimeAverage   *string
	TimeMin       *string
	TimeMax       *string
}

func (req CreateHistoryRequest) toModel() models.VotingHistory {
	return models.VotingHistory{
		RoomID:              req.RoomID,
		Round:               req.Round,
		Description:         req.Description,
		ComplexityConsensus: req.ComplexityConsensus,
		ComplexityAverage:   req.ComplexityAverage,
		ComplexityMin:       req.ComplexityMin,
		ComplexityMax:       req.ComplexityMax,
		TimeConsensus:       req.TimeConsensus,
		TimeAverage:         req.TimeAverage,
		TimeMin:             req.TimeMin,
		TimeMax:             req.TimeMax,
	}
}
