package rooms

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Headers set by the external authentication collaborator.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// RoomsApp defines what the service layer needs from the rooms application
type RoomsApp interface {
	CreateRoom(ctx context.Context, actor models.Actor, in CreateRoomInput) (*models.Room, error)
	JoinRoom(ctx context.Context, in JoinInput) (*JoinResult, error)
	SubmitVote(ctx context.Context, in VoteInput) (*models.Vote, error)
	Reveal(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
	NextRound(ctx context.Context, roomID string, description *string) (*models.RoomSnapshot, error)
	PatchSettings(ctx context.Context, actor models.Actor, roomID string, in SettingsPatch) (*models.Room, error)
	Kick(ctx context.Context, actor models.Actor, roomID, participantID string) (*models.RoomSnapshot, error)
	Snapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
	History(ctx context.Context, roomID string) ([]models.VotingHistory, error)
	CheckMembership(ctx context.Context, roomID, participantID string) (*models.Participant, error)
	ResolveActor(ctx context.Context, roomID, participantID, token string, identity models.Identity) (models.Actor, error)
}

// Service implements the RoomService connect interface
type Service struct {
	app RoomsApp
}

// NewService creates a new rooms RPC service
func NewService(app RoomsApp) *Service {
	return &Service{
		app: app,
	}
}

var _ RoomServiceHandler = (*Service)(nil)

// IdentityFromHeaders reads the caller identity asserted by the auth
// collaborator. Requests without a user id are anonymous.
func IdentityFromHeaders(h http.Header) models.Identity {
	id := h.Get(HeaderUserID)
	if id == "" {
		return models.Anonymous{}
	}
	return models.AuthenticatedUser{
		ID:          id,
		Email:       h.Get(HeaderUserEmail),
		DisplayName: h.Get(HeaderUserName),
	}
}

// connectError maps coordinator errors onto connect codes.
func connectError(err error) error {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrParticipantNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.As(err, &verr):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrForbidden):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, ErrBadToken):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		log.Error().Err(err).Msg("room service request failed")
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

func requireRoomID(roomID string) error {
	if roomID == "" {
		return connect.NewError(connect.CodeInvalidArgument, invalid("roomId", "is required"))
	}
	return nil
}

// CreateRoom creates a new room owned by the calling identity
func (s *Service) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[CreateRoomResponse], error) {
	actor := models.Actor{Identity: IdentityFromHeaders(req.Header())}

	room, err := s.app.CreateRoom(ctx, actor, req.Msg.CreateRoomInput)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&CreateRoomResponse{Room: room}), nil
}

// GetRoom returns the full room snapshot
func (s *Service) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	if err := requireRoomID(req.Msg.RoomID); err != nil {
		return nil, err
	}

	snap, err := s.app.Snapshot(ctx, req.Msg.RoomID)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&GetRoomResponse{RoomSnapshot: *snap}), nil
}

// JoinRoom adds the caller to a room or resumes a previous participant
func (s *Service) JoinRoom(ctx context.Context, req *connect.Request[JoinRoomRequest]) (*connect.Response[JoinRoomResponse], error) {
	if err := requireRoomID(req.Msg.RoomID); err != nil {
		return nil, err
	}

	res, err := s.app.JoinRoom(ctx, JoinInput{
		RoomID:        req.Msg.RoomID,
		Name:          req.Msg.Name,
		ParticipantID: req.Msg.ParticipantID,
		Token:         req.Msg.Token,
		WantCreator:   req.Msg.IsCreator,
		Identity:      IdentityFromHeaders(req.Header()),
	})
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&JoinRoomResponse{JoinResult: *res}), nil
}

// UpdateRoom patches room settings; restricted to the room owner or creator
func (s *Service) UpdateRoom(ctx context.Context, req *connect.Request[UpdateRoomRequest]) (*connect.Response[UpdateRoomResponse], error) {
	if err := requireRoomID(req.Msg.RoomID); err != nil {
		return nil, err
	}

	actor, err := s.app.ResolveActor(ctx, req.Msg.RoomID, req.Msg.ParticipantID, req.Msg.Token, IdentityFromHeaders(req.Header()))
	if err != nil {
		return nil, connectError(err)
	}

	room, err := s.app.PatchSettings(ctx, actor, req.Msg.RoomID, req.Msg.SettingsPatch)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&UpdateRoomResponse{Room: room}), nil
}

// SubmitVote records a vote for the current round
func (s *Service) SubmitVote(ctx context.Context, req *connect.Request[SubmitVoteRequest]) (*connect.Response[SubmitVoteResponse], error) {
	if err := requireRoomID(req.Msg.RoomID); err != nil {
		return nil, err
	}

	vote, err := s.app.SubmitVote(ctx, VoteInput{
		RoomID:          req.Msg.RoomID,
		ParticipantID:   req.Msg.ParticipantID,
		ComplexityValue: req.Msg.ComplexityValue,
		TimeValue:       req.Msg.TimeValue,
	})
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&SubmitVoteResponse{Vote: vote}), nil
}

// RevealVotes reveals the current round
func (s *Service) RevealVotes(ctx context.Context, req *connect.Request[RevealVotesRequest]) (*connect.Response[RevealVotesResponse], error) {
	if err := s.checkCaller(ctx, req.Msg.RoomID, req.Msg.ParticipantID); err != nil {
		return nil, err
	}

	snap, err := s.app.Reveal(ctx, req.Msg.RoomID)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&RevealVotesResponse{RoomSnapshot: *snap}), nil
}

// NextRound archives the current round if needed and starts the next one
func (s *Service) NextRound(ctx context.Context, req *connect.Request[NextRoundRequest]) (*connect.Response[NextRoundResponse], error) {
	if err := s.checkCaller(ctx, req.Msg.RoomID, req.Msg.ParticipantID); err != nil {
		return nil, err
	}

	snap, err := s.app.NextRound(ctx, req.Msg.RoomID, req.Msg.Description)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&NextRoundResponse{RoomSnapshot: *snap}), nil
}

// GetHistory lists archived rounds, most recent first
func (s *Service) GetHistory(ctx context.Context, req *connect.Request[GetHistoryRequest]) (*connect.Response[GetHistoryResponse], error) {
	if err := requireRoomID(req.Msg.RoomID); err != nil {
		return nil, err
	}

	history, err := s.app.History(ctx, req.Msg.RoomID)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&GetHistoryResponse{History: history}), nil
}

// KickParticipant removes a participant; restricted to the room owner or creator
func (s *Service) KickParticipant(ctx context.Context, req *connect.Request[KickParticipantRequest]) (*connect.Response[KickParticipantResponse], error) {
	if err := requireRoomID(req.Msg.RoomID); err != nil {
		return nil, err
	}

	actor, err := s.app.ResolveActor(ctx, req.Msg.RoomID, req.Msg.ParticipantID, req.Msg.Token, IdentityFromHeaders(req.Header()))
	if err != nil {
		return nil, connectError(err)
	}

	snap, err := s.app.Kick(ctx, actor, req.Msg.RoomID, req.Msg.TargetParticipantID)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&KickParticipantResponse{RoomSnapshot: *snap}), nil
}

// checkCaller verifies a claimed participant belongs to the room. Callers
// that do not claim one are let through.
func (s *Service) checkCaller(ctx context.Context, roomID, participantID string) error {
	if err := requireRoomID(roomID); err != nil {
		return err
	}
	if participantID == "" {
		return nil
	}
	if _, err := s.app.CheckMembership(ctx, roomID, participantID); err != nil {
		return connectError(err)
	}
	return nil
}
