package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// RoomServiceName is the fully-qualified name of the RoomService service.
const RoomServiceName = "planningpoker.rooms.v1.RoomService"

// Procedure paths of RoomService.
const (
	RoomServiceCreateRoomProcedure      = "/planningpoker.rooms.v1.RoomService/CreateRoom"
	RoomServiceGetRoomProcedure         = "/planningpoker.rooms.v1.RoomService/GetRoom"
	RoomServiceJoinRoomProcedure        = "/planningpoker.rooms.v1.RoomService/JoinRoom"
	RoomServiceUpdateRoomProcedure      = "/planningpoker.rooms.v1.RoomService/UpdateRoom"
	RoomServiceSubmitVoteProcedure      = "/planningpoker.rooms.v1.RoomService/SubmitVote"
	RoomServiceRevealVotesProcedure     = "/planningpoker.rooms.v1.RoomService/RevealVotes"
	RoomServiceNextRoundProcedure       = "/planningpoker.rooms.v1.RoomService/NextRound"
	RoomServiceGetHistoryProcedure      = "/planningpoker.rooms.v1.RoomService/GetHistory"
	RoomServiceKickParticipantProcedure = "/planningpoker.rooms.v1.RoomService/KickParticipant"
)

// jsonCodec carries the plain Go messages above. It replaces connect's
// built-in "json" codec, which only accepts protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// RoomServiceHandler is implemented by Service.
type RoomServiceHandler interface {
	CreateRoom(context.Context, *connect.Request[CreateRoomRequest]) (*connect.Response[CreateRoomResponse], error)
	GetRoom(context.Context, *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error)
	JoinRoom(context.Context, *connect.Request[JoinRoomRequest]) (*connect.Response[JoinRoomResponse], error)
	UpdateRoom(context.Context, *connect.Request[UpdateRoomRequest]) (*connect.Response[UpdateRoomResponse], error)
	SubmitVote(context.Context, *connect.Request[SubmitVoteRequest]) (*connect.Response[SubmitVoteResponse], error)
	RevealVotes(context.Context, *connect.Request[RevealVotesRequest]) (*connect.Response[RevealVotesResponse], error)
	NextRound(context.Context, *connect.Request[NextRoundRequest]) (*connect.Response[NextRoundResponse], error)
	GetHistory(context.Context, *connect.Request[GetHistoryRequest]) (*connect.Response[GetHistoryResponse], error)
	KickParticipant(context.Context, *connect.Request[KickParticipantRequest]) (*connect.Response[KickParticipantResponse], error)
}

// NewRoomServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewRoomServiceHandler(svc RoomServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	handlers := map[string]http.Handler{
		RoomServiceCreateRoomProcedure:      connect.NewUnaryHandler(RoomServiceCreateRoomProcedure, svc.CreateRoom, opts...),
		RoomServiceGetRoomProcedure:         connect.NewUnaryHandler(RoomServiceGetRoomProcedure, svc.GetRoom, opts...),
		RoomServiceJoinRoomProcedure:        connect.NewUnaryHandler(RoomServiceJoinRoomProcedure, svc.JoinRoom, opts...),
		RoomServiceUpdateRoomProcedure:      connect.NewUnaryHandler(RoomServiceUpdateRoomProcedure, svc.UpdateRoom, opts...),
		RoomServiceSubmitVoteProcedure:      connect.NewUnaryHandler(RoomServiceSubmitVoteProcedure, svc.SubmitVote, opts...),
		RoomServiceRevealVotesProcedure:     connect.NewUnaryHandler(RoomServiceRevealVotesProcedure, svc.RevealVotes, opts...),
		RoomServiceNextRoundProcedure:       connect.NewUnaryHandler(RoomServiceNextRoundProcedure, svc.NextRound, opts...),
		RoomServiceGetHistoryProcedure:      connect.NewUnaryHandler(RoomServiceGetHistoryProcedure, svc.GetHistory, opts...),
		RoomServiceKickParticipantProcedure: connect.NewUnaryHandler(RoomServiceKickParticipantProcedure, svc.KickParticipant, opts...),
	}

	return "/" + RoomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// RoomServiceClient calls RoomService over HTTP.
type RoomServiceClient struct {
	createRoom      *connect.Client[CreateRoomRequest, CreateRoomResponse]
	getRoom         *connect.Client[GetRoomRequest, GetRoomResponse]
	joinRoom        *connect.Client[JoinRoomRequest, JoinRoomResponse]
	updateRoom      *connect.Client[UpdateRoomRequest, UpdateRoomResponse]
	submitVote      *connect.Client[SubmitVoteRequest, SubmitVoteResponse]
	revealVotes     *connect.Client[RevealVotesRequest, RevealVotesResponse]
	nextRound       *connect.Client[NextRoundRequest, NextRoundResponse]
	getHistory      *connect.Client[GetHistoryRequest, GetHistoryResponse]
	kickParticipant *connect.Client[KickParticipantRequest, KickParticipantResponse]
}

// NewRoomServiceClient constructs a client for the RoomService service.
// baseURL is the server root, e.g. http://localhost:8080.
func NewRoomServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RoomServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &RoomServiceClient{
		createRoom:      connect.NewClient[CreateRoomRequest, CreateRoomResponse](httpClient, baseURL+RoomServiceCreateRoomProcedure, opts...),
		getRoom:         connect.NewClient[GetRoomRequest, GetRoomResponse](httpClient, baseURL+RoomServiceGetRoomProcedure, opts...),
		joinRoom:        connect.NewClient[JoinRoomRequest, JoinRoomResponse](httpClient, baseURL+RoomServiceJoinRoomProcedure, opts...),
		updateRoom:      connect.NewClient[UpdateRoomRequest, UpdateRoomResponse](httpClient, baseURL+RoomServiceUpdateRoomProcedure, opts...),
		submitVote:      connect.NewClient[SubmitVoteRequest, SubmitVoteResponse](httpClient, baseURL+RoomServiceSubmitVoteProcedure, opts...),
		revealVotes:     connect.NewClient[RevealVotesRequest, RevealVotesResponse](httpClient, baseURL+RoomServiceRevealVotesProcedure, opts...),
		nextRound:       connect.NewClient[NextRoundRequest, NextRoundResponse](httpClient, baseURL+RoomServiceNextRoundProcedure, opts...),
		getHistory:      connect.NewClient[GetHistoryRequest, GetHistoryResponse](httpClient, baseURL+RoomServiceGetHistoryProcedure, opts...),
		kickParticipant: connect.NewClient[KickParticipantRequest, KickParticipantResponse](httpClient, baseURL+RoomServiceKickParticipantProcedure, opts...),
	}
}

func (c *RoomServiceClient) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[CreateRoomResponse], error) {
	return c.createRoom.CallUnary(ctx, req)
}

func (c *RoomServiceClient) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	return c.getRoom.CallUnary(ctx, req)
}

func (c *RoomServiceClient) JoinRoom(ctx context.Context, req *connect.Request[JoinRoomRequest]) (*connect.Response[JoinRoomResponse], error) {
	return c.joinRoom.CallUnary(ctx, req)
}

func (c *RoomServiceClient) UpdateRoom(ctx context.Context, req *connect.Request[UpdateRoomRequest]) (*connect.Response[UpdateRoomResponse], error) {
	return c.updateRoom.CallUnary(ctx, req)
}

func (c *RoomServiceClient) SubmitVote(ctx context.Context, req *connect.Request[SubmitVoteRequest]) (*connect.Response[SubmitVoteResponse], error) {
	return c.submitVote.CallUnary(ctx, req)
}

func (c *RoomServiceClient) RevealVotes(ctx context.Context, req *connect.Request[RevealVotesRequest]) (*connect.Response[RevealVotesResponse], error) {
	return c.revealVotes.CallUnary(ctx, req)
}

func (c *RoomServiceClient) NextRound(ctx context.Context, req *connect.Request[NextRoundRequest]) (*connect.Response[NextRoundResponse], error) {
	return c.nextRound.CallUnary(ctx, req)
}

func (c *RoomServiceClient) GetHistory(ctx context.Context, req *connect.Request[GetHistoryRequest]) (*connect.Response[GetHistoryResponse], error) {
	return c.getHistory.CallUnary(ctx, req)
}

func (c *RoomServiceClient) KickParticipant(ctx context.Context, req *connect.Request[KickParticipantRequest]) (*connect.Response[KickParticipantResponse], error) {
	return c.kickParticipant.CallUnary(ctx, req)
}
