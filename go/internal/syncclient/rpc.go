package syncclient

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
)

// RoomAPI is the request/response surface used in fallback mode.
type RoomAPI interface {
	GetRoom(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
	SubmitVote(ctx context.Context, req rooms.SubmitVoteRequest) error
	RevealVotes(ctx context.Context, roomID, participantID string) error
	NextRound(ctx context.Context, roomID, participantID string, description *string) error
}

// RPCClient implements RoomAPI over the RoomService connect client.
type RPCClient struct {
	client  *rooms.RoomServiceClient
	headers map[string]string
}

// NewRPCClient creates a client for the server rooted at baseURL. A nil
// httpClient uses one with a 30 second timeout.
func NewRPCClient(httpClient connect.HTTPClient, baseURL string) *RPCClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &RPCClient{
		client:  rooms.NewRoomServiceClient(httpClient, baseURL),
		headers: make(map[string]string),
	}
}

// SetHeader adds a header to every request, e.g. the identity headers set by
// an auth proxy.
func (c *RPCClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func newRequest[T any](c *RPCClient, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	for key, value := range c.headers {
		req.Header().Set(key, value)
	}
	return req
}

func (c *RPCClient) GetRoom(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	resp, err := c.client.GetRoom(ctx, newRequest(c, &rooms.GetRoomRequest{RoomID: roomID}))
	if err != nil {
		return nil, err
	}
	snap := resp.Msg.RoomSnapshot
	return &snap, nil
}

func (c *RPCClient) SubmitVote(ctx context.Context, req rooms.SubmitVoteRequest) error {
	_, err := c.client.SubmitVote(ctx, newRequest(c, &req))
	return err
}

func (c *RPCClient) RevealVotes(ctx context.Context, roomID, participantID string) error {
	_, err := c.client.RevealVotes(ctx, newRequest(c, &rooms.RevealVotesRequest{
		RoomID:        roomID,
		ParticipantID: participantID,
	}))
	return err
}

func (c *RPCClient) NextRound(ctx context.Context, roomID, participantID string, description *string) error {
	_, err := c.client.NextRound(ctx, newRequest(c, &rooms.NextRoundRequest{
		RoomID:        roomID,
		ParticipantID: participantID,
		Description:   description,
	}))
	return err
}
