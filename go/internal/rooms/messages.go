package rooms

import "github.com/mcdev12/planningpoker/go/internal/models"

// Request and response messages of the RoomService RPC surface. They travel
// as JSON with camelCase keys.

type CreateRoomRequest struct {
	CreateRoomInput
}

type CreateRoomResponse struct {
	Room *models.Room `json:"room"`
}

type GetRoomRequest struct {
	RoomID string `json:"roomId"`
}

type GetRoomResponse struct {
	models.RoomSnapshot
}

type JoinRoomRequest struct {
	RoomID        string `json:"roomId"`
	Name          string `json:"name"`
	ParticipantID string `json:"participantId,omitempty"`
	// Token resumes ParticipantID; it is returned by an earlier join.
	Token     string `json:"token,omitempty"`
	IsCreator bool   `json:"isCreator,omitempty"`
}

type JoinRoomResponse struct {
	JoinResult
}

type UpdateRoomRequest struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId,omitempty"`
	Token         string `json:"token,omitempty"`
	SettingsPatch
}

type UpdateRoomResponse struct {
	Room *models.Room `json:"room"`
}

type SubmitVoteRequest struct {
	RoomID          string  `json:"roomId"`
	ParticipantID   string  `json:"participantId"`
	ComplexityValue *string `json:"complexityValue,omitempty"`
	TimeValue       *string `json:"timeValue,omitempty"`
}

type SubmitVoteResponse struct {
	Vote *models.Vote `json:"vote"`
}

type RevealVotesRequest struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId,omitempty"`
}

type RevealVotesResponse struct {
	models.RoomSnapshot
}

type NextRoundRequest struct {
	RoomID        string  `json:"roomId"`
	ParticipantID string  `json:"participantId,omitempty"`
	Description   *string `json:"description,omitempty"`
}

type NextRoundResponse struct {
	models.RoomSnapshot
}

type GetHistoryRequest struct {
	RoomID string `json:"roomId"`
}

type GetHistoryResponse struct {
	History []models.VotingHistory `json:"history"`
}

type KickParticipantRequest struct {
	RoomID string `json:"roomId"`
	// ParticipantID is the caller; TargetParticipantID is removed.
	ParticipantID       string `json:"participantId,omitempty"`
	Token               string `json:"token,omitempty"`
	TargetParticipantID string `json:"targetParticipantId"`
}

type KickParticipantResponse struct {
	models.RoomSnapshot
}
