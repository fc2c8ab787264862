package gateway

import (
	"encoding/json"
	"fmt"
)

// MessageType names a websocket envelope.
type MessageType string

// Client to server.
const (
	MessageJoinRoom        MessageType = "join_room"
	MessageVote            MessageType = "vote"
	MessageRevealVotes     MessageType = "reveal_votes"
	MessageNextRound       MessageType = "next_round"
	MessageKickParticipant MessageType = "kick_participant"
)

// Server to client.
const (
	MessageRoomUpdate MessageType = "room_update"
	MessageKicked     MessageType = "kicked"
	MessageError      MessageType = "error"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoomPayload binds the connection to a participant. Token is the
// session token returned by the JoinRoom RPC.
type JoinRoomPayload struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Token         string `json:"token"`
}

// Action payloads name the room (and voter) they target. When present they
// must match the connection's binding.

type VotePayload struct {
	RoomID          string  `json:"roomId,omitempty"`
	ParticipantID   string  `json:"participantId,omitempty"`
	ComplexityValue *string `json:"complexityValue,omitempty"`
	TimeValue       *string `json:"timeValue,omitempty"`
}

type RevealVotesPayload struct {
	RoomID string `json:"roomId,omitempty"`
}

type NextRoundPayload struct {
	RoomID      string  `json:"roomId,omitempty"`
	Description *string `json:"description,omitempty"`
}

type KickParticipantPayload struct {
	RoomID        string `json:"roomId,omitempty"`
	ParticipantID string `json:"participantId"`
}

type KickedPayload struct {
	RoomID string `json:"roomId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	// Request echoes the type of the inbound message that failed, if any.
	Request MessageType `json:"request,omitempty"`
}

// Encode builds an envelope frame around payload.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}
