package gateway

import (
	"context"
	"errors"

	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/rs/zerolog/log"
)

var (
	errNotJoined        = errors.New("join a room first")
	errUnknownMessage   = errors.New("unknown message type")
	errMissingRoomID    = errors.New("roomId is required")
	errMissingTargetID  = errors.New("participantId is required")
	errCoordinatorUnset = errors.New("coordinator not configured")
	// Payload ids that disagree with the connection's binding
	errRoomMismatch        = errors.New("roomId does not match the joined room")
	errParticipantMismatch = errors.New("participantId does not match the joined participant")
)

// handleClientMessage runs one inbound envelope to completion. Failures are
// reported to this connection only.
func (c *Connection) handleClientMessage(message []byte) {
	env, err := decodeEnvelope(message)
	if err != nil {
		c.hub.metrics.inbound.WithLabelValues("invalid", "error").Inc()
		c.replyError("", err)
		return
	}
	if c.hub.coordinator == nil {
		c.replyError(env.Type, errCoordinatorUnset)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.ActionTimeout)
	defer cancel()

	switch env.Type {
	case MessageJoinRoom:
		err = c.handleJoin(ctx, env)
	case MessageVote:
		err = c.handleVote(ctx, env)
	case MessageRevealVotes:
		err = c.handleReveal(ctx, env)
	case MessageNextRound:
		err = c.handleNextRound(ctx, env)
	case MessageKickParticipant:
		err = c.handleKick(ctx, env)
	default:
		c.hub.metrics.inbound.WithLabelValues("unknown", "error").Inc()
		c.replyError(env.Type, errUnknownMessage)
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("message_type", string(env.Type)).
			Msg("client message failed")
		c.replyError(env.Type, err)
	}
	c.hub.metrics.inbound.WithLabelValues(string(env.Type), outcome).Inc()
}

func (c *Connection) handleJoin(ctx context.Context, env Envelope) error {
	var payload JoinRoomPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	p, err := c.hub.coordinator.Authenticate(ctx, payload.RoomID, payload.ParticipantID, payload.Token)
	if err != nil {
		return err
	}
	c.hub.bind(c, p.RoomID, p.ID, payload.Token)
	return c.hub.coordinator.Announce(ctx, p.RoomID)
}

// target returns the room and participant bound to this connection. Ids named
// by the payload must agree with the binding.
func (c *Connection) target(roomID, participantID string) (string, string, error) {
	boundRoom, boundParticipant := c.binding()
	if boundRoom == "" {
		return "", "", errNotJoined
	}
	if roomID != "" && roomID != boundRoom {
		return "", "", errRoomMismatch
	}
	if participantID != "" && participantID != boundParticipant {
		return "", "", errParticipantMismatch
	}
	return boundRoom, boundParticipant, nil
}

func (c *Connection) handleVote(ctx context.Context, env Envelope) error {
	var payload VotePayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	roomID, participantID, err := c.target(payload.RoomID, payload.ParticipantID)
	if err != nil {
		return err
	}
	_, err = c.hub.coordinator.SubmitVote(ctx, rooms.VoteInput{
		RoomID:          roomID,
		ParticipantID:   participantID,
		ComplexityValue: payload.ComplexityValue,
		TimeValue:       payload.TimeValue,
	})
	return err
}

func (c *Connection) handleReveal(ctx context.Context, env Envelope) error {
	var payload RevealVotesPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	roomID, _, err := c.target(payload.RoomID, "")
	if err != nil {
		return err
	}
	_, err = c.hub.coordinator.Reveal(ctx, roomID)
	return err
}

func (c *Connection) handleNextRound(ctx context.Context, env Envelope) error {
	var payload NextRoundPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	roomID, _, err := c.target(payload.RoomID, "")
	if err != nil {
		return err
	}
	_, err = c.hub.coordinator.NextRound(ctx, roomID, payload.Description)
	return err
}

func (c *Connection) handleKick(ctx context.Context, env Envelope) error {
	var payload KickParticipantPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	roomID, participantID, err := c.target(payload.RoomID, "")
	if err != nil {
		return err
	}
	if payload.ParticipantID == "" {
		return errMissingTargetID
	}

	actor, err := c.hub.coordinator.ResolveActor(ctx, roomID, participantID, c.sessionToken(), c.Identity)
	if err != nil {
		return err
	}
	_, err = c.hub.coordinator.Kick(ctx, actor, roomID, payload.ParticipantID)
	return err
}
