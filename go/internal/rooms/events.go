package rooms

import (
	"context"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

type EventType string

const (
	EventRoomUpdated       EventType = "room_updated"
	EventParticipantKicked EventType = "participant_kicked"
)

// RoomEvent is emitted after every committed mutation. Snapshot reflects the
// room immediately after that mutation.
type RoomEvent struct {
	Type          EventType            `json:"type"`
	RoomID        string               `json:"roomId"`
	ParticipantID string               `json:"participantId,omitempty"`
	Snapshot      *models.RoomSnapshot `json:"snapshot"`
	// Origin identifies the process that produced the event.
	Origin string `json:"origin,omitempty"`
}

// Publisher receives room events. Publish is called while the room is locked
// and must not block.
type Publisher interface {
	Publish(ctx context.Context, event RoomEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event RoomEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event RoomEvent) error {
	return f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, RoomEvent) error { return nil }

// Publishers fans one event out to several publishers. All publishers are
// called; the first error is returned.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, event RoomEvent) error {
	var first error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
