package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// RelayConfig holds configuration for the cross-instance NATS relay
type RelayConfig struct {
	URL           string
	SubjectPrefix string // e.g., "planningpoker.rooms"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "planningpoker.rooms",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Deliverer accepts room events produced by other instances.
type Deliverer interface {
	Deliver(event rooms.RoomEvent)
}

// NATSRelay mirrors room events between instances sharing a store. Local
// events are published to <prefix>.<roomID>; events from other instances are
// handed to the local hub.
type NATSRelay struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	target     Deliverer
	config     RelayConfig
	instanceID string
}

// NewNATSRelay connects to NATS. Start must be called to receive events.
func NewNATSRelay(target Deliverer, config RelayConfig) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name("planningpoker-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	r := newRelay(target, config)
	r.nc = nc
	return r, nil
}

func newRelay(target Deliverer, config RelayConfig) *NATSRelay {
	return &NATSRelay{
		target:     target,
		config:     config,
		instanceID: uuid.NewString(),
	}
}

func (r *NATSRelay) subject(roomID string) string {
	return r.config.SubjectPrefix + "." + roomID
}

// Publish forwards a locally produced event to the other instances. Events
// that already carry an origin came from the relay and are not re-sent.
func (r *NATSRelay) Publish(_ context.Context, event rooms.RoomEvent) error {
	if event.Origin != "" {
		return nil
	}
	event.Origin = r.instanceID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	// nats.Conn.Publish buffers and does not block on the network
	if err := r.nc.Publish(r.subject(event.RoomID), data); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// Start subscribes to every room subject and runs until ctx is done.
func (r *NATSRelay) Start(ctx context.Context) error {
	filter := r.config.SubjectPrefix + ".>"
	sub, err := r.nc.Subscribe(filter, func(msg *nats.Msg) {
		if err := r.handle(msg.Data); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject).
				Msg("failed to process relayed event")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	r.sub = sub

	log.Info().
		Str("subject", filter).
		Str("instance_id", r.instanceID).
		Msg("room event relay started")

	<-ctx.Done()
	log.Info().Msg("room event relay shutting down")
	return r.Close()
}

// handle decodes one relayed event and feeds it to the hub unless this
// instance produced it.
func (r *NATSRelay) handle(data []byte) error {
	var event rooms.RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("unmarshal room event: %w", err)
	}
	if event.Origin == r.instanceID {
		return nil
	}
	if strings.TrimSpace(event.RoomID) == "" || event.Snapshot == nil {
		return fmt.Errorf("incomplete room event from %s", event.Origin)
	}

	log.Debug().
		Str("room_id", event.RoomID).
		Str("event_type", string(event.Type)).
		Str("origin", event.Origin).
		Msg("relayed room event")
	r.target.Deliver(event)
	return nil
}

// Close unsubscribes and drains the NATS connection.
func (r *NATSRelay) Close() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			log.Warn().Err(err).Msg("failed to unsubscribe relay")
		}
		r.sub = nil
	}
	if r.nc != nil && !r.nc.IsClosed() {
		if err := r.nc.Drain(); err != nil {
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	return nil
}
