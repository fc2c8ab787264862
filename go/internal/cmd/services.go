package main

import (
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/prometheus/client_golang/prometheus"
)

type Services struct {
	Rooms     *rooms.Service
	Hub       *gateway.Hub
	WebSocket *gateway.WebSocketHandler
	// Relay is nil when NATS is not configured
	Relay *gateway.NATSRelay
}

func setupServices(cfg *config.Config, repo rooms.Repository) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App (coordinator) → Service (RPC) and Hub (websocket)

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.PingInterval = cfg.WSPingInterval
	connCfg.ReadTimeout = cfg.WSReadTimeout
	connCfg.SendBufferSize = cfg.WSSendBuffer
	connCfg.Registerer = prometheus.DefaultRegisterer

	roomsApp := rooms.NewApp(repo,
		rooms.WithCatalog(cfg.RoomCatalog()),
		rooms.WithRegisterer(prometheus.DefaultRegisterer),
	)
	hub := gateway.NewHub(connCfg, roomsApp)

	publishers := rooms.Publishers{hub}
	var relay *gateway.NATSRelay
	if cfg.NATSURL != "" {
		relayCfg := gateway.DefaultRelayConfig()
		relayCfg.URL = cfg.NATSURL
		relayCfg.SubjectPrefix = cfg.NATSSubjectPrefix

		var err error
		relay, err = gateway.NewNATSRelay(hub, relayCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create room event relay: %w", err)
		}
		publishers = append(publishers, relay)
	}
	roomsApp.SetPublisher(publishers)

	return &Services{
		Rooms:     rooms.NewService(roomsApp),
		Hub:       hub,
		WebSocket: gateway.NewWebSocketHandler(hub),
		Relay:     relay,
	}, nil
}
