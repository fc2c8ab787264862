package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/mcdev12/planningpoker/go/internal/syncclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func watchCommand() *cobra.Command {
	var (
		server        string
		roomID        string
		participantID string
		token         string
		userID        string
		pollOnly      bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room as a participant and log every state change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := commonRun(cmd)
			if err != nil {
				return err
			}
			if server == "" {
				server = "http://localhost:" + cfg.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, server, roomID, participantID, token, userID, pollOnly)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "base URL of the room server (default http://localhost:$PORT)")
	cmd.Flags().StringVar(&roomID, "room", "", "room to follow")
	cmd.Flags().StringVar(&participantID, "participant", "", "participant id inside the room")
	cmd.Flags().StringVar(&token, "token", "", "participant token returned by JoinRoom")
	cmd.Flags().StringVar(&userID, "user", "", "authenticated user id sent to the server")
	cmd.Flags().BoolVar(&pollOnly, "poll", false, "skip the push channel and poll")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

// pushURL maps an http(s) base URL to the websocket endpoint.
func pushURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

func watch(ctx context.Context, server, roomID, participantID, token, userID string, pollOnly bool) error {
	api := syncclient.NewRPCClient(nil, server)
	header := http.Header{}
	if userID != "" {
		api.SetHeader(rooms.HeaderUserID, userID)
		header.Set(rooms.HeaderUserID, userID)
	}

	var dialer syncclient.PushDialer
	if !pollOnly {
		wsURL, err := pushURL(server)
		if err != nil {
			return err
		}
		dialer = syncclient.WebSocketDialer{URL: wsURL, Header: header}
	}

	kicked := make(chan struct{})
	var once sync.Once
	adapter, err := syncclient.New(syncclient.Config{
		RoomID:        roomID,
		ParticipantID: participantID,
		Token:         token,
		Dialer:        dialer,
		API:           api,
		MaxRetries:    3,
	}, syncclient.Handlers{
		OnSnapshot: logSnapshot,
		OnKicked: func(string) {
			once.Do(func() { close(kicked) })
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("sync error")
		},
		OnModeChange: func(mode syncclient.Mode) {
			log.Info().Str("mode", string(mode)).Msg("sync mode changed")
		},
	})
	if err != nil {
		return err
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	select {
	case <-ctx.Done():
	case <-kicked:
	}
	return nil
}

func logSnapshot(snap *models.RoomSnapshot) {
	if snap == nil || snap.Room == nil {
		return
	}
	log.Info().
		Str("room_id", snap.Room.ID).
		Int("round", snap.Room.CurrentRound).
		Str("description", snap.Room.CurrentDescription).
		Bool("revealed", snap.Room.Revealed).
		Int("participants", len(snap.Participants)).
		Int("votes", len(snap.Votes)).
		Int("history", len(snap.History)).
		Msg("room state")
}
