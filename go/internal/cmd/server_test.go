package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/mcdev12/planningpoker/go/internal/syncclient"
)

// Only one test may call setupServices: it registers on the default
// Prometheus registry.
func TestServerOverSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	repo, closeStore, err := setupStore(ctx, dbconfig.Config{
		Driver:     dbconfig.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "rooms.db"),
	})
	if err != nil {
		t.Fatalf("setupStore: %v", err)
	}
	t.Cleanup(func() { _ = closeStore() })

	services, err := setupServices(cfg, repo)
	if err != nil {
		t.Fatalf("setupServices: %v", err)
	}
	if services.Relay != nil {
		t.Error("relay should be nil without NATS_URL")
	}

	srv := httptest.NewServer(setupServer(cfg, services).Handler)
	t.Cleanup(srv.Close)

	t.Run("health", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Errorf("health = %d %q", resp.StatusCode, body)
		}
	})

	t.Run("room lifecycle", func(t *testing.T) {
		client := rooms.NewRoomServiceClient(srv.Client(), srv.URL)
		created, err := client.CreateRoom(ctx, connect.NewRequest(&rooms.CreateRoomRequest{
			CreateRoomInput: rooms.CreateRoomInput{Name: "Backlog grooming"},
		}))
		if err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
		roomID := created.Msg.Room.ID
		if _, err := client.JoinRoom(ctx, connect.NewRequest(&rooms.JoinRoomRequest{RoomID: roomID, Name: "Dana"})); err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}

		api := syncclient.NewRPCClient(srv.Client(), srv.URL)
		snap, err := api.GetRoom(ctx, roomID)
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if snap.Room.Name != "Backlog grooming" || len(snap.Participants) != 1 {
			t.Errorf("snapshot = %+v", snap)
		}

		_, err = api.GetRoom(ctx, "NOPE00")
		if connect.CodeOf(err) != connect.CodeNotFound {
			t.Errorf("missing room code = %v", connect.CodeOf(err))
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "planningpoker_rooms_created_total") {
			t.Error("room metrics not exposed")
		}
	})
}

func TestSQLDriverName(t *testing.T) {
	tests := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{driver: dbconfig.DriverPostgres, want: "postgres"},
		{driver: dbconfig.DriverSQLite, want: "sqlite"},
		{driver: dbconfig.DriverMemory, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, _, err := sqlDriverName(tt.driver)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("driver name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPushURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{server: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{server: "https://poker.example.com/", want: "wss://poker.example.com/ws"},
		{server: "ftp://example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := pushURL(tt.server)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("pushURL = %q, want %q", got, tt.want)
			}
		})
	}
}
