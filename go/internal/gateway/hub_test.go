package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/mcdev12/planningpoker/go/internal/rooms/repository"
	"go.uber.org/goleak"
)

type testGateway struct {
	app    *rooms.App
	hub    *Hub
	server *httptest.Server
	stop   func()
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	app := rooms.NewApp(repository.NewMemoryStore(clockwork.NewFakeClock()))
	hub := NewHub(DefaultConnectionConfig(), app)
	app.SetPublisher(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Start(ctx)
		close(done)
	}()

	mux := http.NewServeMux()
	NewWebSocketHandler(hub).RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	g := &testGateway{app: app, hub: hub, server: server}
	var stopped bool
	g.stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		<-done
		server.Close()
	}
	t.Cleanup(g.stop)
	return g
}

func (g *testGateway) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (g *testGateway) room(t *testing.T) *models.Room {
	t.Helper()
	room, err := g.app.CreateRoom(context.Background(), models.Actor{Identity: models.Anonymous{}}, rooms.CreateRoomInput{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func (g *testGateway) participant(t *testing.T, roomID, name string) *models.Participant {
	t.Helper()
	res, err := g.app.JoinRoom(context.Background(), rooms.JoinInput{RoomID: roomID, Name: name, Identity: models.Anonymous{}})
	if err != nil {
		t.Fatalf("JoinRoom(%s): %v", name, err)
	}
	return res.Participant
}

func send(t *testing.T, conn *websocket.Conn, typ MessageType, payload any) {
	t.Helper()
	frame, err := Encode(typ, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// next reads envelopes until one of the given type is seen.
func next(t *testing.T, conn *websocket.Conn, typ MessageType) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if env.Type == typ {
			return env
		}
	}
}

// nextSnapshot reads room updates until match accepts one.
func nextSnapshot(t *testing.T, conn *websocket.Conn, match func(*models.RoomSnapshot) bool) *models.RoomSnapshot {
	t.Helper()
	for {
		env := next(t, conn, MessageRoomUpdate)
		var snap models.RoomSnapshot
		if err := env.DecodePayload(&snap); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if match(&snap) {
			return &snap
		}
	}
}

func join(t *testing.T, conn *websocket.Conn, roomID string, p *models.Participant) *models.RoomSnapshot {
	t.Helper()
	send(t, conn, MessageJoinRoom, JoinRoomPayload{RoomID: roomID, ParticipantID: p.ID, Token: p.Token})
	return nextSnapshot(t, conn, func(s *models.RoomSnapshot) bool { return s.Room.ID == roomID })
}

func ptr[T any](v T) *T { return &v }

func TestJoinRoomPushesSnapshot(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")

	conn := g.dial(t, nil)
	snap := join(t, conn, room.ID, alice)

	if len(snap.Participants) != 1 || snap.Participants[0].ID != alice.ID {
		t.Errorf("participants = %+v, want alice only", snap.Participants)
	}

	stats := g.hub.GetConnectionStats()
	if stats.TotalConnections != 1 || stats.RoomConnections[room.ID] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestJoinRoomRejectsStrangers(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	other := g.room(t)
	mallory := g.participant(t, other.ID, "mallory")

	conn := g.dial(t, nil)
	send(t, conn, MessageJoinRoom, JoinRoomPayload{RoomID: room.ID, ParticipantID: mallory.ID, Token: mallory.Token})

	var payload ErrorPayload
	if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Request != MessageJoinRoom {
		t.Errorf("request = %q, want %q", payload.Request, MessageJoinRoom)
	}
	if got := g.hub.GetConnectionStats().ActiveRooms; got != 0 {
		t.Errorf("active rooms = %d, want 0", got)
	}
}

func TestJoinRoomRequiresToken(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")
	bob := g.participant(t, room.ID, "bob")

	conn := g.dial(t, nil)
	for _, token := range []string{"", bob.Token} {
		send(t, conn, MessageJoinRoom, JoinRoomPayload{RoomID: room.ID, ParticipantID: alice.ID, Token: token})
		var payload ErrorPayload
		if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
			t.Fatal(err)
		}
		if payload.Message != rooms.ErrBadToken.Error() {
			t.Errorf("token %q: message = %q", token, payload.Message)
		}
	}
	if got := g.hub.GetConnectionStats().ActiveRooms; got != 0 {
		t.Errorf("active rooms = %d, want 0", got)
	}
}

func TestActionBeforeJoinIsRejected(t *testing.T) {
	g := newTestGateway(t)
	conn := g.dial(t, nil)

	for _, typ := range []MessageType{MessageVote, MessageRevealVotes, MessageNextRound, MessageKickParticipant} {
		send(t, conn, typ, nil)
		var payload ErrorPayload
		if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
			t.Fatal(err)
		}
		if payload.Request != typ || payload.Message != errNotJoined.Error() {
			t.Errorf("%s: got %+v", typ, payload)
		}
	}
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	g := newTestGateway(t)
	conn := g.dial(t, nil)

	send(t, conn, MessageType("dance"), nil)
	var payload ErrorPayload
	if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message != errUnknownMessage.Error() {
		t.Errorf("message = %q", payload.Message)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Request != "" {
		t.Errorf("request = %q, want empty", payload.Request)
	}
}

func TestVoteBroadcastsToRoom(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")
	bob := g.participant(t, room.ID, "bob")

	aliceConn := g.dial(t, nil)
	bobConn := g.dial(t, nil)
	join(t, aliceConn, room.ID, alice)
	join(t, bobConn, room.ID, bob)

	send(t, bobConn, MessageVote, VotePayload{ComplexityValue: ptr("5")})

	for name, conn := range map[string]*websocket.Conn{"alice": aliceConn, "bob": bobConn} {
		snap := nextSnapshot(t, conn, func(s *models.RoomSnapshot) bool { return len(s.Votes) == 1 })
		v := snap.Votes[0]
		if v.ParticipantID != bob.ID || v.ComplexityValue == nil || *v.ComplexityValue != "5" {
			t.Errorf("%s saw vote %+v", name, v)
		}
	}

	send(t, aliceConn, MessageRevealVotes, nil)
	snap := nextSnapshot(t, bobConn, func(s *models.RoomSnapshot) bool { return s.Room.Revealed })
	if len(snap.History) != 1 {
		t.Errorf("history = %d entries, want 1", len(snap.History))
	}

	send(t, aliceConn, MessageNextRound, NextRoundPayload{Description: ptr("checkout flow")})
	snap = nextSnapshot(t, bobConn, func(s *models.RoomSnapshot) bool { return s.Room.CurrentRound == 2 })
	if snap.Room.Revealed || len(snap.Votes) != 0 {
		t.Errorf("next round should reset votes: %+v", snap.Room)
	}
}

func TestActionForAnotherRoomIsRejected(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	roomA := g.room(t)
	roomB := g.room(t)
	alice := g.participant(t, roomA.ID, "alice")
	bob := g.participant(t, roomA.ID, "bob")
	g.participant(t, roomB.ID, "carol")

	conn := g.dial(t, nil)
	join(t, conn, roomA.ID, alice)

	tests := []struct {
		typ     MessageType
		payload any
		want    error
	}{
		{MessageVote, VotePayload{RoomID: roomB.ID, ComplexityValue: ptr("5")}, errRoomMismatch},
		{MessageVote, VotePayload{RoomID: roomA.ID, ParticipantID: bob.ID, ComplexityValue: ptr("5")}, errParticipantMismatch},
		{MessageRevealVotes, RevealVotesPayload{RoomID: roomB.ID}, errRoomMismatch},
		{MessageNextRound, NextRoundPayload{RoomID: roomB.ID}, errRoomMismatch},
		{MessageKickParticipant, KickParticipantPayload{RoomID: roomB.ID, ParticipantID: bob.ID}, errRoomMismatch},
	}
	for _, tt := range tests {
		send(t, conn, tt.typ, tt.payload)
		var payload ErrorPayload
		if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
			t.Fatal(err)
		}
		if payload.Request != tt.typ || payload.Message != tt.want.Error() {
			t.Errorf("%s: got %+v, want %q", tt.typ, payload, tt.want)
		}
	}

	for _, roomID := range []string{roomA.ID, roomB.ID} {
		snap, err := g.app.Snapshot(ctx, roomID)
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Votes) != 0 || snap.Room.Revealed || snap.Room.CurrentRound != 1 || len(snap.Participants) == 0 {
			t.Errorf("room %s changed: %+v", roomID, snap)
		}
	}

	// Matching ids are accepted
	send(t, conn, MessageVote, VotePayload{RoomID: roomA.ID, ParticipantID: alice.ID, ComplexityValue: ptr("5")})
	nextSnapshot(t, conn, func(s *models.RoomSnapshot) bool { return len(s.Votes) == 1 })
}

func TestInvalidVoteReportsError(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")

	conn := g.dial(t, nil)
	join(t, conn, room.ID, alice)

	send(t, conn, MessageVote, VotePayload{ComplexityValue: ptr("7")})
	var payload ErrorPayload
	if err := next(t, conn, MessageError).DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Request != MessageVote {
		t.Errorf("request = %q", payload.Request)
	}
}

func TestKickDisconnectsParticipantFromRoom(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")
	bob := g.participant(t, room.ID, "bob")
	if !alice.IsCreator || bob.IsCreator {
		t.Fatalf("alice should be the creator")
	}

	aliceConn := g.dial(t, nil)
	bobConn := g.dial(t, nil)
	join(t, aliceConn, room.ID, alice)
	join(t, bobConn, room.ID, bob)

	send(t, aliceConn, MessageKickParticipant, KickParticipantPayload{ParticipantID: bob.ID})

	var kicked KickedPayload
	if err := next(t, bobConn, MessageKicked).DecodePayload(&kicked); err != nil {
		t.Fatal(err)
	}
	if kicked.RoomID != room.ID {
		t.Errorf("kicked from %q, want %q", kicked.RoomID, room.ID)
	}

	snap := nextSnapshot(t, aliceConn, func(s *models.RoomSnapshot) bool { return len(s.Participants) == 1 })
	if snap.Participants[0].ID != alice.ID {
		t.Errorf("remaining participant = %s", snap.Participants[0].ID)
	}

	// bob is no longer bound to the room
	send(t, bobConn, MessageVote, VotePayload{ComplexityValue: ptr("3")})
	var payload ErrorPayload
	if err := next(t, bobConn, MessageError).DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message != errNotJoined.Error() {
		t.Errorf("message = %q", payload.Message)
	}
	if got := g.hub.GetConnectionStats().RoomConnections[room.ID]; got != 1 {
		t.Errorf("room connections = %d, want 1", got)
	}
}

func TestKickRequiresCreator(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")
	bob := g.participant(t, room.ID, "bob")

	bobConn := g.dial(t, nil)
	join(t, bobConn, room.ID, bob)

	send(t, bobConn, MessageKickParticipant, KickParticipantPayload{ParticipantID: alice.ID})
	var payload ErrorPayload
	if err := next(t, bobConn, MessageError).DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message != rooms.ErrForbidden.Error() {
		t.Errorf("message = %q", payload.Message)
	}
}

func TestRoomOwnerIdentityCanKick(t *testing.T) {
	g := newTestGateway(t)
	owner := models.AuthenticatedUser{ID: "user-1"}
	room, err := g.app.CreateRoom(context.Background(), models.Actor{Identity: owner}, rooms.CreateRoomInput{})
	if err != nil {
		t.Fatal(err)
	}
	first := g.participant(t, room.ID, "first")
	second := g.participant(t, room.ID, "second")
	if second.IsCreator {
		t.Fatalf("second joiner should not be creator")
	}

	header := http.Header{}
	header.Set(rooms.HeaderUserID, owner.ID)
	conn := g.dial(t, header)
	join(t, conn, room.ID, second)

	send(t, conn, MessageKickParticipant, KickParticipantPayload{ParticipantID: first.ID})
	nextSnapshot(t, conn, func(s *models.RoomSnapshot) bool { return len(s.Participants) == 1 })
}

func TestDisconnectUnbindsConnection(t *testing.T) {
	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")

	conn := g.dial(t, nil)
	join(t, conn, room.ID, alice)
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats := g.hub.GetConnectionStats()
		if stats.TotalConnections == 0 && stats.ActiveRooms == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection still registered: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatsHandler(t *testing.T) {
	g := newTestGateway(t)

	resp, err := http.Get(g.server.URL + "/ws/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalConnections != 0 || stats.ActiveRooms != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.EventBufferSize = 1
	hub := NewHub(cfg, nil)

	event := rooms.RoomEvent{Type: rooms.EventRoomUpdated, RoomID: "ABCDEF", Snapshot: &models.RoomSnapshot{}}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = hub.Publish(context.Background(), event)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestFullQueueKeepsLatestSnapshotPerRoom(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.EventBufferSize = 1
	hub := NewHub(cfg, nil)

	newConn := func(id string) *Connection {
		return &Connection{ID: id, Send: make(chan []byte, 16), done: make(chan struct{}), hub: hub}
	}
	watcher, kicked := newConn("c1"), newConn("c2")
	hub.bind(watcher, "ROOMAA", "p1", "t1")
	hub.bind(kicked, "ROOMAA", "p2", "t2")

	update := func(round int) rooms.RoomEvent {
		return rooms.RoomEvent{
			Type:     rooms.EventRoomUpdated,
			RoomID:   "ROOMAA",
			Snapshot: &models.RoomSnapshot{Room: &models.Room{ID: "ROOMAA", CurrentRound: round}},
		}
	}
	kick := update(3)
	kick.Type = rooms.EventParticipantKicked
	kick.ParticipantID = "p2"

	for _, event := range []rooms.RoomEvent{update(1), update(2), kick, update(4)} {
		_ = hub.Publish(context.Background(), event)
	}
	_ = hub.Publish(context.Background(), rooms.RoomEvent{
		Type:     rooms.EventRoomUpdated,
		RoomID:   "ROOMBB",
		Snapshot: &models.RoomSnapshot{Room: &models.Room{ID: "ROOMBB"}},
	})
	if len(hub.pending) != 2 {
		t.Fatalf("pending rooms = %d, want 2", len(hub.pending))
	}

	hub.flushPending()

	frames := func(c *Connection) []string {
		var out []string
		for {
			select {
			case frame := <-c.Send:
				var env Envelope
				if err := json.Unmarshal(frame, &env); err != nil {
					t.Fatal(err)
				}
				if env.Type != MessageRoomUpdate {
					out = append(out, string(env.Type))
					continue
				}
				var snap models.RoomSnapshot
				if err := env.DecodePayload(&snap); err != nil {
					t.Fatal(err)
				}
				out = append(out, fmt.Sprintf("round %d", snap.Room.CurrentRound))
			default:
				return out
			}
		}
	}

	want := []string{"round 1", "round 3", "round 4"}
	if got := frames(watcher); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("watcher frames = %v, want %v", got, want)
	}
	want = []string{"round 1", string(MessageKicked)}
	if got := frames(kicked); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("kicked frames = %v, want %v", got, want)
	}
	if roomID, _ := kicked.binding(); roomID != "" {
		t.Errorf("kicked connection still bound to %q", roomID)
	}
	if len(hub.pending) != 0 {
		t.Errorf("pending rooms after flush = %d", len(hub.pending))
	}

	// With nothing pending the queue is used again
	_ = hub.Publish(context.Background(), update(5))
	if len(hub.broadcastCh) != 1 {
		t.Errorf("queued events = %d, want 1", len(hub.broadcastCh))
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	g := newTestGateway(t)
	room := g.room(t)
	alice := g.participant(t, room.ID, "alice")

	conn := g.dial(t, nil)
	join(t, conn, room.ID, alice)

	g.stop()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	conn.Close()
	http.DefaultClient.CloseIdleConnections()
}
