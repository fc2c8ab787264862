package rooms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms/repository"
)

func newTestServer(t *testing.T) (*RoomServiceClient, *recorder) {
	t.Helper()
	rec := &recorder{}
	app := NewApp(repository.NewMemoryStore(clockwork.NewFakeClock()), WithPublisher(rec))

	mux := http.NewServeMux()
	path, handler := NewRoomServiceHandler(NewService(app))
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewRoomServiceClient(srv.Client(), srv.URL), rec
}

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	created, err := client.CreateRoom(ctx, connect.NewRequest(&CreateRoomRequest{
		CreateRoomInput: CreateRoomInput{Name: "Sprint 7", DualVoting: ptr(false)},
	}))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	roomID := created.Msg.Room.ID

	joined, err := client.JoinRoom(ctx, connect.NewRequest(&JoinRoomRequest{RoomID: roomID, Name: "Alice"}))
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	alice := joined.Msg.Participant
	if !alice.IsCreator {
		t.Error("first joiner should be creator")
	}

	if _, err := client.SubmitVote(ctx, connect.NewRequest(&SubmitVoteRequest{
		RoomID: roomID, ParticipantID: alice.ID, ComplexityValue: ptr("8"),
	})); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}

	revealed, err := client.RevealVotes(ctx, connect.NewRequest(&RevealVotesRequest{RoomID: roomID, ParticipantID: alice.ID}))
	if err != nil {
		t.Fatalf("RevealVotes: %v", err)
	}
	if !revealed.Msg.Room.Revealed || len(revealed.Msg.Votes) != 1 {
		t.Errorf("reveal response = %+v", revealed.Msg.RoomSnapshot)
	}

	next, err := client.NextRound(ctx, connect.NewRequest(&NextRoundRequest{RoomID: roomID, Description: ptr("Search")}))
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if next.Msg.Room.CurrentRound != 2 || next.Msg.Room.CurrentDescription != "Search" {
		t.Errorf("next round = %+v", next.Msg.Room)
	}

	history, err := client.GetHistory(ctx, connect.NewRequest(&GetHistoryRequest{RoomID: roomID}))
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history.Msg.History) != 1 || *history.Msg.History[0].ComplexityConsensus != "8" {
		t.Errorf("history = %+v", history.Msg.History)
	}

	room, err := client.GetRoom(ctx, connect.NewRequest(&GetRoomRequest{RoomID: roomID}))
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Msg.Room.Name != "Sprint 7" || len(room.Msg.Participants) != 1 {
		t.Errorf("snapshot = %+v", room.Msg.RoomSnapshot)
	}
}

func TestServiceErrorCodes(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	_, err := client.GetRoom(ctx, connect.NewRequest(&GetRoomRequest{RoomID: "NOPE00"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("missing room code = %v", connect.CodeOf(err))
	}

	created, err := client.CreateRoom(ctx, connect.NewRequest(&CreateRoomRequest{}))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	roomID := created.Msg.Room.ID
	alice, err := client.JoinRoom(ctx, connect.NewRequest(&JoinRoomRequest{RoomID: roomID, Name: "Alice"}))
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	bob, err := client.JoinRoom(ctx, connect.NewRequest(&JoinRoomRequest{RoomID: roomID, Name: "Bob"}))
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	_, err = client.SubmitVote(ctx, connect.NewRequest(&SubmitVoteRequest{
		RoomID: roomID, ParticipantID: bob.Msg.Participant.ID, ComplexityValue: ptr("4"),
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("off-deck vote code = %v", connect.CodeOf(err))
	}

	_, err = client.KickParticipant(ctx, connect.NewRequest(&KickParticipantRequest{
		RoomID: roomID, ParticipantID: bob.Msg.Participant.ID, TargetParticipantID: alice.Msg.Participant.ID,
	}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("unprivileged kick code = %v", connect.CodeOf(err))
	}

	_, err = client.GetRoom(ctx, connect.NewRequest(&GetRoomRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("missing room id code = %v", connect.CodeOf(err))
	}
}

func TestServiceCreatorNeedsToken(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	created, err := client.CreateRoom(ctx, connect.NewRequest(&CreateRoomRequest{}))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	roomID := created.Msg.Room.ID
	alice, err := client.JoinRoom(ctx, connect.NewRequest(&JoinRoomRequest{RoomID: roomID, Name: "Alice"}))
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	bob, err := client.JoinRoom(ctx, connect.NewRequest(&JoinRoomRequest{RoomID: roomID, Name: "Bob"}))
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if alice.Msg.Token == "" || bob.Msg.Token == "" {
		t.Fatal("join should return a session token")
	}
	aliceID, bobID := alice.Msg.Participant.ID, bob.Msg.Participant.ID

	_, err = client.KickParticipant(ctx, connect.NewRequest(&KickParticipantRequest{
		RoomID: roomID, ParticipantID: aliceID, TargetParticipantID: bobID,
	}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("kick as creator without token code = %v", connect.CodeOf(err))
	}

	_, err = client.UpdateRoom(ctx, connect.NewRequest(&UpdateRoomRequest{
		RoomID: roomID, ParticipantID: aliceID, Token: bob.Msg.Token,
		SettingsPatch: SettingsPatch{AutoReveal: ptr(true)},
	}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("update with another participant's token code = %v", connect.CodeOf(err))
	}

	kicked, err := client.KickParticipant(ctx, connect.NewRequest(&KickParticipantRequest{
		RoomID: roomID, ParticipantID: aliceID, Token: alice.Msg.Token, TargetParticipantID: bobID,
	}))
	if err != nil {
		t.Fatalf("KickParticipant: %v", err)
	}
	if len(kicked.Msg.Participants) != 1 {
		t.Errorf("participants after kick = %d", len(kicked.Msg.Participants))
	}
}

func TestServiceOwnerIdentityFromHeaders(t *testing.T) {
	ctx := context.Background()
	client, rec := newTestServer(t)

	createReq := connect.NewRequest(&CreateRoomRequest{})
	createReq.Header().Set(HeaderUserID, "user-42")
	created, err := client.CreateRoom(ctx, createReq)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	roomID := created.Msg.Room.ID
	if created.Msg.Room.CreatedBy == nil || *created.Msg.Room.CreatedBy != "user-42" {
		t.Fatalf("CreatedBy = %v", created.Msg.Room.CreatedBy)
	}

	guest, err := client.JoinRoom(ctx, connect.NewRequest(&JoinRoomRequest{RoomID: roomID, Name: "Guest"}))
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	updateReq := connect.NewRequest(&UpdateRoomRequest{
		RoomID:        roomID,
		SettingsPatch: SettingsPatch{VotingSystem: ptr(models.VotingSystemPowersOfTwo)},
	})
	updateReq.Header().Set(HeaderUserID, "user-42")
	updated, err := client.UpdateRoom(ctx, updateReq)
	if err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	if updated.Msg.Room.VotingSystem != models.VotingSystemPowersOfTwo {
		t.Errorf("voting system = %q", updated.Msg.Room.VotingSystem)
	}

	kickReq := connect.NewRequest(&KickParticipantRequest{RoomID: roomID, TargetParticipantID: guest.Msg.Participant.ID})
	kickReq.Header().Set(HeaderUserID, "user-42")
	kicked, err := client.KickParticipant(ctx, kickReq)
	if err != nil {
		t.Fatalf("KickParticipant: %v", err)
	}
	if len(kicked.Msg.Participants) != 0 {
		t.Errorf("participants after kick = %d", len(kicked.Msg.Participants))
	}
	if ev := rec.last(); ev.Type != EventParticipantKicked {
		t.Errorf("last event = %s", ev.Type)
	}
}

func TestIdentityFromHeaders(t *testing.T) {
	h := http.Header{}
	if _, ok := IdentityFromHeaders(h).(models.Anonymous); !ok {
		t.Error("no headers should be anonymous")
	}
	h.Set(HeaderUserID, "u1")
	h.Set(HeaderUserEmail, "u1@example.com")
	h.Set(HeaderUserName, "User One")
	got, ok := IdentityFromHeaders(h).(models.AuthenticatedUser)
	if !ok || got.ID != "u1" || got.Email != "u1@example.com" || got.DisplayName != "User One" {
		t.Errorf("identity = %#v", got)
	}
}
