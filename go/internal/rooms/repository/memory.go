package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

type voteKey struct {
	participantID string
	round         int
}

type historyKey struct {
	roomID string
	round  int
}

// MemoryStore keeps everything in process memory behind one RWMutex. Every
// value handed out is a copy.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	rooms        map[string]*models.Room
	participants map[string]*models.Participant
	votes        map[voteKey]*models.Vote
	history      map[historyKey]*models.VotingHistory

	nextVoteID    int64
	nextHistoryID int64
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:        clock,
		rooms:        make(map[string]*models.Room),
		participants: make(map[string]*models.Participant),
		votes:        make(map[voteKey]*models.Vote),
		history:      make(map[historyKey]*models.VotingHistory),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[req.ID]; ok {
		return nil, ErrRoomExists
	}
	now := s.clock.Now().UTC()
	room := &models.Room{
		ID:               req.ID,
		Name:             req.Name,
		VotingSystem:     req.VotingSystem,
		TimeUnits:        req.TimeUnits,
		ComplexityValues: append([]string(nil), req.ComplexityValues...),
		TimeValues:       append([]string(nil), req.TimeValues...),
		DualVoting:       req.DualVoting,
		AutoReveal:       req.AutoReveal,
		CurrentRound:     1,
		CreatedBy:        req.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	s.rooms[room.ID] = room
	return room.Clone(), nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id string) (*models.Room, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, false, nil
	}
	return room.Clone(), true, nil
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, id string, patch RoomPatch) (*models.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, false, nil
	}
	if patch.ExpectRound != nil && room.CurrentRound != *patch.ExpectRound {
		return nil, true, ErrRoundChanged
	}
	patch.apply(room)
	room.Version++
	room.UpdatedAt = s.clock.Now().UTC()
	return room.Clone(), true, nil
}

func (s *MemoryStore) CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[req.RoomID]; !ok {
		return nil, ErrRoomMissing
	}
	if _, ok := s.participants[req.ID]; ok {
		return nil, ErrParticipantExists
	}

	hasCreator, members := false, 0
	for _, p := range s.participants {
		if p.RoomID != req.RoomID {
			continue
		}
		members++
		if p.IsCreator {
			hasCreator = true
		}
	}

	p := &models.Participant{
		ID:        req.ID,
		RoomID:    req.RoomID,
		Name:      req.Name,
		IsCreator: !hasCreator && (req.WantCreator || members == 0),
		JoinedAt:  s.clock.Now().UTC(),
		Token:     req.Token,
	}
	s.participants[p.ID] = p
	out := *p
	return &out, nil
}

func (s *MemoryStore) GetParticipant(ctx context.Context, id string) (*models.Participant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, false, nil
	}
	out := *p
	return &out, true, nil
}

func (s *MemoryStore) GetParticipantsByRoom(ctx context.Context, roomID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Participant{}
	for _, p := range s.participants {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[id]; !ok {
		return false, nil
	}
	delete(s.participants, id)
	for k := range s.votes {
		if k.participantID == id {
			delete(s.votes, k)
		}
	}
	return true, nil
}

func (s *MemoryStore) CreateOrUpdateVote(ctx context.Context, req UpsertVoteRequest) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[req.RoomID]; !ok {
		return nil, ErrRoomMissing
	}
	if _, ok := s.participants[req.ParticipantID]; !ok {
		return nil, ErrParticipantMissing
	}

	key := voteKey{participantID: req.ParticipantID, round: req.Round}
	now := s.clock.Now().UTC()
	v, ok := s.votes[key]
	if !ok {
		s.nextVoteID++
		v = &models.Vote{
			ID:            s.nextVoteID,
			RoomID:        req.RoomID,
			ParticipantID: req.ParticipantID,
			Round:         req.Round,
		}
		s.votes[key] = v
	}
	if req.ComplexityValue != nil {
		c := *req.ComplexityValue
		v.ComplexityValue = &c
	}
	if req.TimeValue != nil {
		t := *req.TimeValue
		v.TimeValue = &t
	}
	v.VotedAt = now
	return copyVote(v), nil
}

func (s *MemoryStore) GetVotesByRoomAndRound(ctx context.Context, roomID string, round int) ([]models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Vote{}
	for _, v := range s.votes {
		if v.RoomID == roomID && v.Round == round {
			out = append(out, *copyVote(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetVoteByParticipantAndRound(ctx context.Context, participantID string, round int) (*models.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.votes[voteKey{participantID: participantID, round: round}]
	if !ok {
		return nil, false, nil
	}
	return copyVote(v), true, nil
}

func (s *MemoryStore) CreateVotingHistory(ctx context.Context, req CreateHistoryRequest) (*models.VotingHistory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[req.RoomID]; !ok {
		return nil, false, ErrRoomMissing
	}
	key := historyKey{roomID: req.RoomID, round: req.Round}
	if existing, ok := s.history[key]; ok {
		out := *existing
		return &out, false, nil
	}
	s.nextHistoryID++
	h := req.toModel()
	h.ID = s.nextHistoryID
	h.CompletedAt = s.clock.Now().UTC()
	s.history[key] = &h
	out := h
	return &out, true, nil
}

func (s *MemoryStore) GetVotingHistoryByRoom(ctx context.Context, roomID string) ([]models.VotingHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.VotingHistory{}
	for k, h := range s.history {
		if k.roomID == roomID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round > out[j].Round })
	return out, nil
}

func copyVote(v *models.Vote) *models.Vote {
	out := *v
	if v.ComplexityValue != nil {
		c := *v.ComplexityValue
		out.ComplexityValue = &c
	}
	if v.TimeValue != nil {
		t := *v.TimeValue
		out.TimeValue = &t
	}
	return &out
}
