package models

import "time"

// Participant is one person attached to a room.
type Participant struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Name      string    `json:"name"`
	IsCreator bool      `json:"isCreator"`
	JoinedAt  time.Time `json:"joinedAt"`

	// Token is the participant's session secret. It is handed out once on
	// join and never serialized with the participant.
	Token string `json:"-"`
}
