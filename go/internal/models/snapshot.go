package models

// RoomSnapshot is the complete state of a room as pushed to clients. It always
// carries the full roster and the full current-round vote set.
type RoomSnapshot struct {
	Room         *Room           `json:"room"`
	Participants []Participant   `json:"participants"`
	Votes        []Vote          `json:"votes"`
	History      []VotingHistory `json:"history"`
}
