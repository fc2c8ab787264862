package models

import "time"

// Vote is one participant's submission for one round. A nil value means the
// participant has not voted on that dimension yet.
type Vote struct {
	ID              int64     `json:"id"`
	RoomID          string    `json:"roomId"`
	ParticipantID   string    `json:"participantId"`
	Round           int       `json:"round"`
	ComplexityValue *string   `json:"complexityValue"`
	TimeValue       *string   `json:"timeValue"`
	VotedAt         time.Time `json:"votedAt"`
}

// Covers reports whether the vote has a value for every enabled dimension.
func (v *Vote) Covers(dualVoting bool) bool {
	if v == nil || v.ComplexityValue == nil {
		return false
	}
	if dualVoting && v.TimeValue == nil {
		return false
	}
	return true
}
