package models

import "time"

// VotingHistory is the immutable summary of one completed round.
type VotingHistory struct {
	ID          int64     `json:"id"`
	RoomID      string    `json:"roomId"`
	Round       int       `json:"round"`
	Description string    `json:"description"`
	CompletedAt time.Time `json:"completedAt"`

	ComplexityConsensus *string `json:"complexityConsensus"`
	ComplexityAverage   *string `json:"complexityAverage"`
	ComplexityMin       *string `json:"complexityMin"`
	ComplexityMax       *string `json:"complexityMax"`

	TimeConsensus *string `json:"timeConsensus"`
	TimeAverage   *string `json:"timeAverage"`
	TimeMin       *string `json:"timeMin"`
	TimeMax       *string `json:"timeMax"`
}
