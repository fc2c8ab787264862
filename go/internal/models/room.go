package models

import (
	"time"
)

// VotingSystem names a complexity deck.
type VotingSystem string

const (
	VotingSystemFibonacci         VotingSystem = "fibonacci"
	VotingSystemModifiedFibonacci VotingSystem = "modified_fibonacci"
	VotingSystemTShirt            VotingSystem = "tshirt"
	VotingSystemPowersOfTwo       VotingSystem = "powers_of_2"
	VotingSystemLinear            VotingSystem = "linear"
	VotingSystemCustom            VotingSystem = "custom"
)

// TimeUnit names a time-estimate deck.
type TimeUnit string

const (
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
	TimeUnitDays    TimeUnit = "days"
)

// Room represents a planning session.
type Room struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	VotingSystem       VotingSystem `json:"votingSystem"`
	TimeUnits          TimeUnit     `json:"timeUnits"`
	ComplexityValues   []string     `json:"complexityValues"`
	TimeValues         []string     `json:"timeValues"`
	DualVoting         bool         `json:"dualVoting"`
	AutoReveal         bool         `json:"autoReveal"`
	CurrentRound       int          `json:"currentRound"`
	CurrentDescription string       `json:"currentDescription"`
	Revealed           bool         `json:"isRevealed"`
	CreatedBy          *string      `json:"createdBy,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`

	// Version increments on every update and backs optimistic concurrency
	// in persistent stores.
	Version int64 `json:"-"`
}

// Clone returns a deep copy so callers can never alias store-owned slices.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.ComplexityValues = append([]string(nil), r.ComplexityValues...)
	c.TimeValues = append([]string(nil), r.TimeValues...)
	if r.CreatedBy != nil {
		createdBy := *r.CreatedBy
		c.CreatedBy = &createdBy
	}
	return &c
}

// AcceptsComplexity reports whether value belongs to the room's complexity deck.
func (r *Room) AcceptsComplexity(value string) bool {
	return contains(r.ComplexityValues, value)
}

// AcceptsTime reports whether value belongs to the room's time deck.
func (r *Room) AcceptsTime(value string) bool {
	return contains(r.TimeValues, value)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
