package rooms

import "github.com/mcdev12/planningpoker/go/internal/models"

// Defaults applied to rooms created without explicit settings.
const (
	DefaultRoomName     = "Planning Session"
	DefaultVotingSystem = models.VotingSystemFibonacci
	DefaultTimeUnits    = models.TimeUnitHours
	DefaultDualVoting   = true
	DefaultAutoReveal   = false
)

// Catalog maps named voting systems and time units to their decks.
type Catalog struct {
	VotingSystems map[models.VotingSystem][]string `yaml:"voting_systems"`
	TimeUnits     map[models.TimeUnit][]string     `yaml:"time_units"`
}

// DefaultCatalog returns the built-in decks.
func DefaultCatalog() Catalog {
	return Catalog{
		VotingSystems: map[models.VotingSystem][]string{
			models.VotingSystemFibonacci:         {"1", "2", "3", "5", "8", "13", "21", "34", "?"},
			models.VotingSystemModifiedFibonacci: {"0", "1/2", "1", "2", "3", "5", "8", "13", "20", "40", "100", "?"},
			models.VotingSystemTShirt:            {"XS", "S", "M", "L", "XL", "XXL", "?"},
			models.VotingSystemPowersOfTwo:       {"1", "2", "4", "8", "16", "32", "?"},
			models.VotingSystemLinear:            {"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "?"},
		},
		TimeUnits: map[models.TimeUnit][]string{
			models.TimeUnitMinutes: {"5", "10", "15", "30", "45", "60", "90", "120", "?"},
			models.TimeUnitHours:   {"1", "2", "4", "6", "8", "12", "16", "20", "24", "32", "40", "?"},
			models.TimeUnitDays:    {"0.5", "1", "1.5", "2", "2.5", "3", "5", "?"},
		},
	}
}

// Merge overlays other on top of c. Empty decks in other are ignored.
func (c Catalog) Merge(other Catalog) Catalog {
	out := Catalog{
		VotingSystems: make(map[models.VotingSystem][]string, len(c.VotingSystems)),
		TimeUnits:     make(map[models.TimeUnit][]string, len(c.TimeUnits)),
	}
	for k, v := range c.VotingSystems {
		out.VotingSystems[k] = v
	}
	for k, v := range c.TimeUnits {
		out.TimeUnits[k] = v
	}
	for k, v := range other.VotingSystems {
		if len(v) > 0 {
			out.VotingSystems[k] = v
		}
	}
	for k, v := range other.TimeUnits {
		if len(v) > 0 {
			out.TimeUnits[k] = v
		}
	}
	return out
}

func (c Catalog) ComplexityDeck(system models.VotingSystem) ([]string, bool) {
	deck, ok := c.VotingSystems[system]
	if !ok || len(deck) == 0 {
		return nil, false
	}
	return append([]string(nil), deck...), true
}

func (c Catalog) TimeDeck(unit models.TimeUnit) ([]string, bool) {
	deck, ok := c.TimeUnits[unit]
	if !ok || len(deck) == 0 {
		return nil, false
	}
	return append([]string(nil), deck...), true
}
