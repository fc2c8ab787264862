// Package votestats turns raw per-participant votes into round summaries.
// Everything here is pure and safe for concurrent use.
package votestats

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Unknown is the deck card meaning "no idea"; it never contributes to numeric
// aggregates.
const Unknown = "?"

var tshirtScale = map[string]float64{
	"XS":  1,
	"S":   2,
	"M":   3,
	"L":   4,
	"XL":  5,
	"XXL": 6,
}

// Ballot is one vote value together with who cast it.
type Ballot struct {
	Value string
	Voter string
}

// Summary describes one dimension of one round. Count == 0 means no data.
type Summary struct {
	Count      int
	HasNumeric bool

	Average   string
	Min       string
	Max       string
	Consensus string

	MinValues []string
	MaxValues []string
	MinVoters []string
	MaxVoters []string
}

// Project maps a vote value to its numeric projection. The second return is
// false when the value is excluded from numeric aggregation.
func Project(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == Unknown {
		return 0, false
	}
	if n, ok := tshirtScale[strings.ToUpper(value)]; ok {
		return n, true
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		a, errA := strconv.ParseFloat(num, 64)
		b, errB := strconv.ParseFloat(den, 64)
		if errA != nil || errB != nil || b == 0 {
			return 0, false
		}
		return finite(a / b)
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return finite(n)
}

// finite rejects NaN and infinities, which ParseFloat accepts by name.
func finite(n float64) (float64, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// Summarize aggregates anonymous vote values.
func Summarize(values []string) Summary {
	ballots := make([]Ballot, len(values))
	for i, v := range values {
		ballots[i] = Ballot{Value: v}
	}
	return SummarizeBallots(ballots)
}

// SummarizeBallots aggregates ballots, keeping voter names for the extremes.
func SummarizeBallots(ballots []Ballot) Summary {
	var s Summary
	if len(ballots) == 0 {
		return s
	}
	s.Count = len(ballots)
	s.Consensus = consensus(ballots)

	var (
		sum      float64
		included int
		min, max float64
	)
	for _, b := range ballots {
		n, ok := Project(b.Value)
		if !ok {
			continue
		}
		if included == 0 || n < min {
			min = n
		}
		if included == 0 || n > max {
			max = n
		}
		sum += n
		included++
	}
	if included == 0 {
		return s
	}

	s.HasNumeric = true
	s.Average = strconv.FormatFloat(sum/float64(included), 'f', 1, 64)
	s.MinValues, s.MinVoters = extremes(ballots, min)
	s.MaxValues, s.MaxVoters = extremes(ballots, max)
	if len(s.MinValues) > 0 {
		s.Min = s.MinValues[0]
	}
	if len(s.MaxValues) > 0 {
		s.Max = s.MaxValues[0]
	}
	return s
}

// consensus returns the most frequent raw value. Ties go to the
// lexicographically smallest value so the result never depends on input order.
func consensus(ballots []Ballot) string {
	counts := make(map[string]int, len(ballots))
	for _, b := range ballots {
		counts[b.Value]++
	}
	best, bestCount := "", 0
	for value, n := range counts {
		if n > bestCount || (n == bestCount && value < best) {
			best, bestCount = value, n
		}
	}
	return best
}

// extremes collects the distinct original values (in first-seen order) and
// voters whose projection equals target.
func extremes(ballots []Ballot, target float64) ([]string, []string) {
	var values, voters []string
	seen := make(map[string]bool)
	for _, b := range ballots {
		n, ok := Project(b.Value)
		if !ok || n != target {
			continue
		}
		if !seen[b.Value] {
			seen[b.Value] = true
			values = append(values, b.Value)
		}
		if b.Voter != "" {
			voters = append(voters, b.Voter)
		}
	}
	sort.Strings(voters)
	return values, voters
}
