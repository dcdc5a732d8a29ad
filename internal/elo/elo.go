// Package elo implements the logistic-expectation rating update used to
// settle duels, and the fixed rating-band table.
package elo

import "math"

// Match scores for Delta.
const (
	Win  = 1.0
	Draw = 0.5
	Loss = 0.0
)

// DefaultK is the maximum absolute rating change per match.
const DefaultK = 32

// Delta returns the rating change for a player with the given rating
// against an opponent, for score s (Win, Draw or Loss), rounded to one
// decimal place. The loser's change is the negation of the winner's.
func Delta(rating, opponent, s, k float64) float64 {
	e := 1 / (1 + math.Pow(10, (opponent-rating)/400))
	return Round1(k * (s - e))
}

// Round1 rounds to one decimal place, the precision ratings are kept at.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// band is one row of the rank threshold table.
type band struct {
	name string
	min  float64
}

// bands is ordered by ascending threshold; RankFor picks the last band
// whose threshold the rating reaches.
var bands = []band{
	{"Bronze", 0},
	{"Silver", 1200},
	{"Gold", 1700},
	{"Elite", 2300},
	{"Sensei", 3000},
	{"Legend", 5000},
}

// RankFor maps a rating to its band label.
func RankFor(rating float64) string {
	rank := bands[0].name
	for _, b := range bands {
		if rating >= b.min {
			rank = b.name
		}
	}
	return rank
}
