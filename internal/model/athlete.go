// Package model defines the warehouse entities shared by the valuation pipeline.
package model

import (
	"time"
)

// Athlete is the slowly changing athlete dimension, upserted by ID.
type Athlete struct {
	ID     string `json:"athlete_id"`
	Name   string `json:"name"`
	Sport  string `json:"sport"`
	School string `json:"school"`
}

// SocialObservation is one channel's daily social snapshot for an athlete.
type SocialObservation struct {
	AthleteID      string    `json:"athlete_id"`
	Channel        string    `json:"channel"`
	Date           time.Time `json:"date"`
	Followers      int64     `json:"followers"`
	EngagementRate float64   `json:"engagement_rate"`
	GrowthRate     float64   `json:"growth_rate"`
}

// SearchObservation is a daily search-interest reading for an athlete.
type SearchObservation struct {
	AthleteID     string    `json:"athlete_id"`
	Date          time.Time `json:"date"`
	InterestScore float64   `json:"interest_score"`
}

// BoxScore is a single game line for an athlete.
type BoxScore struct {
	AthleteID  string    `json:"athlete_id"`
	GameDate   time.Time `json:"game_date"`
	Opponent   string    `json:"opponent"`
	Points     float64   `json:"points"`
	Assists    float64   `json:"assists"`
	Rebounds   float64   `json:"rebounds"`
	Efficiency float64   `json:"efficiency"`
	Minutes    float64   `json:"minutes"`
}

// Stat returns the named box score statistic. Unknown names report false.
func (b BoxScore) Stat(name string) (float64, bool) {
	switch name {
	case "points":
		return b.Points, true
	case "assists":
		return b.Assists, true
	case "rebounds":
		return b.Rebounds, true
	case "efficiency":
		return b.Efficiency, true
	case "minutes":
		return b.Minutes, true
	default:
		return 0, false
	}
}

// Deal is an observed NIL deal used for training and backtesting.
type Deal struct {
	AthleteID string    `json:"athlete_id"`
	DealDate  time.Time `json:"deal_date"`
	Value     float64   `json:"value"`
}

// Snapshot bundles the raw observation tables consumed by one pipeline run.
type Snapshot struct {
	Athletes  []Athlete
	BoxScores []BoxScore
	Social    []SocialObservation
	Search    []SearchObservation
	Deals     []Deal
}
