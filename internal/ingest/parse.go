package ingest

import (
	"strings"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// Table names, also used as file stems for loading and archiving.
const (
	TableAthletes  = "athletes"
	TableBoxScores = "box_scores"
	TableSocial    = "social_stats"
	TableSearch    = "search_interest"
	TableDeals     = "nil_deals"
)

// ParseAthletes reads the athlete directory. An optional "aliases" column
// lists alternate ids separated by ';' and is returned keyed by canonical id.
func ParseAthletes(t *Table) ([]model.Athlete, map[string][]string, error) {
	t.Name = TableAthletes
	idCol, err := t.require("athlete_id", "id")
	if err != nil {
		return nil, nil, err
	}
	nameCol, err := t.require("name")
	if err != nil {
		return nil, nil, err
	}
	sportCol, err := t.require("sport")
	if err != nil {
		return nil, nil, err
	}
	schoolCol, err := t.require("school")
	if err != nil {
		return nil, nil, err
	}
	aliasCol := t.Column("aliases", "alternate_ids")

	out := make([]model.Athlete, 0, len(t.Rows))
	aliases := make(map[string][]string)
	for i, rec := range t.Rows {
		c := &cursor{table: t.Name, line: i + 2, rec: rec}
		a := model.Athlete{
			ID:     c.id(idCol, "athlete_id"),
			Name:   c.str(nameCol),
			Sport:  c.str(sportCol),
			School: c.str(schoolCol),
		}
		if c.err != nil {
			return nil, nil, c.err
		}
		for _, alt := range strings.Split(c.str(aliasCol), ";") {
			if alt = strings.TrimSpace(alt); alt != "" {
				aliases[a.ID] = append(aliases[a.ID], alt)
			}
		}
		out = append(out, a)
	}
	return out, aliases, nil
}

// ParseBoxScores reads game lines. Missing stat columns read as zero.
func ParseBoxScores(t *Table) ([]model.BoxScore, error) {
	t.Name = TableBoxScores
	idCol, err := t.require("athlete_id")
	if err != nil {
		return nil, err
	}
	dateCol, err := t.require("game_date", "date")
	if err != nil {
		return nil, err
	}
	var (
		oppCol  = t.Column("opponent")
		ptsCol  = t.Column("points")
		astCol  = t.Column("assists")
		rebCol  = t.Column("rebounds")
		effCol  = t.Column("efficiency")
		minsCol = t.Column("minutes")
	)

	out := make([]model.BoxScore, 0, len(t.Rows))
	for i, rec := range t.Rows {
		c := &cursor{table: t.Name, line: i + 2, rec: rec}
		b := model.BoxScore{
			AthleteID:  c.id(idCol, "athlete_id"),
			GameDate:   c.date(dateCol, "game_date"),
			Opponent:   c.str(oppCol),
			Points:     c.float(ptsCol, "points", false),
			Assists:    c.float(astCol, "assists", false),
			Rebounds:   c.float(rebCol, "rebounds", false),
			Efficiency: c.float(effCol, "efficiency", false),
			Minutes:    c.float(minsCol, "minutes", false),
		}
		if c.err != nil {
			return nil, c.err
		}
		out = append(out, b)
	}
	return out, nil
}

// ParseSocial reads daily per-channel social snapshots.
func ParseSocial(t *Table) ([]model.SocialObservation, error) {
	t.Name = TableSocial
	idCol, err := t.require("athlete_id")
	if err != nil {
		return nil, err
	}
	chanCol, err := t.require("channel")
	if err != nil {
		return nil, err
	}
	dateCol, err := t.require("date", "stat_date")
	if err != nil {
		return nil, err
	}
	followersCol, err := t.require("followers")
	if err != nil {
		return nil, err
	}
	engCol := t.Column("engagement_rate")
	growthCol := t.Column("growth_rate")

	out := make([]model.SocialObservation, 0, len(t.Rows))
	for i, rec := range t.Rows {
		c := &cursor{table: t.Name, line: i + 2, rec: rec}
		s := model.SocialObservation{
			AthleteID:      c.id(idCol, "athlete_id"),
			Channel:        strings.ToLower(c.id(chanCol, "channel")),
			Date:           c.date(dateCol, "date"),
			Followers:      c.int64(followersCol, "followers", true),
			EngagementRate: c.float(engCol, "engagement_rate", false),
			GrowthRate:     c.float(growthCol, "growth_rate", false),
		}
		if c.err != nil {
			return nil, c.err
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseSearch reads daily search-interest readings.
func ParseSearch(t *Table) ([]model.SearchObservation, error) {
	t.Name = TableSearch
	idCol, err := t.require("athlete_id")
	if err != nil {
		return nil, err
	}
	dateCol, err := t.require("date", "stat_date")
	if err != nil {
		return nil, err
	}
	scoreCol, err := t.require("interest_score", "interest")
	if err != nil {
		return nil, err
	}

	out := make([]model.SearchObservation, 0, len(t.Rows))
	for i, rec := range t.Rows {
		c := &cursor{table: t.Name, line: i + 2, rec: rec}
		s := model.SearchObservation{
			AthleteID:     c.id(idCol, "athlete_id"),
			Date:          c.date(dateCol, "date"),
			InterestScore: c.float(scoreCol, "interest_score", true),
		}
		if c.err != nil {
			return nil, c.err
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseDeals reads observed NIL deals.
func ParseDeals(t *Table) ([]model.Deal, error) {
	t.Name = TableDeals
	idCol, err := t.require("athlete_id")
	if err != nil {
		return nil, err
	}
	dateCol, err := t.require("deal_date", "date")
	if err != nil {
		return nil, err
	}
	valueCol, err := t.require("value", "deal_value")
	if err != nil {
		return nil, err
	}

	out := make([]model.Deal, 0, len(t.Rows))
	for i, rec := range t.Rows {
		c := &cursor{table: t.Name, line: i + 2, rec: rec}
		d := model.Deal{
			AthleteID: c.id(idCol, "athlete_id"),
			DealDate:  c.date(dateCol, "deal_date"),
			Value:     c.float(valueCol, "value", true),
		}
		if c.err != nil {
			return nil, c.err
		}
		out = append(out, d)
	}
	return out, nil
}
