package ingest

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// IDMap maps case-folded athlete identifiers to canonical ids.
type IDMap map[string]string

// BuildIDMap maps every canonical id to itself and every alias to its
// canonical id. Canonical ids win over a colliding alias.
func BuildIDMap(athletes []model.Athlete, aliases map[string][]string) IDMap {
	m := make(IDMap, len(athletes))
	for canonical, alts := range aliases {
		for _, alt := range alts {
			m[foldID(alt)] = canonical
		}
	}
	for _, a := range athletes {
		m[foldID(a.ID)] = a.ID
	}
	return m
}

// Canonical returns the canonical id for id. Unknown ids pass through trimmed.
func (m IDMap) Canonical(id string) string {
	if c, ok := m[foldID(id)]; ok {
		return c
	}
	return strings.TrimSpace(id)
}

// Normalize rewrites athlete ids on every observation table of snap in place
// and returns the number of rows whose id referenced no known athlete.
func (m IDMap) Normalize(snap *model.Snapshot) int {
	unknown := 0
	fix := func(id *string) {
		if _, ok := m[foldID(*id)]; !ok {
			unknown++
		}
		*id = m.Canonical(*id)
	}
	for i := range snap.BoxScores {
		fix(&snap.BoxScores[i].AthleteID)
	}
	for i := range snap.Social {
		fix(&snap.Social[i].AthleteID)
	}
	for i := range snap.Search {
		fix(&snap.Search[i].AthleteID)
	}
	for i := range snap.Deals {
		fix(&snap.Deals[i].AthleteID)
	}
	return unknown
}

func foldID(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}
