package ingest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

const dateLayout = "2006-01-02"

// Archive writes each table of snap as CSV under root/<YYYY-MM-DD of asOf>/
// and returns that directory. Existing files for the same day are replaced.
// The written files load back with LoadDir.
func Archive(root string, asOf time.Time, snap *model.Snapshot) (string, error) {
	dir := filepath.Join(root, asOf.UTC().Format(dateLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "ingest: create archive dir %s", dir)
	}

	tables := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{TableAthletes, []string{"athlete_id", "name", "sport", "school"}, athleteRecords(snap.Athletes)},
		{TableBoxScores, []string{"athlete_id", "game_date", "opponent", "points", "assists", "rebounds", "efficiency", "minutes"}, boxRecords(snap.BoxScores)},
		{TableSocial, []string{"athlete_id", "channel", "date", "followers", "engagement_rate", "growth_rate"}, socialRecords(snap.Social)},
		{TableSearch, []string{"athlete_id", "date", "interest_score"}, searchRecords(snap.Search)},
		{TableDeals, []string{"athlete_id", "deal_date", "value"}, dealRecords(snap.Deals)},
	}

	for _, t := range tables {
		if err := writeCSV(filepath.Join(dir, t.name+".csv"), t.header, t.rows); err != nil {
			return "", err
		}
	}

	zap.L().Info("ingest: archived raw snapshot",
		zap.String("component", "ingest"),
		zap.String("dir", dir),
	)
	return dir, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: create %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "ingest: write %s", path)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "ingest: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "ingest: close %s", path)
	}
	return nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func day(t time.Time) string { return t.UTC().Format(dateLayout) }

func athleteRecords(in []model.Athlete) [][]string {
	out := make([][]string, len(in))
	for i, a := range in {
		out[i] = []string{a.ID, a.Name, a.Sport, a.School}
	}
	return out
}

func boxRecords(in []model.BoxScore) [][]string {
	out := make([][]string, len(in))
	for i, b := range in {
		out[i] = []string{b.AthleteID, day(b.GameDate), b.Opponent, ftoa(b.Points), ftoa(b.Assists), ftoa(b.Rebounds), ftoa(b.Efficiency), ftoa(b.Minutes)}
	}
	return out
}

func socialRecords(in []model.SocialObservation) [][]string {
	out := make([][]string, len(in))
	for i, s := range in {
		out[i] = []string{s.AthleteID, s.Channel, day(s.Date), strconv.FormatInt(s.Followers, 10), ftoa(s.EngagementRate), ftoa(s.GrowthRate)}
	}
	return out
}

func searchRecords(in []model.SearchObservation) [][]string {
	out := make([][]string, len(in))
	for i, s := range in {
		out[i] = []string{s.AthleteID, day(s.Date), ftoa(s.InterestScore)}
	}
	return out
}

func dealRecords(in []model.Deal) [][]string {
	out := make([][]string, len(in))
	for i, d := range in {
		out[i] = []string{d.AthleteID, day(d.DealDate), ftoa(d.Value)}
	}
	return out
}
