package ingest

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// Result is the outcome of loading a directory of raw tables.
type Result struct {
	Snapshot   *model.Snapshot
	Files      map[string]string // table name -> source path
	UnknownIDs int
}

// LoadDir reads the raw tables from dir. Each table is <name>.csv or
// <name>.xlsx. The athlete directory is required; the other tables load as
// empty when absent. Athlete ids on observation tables are normalized through
// the directory's id map.
func LoadDir(ctx context.Context, dir string) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("dir", dir))
	res := &Result{Snapshot: &model.Snapshot{}, Files: make(map[string]string)}

	athletes, err := readTable(ctx, dir, TableAthletes, res.Files)
	if err != nil {
		return nil, err
	}
	if athletes == nil {
		return nil, eris.Errorf("ingest: no %s.csv or %s.xlsx in %s", TableAthletes, TableAthletes, dir)
	}
	var aliases map[string][]string
	res.Snapshot.Athletes, aliases, err = ParseAthletes(athletes)
	if err != nil {
		return nil, err
	}

	type loader struct {
		name  string
		parse func(*Table) error
	}
	snap := res.Snapshot
	loaders := []loader{
		{TableBoxScores, func(t *Table) (err error) { snap.BoxScores, err = ParseBoxScores(t); return }},
		{TableSocial, func(t *Table) (err error) { snap.Social, err = ParseSocial(t); return }},
		{TableSearch, func(t *Table) (err error) { snap.Search, err = ParseSearch(t); return }},
		{TableDeals, func(t *Table) (err error) { snap.Deals, err = ParseDeals(t); return }},
	}
	for _, l := range loaders {
		t, err := readTable(ctx, dir, l.name, res.Files)
		if err != nil {
			return nil, err
		}
		if t == nil {
			log.Warn("ingest: table not found, loading empty", zap.String("table", l.name))
			continue
		}
		if err := l.parse(t); err != nil {
			return nil, err
		}
	}

	res.UnknownIDs = BuildIDMap(snap.Athletes, aliases).Normalize(snap)
	if res.UnknownIDs > 0 {
		log.Warn("ingest: rows reference unknown athletes", zap.Int("rows", res.UnknownIDs))
	}

	log.Info("ingest: loaded raw tables",
		zap.Int("athletes", len(snap.Athletes)),
		zap.Int("box_scores", len(snap.BoxScores)),
		zap.Int("social", len(snap.Social)),
		zap.Int("search", len(snap.Search)),
		zap.Int("deals", len(snap.Deals)),
	)
	return res, nil
}

// readTable returns nil, nil when neither a CSV nor an XLSX file exists.
func readTable(ctx context.Context, dir, name string, files map[string]string) (*Table, error) {
	csvPath := filepath.Join(dir, name+".csv")
	if f, err := os.Open(csvPath); err == nil {
		defer f.Close() //nolint:errcheck
		t, err := ReadCSV(ctx, f, CSVOptions{TrimSpace: true})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", csvPath)
		}
		files[name] = csvPath
		return t, nil
	} else if !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "ingest: open %s", csvPath)
	}

	xlsxPath := filepath.Join(dir, name+".xlsx")
	if _, err := os.Stat(xlsxPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ingest: stat %s", xlsxPath)
	}
	t, err := ReadXLSX(xlsxPath, XLSXOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", xlsxPath)
	}
	files[name] = xlsxPath
	return t, nil
}
