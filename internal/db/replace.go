package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines a delete-then-insert replacement of keyed rows.
type ReplaceConfig struct {
	Table   string   // target table (e.g., "nil_valuations")
	Columns []string // all columns being inserted
	Keys    []string // natural key columns; rows matching any incoming key are deleted
}

// ReplaceByKeys replaces every row sharing a natural key with an incoming row,
// in one transaction:
// 1. COPY rows into a temp table shaped like the target
// 2. DELETE target rows whose key appears in the temp table
// 3. INSERT the temp rows into the target
//
// Re-running with the same rows leaves exactly one row per key. Any failure
// rolls the whole call back.
func ReplaceByKeys(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.Keys) == 0 {
		return 0, eris.New("db: replace: no key columns specified")
	}

	rows, err := DedupeByKeys(cfg.Columns, cfg.Keys, rows)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := tempName("replace", cfg.Table)
	if err := createTemp(ctx, tx, tempTable, cfg.Table); err != nil {
		return 0, eris.Wrap(err, "db: replace")
	}
	if _, err := CopyFrom(ctx, tx, tempTable, cfg.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: replace: load %s", cfg.Table)
	}

	target := sanitizeTable(cfg.Table)
	temp := pgx.Identifier{tempTable}.Sanitize()

	conds := make([]string, len(cfg.Keys))
	for i, k := range cfg.Keys {
		col := pgx.Identifier{k}.Sanitize()
		conds[i] = fmt.Sprintf("t.%s = s.%s", col, col)
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s AS t USING %s AS s WHERE %s", target, temp, strings.Join(conds, " AND "))
	if _, err := tx.Exec(ctx, deleteSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: DELETE matching keys from %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", target, colList, colList, temp)
	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace: INSERT into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}

	return tag.RowsAffected(), nil
}

// DedupeByKeys collapses rows sharing the same key column values, keeping the
// last occurrence at the position of the first.
func DedupeByKeys(columns, keys []string, rows [][]any) ([][]any, error) {
	pos := make([]int, len(keys))
	for i, k := range keys {
		pos[i] = -1
		for j, c := range columns {
			if c == k {
				pos[i] = j
				break
			}
		}
		if pos[i] < 0 {
			return nil, eris.Errorf("key column %q not in columns", k)
		}
	}

	index := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	var sb strings.Builder
	for _, row := range rows {
		if len(row) != len(columns) {
			return nil, eris.Errorf("row has %d values, want %d", len(row), len(columns))
		}
		sb.Reset()
		for _, p := range pos {
			sb.WriteString(keyString(row[p]))
			sb.WriteByte(0x1f)
		}
		k := sb.String()
		if i, ok := index[k]; ok {
			out[i] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out, nil
}

func keyString(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
