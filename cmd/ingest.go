package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/ingest"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load raw tables from a directory into the warehouse",
	Long: `Reads athletes, box_scores, social_stats, search_interest and nil_deals
(.csv or .xlsx) from --dir, normalizes athlete ids against the athlete
directory, archives the normalized tables under storage.raw_path/<date>/ and
writes them to the warehouse.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dir, _ := cmd.Flags().GetString("dir")
		noArchive, _ := cmd.Flags().GetBool("no-archive")
		asOfFlag, _ := cmd.Flags().GetString("as-of")
		asOf, err := parseAsOf(asOfFlag, time.Now())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		archiveRoot := cfg.Storage.RawPath
		if noArchive {
			archiveRoot = ""
		}
		sum, err := ingestDir(ctx, st, dir, archiveRoot, asOf)
		if err != nil {
			return err
		}
		formatIngestSummary(os.Stdout, sum)
		return nil
	},
}

type ingestSummary struct {
	Dir        string
	ArchiveDir string
	UnknownIDs int
	Written    []tableCount
}

type tableCount struct {
	Table  string
	Source string
	Rows   int64
}

// ingestDir loads dir, optionally archives it under archiveRoot, and writes
// every table to st.
func ingestDir(ctx context.Context, st store.Warehouse, dir, archiveRoot string, asOf time.Time) (*ingestSummary, error) {
	res, err := ingest.LoadDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	snap := res.Snapshot
	sum := &ingestSummary{Dir: dir, UnknownIDs: res.UnknownIDs}

	if archiveRoot != "" {
		out, err := ingest.Archive(archiveRoot, asOf, snap)
		if err != nil {
			return nil, err
		}
		sum.ArchiveDir = out
	}

	writes := []struct {
		table string
		fn    func() (int64, error)
	}{
		{ingest.TableAthletes, func() (int64, error) { return st.UpsertAthletes(ctx, snap.Athletes) }},
		{ingest.TableBoxScores, func() (int64, error) { return st.ReplaceBoxScores(ctx, snap.BoxScores) }},
		{ingest.TableSocial, func() (int64, error) { return st.ReplaceSocial(ctx, snap.Social) }},
		{ingest.TableSearch, func() (int64, error) { return st.ReplaceSearch(ctx, snap.Search) }},
		{ingest.TableDeals, func() (int64, error) { return st.ReplaceDeals(ctx, snap.Deals) }},
	}
	for _, w := range writes {
		n, err := w.fn()
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: write %s", w.table)
		}
		sum.Written = append(sum.Written, tableCount{Table: w.table, Source: res.Files[w.table], Rows: n})
	}

	zap.L().Info("ingest: warehouse updated",
		zap.String("dir", dir),
		zap.String("archive", sum.ArchiveDir),
		zap.Int("unknown_ids", sum.UnknownIDs),
	)
	return sum, nil
}

func formatIngestSummary(out io.Writer, s *ingestSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tROWS\tSOURCE")
	for _, tc := range s.Written {
		src := tc.Source
		if src == "" {
			src = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", tc.Table, tc.Rows, src)
	}
	_ = w.Flush()
	if s.ArchiveDir != "" {
		_, _ = fmt.Fprintf(out, "Archived to %s\n", s.ArchiveDir)
	}
	if s.UnknownIDs > 0 {
		_, _ = fmt.Fprintf(out, "Rows with unknown athlete ids: %d\n", s.UnknownIDs)
	}
}

func init() {
	ingestCmd.Flags().String("dir", "", "directory containing the raw tables")
	ingestCmd.Flags().String("as-of", "", "archive date YYYY-MM-DD (default today, UTC)")
	ingestCmd.Flags().Bool("no-archive", false, "skip writing the raw snapshot archive")
	_ = ingestCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(ingestCmd)
}
