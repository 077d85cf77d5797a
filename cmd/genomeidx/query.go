package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/genomeidx/internal/cache"
	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/output"
	"github.com/inodb/genomeidx/internal/reader"
)

func newQueryCmd() *cobra.Command {
	var (
		ref      string
		start    int32
		end      int32
		regions  []string
		noHeader bool
	)

	cmd := &cobra.Command{
		Use:   "query [options] <index-file>",
		Short: "Print records overlapping a region",
		Long: `Print every record whose interval overlaps the query region, one
tab-separated line per record, sorted by start within each region.
Coordinates are 1-based and inclusive.`,
		Example: `  genomeidx query --ref chr1 --start 10000 --end 20000 genes.gidx
  genomeidx query --region chr1:1-5000 --region chrX:100-200 genes.gidx`,
		Args: withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var queries []reader.Region
			if ref != "" {
				rng, err := genomics.NewRange(start, end)
				if err != nil {
					return &usageError{err: err}
				}
				queries = append(queries, reader.Region{Ref: ref, Range: rng})
			}
			for _, s := range regions {
				q, err := parseRegion(s)
				if err != nil {
					return &usageError{err: err}
				}
				queries = append(queries, q)
			}
			if len(queries) == 0 {
				return usageErrorf("--ref/--start/--end or --region is required")
			}

			opts := reader.Options{Logger: zap.L()}
			if path := viper.GetString("cache.path"); path != "" {
				c, err := cache.OpenDuckDB(path)
				if err != nil {
					return err
				}
				defer c.Close()
				opts.Cache = c
			}
			return runQuery(cmd.Context(), os.Stdout, afero.NewOsFs(), args[0], queries, opts, !noHeader)
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Reference name")
	cmd.Flags().Int32Var(&start, "start", 1, "Query start (1-based, inclusive)")
	cmd.Flags().Int32Var(&end, "end", 0, "Query end (inclusive)")
	cmd.Flags().StringArrayVar(&regions, "region", nil, "Region chr:start-end (repeatable; queried in parallel)")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "Omit the header line")

	return cmd
}

func runQuery(ctx context.Context, w io.Writer, fs afero.Fs, path string, queries []reader.Region, opts reader.Options, header bool) error {
	r, err := reader.Open(fs, path, opts)
	if err != nil {
		return err
	}
	tw := output.NewTabWriter(w, output.Columns(r.FileType(), r.Schema()))
	r.Close()

	results, err := reader.QueryMany(ctx, fs, path, queries, opts)
	if err != nil {
		return err
	}
	if header {
		if err := tw.WriteHeader(); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, recs := range results {
		for _, rec := range recs {
			if err := tw.Write(rec); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
	}
	return tw.Flush()
}

// parseRegion parses "chr:start-end" or "chr" (the whole reference).
func parseRegion(s string) (reader.Region, error) {
	ref, span, ok := strings.Cut(s, ":")
	if ref == "" {
		return reader.Region{}, fmt.Errorf("invalid region %q", s)
	}
	if !ok {
		return reader.Region{Ref: ref, Range: genomics.Range{Start: 0, End: 1<<31 - 1}}, nil
	}
	a, b, ok := strings.Cut(strings.ReplaceAll(span, ",", ""), "-")
	if !ok {
		return reader.Region{}, fmt.Errorf("invalid region %q: want chr:start-end", s)
	}
	start, err := strconv.ParseInt(a, 10, 32)
	if err != nil {
		return reader.Region{}, fmt.Errorf("invalid region start %q: %w", a, err)
	}
	end, err := strconv.ParseInt(b, 10, 32)
	if err != nil {
		return reader.Region{}, fmt.Errorf("invalid region end %q: %w", b, err)
	}
	rng, err := genomics.NewRange(int32(start), int32(end))
	if err != nil {
		return reader.Region{}, fmt.Errorf("invalid region %q: %w", s, err)
	}
	return reader.Region{Ref: ref, Range: rng}, nil
}
