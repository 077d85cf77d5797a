package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/genomeidx/internal/format"
	"github.com/inodb/genomeidx/internal/input"
)

func newFormatCmd() *cobra.Command {
	var (
		inputType  string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "format [options] <input-file>",
		Short: "Build an interval index from a BED, VCF or interval file",
		Long: `Build an interval index from a BED, VCF or generic interval file.

Records must be sorted by start within each reference; references may appear
in any order. Gzipped input is detected automatically. The index is written
to a temporary file next to the output and renamed into place when complete.`,
		Example: `  genomeidx format -o genes.gidx genes.bed
  genomeidx format --type vcf -o calls.gidx calls.vcf.gz
  genomeidx format --min-bin-width 4096 -o regions.gidx regions.txt
  cat genes.bed | genomeidx format --type bed -o genes.gidx -`,
		Args: withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			if outputPath == "" {
				return usageErrorf("--output is required")
			}

			ft := input.DetectFormat(inputPath)
			if inputType != "" {
				var err error
				if ft, err = input.ParseFormat(inputType); err != nil {
					return &usageError{err: err}
				}
			}

			logger := zap.L()
			f := format.New(afero.NewOsFs(), format.Options{
				MinBinWidth:   viper.GetInt32("format.min_bin_width"),
				CheckInterval: viper.GetInt("format.check_interval"),
				TmpDir:        viper.GetString("format.tmp_dir"),
				Logger:        logger,
			})

			fmt.Fprintf(os.Stderr, "Formatting %s (%s) into %s\n", inputPath, ft, outputPath)
			start := time.Now()
			res, err := f.FormatFile(cmd.Context(), inputPath, ft, outputPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Indexed %d records on %d references in %s\n",
				res.Records, len(res.References), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputType, "type", "t", "", "Input format: bed, vcf, generic (auto-detected if not specified)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output index file")
	cmd.Flags().Int32("min-bin-width", defaultMinBinWidth, "Narrowest span the tree subdivides")
	cmd.Flags().String("tmp-dir", "", "Directory for temporary files (default: output directory)")
	_ = viper.BindPFlag("format.min_bin_width", cmd.Flags().Lookup("min-bin-width"))
	_ = viper.BindPFlag("format.tmp_dir", cmd.Flags().Lookup("tmp-dir"))

	return cmd
}
