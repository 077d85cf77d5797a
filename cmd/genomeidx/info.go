package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/genomeidx/internal/reader"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <index-file>",
		Short: "Describe an index file",
		Long:  "Print the file type, format version, record schema and reference table of an index file.",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(os.Stdout, afero.NewOsFs(), args[0])
		},
	}
}

func runInfo(w io.Writer, fs afero.Fs, path string) error {
	r, err := reader.Open(fs, path, reader.Options{Logger: zap.L()})
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	fmt.Fprintf(w, "File:    %s\n", path)
	fmt.Fprintf(w, "Type:    %s\n", h.Type)
	fmt.Fprintf(w, "Version: %d\n", h.Version)
	fmt.Fprintf(w, "Schema:  %s\n\n", h.Schema)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Reference", "Offset", "Length", "Records"})
	var total int64
	for _, reg := range r.Regions() {
		n, err := r.Count(reg.Name)
		if err != nil {
			return fmt.Errorf("count records on %s: %w", reg.Name, err)
		}
		total += n
		table.Append([]string{
			reg.Name,
			strconv.FormatInt(reg.Offset, 10),
			strconv.FormatInt(reg.Length, 10),
			strconv.FormatInt(n, 10),
		})
	}
	table.SetFooter([]string{"", "", "Total", strconv.FormatInt(total, 10)})
	table.Render()
	return nil
}
