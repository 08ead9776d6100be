package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/CraigKelly/ptgibbs/model"
)

func newSummaryCmd() *cobra.Command {
	var skip int
	cmd := &cobra.Command{
		Use:   "summary FILE...",
		Short: "Print mean, standard deviation and median of sample tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, fn := range args {
				if err := summarizeFile(cmd.OutOrStdout(), fn, skip); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "Ignore this many leading rows of every file")
	return cmd
}

// columnNames labels the columns of a sample table. Tables with 5+2n
// columns are the ones written by run; anything else gets generic names.
func columnNames(ncol int) []string {
	names := make([]string, ncol)
	if ncol >= 7 && (ncol-5)%2 == 0 {
		namp := (ncol - 5) / 2
		names[0], names[1] = "dec", "ra"
		for i := 0; i < namp; i++ {
			names[2+i] = fmt.Sprintf("amp%d", i)
			names[5+namp+i] = fmt.Sprintf("mJy%d", i)
		}
		names[2+namp], names[3+namp], names[4+namp] = "fwhm_major", "fwhm_minor", "angle"
		return names
	}
	for i := range names {
		names[i] = fmt.Sprintf("col%d", i)
	}
	return names
}

func summarizeFile(w io.Writer, filename string, skip int) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "Could not open %s", filename)
	}
	defer f.Close()

	rows, err := model.ReadTable(f)
	if err != nil {
		return errors.Wrapf(err, "Could not read samples from %s", filename)
	}
	if skip < len(rows) {
		rows = rows[skip:]
	} else {
		rows = nil
	}

	fmt.Fprintf(w, "%s: %d samples\n", filename, len(rows))
	if len(rows) < 1 {
		return nil
	}

	ncol := len(rows[0])
	for r, row := range rows {
		if len(row) != ncol {
			return errors.Errorf("%s: row %d has %d columns, expected %d", filename, r+skip, len(row), ncol)
		}
	}

	names := columnNames(ncol)
	col := make(stats.Float64Data, len(rows))
	for c, name := range names {
		for r, row := range rows {
			col[r] = row[c]
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return err
		}
		sd, err := stats.StandardDeviationSample(col)
		if err != nil || len(col) < 2 {
			sd = 0
		}
		med, err := stats.Median(col)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-10s %12.5f +- %10.5f  median %12.5f\n", name, mean, sd, med)
	}
	return nil
}
