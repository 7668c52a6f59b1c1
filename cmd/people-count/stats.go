package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/people.count/internal/db"
	"github.com/banshee-data/people.count/internal/stats"
)

func writeStats(store *db.DB, since time.Time, plotPath, chartPath string, out io.Writer) error {
	records, err := store.CountingEpisodes(since)
	if err != nil {
		return fmt.Errorf("failed to read episode log: %w", err)
	}
	s := stats.Analyse(records)

	fmt.Fprintf(out, "Counting entries:     %d (%d entered, %d left)\n", s.Entries, s.Entered, s.Left)
	fmt.Fprintf(out, "Compared pairs:       %d\n", s.Compared)
	fmt.Fprintf(out, "Faults:               %d (%.1f%%)\n", s.Faults, s.FaultPercent)
	if s.Faults > 0 {
		fmt.Fprintf(out, "  from empty room:    %d (%.1f%%)\n", s.FalseZero, s.FalseZeroPercent)
		fmt.Fprintf(out, "  from occupied room: %d (%.1f%%)\n", s.FalseOne, s.FalseOnePercent)
	}
	if d := s.Durations; d.N > 0 {
		fmt.Fprintf(out, "Crossing duration:    mean %.0fms, median %.0fms, p90 %.0fms (n=%d)\n",
			d.MeanMs, d.MedianMs, d.P90Ms, d.N)
	}

	if plotPath != "" {
		if err := stats.RenderStepPlot(records, plotPath); err != nil {
			if errors.Is(err, stats.ErrNoData) {
				fmt.Fprintln(out, "No crossings to plot")
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", plotPath)
	}
	if chartPath != "" {
		if err := stats.SaveChart(records, chartPath); err != nil {
			if errors.Is(err, stats.ErrNoData) {
				fmt.Fprintln(out, "No crossings to chart")
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", chartPath)
	}
	return nil
}
