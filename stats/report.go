/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"chainguard.dev/vlmensemble/ensemble"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

var outcomeOrder = []ensemble.Outcome{
	ensemble.OutcomeSuccess,
	ensemble.OutcomeNeedsReview,
	ensemble.OutcomeDegraded,
	ensemble.OutcomeError,
}

// WriteJSON writes s as an indented JSON document.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return nil
}

// WriteTable renders s as markdown tables: outcomes, dimensions, and
// enumeration skips when there are any.
func (s *Summary) WriteTable(w io.Writer) error {
	fmt.Fprintf(w, "## Outcomes (%d units)\n\n", s.Total)
	table := newTable(w, []string{"Outcome", "Units", "Rate"})
	for _, o := range outcomeOrder {
		if err := table.Append([]string{string(o), strconv.Itoa(s.Outcomes[o]), percent(rate(s.Outcomes[o], s.Total))}); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering outcomes: %w", err)
	}

	if len(s.Dimensions) > 0 {
		fmt.Fprint(w, "\n## Dimensions\n\n")
		table = newTable(w, []string{"Dimension", "Compared", "Disagreements", "Disagreement Rate", "Scored", "N/A", "Mean"})
		for _, name := range s.DimensionNames() {
			d := s.Dimensions[name]
			if err := table.Append([]string{
				name,
				strconv.Itoa(d.Compared),
				strconv.Itoa(d.Disagreements),
				percent(d.DisagreementRate),
				strconv.Itoa(d.Scored),
				strconv.Itoa(d.NotApplicable),
				fmt.Sprintf("%.2f", d.Mean),
			}); err != nil {
				return fmt.Errorf("appending row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering dimensions: %w", err)
		}
	}

	if len(s.ErrorReasons) > 0 {
		fmt.Fprint(w, "\n## Error Reasons\n\n")
		table = newTable(w, []string{"Reason", "Units"})
		for _, reason := range slices.Sorted(maps.Keys(s.ErrorReasons)) {
			if err := table.Append([]string{reason, strconv.Itoa(s.ErrorReasons[reason])}); err != nil {
				return fmt.Errorf("appending row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering error reasons: %w", err)
		}
	}

	if s.Skipped.Total() > 0 {
		fmt.Fprint(w, "\n## Enumeration Skips\n\n")
		table = newTable(w, []string{"Reason", "Candidates"})
		for _, reason := range s.Skipped.Reasons() {
			if err := table.Append([]string{string(reason), strconv.Itoa(s.Skipped[reason])}); err != nil {
				return fmt.Errorf("appending row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering skips: %w", err)
		}
	}
	return nil
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func percent(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}
