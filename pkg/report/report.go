// Package report writes the artifacts of a finished batch run.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/entrhq/stockpilot/pkg/types"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusStopped = "stopped"
)

// Summary is the complete record of one run.
type Summary struct {
	RunID     string                `json:"run_id"`
	Status    string                `json:"status"`
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
	Duration  time.Duration         `json:"duration"`
	Stats     types.Stats           `json:"stats"`
	Results   []types.VoucherResult `json:"results"`
}

// NewSummary builds a Summary and derives its status.
func NewSummary(runID string, start, end time.Time, stats types.Stats, results []types.VoucherResult, stopped bool) *Summary {
	s := &Summary{
		RunID:     runID,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Stats:     stats,
		Results:   results,
	}
	switch {
	case stopped:
		s.Status = StatusStopped
	case stats.Failed == 0:
		s.Status = StatusSuccess
	case stats.Success > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusFailed
	}
	return s
}

// Writer writes run artifacts into a directory.
type Writer struct {
	outputDir string
}

// NewWriter creates a writer for outputDir.
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.outputDir }

// WriteAll writes run.json and summary.md.
func (w *Writer) WriteAll(summary *Summary) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := w.WriteJSON(summary); err != nil {
		return err
	}
	return w.WriteMarkdown(summary)
}

// WriteJSON writes the full summary as run.json.
func (w *Writer) WriteJSON(summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(w.outputDir, "run.json"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write run.json: %w", err)
	}
	return nil
}

// WriteMarkdown writes a human readable summary.md.
func (w *Writer) WriteMarkdown(summary *Summary) error {
	if err := renameio.WriteFile(filepath.Join(w.outputDir, "summary.md"), []byte(Markdown(summary)), 0o600); err != nil {
		return fmt.Errorf("failed to write summary.md: %w", err)
	}
	return nil
}

// Markdown renders summary as a markdown document.
func Markdown(summary *Summary) string {
	var md strings.Builder
	st := summary.Stats

	md.WriteString("# Production Voucher Run\n\n")
	fmt.Fprintf(&md, "**Run:** %s\n\n", summary.RunID)
	fmt.Fprintf(&md, "**Status:** %s\n\n", summary.Status)
	fmt.Fprintf(&md, "**Started:** %s\n\n", summary.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Duration:** %s\n\n", summary.Duration.Round(time.Second))

	md.WriteString("## Totals\n\n")
	fmt.Fprintf(&md, "- **Requested:** %d\n", st.Total)
	fmt.Fprintf(&md, "- **Created:** %d\n", st.Success)
	fmt.Fprintf(&md, "- **Failed:** %d\n", st.Failed)
	if st.Skipped > 0 {
		fmt.Fprintf(&md, "- **Skipped (already processed today):** %d\n", st.Skipped)
	}
	md.WriteString("\n")

	if len(summary.Results) > 0 {
		md.WriteString("## Vouchers\n\n")
		md.WriteString("| SKU | Product | Quantity | Result | Document |\n")
		md.WriteString("|---|---|---|---|---|\n")
		for _, r := range summary.Results {
			if r.SKU == "" {
				continue
			}
			result := r.Message
			if r.Retried {
				result += " (retried)"
			}
			fmt.Fprintf(&md, "| %s | %s | %s | %s | %s |\n",
				cell(r.SKU), cell(r.Name), r.Request().QuantityString("."), cell(result), cell(r.ProductionID))
		}
		md.WriteString("\n")
	}

	if len(st.Errors) > 0 {
		md.WriteString("## Failures\n\n")
		for _, e := range st.Errors {
			fmt.Fprintf(&md, "- `%s`: %s\n", e.SKU, e.Error)
		}
		md.WriteString("\n")
	}

	if t := st.Transfer; t != nil {
		md.WriteString("## Transfer Note\n\n")
		status := "failed"
		if t.Success {
			status = "issued"
		}
		fmt.Fprintf(&md, "- **Status:** %s\n", status)
		fmt.Fprintf(&md, "- **Lines:** %d\n", t.Items)
		if t.Message != "" {
			fmt.Fprintf(&md, "- **Message:** %s\n", t.Message)
		}
	}

	return md.String()
}

// FailedSKUs returns the SKUs of Stats.Errors, one per line.
func FailedSKUs(stats types.Stats) string {
	skus := make([]string, 0, len(stats.Errors))
	for _, e := range stats.Errors {
		skus = append(skus, e.SKU)
	}
	return strings.Join(skus, "\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
