package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/stockpilot/pkg/types"
)

func sampleStats() types.Stats {
	return types.Stats{
		Total:              3,
		Success:            1,
		Failed:             1,
		Skipped:            1,
		Errors:             []types.ErrorEntry{{SKU: "B-5", Error: "insufficient stock"}},
		SuccessfulProducts: []types.VoucherRequest{{SKU: "A-3", Quantity: 2}},
		Transfer:           &types.TransferOutcome{Attempted: true, Success: true, Items: 1, Message: "transfer note 88 issued with 1 lines"},
	}
}

func sampleResults() []types.VoucherResult {
	return []types.VoucherResult{
		{SKU: "A-3", Name: "Oud | Wood", Quantity: 2.5, Success: true, ProductionID: "4521", Message: "voucher 4521 finalized", Retried: true},
		{SKU: "B-5", Quantity: 1, Message: "insufficient stock"},
		{SKU: "C-2", Quantity: 1, Message: "already processed today"},
	}
}

func TestNewSummaryStatus(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	tests := []struct {
		name    string
		stats   types.Stats
		stopped bool
		want    string
	}{
		{"all created", types.Stats{Total: 1, Success: 1}, false, StatusSuccess},
		{"some failed", types.Stats{Total: 2, Success: 1, Failed: 1}, false, StatusPartial},
		{"all failed", types.Stats{Total: 2, Failed: 2}, false, StatusFailed},
		{"stopped wins", types.Stats{Total: 2, Success: 2}, true, StatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSummary("run-1", start, end, tt.stats, nil, tt.stopped)
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, 90*time.Second, s.Duration)
		})
	}
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports", "run-1")
	w := NewWriter(dir)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	summary := NewSummary("run-1", start, start.Add(time.Minute), sampleStats(), sampleResults(), false)

	require.NoError(t, w.WriteAll(summary))

	data, err := os.ReadFile(filepath.Join(dir, "run.json"))
	require.NoError(t, err)
	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, StatusPartial, got.Status)
	assert.Equal(t, 3, got.Stats.Total)
	assert.Len(t, got.Results, 3)

	md, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	text := string(md)
	assert.Contains(t, text, "**Status:** partial")
	assert.Contains(t, text, "| A-3 | Oud \\| Wood | 2.5 | voucher 4521 finalized (retried) | 4521 |")
	assert.Contains(t, text, "- `B-5`: insufficient stock")
	assert.Contains(t, text, "Skipped (already processed today):** 1")
	assert.Contains(t, text, "## Transfer Note")
	assert.Contains(t, text, "- **Status:** issued")

	info, err := os.Stat(filepath.Join(dir, "run.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMarkdownOmitsEmptySections(t *testing.T) {
	s := NewSummary("run-2", time.Now(), time.Now(), types.Stats{Total: 1, Success: 1}, nil, false)
	md := Markdown(s)
	assert.NotContains(t, md, "## Failures")
	assert.NotContains(t, md, "## Transfer Note")
	assert.NotContains(t, md, "Skipped")
}

func TestFailedSKUs(t *testing.T) {
	stats := types.Stats{Errors: []types.ErrorEntry{{SKU: "B-5"}, {SKU: "X-1"}}}
	assert.Equal(t, "B-5\nX-1", FailedSKUs(stats))
	assert.Empty(t, FailedSKUs(types.Stats{}))
}
