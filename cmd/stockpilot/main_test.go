package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/stockpilot/pkg/types"
)

func TestParseRequests(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []types.VoucherRequest
		wantErr string
	}{
		{
			name:  "yaml list",
			input: "- sku: A-3\n  name: Oud Wood 3 ml\n  quantity: 2\n- sku: B-5\n  quantity: 0.5\n",
			want:  []types.VoucherRequest{{SKU: "A-3", Name: "Oud Wood 3 ml", Quantity: 2}, {SKU: "B-5", Quantity: 0.5}},
		},
		{
			name:  "json list",
			input: `[{"sku": "A-3", "name": "Oud", "quantity": 2}]`,
			want:  []types.VoucherRequest{{SKU: "A-3", Name: "Oud", Quantity: 2}},
		},
		{
			name:  "wrapped",
			input: "vouchers:\n  - sku: C-2\n    quantity: 1\n",
			want:  []types.VoucherRequest{{SKU: "C-2", Quantity: 1}},
		},
		{name: "empty", input: "[]", wantErr: "no vouchers"},
		{name: "garbage", input: "sku: [", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRequests([]byte(tt.input))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"PHPSESSID","value":"abc","domain":".oblio.eu","expirationDate":1767225600,"httpOnly":true}]`), 0o600))

	cookies, err := loadCookies(path)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "PHPSESSID", cookies[0].Name)
	assert.True(t, cookies[0].HTTPOnly)
	assert.InDelta(t, 1767225600, cookies[0].Expires, 0)

	_, err = loadCookies(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(&CLIConfig{
		RequestsFile: "vouchers.yaml",
		Headless:     true,
		Force:        true,
		NoTransfer:   true,
		Concurrency:  20,
		ReportDir:    "out",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Batch.Force)
	assert.False(t, cfg.Transfer.Enabled)
	assert.Equal(t, 20, cfg.Batch.Concurrency)
	assert.Greater(t, cfg.Browser.MaxTabs, 20)
	assert.Equal(t, "out", cfg.Report.Dir)

	_, err = loadConfig(&CLIConfig{})
	assert.ErrorContains(t, err, "-requests")
}

func TestConsolePrintsEvents(t *testing.T) {
	var buf bytes.Buffer
	con := newConsole(&buf)

	con.Handle(types.NewProgressEvent(1, 2, types.VoucherRequest{SKU: "A-3", Name: "Oud"}))
	con.Handle(types.NewVoucherCompleteEvent(types.VoucherResult{SKU: "B-5", Message: "insufficient stock"}))
	con.Handle(types.NewRunCompleteEvent(types.Stats{Total: 2, Success: 1, Failed: 1, Errors: []types.ErrorEntry{{SKU: "B-5", Error: "insufficient stock"}}}))

	out := buf.String()
	assert.Contains(t, out, "[1/2]")
	assert.Contains(t, out, "B-5")
	assert.Contains(t, out, "insufficient stock")
	assert.Equal(t, 1, strings.Count(out, "Summary"))
}
