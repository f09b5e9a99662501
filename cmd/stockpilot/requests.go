package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/stockpilot/pkg/batch"
	"github.com/entrhq/stockpilot/pkg/types"
)

// requestFile accepts either a bare list or {vouchers: [...]}.
type requestFile struct {
	Vouchers []types.VoucherRequest `yaml:"vouchers"`
}

// loadRequests reads a YAML or JSON request file. JSON parses as YAML.
func loadRequests(path string) ([]types.VoucherRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	return parseRequests(data)
}

func parseRequests(data []byte) ([]types.VoucherRequest, error) {
	var list []types.VoucherRequest
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped requestFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse request file: %w", err)
		}
		list = wrapped.Vouchers
	}
	if len(list) == 0 {
		return nil, errors.New("request file contains no vouchers")
	}
	return list, nil
}

// loadCookies reads a cookie export as written by browser extensions.
func loadCookies(path string) ([]types.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	var cookies []types.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file: %w", err)
	}
	return cookies, nil
}

func statusHandler(h *batch.RunHandle) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Status())
	}
}
