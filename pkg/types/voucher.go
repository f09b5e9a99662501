package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VoucherRequest asks for one production voucher for a finished product.
type VoucherRequest struct {
	// SKU is the lookup key typed into the product search field.
	SKU string `json:"sku" yaml:"sku"`

	// Name is the human readable product name. Used for logs and decant classification.
	Name string `json:"name" yaml:"name"`

	// Quantity is the number of units produced. Fractional values are allowed.
	Quantity float64 `json:"quantity" yaml:"quantity"`
}

// Validate checks that the request can be submitted.
func (r VoucherRequest) Validate() error {
	if strings.TrimSpace(r.SKU) == "" {
		return errors.New("sku is required")
	}
	if math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) {
		return fmt.Errorf("quantity for %s must be a finite number, got %v", r.SKU, r.Quantity)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity for %s must be positive, got %v", r.SKU, r.Quantity)
	}
	return nil
}

// QuantityString renders the quantity the way the quantity input expects it.
// An empty separator keeps the dot.
func (r VoucherRequest) QuantityString(decimalSeparator string) string {
	s := strconv.FormatFloat(r.Quantity, 'f', -1, 64)
	if decimalSeparator != "" && decimalSeparator != "." {
		s = strings.Replace(s, ".", decimalSeparator, 1)
	}
	return s
}

// Label returns "SKU (name)" or just the SKU when the name is empty.
func (r VoucherRequest) Label() string {
	if r.Name == "" {
		return r.SKU
	}
	return fmt.Sprintf("%s (%s)", r.SKU, r.Name)
}

// VoucherResult is the terminal outcome of one VoucherRequest.
type VoucherResult struct {
	// Err is the classified failure. Nil on success.
	Err error `json:"-"`

	SKU          string  `json:"sku"`
	Name         string  `json:"name,omitempty"`
	Message      string  `json:"message"`
	ProductionID string  `json:"production_id,omitempty"`
	Quantity     float64 `json:"quantity"`
	Success      bool    `json:"success"`

	// Retried is set when this result came out of the retry pipeline.
	Retried bool `json:"retried,omitempty"`
}

// Request rebuilds the request this result answers.
func (r VoucherResult) Request() VoucherRequest {
	return VoucherRequest{SKU: r.SKU, Name: r.Name, Quantity: r.Quantity}
}

// ErrorEntry is one failed SKU in Stats.
type ErrorEntry struct {
	SKU   string `json:"sku"`
	Error string `json:"error"`
}

// TransferOutcome records what happened to the transfer note step of a run.
type TransferOutcome struct {
	Message   string `json:"message"`
	Items     int    `json:"items"`
	Attempted bool   `json:"attempted"`
	Success   bool   `json:"success"`
}

// Stats is the summary of a batch run.
type Stats struct {
	Transfer           *TransferOutcome `json:"transfer,omitempty"`
	Errors             []ErrorEntry     `json:"errors"`
	SuccessfulProducts []VoucherRequest `json:"successful_products"`
	Total              int              `json:"total"`
	Success            int              `json:"success"`
	Failed             int              `json:"failed"`
	Skipped            int              `json:"skipped,omitempty"`
}

// Clone returns a deep copy that is safe to hand to another goroutine.
func (s Stats) Clone() Stats {
	out := s
	out.Errors = append([]ErrorEntry(nil), s.Errors...)
	out.SuccessfulProducts = append([]VoucherRequest(nil), s.SuccessfulProducts...)
	if s.Transfer != nil {
		t := *s.Transfer
		out.Transfer = &t
	}
	return out
}

// Settled reports whether every request reached a terminal outcome.
func (s Stats) Settled() bool {
	return s.Success+s.Failed+s.Skipped == s.Total
}
