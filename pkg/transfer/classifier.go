package transfer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gobwas/glob"

	"github.com/entrhq/stockpilot/pkg/types"
)

// DefaultDecantPatterns match SKUs with a "-<ml>" suffix, e.g. 6291106063742-3.
var DefaultDecantPatterns = []string{"*-[0-9]", "*-[0-9][0-9]"}

// DefaultDecantKeywords match product names like "Decant 3 ml Yara Lattafa".
var DefaultDecantKeywords = []string{"decant"}

// Classifier picks the decant subset of produced vouchers.
type Classifier struct {
	patterns []glob.Glob
	keywords []string
}

// NewClassifier compiles the SKU patterns. Nil arguments use the defaults.
func NewClassifier(patterns, keywords []string) (*Classifier, error) {
	if patterns == nil {
		patterns = DefaultDecantPatterns
	}
	if keywords == nil {
		keywords = DefaultDecantKeywords
	}
	c := &Classifier{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid decant pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, g)
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c, nil
}

// IsDecant reports whether req is a decant: its SKU matches a pattern or,
// failing that, its name contains a keyword as a whole word.
func (c *Classifier) IsDecant(req types.VoucherRequest) bool {
	sku := strings.TrimSpace(req.SKU)
	for _, g := range c.patterns {
		if g.Match(sku) {
			return true
		}
	}
	words := strings.FieldsFunc(strings.ToLower(req.Name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for _, k := range c.keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

// Decants returns the decant subset of items, merging repeated SKUs into
// one line with the summed quantity. Order of first appearance is kept.
func (c *Classifier) Decants(items []types.VoucherRequest) []types.VoucherRequest {
	var out []types.VoucherRequest
	index := make(map[string]int)
	for _, it := range items {
		if !c.IsDecant(it) {
			continue
		}
		if i, ok := index[it.SKU]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.SKU] = len(out)
		out = append(out, it)
	}
	return out
}
