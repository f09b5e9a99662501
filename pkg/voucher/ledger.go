package voucher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/browser"
)

// DefaultLedgerDateFormats are the date layouts the listing may print.
var DefaultLedgerDateFormats = []string{"02.01.2006", "2006-01-02"}

var ledgerIDPattern = regexp.MustCompile(`(?:[?&]id=|/)(\d+)/?(?:[?#].*)?$`)

// LedgerEntry is a listing row that matched a lookup.
type LedgerEntry struct {
	ID   string
	Text string
}

// Ledger finds vouchers in the read-only production listing.
type Ledger struct {
	url     string
	formats []string
	now     func() time.Time
}

// NewLedger creates a ledger reader for the listing at url.
func NewLedger(url string, dateFormats []string) *Ledger {
	if len(dateFormats) == 0 {
		dateFormats = DefaultLedgerDateFormats
	}
	return &Ledger{url: url, formats: dateFormats, now: time.Now}
}

// Find opens the listing on tab and returns today's row mentioning sku.
// Rows without a document id, and rows whose id exclude reports, are
// passed over. exclude may be nil. A missing row is ErrNotFoundInLedger.
func (l *Ledger) Find(ctx context.Context, tab browser.Tab, sku string, exclude func(id string) bool) (LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return LedgerEntry{}, err
	}
	if err := tab.Goto(l.url); err != nil {
		return LedgerEntry{}, apperr.Transient(fmt.Errorf("open ledger: %w", err))
	}
	content, err := tab.Content()
	if err != nil {
		return LedgerEntry{}, apperr.Transient(fmt.Errorf("read ledger: %w", err))
	}
	rows, err := parseRows(content)
	if err != nil {
		return LedgerEntry{}, apperr.Transient(fmt.Errorf("parse ledger: %w", err))
	}

	today := l.now()
	match := skuMatcher(sku)
	for _, r := range rows {
		if !l.isToday(r.text, today) || !match.MatchString(r.text) {
			continue
		}
		id := r.id()
		if id == "" || (exclude != nil && exclude(id)) {
			continue
		}
		return LedgerEntry{ID: id, Text: r.text}, nil
	}
	return LedgerEntry{}, fmt.Errorf("%w: no row for %s dated %s", apperr.ErrNotFoundInLedger, sku, today.Format(l.formats[0]))
}

func (l *Ledger) isToday(text string, today time.Time) bool {
	for _, f := range l.formats {
		if strings.Contains(text, today.Format(f)) {
			return true
		}
	}
	return false
}

// skuMatcher matches sku as a whole token so "A-3" does not hit "A-30".
func skuMatcher(sku string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\w-])` + regexp.QuoteMeta(sku) + `(?:$|[^\w-])`)
}

type row struct {
	text   string
	dataID string
	hrefs  []string
}

func (r row) id() string {
	if r.dataID != "" {
		return r.dataID
	}
	for _, h := range r.hrefs {
		if m := ledgerIDPattern.FindStringSubmatch(h); m != nil {
			return m[1]
		}
	}
	return ""
}

// parseRows flattens every <tr> of the document into its text and links.
func parseRows(content string) ([]row, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	var rows []row
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, readRow(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows, nil
}

func readRow(tr *html.Node) row {
	r := row{dataID: attr(tr, "data-id")}
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		case html.ElementNode:
			if n.Data == "a" {
				if h := attr(n, "href"); h != "" {
					r.hrefs = append(r.hrefs, h)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(tr)
	r.text = strings.Join(parts, " ")
	return r
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
