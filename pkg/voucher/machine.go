// Package voucher drives the production page to create one production
// voucher per request.
//
// The flow is split in two phases so a batch can fill every form of a
// group before any of them is saved:
//
//	Fill:   Idle -> ProductLookup -> QuantityEntry -> StockCheck
//	Submit: StockCheck -> Submitted -> Launched -> Finalized
//
// Any step may end in Rejected. When saving neither redirects to the
// preview page nor shows an error, the ledger listing decides the outcome.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/artifact"
	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/logging"
	"github.com/entrhq/stockpilot/pkg/metrics"
	"github.com/entrhq/stockpilot/pkg/types"
)

// Default waits.
const (
	DefaultAutocompleteTimeout = 3 * time.Second
	DefaultProductIDTimeout    = 3 * time.Second
	DefaultSubmitTimeout       = 10 * time.Second
	DefaultConfirmTimeout      = 2 * time.Second
)

// Options configures a Machine.
type Options struct {
	ProductionURL string
	LedgerURL     string

	// PreviewPattern is matched against the URL after saving; group 1 is the document id.
	PreviewPattern string

	WaitTimeout         time.Duration
	AutocompleteTimeout time.Duration
	ProductIDTimeout    time.Duration
	SubmitTimeout       time.Duration
	ConfirmTimeout      time.Duration
	PollInterval        time.Duration
	TypingDelay         time.Duration

	DecimalSeparator string

	// SkipStockCheck turns off the required-vs-available gate, which runs
	// by default.
	SkipStockCheck bool
	StockKeywords  []string

	LedgerDateFormats []string

	// ScreenshotDir holds failure screenshots until they are uploaded.
	ScreenshotDir string

	Selectors Selectors
}

func (o *Options) setDefaults() {
	if o.WaitTimeout == 0 {
		o.WaitTimeout = browser.DefaultWaitTimeout
	}
	if o.AutocompleteTimeout == 0 {
		o.AutocompleteTimeout = DefaultAutocompleteTimeout
	}
	if o.ProductIDTimeout == 0 {
		o.ProductIDTimeout = DefaultProductIDTimeout
	}
	if o.SubmitTimeout == 0 {
		o.SubmitTimeout = DefaultSubmitTimeout
	}
	if o.ConfirmTimeout == 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = browser.DefaultPollInterval
	}
	if o.DecimalSeparator == "" {
		o.DecimalSeparator = "."
	}
	if o.StockKeywords == nil {
		o.StockKeywords = DefaultStockKeywords
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = os.TempDir()
	}
	if o.Selectors.ProductSearch == nil {
		o.Selectors = DefaultSelectors()
	}
}

// Machine runs voucher attempts. It holds no per-voucher state and is
// safe for concurrent use across tabs. It remembers every document id it
// has attributed, so one ledger row never confirms two attempts.
type Machine struct {
	opts     Options
	preview  *regexp.Regexp
	ledger   *Ledger
	uploader artifact.Uploader
	reporter *events.Reporter
	logger   *logging.Logger

	mu      sync.Mutex
	claimed map[string]bool
}

// New validates opts and creates a Machine. uploader, reporter and logger may be nil.
func New(opts Options, uploader artifact.Uploader, reporter *events.Reporter, logger *logging.Logger) (*Machine, error) {
	opts.setDefaults()
	if opts.ProductionURL == "" {
		return nil, fmt.Errorf("production url is required")
	}
	preview, err := regexp.Compile(opts.PreviewPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid preview pattern: %w", err)
	}
	if preview.NumSubexp() < 1 {
		return nil, fmt.Errorf("preview pattern %q needs a capture group for the document id", opts.PreviewPattern)
	}
	if uploader == nil {
		uploader = artifact.Nop{}
	}
	if reporter == nil {
		reporter = events.NewReporter(nil, "")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Machine{
		opts:     opts,
		preview:  preview,
		uploader: uploader,
		reporter: reporter,
		logger:   logger,
		claimed:  make(map[string]bool),
	}
	if opts.LedgerURL != "" {
		m.ledger = NewLedger(opts.LedgerURL, opts.LedgerDateFormats)
	}
	return m, nil
}

// Attempt is one pass of one request through the flow on one tab.
type Attempt struct {
	Request types.VoucherRequest
	Tab     browser.Tab

	ProductID    string
	ProductionID string

	// Verified is set when success was established from the ledger.
	Verified bool

	// Screenshot is where the failure screenshot was uploaded, if any.
	Screenshot string

	state   State
	history []State
	err     error

	// staleAlert is the alert already showing before the save click.
	staleAlert string
}

// NewAttempt starts req in Idle on tab.
func (m *Machine) NewAttempt(req types.VoucherRequest, tab browser.Tab) *Attempt {
	return &Attempt{Request: req, Tab: tab, state: StateIdle, history: []State{StateIdle}}
}

// State returns the current state.
func (a *Attempt) State() State { return a.state }

// History returns every state visited, in order.
func (a *Attempt) History() []State { return append([]State(nil), a.history...) }

// Err returns the failure that rejected the attempt.
func (a *Attempt) Err() error { return a.err }

// Result converts the attempt into a VoucherResult.
func (a *Attempt) Result() types.VoucherResult {
	res := types.VoucherResult{
		SKU:          a.Request.SKU,
		Name:         a.Request.Name,
		Quantity:     a.Request.Quantity,
		ProductionID: a.ProductionID,
		Success:      a.state == StateFinalized,
	}
	switch {
	case a.err != nil:
		res.Err = a.err
		res.Message = a.err.Error()
	case res.Success && a.Verified:
		res.Message = "voucher " + a.ProductionID + " confirmed in ledger"
	case res.Success:
		res.Message = "voucher " + a.ProductionID + " finalized"
	default:
		res.Err = fmt.Errorf("%w: stopped in %s", apperr.ErrTransientUI, a.state)
		res.Message = res.Err.Error()
	}
	return res
}

func (a *Attempt) advance(to State) {
	if !canTransition(a.state, to) {
		panic(&TransitionError{From: a.state, To: to})
	}
	a.state = to
	a.history = append(a.history, to)
}

// Run takes req through both phases on tab.
func (m *Machine) Run(ctx context.Context, req types.VoucherRequest, tab browser.Tab) types.VoucherResult {
	a := m.NewAttempt(req, tab)
	if err := m.Fill(ctx, a); err != nil {
		return a.Result()
	}
	_ = m.Submit(ctx, a)
	return a.Result()
}

// Fill opens the production form, resolves the product, types the
// quantity and applies the stock gate. On error the attempt is Rejected.
func (m *Machine) Fill(ctx context.Context, a *Attempt) error {
	if a.state != StateIdle {
		return &TransitionError{From: a.state, To: StateProductLookup}
	}
	start := time.Now()
	defer func() { metrics.ObservePhase("fill", time.Since(start)) }()

	log := m.logger.With("sku", a.Request.SKU)
	a.advance(StateProductLookup)

	if err := a.Tab.Goto(m.opts.ProductionURL); err != nil {
		return m.reject(ctx, a, apperr.Transient(fmt.Errorf("open production page: %w", err)))
	}
	if err := m.lookupProduct(ctx, a); err != nil {
		return m.reject(ctx, a, err)
	}
	log.Debugf("resolved product id %s", a.ProductID)

	a.advance(StateQuantityEntry)
	if err := m.enterQuantity(ctx, a); err != nil {
		return m.reject(ctx, a, err)
	}

	a.advance(StateStockCheck)
	if !m.opts.SkipStockCheck {
		if err := m.checkStock(a); err != nil {
			return m.reject(ctx, a, err)
		}
	}
	return nil
}

// Submit saves a filled form and chains the preview actions up to
// Finalized. On error the attempt is Rejected.
func (m *Machine) Submit(ctx context.Context, a *Attempt) error {
	if a.state != StateStockCheck {
		return &TransitionError{From: a.state, To: StateSubmitted}
	}
	start := time.Now()
	defer func() { metrics.ObservePhase("submit", time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return m.reject(ctx, a, err)
	}

	save, err := browser.WaitFirst(ctx, a.Tab, m.opts.Selectors.Save, m.opts.WaitTimeout)
	if err != nil {
		return m.reject(ctx, a, apperr.Transient(fmt.Errorf("save button: %w", err)))
	}
	a.staleAlert, _ = m.alert(a.Tab)
	if err := a.Tab.Click(save.Selector()); err != nil {
		return m.reject(ctx, a, apperr.Transient(fmt.Errorf("click save: %w", err)))
	}

	id, err := m.awaitPreview(ctx, a.Tab)
	if err != nil {
		return m.reject(ctx, a, err)
	}
	if id == "" {
		if text, ok := m.freshAlert(a); ok {
			return m.reject(ctx, a, m.classifyAlert(text))
		}
		a.advance(StateSubmitted)
		return m.verifyInLedger(ctx, a)
	}

	m.claim(id)
	a.ProductionID = id
	a.advance(StateSubmitted)
	m.logger.With("sku", a.Request.SKU).Debugf("preview %s at %s", id, a.Tab.URL())

	if err := m.launch(ctx, a); err != nil {
		return m.reject(ctx, a, err)
	}
	a.advance(StateLaunched)

	if err := m.finalize(ctx, a); err != nil {
		return m.reject(ctx, a, err)
	}
	a.advance(StateFinalized)
	m.reporter.Success("%s: voucher %s created", a.Request.Label(), a.ProductionID)
	return nil
}

func (m *Machine) lookupProduct(ctx context.Context, a *Attempt) error {
	sel := m.opts.Selectors
	tab := a.Tab

	search, err := browser.WaitFirst(ctx, tab, sel.ProductSearch, m.opts.WaitTimeout)
	if err != nil {
		return apperr.Transient(fmt.Errorf("product search field: %w", err))
	}

	picked, err := browser.Autocomplete(ctx, tab, search.Selector(), a.Request.SKU,
		sel.Autocomplete, m.opts.AutocompleteTimeout, m.opts.TypingDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Transient(fmt.Errorf("product search: %w", err))
	}
	if !picked {
		m.logger.With("sku", a.Request.SKU).Warnf("no autocomplete list, pressed Enter")
	}

	err = browser.Poll(ctx, m.opts.ProductIDTimeout, m.opts.PollInterval, func() (bool, error) {
		v, err := tab.Value(sel.ProductID)
		if err != nil {
			return false, nil
		}
		a.ProductID = strings.TrimSpace(v)
		return a.ProductID != "", nil
	})
	if errors.Is(err, browser.ErrPollTimeout) {
		return fmt.Errorf("%w: no product matches SKU %s", apperr.ErrProductNotFound, a.Request.SKU)
	}
	return err
}

func (m *Machine) enterQuantity(ctx context.Context, a *Attempt) error {
	tab := a.Tab
	q, err := browser.WaitFirst(ctx, tab, m.opts.Selectors.Quantity, m.opts.WaitTimeout)
	if err != nil {
		return apperr.Transient(fmt.Errorf("quantity field: %w", err))
	}
	field := q.Selector()
	want := a.Request.QuantityString(m.opts.DecimalSeparator)

	if err := browser.Replace(tab, field, want, m.opts.TypingDelay); err != nil {
		return apperr.Transient(fmt.Errorf("quantity: %w", err))
	}

	got, err := tab.Value(field)
	if err != nil {
		return apperr.Transient(fmt.Errorf("read quantity: %w", err))
	}
	if strings.TrimSpace(got) != want {
		return fmt.Errorf("%w: quantity field shows %q, want %q", apperr.ErrTransientUI, got, want)
	}
	return nil
}

// checkStock compares required and available raw material per recipe
// line. Pages that show neither figure pass.
func (m *Machine) checkStock(a *Attempt) error {
	sel := m.opts.Selectors
	required := texts(a.Tab, sel.RequiredStock)
	available := texts(a.Tab, sel.AvailableStock)
	if len(required) == 0 || len(available) == 0 {
		m.logger.With("sku", a.Request.SKU).Debugf("no stock figures on page, skipping gate")
		return nil
	}
	if len(required) != len(available) {
		m.logger.With("sku", a.Request.SKU).Warnf("stock columns differ in length (%d vs %d)", len(required), len(available))
	}

	for i := 0; i < len(required) && i < len(available); i++ {
		need, ok1 := parseNumber(required[i])
		have, ok2 := parseNumber(available[i])
		if !ok1 || !ok2 {
			continue
		}
		if need > have {
			m.reporter.Warning("%s: needs %s raw material, only %s in stock",
				a.Request.Label(), formatNumber(need), formatNumber(have))
			return apperr.ErrInsufficientStock
		}
	}
	return nil
}

// awaitPreview waits for the preview redirect. An empty id means the
// submit timeout passed without one. Alerts are not looked at here: a
// warning on the form can sit next to a save that still redirects.
func (m *Machine) awaitPreview(ctx context.Context, tab browser.Tab) (id string, err error) {
	err = browser.Poll(ctx, m.opts.SubmitTimeout, m.opts.PollInterval, func() (bool, error) {
		if match := m.preview.FindStringSubmatch(tab.URL()); match != nil {
			id = match[1]
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, browser.ErrPollTimeout) {
		return "", nil
	}
	return id, err
}

func (m *Machine) launch(ctx context.Context, a *Attempt) error {
	tab := a.Tab
	commit, err := browser.WaitFirst(ctx, tab, m.opts.Selectors.Commit, m.opts.WaitTimeout)
	if err != nil {
		return apperr.Transient(fmt.Errorf("launch button: %w", err))
	}
	if err := tab.Click(commit.Selector()); err != nil {
		return apperr.Transient(fmt.Errorf("click launch: %w", err))
	}

	// The confirmation modal does not always appear.
	confirm, err := browser.WaitFirst(ctx, tab, m.opts.Selectors.Confirm, m.opts.ConfirmTimeout)
	switch {
	case err == nil:
		if err := tab.Click(confirm.Selector()); err != nil {
			return apperr.Transient(fmt.Errorf("confirm launch: %w", err))
		}
	case ctx.Err() != nil:
		return ctx.Err()
	}

	if text, ok := m.freshAlert(a); ok {
		return m.classifyAlert(text)
	}
	return nil
}

func (m *Machine) finalize(ctx context.Context, a *Attempt) error {
	tab := a.Tab
	btn, err := browser.WaitFirst(ctx, tab, m.opts.Selectors.Finalize, m.opts.WaitTimeout)
	if err != nil {
		return apperr.Transient(fmt.Errorf("finalize button: %w", err))
	}
	if err := tab.Click(btn.Selector()); err != nil {
		return apperr.Transient(fmt.Errorf("click finalize: %w", err))
	}
	if text, ok := m.freshAlert(a); ok {
		return m.classifyAlert(text)
	}
	return nil
}

func (m *Machine) verifyInLedger(ctx context.Context, a *Attempt) error {
	if m.ledger == nil {
		return m.reject(ctx, a, fmt.Errorf("%w: no preview redirect and no ledger configured", apperr.ErrNotFoundInLedger))
	}
	m.reporter.Warning("%s: no preview after saving, checking the ledger", a.Request.Label())

	start := time.Now()
	entry, err := m.findUnclaimed(ctx, a)
	metrics.ObservePhase("ledger", time.Since(start))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFoundInLedger) {
			metrics.RecordLedger("missing")
		} else {
			metrics.RecordLedger("error")
		}
		return m.reject(ctx, a, err)
	}
	metrics.RecordLedger("found")

	a.ProductionID = entry.ID
	a.Verified = true
	a.advance(StateFinalized)
	m.reporter.Success("%s: voucher %s found in ledger", a.Request.Label(), entry.ID)
	return nil
}

func (m *Machine) classifyAlert(text string) error {
	lower := strings.ToLower(text)
	for _, k := range m.opts.StockKeywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return apperr.WithMessage(apperr.ErrInsufficientStock, text)
		}
	}
	return apperr.WithMessage(apperr.ErrSubmissionRejected, text)
}

func (m *Machine) alert(tab browser.Tab) (string, bool) {
	return browser.VisibleText(tab, m.opts.Selectors.Alert)
}

// freshAlert returns a visible alert unless it is the one that was
// already showing before the save.
func (m *Machine) freshAlert(a *Attempt) (string, bool) {
	text, ok := m.alert(a.Tab)
	if !ok || text == a.staleAlert {
		return "", false
	}
	return text, true
}

// findUnclaimed looks up today's ledger row for a and claims its id.
// Concurrent attempts of the same SKU can race for one row; the loser
// looks again with that id excluded.
func (m *Machine) findUnclaimed(ctx context.Context, a *Attempt) (LedgerEntry, error) {
	for {
		entry, err := m.ledger.Find(ctx, a.Tab, a.Request.SKU, m.isClaimed)
		if err != nil {
			return LedgerEntry{}, err
		}
		if m.claim(entry.ID) {
			return entry, nil
		}
	}
}

// claim records id as attributed. It returns false if it already was.
func (m *Machine) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[id] {
		return false
	}
	m.claimed[id] = true
	return true
}

func (m *Machine) isClaimed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed[id]
}

// reject moves a to Rejected, captures a screenshot and reports the failure.
func (m *Machine) reject(ctx context.Context, a *Attempt, err error) error {
	a.err = err
	a.advance(StateRejected)
	m.capture(ctx, a)
	m.reporter.Error("%s: %s", a.Request.Label(), err)
	m.logger.With("sku", a.Request.SKU).Errorf("rejected: %v (states %v)", err, a.history)
	return err
}

// capture is best-effort: errors are logged and never change the outcome.
func (m *Machine) capture(ctx context.Context, a *Attempt) {
	log := m.logger.With("sku", a.Request.SKU)
	link, err := artifact.Capture(ctx, a.Tab, m.uploader, m.opts.ScreenshotDir, "voucher", a.Request.SKU)
	if err != nil {
		log.Warnf("failure screenshot: %v", err)
		return
	}
	a.Screenshot = link
	log.Infof("screenshot %s", link)
}

func texts(tab browser.Tab, candidates browser.Locators) []string {
	for _, c := range candidates {
		got, err := tab.Texts(c.Selector())
		if err == nil && len(got) > 0 {
			return got
		}
	}
	return nil
}

// parseNumber reads "1.234,5", "1,234.5", "12,5" or "3 buc". The last
// separator is the decimal one.
func parseNumber(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return 0, false
	}

	dec := strings.LastIndexAny(clean, ",.")
	if dec >= 0 {
		intPart := strings.NewReplacer(",", "", ".", "").Replace(clean[:dec])
		clean = intPart + "." + clean[dec+1:]
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
