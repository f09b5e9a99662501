// Package transfer emits the stock transfer note that moves produced
// decants from the raw-material warehouse to the shop.
//
// The note is one multi-line document: lines are added one by one on a
// single tab and any failing line aborts the whole note.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/artifact"
	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/logging"
	"github.com/entrhq/stockpilot/pkg/metrics"
	"github.com/entrhq/stockpilot/pkg/types"
)

// Defaults.
const (
	DefaultUnitPrice           = 1.0
	DefaultPreviewPattern      = `(?:preview|view)/?(?:\?id=)?(\d+)`
	DefaultAutocompleteTimeout = 3 * time.Second
	DefaultProductIDTimeout    = 3 * time.Second
	DefaultPromptTimeout       = 2 * time.Second
	DefaultSubmitTimeout       = 10 * time.Second
)

// Options configures an Emitter.
type Options struct {
	TransferURL string
	Source      string
	Destination string

	// DefaultUnitPrice is typed when the page leaves the price blank or zero.
	DefaultUnitPrice float64

	PreviewPattern string

	WaitTimeout         time.Duration
	AutocompleteTimeout time.Duration
	ProductIDTimeout    time.Duration
	PromptTimeout       time.Duration
	SubmitTimeout       time.Duration
	PollInterval        time.Duration
	TypingDelay         time.Duration

	DecimalSeparator string
	ScreenshotDir    string

	Selectors Selectors
}

func (o *Options) setDefaults() {
	if o.DefaultUnitPrice == 0 {
		o.DefaultUnitPrice = DefaultUnitPrice
	}
	if o.PreviewPattern == "" {
		o.PreviewPattern = DefaultPreviewPattern
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = browser.DefaultWaitTimeout
	}
	if o.AutocompleteTimeout == 0 {
		o.AutocompleteTimeout = DefaultAutocompleteTimeout
	}
	if o.ProductIDTimeout == 0 {
		o.ProductIDTimeout = DefaultProductIDTimeout
	}
	if o.PromptTimeout == 0 {
		o.PromptTimeout = DefaultPromptTimeout
	}
	if o.SubmitTimeout == 0 {
		o.SubmitTimeout = DefaultSubmitTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = browser.DefaultPollInterval
	}
	if o.DecimalSeparator == "" {
		o.DecimalSeparator = "."
	}
	if o.Selectors.ProductSearch == nil {
		o.Selectors = DefaultSelectors()
	}
}

// Emitter creates transfer notes. Calls must not overlap: the note is a
// single document.
type Emitter struct {
	opts     Options
	driver   browser.Driver
	preview  *regexp.Regexp
	uploader artifact.Uploader
	reporter *events.Reporter
	logger   *logging.Logger
}

// New creates an Emitter that opens its tab through driver.
func New(opts Options, driver browser.Driver, uploader artifact.Uploader, reporter *events.Reporter, logger *logging.Logger) (*Emitter, error) {
	opts.setDefaults()
	if opts.TransferURL == "" {
		return nil, fmt.Errorf("transfer url is required")
	}
	if opts.Source == "" || opts.Destination == "" {
		return nil, fmt.Errorf("transfer source and destination are required")
	}
	preview, err := regexp.Compile(opts.PreviewPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid preview pattern: %w", err)
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
	return &Emitter{
		opts:     opts,
		driver:   driver,
		preview:  preview,
		uploader: uploader,
		reporter: reporter,
		logger:   logger,
	}, nil
}

// EmitTransfer creates and issues one transfer note holding every item.
// An empty list is a no-op that opens nothing and reports Success false.
func (e *Emitter) EmitTransfer(ctx context.Context, items []types.VoucherRequest) (types.TransferOutcome, error) {
	if len(items) == 0 {
		metrics.RecordTransfer("empty")
		return types.TransferOutcome{Message: "no decants to transfer"}, nil
	}

	out := types.TransferOutcome{Attempted: true, Items: len(items)}
	e.reporter.Info("Creating transfer note %s -> %s with %d lines", e.opts.Source, e.opts.Destination, len(items))

	tab, err := e.driver.NewTab(ctx)
	if err != nil {
		err = fmt.Errorf("%w: open tab: %v", apperr.ErrTransferFailed, err)
		return e.fail(ctx, nil, out, err)
	}
	defer tab.Close()

	id, err := e.emit(ctx, tab, items)
	if err != nil {
		return e.fail(ctx, tab, out, err)
	}

	out.Success = true
	out.Message = fmt.Sprintf("transfer note %s issued with %d lines", id, len(items))
	metrics.RecordTransfer("issued")
	e.reporter.Success("Transfer note %s issued (%d lines)", id, len(items))
	return out, nil
}

func (e *Emitter) emit(ctx context.Context, tab browser.Tab, items []types.VoucherRequest) (string, error) {
	sel := e.opts.Selectors

	if err := tab.Goto(e.opts.TransferURL); err != nil {
		return "", wrap("open transfer page", err)
	}
	if err := e.choose(ctx, tab, sel.Source, e.opts.Source); err != nil {
		return "", wrap("source location", err)
	}
	if err := e.choose(ctx, tab, sel.Destination, e.opts.Destination); err != nil {
		return "", wrap("destination location", err)
	}

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := e.addLine(ctx, tab, it); err != nil {
			return "", wrap(fmt.Sprintf("line %d (%s)", i+1, it.SKU), err)
		}
		e.logger.With("sku", it.SKU).Debugf("added transfer line %d/%d", i+1, len(items))
	}

	stale, _ := browser.VisibleText(tab, sel.Alert)
	if err := browser.ClickFirst(ctx, tab, sel.Save, e.opts.WaitTimeout); err != nil {
		return "", wrap("save", err)
	}
	id, err := e.awaitPreview(ctx, tab, stale)
	if err != nil {
		return "", err
	}

	if err := browser.ClickFirst(ctx, tab, sel.Issue, e.opts.WaitTimeout); err != nil {
		return "", wrap("issue", err)
	}
	if err := e.dismiss(ctx, tab, sel.Confirm); err != nil {
		return "", wrap("confirm issue", err)
	}
	if text, ok := browser.VisibleText(tab, sel.Alert); ok {
		return "", apperr.WithMessage(apperr.ErrTransferFailed, text)
	}
	return id, nil
}

func (e *Emitter) choose(ctx context.Context, tab browser.Tab, candidates browser.Locators, option string) error {
	loc, err := browser.WaitFirst(ctx, tab, candidates, e.opts.WaitTimeout)
	if err != nil {
		return err
	}
	return tab.Select(loc.Selector(), option)
}

func (e *Emitter) addLine(ctx context.Context, tab browser.Tab, it types.VoucherRequest) error {
	sel := e.opts.Selectors

	search, err := browser.WaitFirst(ctx, tab, sel.ProductSearch, e.opts.WaitTimeout)
	if err != nil {
		return err
	}
	if _, err := browser.Autocomplete(ctx, tab, search.Selector(), it.SKU, sel.Autocomplete, e.opts.AutocompleteTimeout, e.opts.TypingDelay); err != nil {
		return err
	}
	err = browser.Poll(ctx, e.opts.ProductIDTimeout, e.opts.PollInterval, func() (bool, error) {
		v, err := tab.Value(sel.ProductID)
		return err == nil && strings.TrimSpace(v) != "", nil
	})
	if errors.Is(err, browser.ErrPollTimeout) {
		return fmt.Errorf("%w: %s", apperr.ErrProductNotFound, it.SKU)
	}
	if err != nil {
		return err
	}

	qty, err := browser.WaitFirst(ctx, tab, sel.Quantity, e.opts.WaitTimeout)
	if err != nil {
		return err
	}
	if err := browser.Replace(tab, qty.Selector(), it.QuantityString(e.opts.DecimalSeparator), e.opts.TypingDelay); err != nil {
		return err
	}

	if err := e.ensurePrice(ctx, tab); err != nil {
		return err
	}

	stale, _ := browser.VisibleText(tab, sel.Alert)
	if err := browser.ClickFirst(ctx, tab, sel.AddLine, e.opts.WaitTimeout); err != nil {
		return err
	}
	if err := e.dismiss(ctx, tab, sel.PricePrompt); err != nil {
		return err
	}
	if text, ok := browser.VisibleText(tab, sel.Alert); ok && text != stale {
		return apperr.WithMessage(apperr.ErrTransferFailed, text)
	}
	return nil
}

// ensurePrice types the default unit price when the field is blank or zero.
func (e *Emitter) ensurePrice(ctx context.Context, tab browser.Tab) error {
	loc, err := browser.WaitFirst(ctx, tab, e.opts.Selectors.UnitPrice, e.opts.WaitTimeout)
	if err != nil {
		return err
	}
	field := loc.Selector()
	v, err := tab.Value(field)
	if err != nil {
		return err
	}
	if price, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64); err == nil && price > 0 {
		return nil
	}
	def := strings.Replace(strconv.FormatFloat(e.opts.DefaultUnitPrice, 'f', -1, 64), ".", e.opts.DecimalSeparator, 1)
	e.logger.Debugf("unit price %q blank, using %s", v, def)
	return browser.Replace(tab, field, def, e.opts.TypingDelay)
}

// dismiss clicks an optional prompt if it shows up within PromptTimeout.
func (e *Emitter) dismiss(ctx context.Context, tab browser.Tab, candidates browser.Locators) error {
	loc, err := browser.WaitFirst(ctx, tab, candidates, e.opts.PromptTimeout)
	if err != nil {
		return ctx.Err()
	}
	return tab.Click(loc.Selector())
}

// awaitPreview waits out SubmitTimeout for the preview redirect. Only
// then is an alert taken as the reason, and only if it differs from
// stale, the one showing before the save.
func (e *Emitter) awaitPreview(ctx context.Context, tab browser.Tab, stale string) (string, error) {
	var id string
	err := browser.Poll(ctx, e.opts.SubmitTimeout, e.opts.PollInterval, func() (bool, error) {
		if m := e.preview.FindStringSubmatch(tab.URL()); m != nil {
			id = m[len(m)-1]
			return true, nil
		}
		return false, nil
	})
	switch {
	case errors.Is(err, browser.ErrPollTimeout):
		if text, ok := browser.VisibleText(tab, e.opts.Selectors.Alert); ok && text != stale {
			return "", apperr.WithMessage(apperr.ErrTransferFailed, text)
		}
		return "", fmt.Errorf("%w: no preview after saving", apperr.ErrTransferFailed)
	case err != nil:
		return "", err
	}
	return id, nil
}

func (e *Emitter) fail(ctx context.Context, tab browser.Tab, out types.TransferOutcome, err error) (types.TransferOutcome, error) {
	if !errors.Is(err, apperr.ErrTransferFailed) {
		err = wrap("transfer", err)
	}
	if tab != nil {
		if link, cerr := artifact.Capture(ctx, tab, e.uploader, e.opts.ScreenshotDir, "transfer", "note"); cerr != nil {
			e.logger.Warnf("failure screenshot: %v", cerr)
		} else {
			e.logger.Infof("screenshot %s", link)
		}
	}
	metrics.RecordTransfer("failed")
	e.reporter.Error("Transfer note failed: %v", err)

	out.Message = err.Error()
	return out, err
}

// wrap classifies step failures as ErrTransferFailed and keeps the cause
// reachable for errors.Is.
func wrap(step string, err error) error {
	if errors.Is(err, apperr.ErrTransferFailed) {
		text := apperr.PageText(err)
		if text == "" {
			text = strings.TrimPrefix(err.Error(), apperr.ErrTransferFailed.Error()+": ")
		}
		return apperr.WithMessage(apperr.ErrTransferFailed, step+": "+text)
	}
	return fmt.Errorf("%w: %s: %w", apperr.ErrTransferFailed, step, err)
}
