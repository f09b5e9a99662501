// Package batch runs a list of voucher requests against the accounting UI.
//
// A run authenticates once on a primary tab, then works through the
// requests in groups. Every member of a group gets its own isolated tab
// carrying the session cookies; the group fills all its forms first and
// then submits them. Retryable failures go through one more pass in
// smaller groups once every group is done. Successful decants finally go
// out on a single transfer note.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/artifact"
	"github.com/entrhq/stockpilot/pkg/auth"
	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/logging"
	"github.com/entrhq/stockpilot/pkg/metrics"
	"github.com/entrhq/stockpilot/pkg/store"
	"github.com/entrhq/stockpilot/pkg/transfer"
	"github.com/entrhq/stockpilot/pkg/types"
	"github.com/entrhq/stockpilot/pkg/voucher"
)

// Group widths.
const (
	DefaultConcurrency      = 5
	DefaultRetryConcurrency = 2
)

// Options tunes the scheduling of a run.
type Options struct {
	// Concurrency is the number of tabs filled and submitted together.
	Concurrency int
	// RetryConcurrency is the group width of the retry pass.
	RetryConcurrency int
	// NoRetry turns off the retry pass, which runs by default.
	NoRetry bool
	// Force bypasses the already-processed-today check.
	Force bool
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RetryConcurrency <= 0 {
		o.RetryConcurrency = DefaultRetryConcurrency
	}
}

// Transferer emits one transfer note for a list of items.
type Transferer interface {
	EmitTransfer(ctx context.Context, items []types.VoucherRequest) (types.TransferOutcome, error)
}

// TransferFactory builds the transfer emitter of one run. driver opens
// tabs that already carry the run's session.
type TransferFactory func(driver browser.Driver, reporter *events.Reporter) (Transferer, error)

// Deps are the collaborators of an Orchestrator. Driver, Voucher and Auth
// are required; everything else has a no-op default.
type Deps struct {
	Driver  browser.Driver
	Auth    auth.Options
	Voucher voucher.Options

	// Asker answers login prompts. Nil means no operator channel.
	Asker events.Asker

	Store    store.Store
	Uploader artifact.Uploader

	// Limiter paces mutating UI actions across every tab of a run.
	Limiter *rate.Limiter

	// Transfer is nil when no transfer note should be emitted.
	Transfer   TransferFactory
	Classifier *transfer.Classifier

	Sink   events.Sink
	Logger *logging.Logger
}

// Orchestrator starts batch runs. Runs share nothing but the collaborators
// in Deps, so several may be started from one Orchestrator.
type Orchestrator struct {
	opts Options
	deps Deps
}

// New checks deps and fills in defaults.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	opts.setDefaults()

	if deps.Driver == nil {
		return nil, errors.New("browser driver is required")
	}
	if _, err := voucher.New(deps.Voucher, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("invalid voucher options: %w", err)
	}
	if _, err := auth.New(deps.Auth, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("invalid auth options: %w", err)
	}
	if deps.Store == nil {
		deps.Store = store.Nop{}
	}
	if deps.Uploader == nil {
		deps.Uploader = artifact.Nop{}
	}
	if deps.Classifier == nil {
		c, err := transfer.NewClassifier(nil, nil)
		if err != nil {
			return nil, err
		}
		deps.Classifier = c
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Orchestrator{opts: opts, deps: deps}, nil
}

// RunBatch runs requests to completion and returns the final Stats.
func (o *Orchestrator) RunBatch(ctx context.Context, requests []types.VoucherRequest, creds types.Credentials) (types.Stats, error) {
	h, err := o.Start(ctx, requests, creds)
	if err != nil {
		return types.Stats{Total: len(requests)}, err
	}
	return h.Wait(), nil
}

// Start launches a run in the background. Cancelling ctx aborts browser
// operations in flight; RunHandle.Cancel stops the run between requests.
func (o *Orchestrator) Start(ctx context.Context, requests []types.VoucherRequest, creds types.Credentials) (*RunHandle, error) {
	h := newHandle(uuid.NewString(), len(requests))
	reporter := events.NewReporter(o.deps.Sink, h.id)
	logger := o.deps.Logger.With("run", h.id)

	machine, err := voucher.New(o.deps.Voucher, o.deps.Uploader, reporter, logger)
	if err != nil {
		return nil, err
	}
	authn, err := auth.New(o.deps.Auth, o.deps.Asker, reporter, logger)
	if err != nil {
		return nil, err
	}

	r := &run{
		o:        o,
		h:        h,
		requests: append([]types.VoucherRequest(nil), requests...),
		creds:    creds,
		reporter: reporter,
		logger:   logger,
		machine:  machine,
		auth:     authn,
	}
	go r.execute(ctx)
	return h, nil
}

// run holds the state of one Start call.
type run struct {
	o        *Orchestrator
	h        *RunHandle
	requests []types.VoucherRequest
	creds    types.Credentials
	reporter *events.Reporter
	logger   *logging.Logger
	machine  *voucher.Machine
	auth     *auth.Authenticator

	storeWarned bool
}

// item is a request and its position in the input.
type item struct {
	req   types.VoucherRequest
	index int
}

func (r *run) execute(ctx context.Context) {
	metrics.RunStarted()
	defer metrics.RunFinished()
	defer r.h.finish()

	start := time.Now()
	r.logger.Infof("run started with %d requests (concurrency %d, retry %v, force %v)",
		len(r.requests), r.o.opts.Concurrency, !r.o.opts.NoRetry, r.o.opts.Force)
	r.reporter.Info("Starting batch of %d vouchers", len(r.requests))

	pending := r.validate()

	switch {
	case len(pending) == 0:
	case r.stopped(ctx):
		r.cancelRemaining(pending)
	default:
		r.process(ctx, pending)
	}

	stats := r.h.Stats()
	if r.stopped(ctx) {
		r.reporter.Emit(types.NewRunStoppedEvent())
	}
	r.logger.Infof("run finished in %s: %d ok, %d failed, %d skipped",
		time.Since(start).Round(time.Millisecond), stats.Success, stats.Failed, stats.Skipped)
	summary := fmt.Sprintf("Batch finished: %d created, %d failed, %d skipped of %d",
		stats.Success, stats.Failed, stats.Skipped, stats.Total)
	if stats.Failed == 0 {
		r.reporter.Success("%s", summary)
	} else {
		r.reporter.Warning("%s", summary)
	}
	r.reporter.Emit(types.NewRunCompleteEvent(stats))
}

// validate fails malformed requests up front and returns the rest.
func (r *run) validate() []item {
	var out []item
	for i, req := range r.requests {
		if err := req.Validate(); err != nil {
			it := item{req: req, index: i}
			res := failure(req, err)
			r.report(it, res)
			r.settle(it, res)
			continue
		}
		out = append(out, item{req: req, index: i})
	}
	return out
}

func (r *run) process(ctx context.Context, pending []item) {
	tabs, primary, err := r.authenticate(ctx)
	if err != nil {
		r.abort(ctx, pending, err)
		return
	}
	defer func() {
		if err := primary.Close(); err != nil {
			r.logger.Debugf("closing login tab: %v", err)
		}
	}()

	r.h.setPhase(PhaseRunning)
	pending = r.skipProcessed(ctx, pending)
	queue := r.firstPass(ctx, tabs, pending)
	r.retryPass(ctx, tabs, queue)
	r.emitTransfer(ctx, tabs)
}

// authenticate logs in on a primary tab and returns a driver whose tabs
// share the resulting session.
func (r *run) authenticate(ctx context.Context) (browser.Driver, browser.Tab, error) {
	r.h.setPhase(PhaseAuthenticating)
	paced := browser.Throttle(r.o.deps.Driver, r.o.deps.Limiter)

	primary, err := paced.NewTab(ctx)
	if err != nil {
		metrics.RecordAuth(r.authMethod(), false)
		return nil, nil, fmt.Errorf("failed to open login tab: %w", err)
	}

	sess, err := r.auth.Authenticate(ctx, primary, r.creds)
	if err != nil {
		metrics.RecordAuth(r.authMethod(), false)
		_ = primary.Close()
		return nil, nil, err
	}
	metrics.RecordAuth(string(sess.Method), true)
	return browser.WithCookies(paced, sess.Cookies), primary, nil
}

// authMethod labels a failed login by the first strategy it would try.
func (r *run) authMethod() string {
	switch {
	case r.creds.HasCookies():
		return string(types.AuthMethodCookies)
	case r.creds.HasPassword():
		return string(types.AuthMethodCredentials)
	case r.o.deps.Asker != nil:
		return string(types.AuthMethodInteractive)
	default:
		return string(types.AuthMethodManual)
	}
}

// abort fails every pending request with the login error.
func (r *run) abort(ctx context.Context, pending []item, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		r.cancelRemaining(pending)
		return
	}
	if !errors.Is(err, apperr.ErrAuthenticationFailed) {
		err = fmt.Errorf("%w: %w", apperr.ErrAuthenticationFailed, err)
	}
	r.logger.Errorf("authentication failed, aborting batch: %v", err)
	r.reporter.Error("Login failed, no voucher was attempted: %v", err)
	for _, it := range pending {
		res := failure(it.req, err)
		r.report(it, res)
		r.settle(it, res)
	}
}

// skipProcessed drops requests the store has already seen today.
func (r *run) skipProcessed(ctx context.Context, pending []item) []item {
	if r.o.opts.Force {
		return pending
	}
	var out []item
	for _, it := range pending {
		done, err := r.o.deps.Store.AlreadyProcessedToday(ctx, it.req.SKU)
		if err != nil {
			done = false
			metrics.RecordStoreError("check")
			r.logger.Warnf("idempotency check for %s failed: %v", it.req.SKU, err)
			if !r.storeWarned {
				r.storeWarned = true
				r.reporter.Warning("History store unavailable, processing every voucher")
			}
		}
		if !done {
			out = append(out, it)
			continue
		}
		res := types.VoucherResult{
			SKU:      it.req.SKU,
			Name:     it.req.Name,
			Quantity: it.req.Quantity,
			Message:  "already processed today",
		}
		r.h.skip(it.index, res)
		metrics.RecordSkipped()
		r.reporter.Info("%s: already processed today, skipping", it.req.Label())
		r.reporter.Emit(types.NewVoucherCompleteEvent(res))
	}
	return out
}

// firstPass runs every group and returns the retryable failures.
func (r *run) firstPass(ctx context.Context, tabs browser.Driver, pending []item) []item {
	var queue []item
	width := r.o.opts.Concurrency

	for start := 0; start < len(pending); start += width {
		if r.stopped(ctx) {
			r.cancelRemaining(pending[start:])
			break
		}
		group := pending[start:min(start+width, len(pending))]
		r.logger.Debugf("group %d: %d vouchers", start/width+1, len(group))
		for _, it := range group {
			r.reporter.Emit(types.NewProgressEvent(it.index+1, len(r.requests), it.req))
		}

		results, reported := r.runGroup(ctx, tabs, group)
		for k, it := range group {
			res := results[k]
			if !reported[k] {
				r.report(it, res)
			}
			r.settle(it, res)
			if !res.Success && !r.o.opts.NoRetry && apperr.Retryable(res.Err) {
				queue = append(queue, it)
			}
		}
	}
	return queue
}

// retryPass gives each queued failure one more attempt. Groups run one
// after another; a stop leaves the remaining failures as they are.
func (r *run) retryPass(ctx context.Context, tabs browser.Driver, queue []item) {
	if len(queue) == 0 {
		return
	}
	if r.stopped(ctx) {
		r.reporter.Warning("Run stopped, %d failed vouchers not retried", len(queue))
		return
	}

	r.h.setPhase(PhaseRetrying)
	r.reporter.Info("Retrying %d failed vouchers", len(queue))
	width := r.o.opts.RetryConcurrency

	for start := 0; start < len(queue); start += width {
		if r.stopped(ctx) {
			r.reporter.Warning("Run stopped, %d failed vouchers not retried", len(queue)-start)
			return
		}
		group := queue[start:min(start+width, len(queue))]
		results, _ := r.runGroup(ctx, tabs, group)
		for k, it := range group {
			res := results[k]
			if errors.Is(res.Err, apperr.ErrCancelled) {
				continue
			}
			res.Retried = true
			r.h.supersede(it.index, res)
			metrics.RecordRetry(res.Success)
			metrics.RecordVoucher(res.Success, apperr.Kind(res.Err))
			if res.Success {
				r.recordProcessed(ctx, res)
				r.reporter.Success("%s: created on retry", it.req.Label())
			} else {
				r.reporter.Error("%s: retry failed: %s", it.req.Label(), res.Message)
			}
			r.reporter.Emit(types.NewVoucherCompleteEvent(res))
		}
	}
}

// runGroup fills every member of group concurrently, then submits the
// ones that passed the stock gate. Results line up with group. reported
// marks the results the voucher machine already logged.
func (r *run) runGroup(ctx context.Context, tabs browser.Driver, group []item) (results []types.VoucherResult, reported []bool) {
	results = make([]types.VoucherResult, len(group))
	reported = make([]bool, len(group))
	attempts := make([]*voucher.Attempt, len(group))
	open := make([]browser.Tab, len(group))
	defer func() {
		for _, tab := range open {
			if tab != nil {
				_ = tab.Close()
			}
		}
	}()

	var fill errgroup.Group
	for k, it := range group {
		fill.Go(func() error {
			if r.stopped(ctx) {
				results[k] = failure(it.req, apperr.ErrCancelled)
				return nil
			}
			tab, err := tabs.NewTab(ctx)
			if err != nil {
				results[k] = failure(it.req, apperr.Transient(fmt.Errorf("failed to open tab: %w", err)))
				return nil
			}
			open[k] = tab

			a := r.machine.NewAttempt(it.req, tab)
			attempts[k] = a
			if err := r.machine.Fill(ctx, a); err != nil {
				results[k] = a.Result()
			}
			return nil
		})
	}
	_ = fill.Wait()

	var submit errgroup.Group
	for k, a := range attempts {
		if a == nil || a.State() != voucher.StateStockCheck {
			continue
		}
		submit.Go(func() error {
			_ = r.machine.Submit(ctx, a)
			results[k] = a.Result()
			return nil
		})
	}
	_ = submit.Wait()

	for k, a := range attempts {
		reported[k] = a != nil
	}
	return results, reported
}

// settle records the first terminal outcome of a request.
func (r *run) settle(it item, res types.VoucherResult) {
	if res.Success {
		r.h.succeed(it.index, res)
		r.recordProcessed(context.Background(), res)
	} else {
		r.h.fail(it.index, res)
	}
	if !errors.Is(res.Err, apperr.ErrCancelled) {
		metrics.RecordVoucher(res.Success, apperr.Kind(res.Err))
	}
	r.reporter.Emit(types.NewVoucherCompleteEvent(res))
}

func (r *run) cancelRemaining(items []item) {
	if len(items) == 0 {
		return
	}
	r.reporter.Warning("Run stopped, %d vouchers not attempted", len(items))
	for _, it := range items {
		res := failure(it.req, apperr.ErrCancelled)
		r.report(it, res)
		r.settle(it, res)
	}
}

// report logs a failure the voucher machine never saw, so every
// terminal outcome has its own log line.
func (r *run) report(it item, res types.VoucherResult) {
	if errors.Is(res.Err, apperr.ErrCancelled) {
		r.reporter.Warning("%s: not attempted, run stopped", it.req.Label())
		return
	}
	r.reporter.Error("%s: %s", it.req.Label(), res.Message)
}

// recordProcessed writes a success to the store. It survives ctx being
// cancelled so a created voucher is never forgotten.
func (r *run) recordProcessed(ctx context.Context, res types.VoucherResult) {
	err := r.o.deps.Store.RecordProcessed(context.WithoutCancel(ctx), res.SKU, res.Name, res.Quantity)
	if err != nil {
		metrics.RecordStoreError("record")
		r.logger.Warnf("failed to record %s as processed: %v", res.SKU, err)
	}
}

// emitTransfer moves the decants produced by this run.
func (r *run) emitTransfer(ctx context.Context, tabs browser.Driver) {
	if r.o.deps.Transfer == nil || r.stopped(ctx) {
		return
	}
	items := r.o.deps.Classifier.Decants(r.h.Stats().SuccessfulProducts)
	if len(items) == 0 {
		r.reporter.Info("No decants produced, no transfer note needed")
		return
	}

	r.h.setPhase(PhaseTransferring)
	emitter, err := r.o.deps.Transfer(tabs, r.reporter)
	if err != nil {
		r.logger.Errorf("transfer emitter unavailable: %v", err)
		out := types.TransferOutcome{Message: err.Error(), Items: len(items)}
		r.h.setTransfer(out)
		r.reporter.Emit(types.NewTransferCompleteEvent(out))
		return
	}

	out, err := emitter.EmitTransfer(ctx, items)
	if err != nil {
		r.logger.Warnf("transfer note failed: %v", err)
	}
	r.h.setTransfer(out)
	r.reporter.Emit(types.NewTransferCompleteEvent(out))
}

func (r *run) stopped(ctx context.Context) bool {
	return r.h.Stopping() || ctx.Err() != nil
}

func failure(req types.VoucherRequest, err error) types.VoucherResult {
	return types.VoucherResult{
		Err:      err,
		SKU:      req.SKU,
		Name:     req.Name,
		Quantity: req.Quantity,
		Message:  err.Error(),
	}
}
