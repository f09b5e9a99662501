package batch

import (
	"sync"
	"sync/atomic"

	"github.com/entrhq/stockpilot/pkg/types"
)

// Phase is the coarse position of a run.
type Phase string

const (
	PhaseAuthenticating Phase = "authenticating"
	PhaseRunning        Phase = "running"
	PhaseRetrying       Phase = "retrying"
	PhaseTransferring   Phase = "transferring"
	PhaseDone           Phase = "done"
)

// Status is a point-in-time view of a run.
type Status struct {
	RunID    string      `json:"run_id"`
	Phase    Phase       `json:"phase"`
	Stopping bool        `json:"stopping"`
	Stats    types.Stats `json:"stats"`
}

// RunHandle is returned by Orchestrator.Start. It owns the stop flag and
// the live Stats of exactly one run.
type RunHandle struct {
	id   string
	stop atomic.Bool
	done chan struct{}

	mu      sync.Mutex
	phase   Phase
	stats   types.Stats
	results []types.VoucherResult
	// errAt is the index in stats.Errors of each request's entry, or -1.
	errAt []int
}

func newHandle(id string, total int) *RunHandle {
	errAt := make([]int, total)
	for i := range errAt {
		errAt[i] = -1
	}
	return &RunHandle{
		id:      id,
		done:    make(chan struct{}),
		phase:   PhaseAuthenticating,
		stats:   types.Stats{Total: total},
		results: make([]types.VoucherResult, total),
		errAt:   errAt,
	}
}

// ID returns the run id stamped on every event of the run.
func (h *RunHandle) ID() string { return h.id }

// Cancel asks the run to stop. The item in flight finishes; requests not
// yet started are recorded as not attempted. Safe to call more than once.
func (h *RunHandle) Cancel() { h.stop.Store(true) }

// Stopping reports whether Cancel was called.
func (h *RunHandle) Stopping() bool { return h.stop.Load() }

// Done is closed when the run has finished and Stats are final.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes and returns the final Stats.
func (h *RunHandle) Wait() types.Stats {
	<-h.done
	return h.Stats()
}

// Status returns a snapshot of the run.
func (h *RunHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		RunID:    h.id,
		Phase:    h.phase,
		Stopping: h.stop.Load(),
		Stats:    h.stats.Clone(),
	}
}

// Stats returns a copy of the current Stats.
func (h *RunHandle) Stats() types.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats.Clone()
}

// Results returns one result per request, in request order. Entries of
// requests that have not finished yet are zero.
func (h *RunHandle) Results() []types.VoucherResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.VoucherResult(nil), h.results...)
}

func (h *RunHandle) setPhase(p Phase) {
	h.mu.Lock()
	h.phase = p
	h.mu.Unlock()
}

// fail records the first terminal outcome of request i as a failure.
func (h *RunHandle) fail(i int, res types.VoucherResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[i] = res
	h.stats.Failed++
	h.errAt[i] = len(h.stats.Errors)
	h.stats.Errors = append(h.stats.Errors, types.ErrorEntry{SKU: res.SKU, Error: res.Message})
}

// succeed records the first terminal outcome of request i as a success.
func (h *RunHandle) succeed(i int, res types.VoucherResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[i] = res
	h.stats.Success++
	h.addProduct(res.Request())
}

func (h *RunHandle) skip(i int, res types.VoucherResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[i] = res
	h.stats.Skipped++
}

// supersede replaces the failed result of request i with its retry. The
// Errors entry of request i is updated or, on success, removed.
func (h *RunHandle) supersede(i int, res types.VoucherResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[i] = res

	at := h.errAt[i]
	if !res.Success {
		if at >= 0 {
			h.stats.Errors[at].Error = res.Message
		}
		return
	}
	if at >= 0 {
		h.stats.Errors = append(h.stats.Errors[:at], h.stats.Errors[at+1:]...)
		h.errAt[i] = -1
		for j, k := range h.errAt {
			if k > at {
				h.errAt[j] = k - 1
			}
		}
	}
	h.stats.Failed--
	h.stats.Success++
	h.addProduct(res.Request())
}

func (h *RunHandle) setTransfer(out types.TransferOutcome) {
	h.mu.Lock()
	h.stats.Transfer = &out
	h.mu.Unlock()
}

// addProduct keeps one entry per SKU. Caller holds mu.
func (h *RunHandle) addProduct(req types.VoucherRequest) {
	for j := range h.stats.SuccessfulProducts {
		if h.stats.SuccessfulProducts[j].SKU == req.SKU {
			h.stats.SuccessfulProducts[j].Quantity += req.Quantity
			return
		}
	}
	h.stats.SuccessfulProducts = append(h.stats.SuccessfulProducts, req)
}

func (h *RunHandle) finish() {
	h.setPhase(PhaseDone)
	close(h.done)
}
