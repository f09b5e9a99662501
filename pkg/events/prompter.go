package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/types"
)

// DefaultInputTimeout bounds how long a prompt waits for the operator.
const DefaultInputTimeout = 300 * time.Second

// Asker obtains one value from the operator.
type Asker interface {
	Ask(ctx context.Context, kind types.InputType, prompt string) (string, error)
}

// Prompter correlates InputRequest events with InputResponse answers by id.
// At most one request is outstanding at a time; concurrent callers queue.
type Prompter struct {
	sink    Sink
	timeout time.Duration

	// slot holds one token while a request is outstanding
	slot chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingInput
}

type pendingInput struct {
	request   types.InputRequest
	response  chan string
	closeOnce sync.Once
}

var _ Asker = (*Prompter)(nil)

// NewPrompter creates a prompter emitting input_required events to sink.
func NewPrompter(sink Sink, timeout time.Duration) *Prompter {
	if timeout <= 0 {
		timeout = DefaultInputTimeout
	}
	if sink == nil {
		sink = Discard
	}
	return &Prompter{
		sink:    sink,
		timeout: timeout,
		slot:    make(chan struct{}, 1),
		pending: make(map[string]*pendingInput),
	}
}

// Ask emits an input_required event and blocks until it is answered, the
// timeout passes (ErrAuthenticationTimeout) or ctx is done.
func (p *Prompter) Ask(ctx context.Context, kind types.InputType, prompt string) (string, error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.slot }()

	req := types.InputRequest{
		ID:        uuid.New().String(),
		Type:      kind,
		Prompt:    prompt,
		Timestamp: time.Now(),
	}
	responseChannel := make(chan string, 1)

	p.mu.Lock()
	p.pending[req.ID] = &pendingInput{request: req, response: responseChannel}
	p.mu.Unlock()
	defer p.cleanup(req.ID)

	p.sink.Emit(types.NewInputRequiredEvent(req))

	timeout := time.NewTimer(p.timeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()

	case <-timeout.C:
		return "", fmt.Errorf("%w: no %s entered within %s", apperr.ErrAuthenticationTimeout, kind, p.timeout)

	case value := <-responseChannel:
		return value, nil
	}
}

// HandleResponse delivers an answer. Answers for unknown or already answered
// ids are ignored. Never blocks.
func (p *Prompter) HandleResponse(resp *types.InputResponse) {
	if resp == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.pending[resp.ID]
	if !ok {
		return
	}

	select {
	case pi.response <- resp.Value:
	default:
		// already answered
	}
}

// Pending returns the outstanding request, if any.
func (p *Prompter) Pending() (types.InputRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pi := range p.pending {
		return pi.request, true
	}
	return types.InputRequest{}, false
}

func (p *Prompter) cleanup(id string) {
	p.mu.Lock()
	pi, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if ok {
		pi.closeOnce.Do(func() {
			close(pi.response)
		})
	}
}
