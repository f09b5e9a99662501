package voucher

import "fmt"

// State is a step of the voucher flow.
type State string

const (
	StateIdle          State = "idle"
	StateProductLookup State = "product_lookup"
	StateQuantityEntry State = "quantity_entry"
	StateStockCheck    State = "stock_check"
	StateSubmitted     State = "submitted"
	StateLaunched      State = "launched"
	StateFinalized     State = "finalized"
	StateRejected      State = "rejected"
)

// next lists the forward transitions. Rejected is reachable from every
// non-terminal state and is not listed.
var next = map[State][]State{
	StateIdle:          {StateProductLookup},
	StateProductLookup: {StateQuantityEntry},
	StateQuantityEntry: {StateStockCheck},
	StateStockCheck:    {StateSubmitted},
	StateSubmitted:     {StateLaunched, StateFinalized}, // Finalized directly when confirmed through the ledger
	StateLaunched:      {StateFinalized},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateRejected
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateRejected {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a programming error in the flow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("voucher: illegal transition %s -> %s", e.From, e.To)
}
