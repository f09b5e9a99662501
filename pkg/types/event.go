package types

import "time"

// LogLevel is the severity of an operator-facing log line.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelSuccess LogLevel = "success"
)

// LogEvent is one operator-facing log line.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// RunEventType defines the type of event emitted during a run.
type RunEventType string

const (
	EventTypeLog              RunEventType = "log"               // EventTypeLog carries a LogEvent.
	EventTypeProgress         RunEventType = "progress"          // EventTypeProgress reports which request is being worked on.
	EventTypeVoucherComplete  RunEventType = "voucher_complete"  // EventTypeVoucherComplete carries the terminal result of one voucher.
	EventTypeTransferComplete RunEventType = "transfer_complete" // EventTypeTransferComplete carries the outcome of the transfer note step.
	EventTypeInputRequired    RunEventType = "input_required"    // EventTypeInputRequired asks the operator for a value.
	EventTypeRunStopped       RunEventType = "run_stopped"       // EventTypeRunStopped indicates the run was cancelled before finishing.
	EventTypeRunComplete      RunEventType = "run_complete"      // EventTypeRunComplete carries the final Stats of the run.
)

// Progress identifies the request currently being processed.
type Progress struct {
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// RunEvent is emitted on the event sink. Exactly one payload field is set, matching Type.
type RunEvent struct {
	Timestamp time.Time `json:"timestamp"`

	Log      *LogEvent        `json:"log,omitempty"`
	Progress *Progress        `json:"progress,omitempty"`
	Voucher  *VoucherResult   `json:"voucher,omitempty"`
	Transfer *TransferOutcome `json:"transfer,omitempty"`
	Input    *InputRequest    `json:"input,omitempty"`
	Stats    *Stats           `json:"stats,omitempty"`

	// RunID correlates events of one run when several runs share a sink.
	RunID string `json:"run_id,omitempty"`

	Type RunEventType `json:"type"`
}

// NewLogEvent creates a log event stamped with the current time.
func NewLogEvent(level LogLevel, message string) *RunEvent {
	now := time.Now()
	return &RunEvent{
		Type:      EventTypeLog,
		Timestamp: now,
		Log:       &LogEvent{Level: level, Message: message, Timestamp: now},
	}
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(current, total int, req VoucherRequest) *RunEvent {
	return &RunEvent{
		Type:      EventTypeProgress,
		Timestamp: time.Now(),
		Progress:  &Progress{Current: current, Total: total, SKU: req.SKU, Name: req.Name},
	}
}

// NewVoucherCompleteEvent creates a voucher completion event.
func NewVoucherCompleteEvent(result VoucherResult) *RunEvent {
	return &RunEvent{
		Type:      EventTypeVoucherComplete,
		Timestamp: time.Now(),
		Voucher:   &result,
	}
}

// NewTransferCompleteEvent creates a transfer completion event.
func NewTransferCompleteEvent(outcome TransferOutcome) *RunEvent {
	return &RunEvent{
		Type:      EventTypeTransferComplete,
		Timestamp: time.Now(),
		Transfer:  &outcome,
	}
}

// NewInputRequiredEvent creates an input required event.
func NewInputRequiredEvent(req InputRequest) *RunEvent {
	return &RunEvent{
		Type:      EventTypeInputRequired,
		Timestamp: time.Now(),
		Input:     &req,
	}
}

// NewRunStoppedEvent creates a run stopped event.
func NewRunStoppedEvent() *RunEvent {
	return &RunEvent{
		Type:      EventTypeRunStopped,
		Timestamp: time.Now(),
	}
}

// NewRunCompleteEvent creates a run completion event with a copy of stats.
func NewRunCompleteEvent(stats Stats) *RunEvent {
	s := stats.Clone()
	return &RunEvent{
		Type:      EventTypeRunComplete,
		Timestamp: time.Now(),
		Stats:     &s,
	}
}

// WithRunID sets the run id and returns the event for chaining.
func (e *RunEvent) WithRunID(id string) *RunEvent {
	e.RunID = id
	return e
}

// IsLogEvent returns true if the event carries a log line.
func (e *RunEvent) IsLogEvent() bool {
	return e.Type == EventTypeLog
}

// IsTerminal returns true for events that end a run.
func (e *RunEvent) IsTerminal() bool {
	return e.Type == EventTypeRunComplete
}
