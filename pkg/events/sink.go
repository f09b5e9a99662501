// Package events carries operator-facing output of a run: log lines,
// progress, per-voucher results and blocking input prompts.
//
// Emission is fire-and-forget and safe from any goroutine. Events from one
// goroutine keep their order; events from different goroutines interleave.
package events

import (
	"fmt"
	"sync"

	"github.com/entrhq/stockpilot/pkg/types"
)

// Sink receives run events.
type Sink interface {
	Emit(event *types.RunEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event *types.RunEvent)

func (f SinkFunc) Emit(event *types.RunEvent) { f(event) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(*types.RunEvent) {})

// Multi fans one event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e *types.RunEvent) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Reporter stamps events with a run id and offers shorthand for log lines.
type Reporter struct {
	sink  Sink
	runID string
}

// NewReporter creates a reporter. A nil sink discards.
func NewReporter(sink Sink, runID string) *Reporter {
	if sink == nil {
		sink = Discard
	}
	return &Reporter{sink: sink, runID: runID}
}

// RunID returns the run id stamped on every event.
func (r *Reporter) RunID() string { return r.runID }

// Sink returns the underlying sink.
func (r *Reporter) Sink() Sink { return r.sink }

// Emit stamps and forwards an event.
func (r *Reporter) Emit(e *types.RunEvent) {
	r.sink.Emit(e.WithRunID(r.runID))
}

func (r *Reporter) log(level types.LogLevel, format string, args ...any) {
	r.Emit(types.NewLogEvent(level, fmt.Sprintf(format, args...)))
}

func (r *Reporter) Info(format string, args ...any)    { r.log(types.LogLevelInfo, format, args...) }
func (r *Reporter) Warning(format string, args ...any) { r.log(types.LogLevelWarning, format, args...) }
func (r *Reporter) Error(format string, args ...any)   { r.log(types.LogLevelError, format, args...) }
func (r *Reporter) Success(format string, args ...any) { r.log(types.LogLevelSuccess, format, args...) }

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*types.RunEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(e *types.RunEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []*types.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.RunEvent(nil), r.events...)
}

// OfType returns recorded events of one type.
func (r *Recorder) OfType(t types.RunEventType) []*types.RunEvent {
	var out []*types.RunEvent
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Logs returns the recorded log lines.
func (r *Recorder) Logs() []types.LogEvent {
	var out []types.LogEvent
	for _, e := range r.OfType(types.EventTypeLog) {
		out = append(out, *e.Log)
	}
	return out
}

// Messages returns the messages of recorded log lines at level.
func (r *Recorder) Messages(level types.LogLevel) []string {
	var out []string
	for _, l := range r.Logs() {
		if l.Level == level {
			out = append(out, l.Message)
		}
	}
	return out
}
