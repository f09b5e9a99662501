package main

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/x/term"

	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/types"
)

// stdinAnswerer answers input_required events with lines read from stdin.
// Secrets are read without echo when stdin is a terminal.
type stdinAnswerer struct {
	in  *bufio.Reader
	fd  uintptr
	tty bool
	con *console

	mu       sync.Mutex
	prompter *events.Prompter
	started  bool
	requests chan types.InputRequest
}

func newStdinAnswerer(in *os.File, con *console) *stdinAnswerer {
	return &stdinAnswerer{
		in:       bufio.NewReader(in),
		fd:       in.Fd(),
		tty:      term.IsTerminal(in.Fd()),
		con:      con,
		requests: make(chan types.InputRequest, 1),
	}
}

// Attach routes answers to p and starts reading stdin.
func (a *stdinAnswerer) Attach(p *events.Prompter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompter = p
	if !a.started {
		a.started = true
		go a.loop()
	}
}

// Handle is registered as a bus handler.
func (a *stdinAnswerer) Handle(e *types.RunEvent) {
	if e.Type != types.EventTypeInputRequired {
		return
	}
	a.mu.Lock()
	attached := a.prompter != nil
	a.mu.Unlock()
	if attached {
		a.requests <- *e.Input
	}
}

func (a *stdinAnswerer) loop() {
	for req := range a.requests {
		value, err := a.read(req.Type.IsSecret())
		if err != nil {
			a.con.Warn("Could not read the answer: " + err.Error())
			if err == io.EOF {
				return
			}
			continue
		}
		a.mu.Lock()
		p := a.prompter
		a.mu.Unlock()
		p.HandleResponse(types.NewInputResponse(req.ID, value))
	}
}

func (a *stdinAnswerer) read(secret bool) (string, error) {
	if secret && a.tty {
		b, err := term.ReadPassword(a.fd)
		a.con.print("\n")
		return strings.TrimSpace(string(b)), err
	}
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
