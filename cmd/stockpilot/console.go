package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/stockpilot/pkg/types"
)

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	coralPink   = lipgloss.Color("#FFCCCB")
	mintGreen   = lipgloss.Color("#A8E6CF")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
	amber       = lipgloss.Color("#FDE68A")
)

var (
	headerStyle   = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	timeStyle     = lipgloss.NewStyle().Foreground(mutedGray)
	infoStyle     = lipgloss.NewStyle().Foreground(brightWhite)
	warnStyle     = lipgloss.NewStyle().Foreground(amber)
	errorStyle    = lipgloss.NewStyle().Foreground(salmonPink)
	successStyle  = lipgloss.NewStyle().Foreground(mintGreen)
	progressStyle = lipgloss.NewStyle().Foreground(coralPink).Bold(true)
	promptStyle   = lipgloss.NewStyle().Foreground(mintGreen).Bold(true)

	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
)

// console prints run events as they arrive on the bus.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// Handle is registered as a bus handler.
func (c *console) Handle(e *types.RunEvent) {
	switch e.Type {
	case types.EventTypeLog:
		c.log(e.Log.Timestamp, e.Log.Level, e.Log.Message)
	case types.EventTypeProgress:
		p := e.Progress
		label := p.SKU
		if p.Name != "" {
			label += " " + timeStyle.Render(p.Name)
		}
		c.println(progressStyle.Render(fmt.Sprintf("[%d/%d]", p.Current, p.Total)) + " " + label)
	case types.EventTypeVoucherComplete:
		v := e.Voucher
		if v.Success {
			c.println(successStyle.Render("  ✓ "+v.SKU) + " " + v.Message)
		} else {
			c.println(errorStyle.Render("  ✗ "+v.SKU) + " " + v.Message)
		}
	case types.EventTypeTransferComplete:
		t := e.Transfer
		if t.Success {
			c.println(successStyle.Render("Transfer note: ") + t.Message)
		} else {
			c.println(errorStyle.Render("Transfer note: ") + t.Message)
		}
	case types.EventTypeInputRequired:
		c.print(promptStyle.Render(e.Input.Prompt+": "))
	case types.EventTypeRunStopped:
		c.println(warnStyle.Render("Run stopped before every voucher was attempted"))
	case types.EventTypeRunComplete:
		c.println(renderSummary(*e.Stats))
	}
}

// Banner prints the run header.
func (c *console) Banner(runID string, total int) {
	c.println(headerStyle.Render("stockpilot") + timeStyle.Render(fmt.Sprintf(" run %s, %d vouchers", runID, total)))
}

func (c *console) Info(msg string) { c.log(time.Now(), types.LogLevelInfo, msg) }
func (c *console) Warn(msg string) { c.log(time.Now(), types.LogLevelWarning, msg) }

func (c *console) log(at time.Time, level types.LogLevel, msg string) {
	var style lipgloss.Style
	switch level {
	case types.LogLevelWarning:
		style = warnStyle
	case types.LogLevelError:
		style = errorStyle
	case types.LogLevelSuccess:
		style = successStyle
	default:
		style = infoStyle
	}
	c.println(timeStyle.Render(at.Format(time.TimeOnly)) + " " + style.Render(msg))
}

func (c *console) println(s string) {
	c.print(s + "\n")
}

func (c *console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, s)
}

func renderSummary(st types.Stats) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Summary") + "\n")
	fmt.Fprintf(&b, "%s %d\n", successStyle.Render("created:"), st.Success)
	fmt.Fprintf(&b, "%s %d", errorStyle.Render("failed: "), st.Failed)
	if st.Skipped > 0 {
		fmt.Fprintf(&b, "\n%s %d", timeStyle.Render("skipped:"), st.Skipped)
	}
	for _, e := range st.Errors {
		fmt.Fprintf(&b, "\n  %s %s", errorStyle.Render(e.SKU), e.Error)
	}
	if t := st.Transfer; t != nil {
		fmt.Fprintf(&b, "\n%s %s", headerStyle.Render("transfer:"), t.Message)
	}
	return summaryBoxStyle.Render(b.String())
}

func printFatal(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
}
