package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoMatch is returned when no locator candidate matches a visible element.
var ErrNoMatch = errors.New("no matching element")

// Strategy selects how a Locator value is interpreted.
type Strategy string

const (
	StrategyID    Strategy = "id"
	StrategyCSS   Strategy = "css"
	StrategyXPath Strategy = "xpath"
	StrategyText  Strategy = "text"
)

// Locator describes one way to find an element.
type Locator struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Value    string   `yaml:"value" json:"value"`
}

// ByID locates by element id, without the leading '#'.
func ByID(id string) Locator { return Locator{Strategy: StrategyID, Value: id} }

// ByCSS locates by CSS selector.
func ByCSS(sel string) Locator { return Locator{Strategy: StrategyCSS, Value: sel} }

// ByXPath locates by XPath expression.
func ByXPath(expr string) Locator { return Locator{Strategy: StrategyXPath, Value: expr} }

// ByText locates by visible text.
func ByText(text string) Locator { return Locator{Strategy: StrategyText, Value: text} }

// Selector renders the locator in Playwright selector syntax.
func (l Locator) Selector() string {
	switch l.Strategy {
	case StrategyID:
		return "#" + strings.TrimPrefix(l.Value, "#")
	case StrategyXPath:
		return "xpath=" + l.Value
	case StrategyText:
		return "text=" + l.Value
	default:
		return l.Value
	}
}

func (l Locator) String() string {
	return fmt.Sprintf("%s(%s)", l.Strategy, l.Value)
}

// Locators is an ordered list of candidates, most specific first.
type Locators []Locator

// Selectors renders every candidate.
func (ls Locators) Selectors() []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Selector()
	}
	return out
}

func (ls Locators) String() string {
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}

// First returns the first candidate whose element is visible on the tab.
// Candidates that error are skipped. ErrNoMatch when none match.
func First(tab Tab, candidates Locators) (Locator, error) {
	for _, c := range candidates {
		visible, err := tab.Visible(c.Selector())
		if err != nil {
			continue
		}
		if visible {
			return c, nil
		}
	}
	return Locator{}, fmt.Errorf("%w among [%s]", ErrNoMatch, candidates)
}

// WaitFirst polls First until a candidate matches, the timeout passes or ctx ends.
func WaitFirst(ctx context.Context, tab Tab, candidates Locators, timeout time.Duration) (Locator, error) {
	var found Locator
	err := Poll(ctx, timeout, DefaultPollInterval, func() (bool, error) {
		loc, err := First(tab, candidates)
		if err != nil {
			return false, nil
		}
		found = loc
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrPollTimeout) {
			return Locator{}, fmt.Errorf("%w among [%s] after %s", ErrNoMatch, candidates, timeout)
		}
		return Locator{}, err
	}
	return found, nil
}

// ErrPollTimeout is returned by Poll when the condition never held.
var ErrPollTimeout = errors.New("condition not met before timeout")

// Poll evaluates cond every interval until it returns true, returns an error,
// the timeout passes or ctx is done. cond runs once immediately.
func Poll(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrPollTimeout
		case <-ticker.C:
		}
	}
}
