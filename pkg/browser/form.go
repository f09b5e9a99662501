package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Replace clears selector with select-all + delete and types text.
// Fill("") is not enough on inputs that re-render their old value.
func Replace(tab Tab, selector, text string, delay time.Duration) error {
	if err := tab.Press(selector, "ControlOrMeta+a"); err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	if err := tab.Press(selector, "Delete"); err != nil {
		return fmt.Errorf("clear %s: %w", selector, err)
	}
	if err := tab.Type(selector, text, delay); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// Autocomplete types query into a search field and picks the first entry
// of the suggestion list. A space and a backspace after the query wake up
// widgets that ignored the typed keys. When no list shows up within
// timeout, Enter is pressed instead and picked is false.
func Autocomplete(ctx context.Context, tab Tab, field string, query string, items Locators, timeout, delay time.Duration) (picked bool, err error) {
	if err := tab.Fill(field, ""); err != nil {
		return false, fmt.Errorf("clear %s: %w", field, err)
	}
	if err := tab.Type(field, query, delay); err != nil {
		return false, fmt.Errorf("type into %s: %w", field, err)
	}
	if err := tab.Type(field, " ", 0); err != nil {
		return false, fmt.Errorf("nudge %s: %w", field, err)
	}
	if err := tab.Press(field, "Backspace"); err != nil {
		return false, fmt.Errorf("nudge %s: %w", field, err)
	}

	item, err := WaitFirst(ctx, tab, items, timeout)
	if err == nil {
		if err := tab.Click(item.Selector()); err != nil {
			return false, fmt.Errorf("pick suggestion: %w", err)
		}
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err := tab.Press(field, "Enter"); err != nil {
		return false, fmt.Errorf("confirm %s: %w", field, err)
	}
	return false, nil
}

// ClickFirst waits for the first matching candidate and clicks it.
func ClickFirst(ctx context.Context, tab Tab, candidates Locators, timeout time.Duration) error {
	loc, err := WaitFirst(ctx, tab, candidates, timeout)
	if err != nil {
		return err
	}
	return tab.Click(loc.Selector())
}

// VisibleText returns the trimmed text of the first visible candidate.
func VisibleText(tab Tab, candidates Locators) (string, bool) {
	loc, err := First(tab, candidates)
	if err != nil {
		return "", false
	}
	text, err := tab.Text(loc.Selector())
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}
