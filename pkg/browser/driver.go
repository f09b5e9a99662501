package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/stockpilot/pkg/types"
)

// Default values for browser operations.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultWaitTimeout    = 5 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultTypingDelay    = 80 * time.Millisecond
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
	DefaultMaxTabs        = 12
)

// Driver opens isolated tabs.
type Driver interface {
	// NewTab opens a fresh browser context with one page.
	NewTab(ctx context.Context) (Tab, error)
}

// Tab is one isolated page. Selectors use Playwright syntax, see Locator.
//
// A Tab is not safe for concurrent use; each voucher drives its own.
type Tab interface {
	ID() string

	Goto(url string) error
	Reload() error
	URL() string

	AddCookies(cookies []types.Cookie) error
	Cookies() ([]types.Cookie, error)

	// Count returns how many elements match selector right now.
	Count(selector string) (int, error)
	// Visible reports whether the first match of selector is visible.
	Visible(selector string) (bool, error)
	// WaitVisible blocks until the first match is visible or timeout passes.
	WaitVisible(selector string, timeout time.Duration) error

	// Fill replaces the value of an input in one step.
	Fill(selector, value string) error
	// Type sends text key by key with delay between keys.
	Type(selector, text string, delay time.Duration) error
	// Press sends a single key or chord such as "Enter" or "ControlOrMeta+a".
	Press(selector, key string) error
	Click(selector string) error
	// Select picks an option of a <select> by label, falling back to value.
	Select(selector, option string) error

	// Value returns the current value of an input.
	Value(selector string) (string, error)
	// Text returns the text content of the first match.
	Text(selector string) (string, error)
	// Texts returns the text content of every match.
	Texts(selector string) ([]string, error)
	// Content returns the full page HTML.
	Content() (string, error)

	Screenshot(path string) error
	Close() error
}

// cookieDriver seeds every new tab with a fixed cookie set.
type cookieDriver struct {
	next    Driver
	cookies []types.Cookie
}

// WithCookies returns a Driver whose tabs start with cookies already set.
// Used to share one authenticated session across isolated voucher tabs.
func WithCookies(d Driver, cookies []types.Cookie) Driver {
	return &cookieDriver{next: d, cookies: append([]types.Cookie(nil), cookies...)}
}

func (d *cookieDriver) NewTab(ctx context.Context) (Tab, error) {
	tab, err := d.next.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	if len(d.cookies) == 0 {
		return tab, nil
	}
	if err := tab.AddCookies(d.cookies); err != nil {
		_ = tab.Close()
		return nil, fmt.Errorf("failed to share session cookies: %w", err)
	}
	return tab, nil
}
