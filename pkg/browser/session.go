package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/stockpilot/pkg/types"
)

// Session is a Playwright backed Tab: one browser context with one page.
type Session struct {
	mu         sync.Mutex
	id         string
	context    playwright.BrowserContext
	page       playwright.Page
	createdAt  time.Time
	lastUsedAt time.Time
	onClose    func(id string)
	closed     bool
}

var _ Tab = (*Session)(nil)

func (s *Session) ID() string { return s.id }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

// Info returns metadata about the session.
func (s *Session) Info() TabInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TabInfo{
		ID:         s.id,
		CurrentURL: s.page.URL(),
		CreatedAt:  s.createdAt,
		LastUsedAt: s.lastUsedAt,
	}
}

func (s *Session) Goto(url string) error {
	s.touch()
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *Session) Reload() error {
	s.touch()
	if _, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

func (s *Session) URL() string { return s.page.URL() }

func (s *Session) AddCookies(cookies []types.Cookie) error {
	s.touch()
	pc := toPlaywrightCookies(cookies)
	if len(pc) == 0 {
		return fmt.Errorf("no usable cookies among %d supplied", len(cookies))
	}
	if err := s.context.AddCookies(pc); err != nil {
		return fmt.Errorf("add cookies failed: %w", err)
	}
	return nil
}

func (s *Session) Cookies() ([]types.Cookie, error) {
	cookies, err := s.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies failed: %w", err)
	}
	return fromPlaywrightCookies(cookies), nil
}

func (s *Session) Count(selector string) (int, error) {
	return s.page.Locator(selector).Count()
}

func (s *Session) Visible(selector string) (bool, error) {
	return s.page.Locator(selector).First().IsVisible()
}

func (s *Session) WaitVisible(selector string, timeout time.Duration) error {
	s.touch()
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("wait for %s failed: %w", selector, err)
	}
	return nil
}

func (s *Session) Fill(selector, value string) error {
	s.touch()
	if err := s.page.Locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("fill %s failed: %w", selector, err)
	}
	return nil
}

func (s *Session) Type(selector, text string, delay time.Duration) error {
	s.touch()
	err := s.page.Locator(selector).First().PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(float64(delay.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("type into %s failed: %w", selector, err)
	}
	return nil
}

func (s *Session) Press(selector, key string) error {
	s.touch()
	if err := s.page.Locator(selector).First().Press(key); err != nil {
		return fmt.Errorf("press %s on %s failed: %w", key, selector, err)
	}
	return nil
}

func (s *Session) Click(selector string) error {
	s.touch()
	if err := s.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click %s failed: %w", selector, err)
	}
	return nil
}

func (s *Session) Select(selector, option string) error {
	s.touch()
	loc := s.page.Locator(selector).First()
	if _, err := loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{option}}); err == nil {
		return nil
	}
	if _, err := loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{option}}); err != nil {
		return fmt.Errorf("select %q in %s failed: %w", option, selector, err)
	}
	return nil
}

func (s *Session) Value(selector string) (string, error) {
	return s.page.Locator(selector).First().InputValue()
}

func (s *Session) Text(selector string) (string, error) {
	return s.page.Locator(selector).First().TextContent()
}

func (s *Session) Texts(selector string) ([]string, error) {
	return s.page.Locator(selector).AllTextContents()
}

func (s *Session) Content() (string, error) {
	return s.page.Content()
}

func (s *Session) Screenshot(path string) error {
	if _, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	return nil
}

// Close closes the page and its context. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.page.Close() // the context close below releases it anyway
	err := s.context.Close()
	if s.onClose != nil {
		s.onClose(s.id)
	}
	if err != nil {
		return fmt.Errorf("close tab %s: %w", s.id, err)
	}
	return nil
}
