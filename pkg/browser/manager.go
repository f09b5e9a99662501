package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Options configures the launched browser and every tab opened from it.
type Options struct {
	// Headless controls whether the browser runs without a visible window.
	// Manual login needs a visible window.
	Headless bool

	// SlowMo slows every Playwright operation down, useful when watching a run.
	SlowMo time.Duration

	// Viewport sets the page size of new tabs.
	Viewport *Viewport

	// Timeout is the default timeout of every page operation.
	Timeout time.Duration

	// MaxTabs bounds the number of tabs open at once.
	MaxTabs int
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Manager owns the Playwright instance and the launched Chromium.
// It implements Driver: every tab is a separate browser context.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	playwright  *playwright.Playwright
	browser     playwright.Browser
	opts        Options
	initialized bool
}

// NewManager creates a manager. Call Initialize before opening tabs.
func NewManager(opts Options) *Manager {
	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTabs == 0 {
		opts.MaxTabs = DefaultMaxTabs
	}
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

// Initialize installs the Playwright driver if needed, starts it and launches Chromium.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Installer and driver output would interleave with the live event printer
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.opts.Headless),
	}
	if m.opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(m.opts.SlowMo.Milliseconds()))
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.playwright = pw
	m.browser = browser
	m.initialized = true
	return nil
}

// NewTab opens a new isolated browser context with one page.
func (m *Manager) NewTab(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}
	if len(m.sessions) >= m.opts.MaxTabs {
		return nil, fmt.Errorf("maximum number of tabs (%d) reached", m.opts.MaxTabs)
	}

	bctx, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(m.opts.Timeout.Milliseconds()))

	now := time.Now()
	session := &Session{
		id:         uuid.NewString(),
		context:    bctx,
		page:       page,
		createdAt:  now,
		lastUsedAt: now,
		onClose:    m.forget,
	}
	m.sessions[session.id] = session
	return session, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// OpenTabs returns information about all open tabs.
func (m *Manager) OpenTabs() []TabInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]TabInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Shutdown closes every tab, the browser and the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		m.initialized = false
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during browser shutdown: %v", errs)
	}
	return nil
}

// TabInfo contains metadata about an open tab.
type TabInfo struct {
	ID         string
	CurrentURL string
	CreatedAt  time.Time
	LastUsedAt time.Time
}
