// Package auth establishes a logged-in browser session against the
// accounting UI.
//
// Authenticate tries, in order: injected cookies, the supplied email and
// password, an interactive prompt for email and password, and finally
// waiting for the operator to log in by hand in the visible browser. A
// one-time SMS code is asked for through the same prompt channel, or waited
// for when no channel exists.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/logging"
	"github.com/entrhq/stockpilot/pkg/types"
)

// Default timeouts.
const (
	DefaultManualLoginTimeout = 90 * time.Second
	DefaultTwoFactorTimeout   = 300 * time.Second
	DefaultSubmitTimeout      = 15 * time.Second
	DefaultConsentTimeout     = 3 * time.Second
)

// Selectors locate the login form controls.
type Selectors struct {
	CookieConsent   browser.Locators
	Email           browser.Locators
	Password        browser.Locators
	Submit          browser.Locators
	TwoFactor       browser.Locators
	TwoFactorSubmit browser.Locators
	Error           browser.Locators
}

// DefaultSelectors returns the locators of the current login page.
func DefaultSelectors() Selectors {
	return Selectors{
		CookieConsent: browser.Locators{
			browser.ByID("CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll"),
		},
		Email: browser.Locators{
			browser.ByID("username"),
			browser.ByID("email"),
			browser.ByCSS("input[name='email']"),
		},
		Password: browser.Locators{
			browser.ByID("password"),
			browser.ByCSS("input[type='password']"),
		},
		Submit: browser.Locators{
			browser.ByCSS(`button[type="submit"]`),
			browser.ByCSS(`input[type="submit"]`),
		},
		TwoFactor: browser.Locators{
			browser.ByID("sms_code"),
		},
		TwoFactorSubmit: browser.Locators{
			browser.ByCSS(".modal.show button[type='submit']"),
			browser.ByCSS(".modal button.btn-primary"),
		},
		Error: browser.Locators{
			browser.ByCSS(".alert-danger"),
			browser.ByCSS(".error"),
			browser.ByCSS(".alert"),
		},
	}
}

// Options configures an Authenticator.
type Options struct {
	// HomeURL is a page that requires login; unauthenticated visits redirect to the login route.
	HomeURL  string
	LoginURL string

	// Glob patterns matched against the full current URL.
	LoginPattern     string
	TwoFactorPattern string

	ManualLoginTimeout time.Duration
	TwoFactorTimeout   time.Duration
	SubmitTimeout      time.Duration
	ConsentTimeout     time.Duration
	PollInterval       time.Duration

	Selectors Selectors
}

func (o *Options) setDefaults() {
	if o.ManualLoginTimeout == 0 {
		o.ManualLoginTimeout = DefaultManualLoginTimeout
	}
	if o.TwoFactorTimeout == 0 {
		o.TwoFactorTimeout = DefaultTwoFactorTimeout
	}
	if o.SubmitTimeout == 0 {
		o.SubmitTimeout = DefaultSubmitTimeout
	}
	if o.ConsentTimeout == 0 {
		o.ConsentTimeout = DefaultConsentTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = browser.DefaultPollInterval
	}
	if o.Selectors.Email == nil {
		o.Selectors = DefaultSelectors()
	}
}

// Session is the outcome of a successful Authenticate.
type Session struct {
	AuthenticatedAt time.Time
	Status          types.AuthStatus
	Method          types.AuthMethod
	URL             string

	// Cookies of the logged-in context, shared with voucher tabs.
	Cookies []types.Cookie
}

// Authenticator owns the authentication state of one run.
type Authenticator struct {
	opts      Options
	login     glob.Glob
	twoFactor glob.Glob
	asker     events.Asker
	reporter  *events.Reporter
	logger    *logging.Logger
	status    types.AuthStatus
}

// New creates an authenticator. asker may be nil when no operator channel
// exists; reporter and logger may be nil.
func New(opts Options, asker events.Asker, reporter *events.Reporter, logger *logging.Logger) (*Authenticator, error) {
	opts.setDefaults()

	login, err := glob.Compile(opts.LoginPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid login pattern %q: %w", opts.LoginPattern, err)
	}
	twoFactor, err := glob.Compile(opts.TwoFactorPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid two factor pattern %q: %w", opts.TwoFactorPattern, err)
	}
	if reporter == nil {
		reporter = events.NewReporter(nil, "")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Authenticator{
		opts:      opts,
		login:     login,
		twoFactor: twoFactor,
		asker:     asker,
		reporter:  reporter,
		logger:    logger,
		status:    types.AuthStatusUnauthenticated,
	}, nil
}

// Status returns the current authentication state.
func (a *Authenticator) Status() types.AuthStatus {
	return a.status
}

// Authenticate logs tab in, trying every applicable strategy in order.
func (a *Authenticator) Authenticate(ctx context.Context, tab browser.Tab, creds types.Credentials) (*Session, error) {
	a.status = types.AuthStatusUnauthenticated
	var lastErr error

	if creds.HasCookies() {
		ok, err := a.tryCookies(tab, creds.Cookies)
		if err != nil {
			a.logger.Warnf("cookie login errored: %v", err)
		}
		if ok {
			return a.finish(tab, types.AuthMethodCookies)
		}
		a.reporter.Warning("Saved cookies did not log in, they are probably expired")
	}

	if creds.HasPassword() {
		err := a.submitCredentials(ctx, tab, creds.Email, creds.Password)
		if err == nil {
			return a.finish(tab, types.AuthMethodCredentials)
		}
		if !errors.Is(err, apperr.ErrAuthenticationFailed) {
			return nil, err
		}
		a.reporter.Error("Login with the supplied credentials failed: %s", describe(err))
		lastErr = err
	}

	if a.asker != nil {
		err := a.interactive(ctx, tab)
		if err == nil {
			return a.finish(tab, types.AuthMethodInteractive)
		}
		return nil, err
	}

	if creds.HasCookies() || creds.HasPassword() {
		if lastErr == nil {
			lastErr = apperr.WithMessage(apperr.ErrAuthenticationFailed, "cookies rejected and no other login method available")
		}
		return nil, lastErr
	}

	if err := a.manual(ctx, tab); err != nil {
		return nil, err
	}
	return a.finish(tab, types.AuthMethodManual)
}

func (a *Authenticator) finish(tab browser.Tab, method types.AuthMethod) (*Session, error) {
	a.status = types.AuthStatusAuthenticated

	cookies, err := tab.Cookies()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to read session cookies: %w", err))
	}

	a.logger.Infof("authenticated via %s at %s (%d cookies)", method, tab.URL(), len(cookies))
	a.reporter.Success("Logged in (%s)", method)

	return &Session{
		AuthenticatedAt: time.Now(),
		Status:          a.status,
		Method:          method,
		URL:             tab.URL(),
		Cookies:         cookies,
	}, nil
}

// tryCookies sets cookies on the home page origin and checks whether a
// reload stays off the login route.
func (a *Authenticator) tryCookies(tab browser.Tab, cookies []types.Cookie) (bool, error) {
	a.reporter.Info("Trying %d saved cookies", len(cookies))

	if err := tab.Goto(a.opts.HomeURL); err != nil {
		return false, err
	}
	if err := tab.AddCookies(cookies); err != nil {
		return false, err
	}
	if err := tab.Reload(); err != nil {
		return false, err
	}
	return a.loggedIn(tab.URL()), nil
}

func (a *Authenticator) interactive(ctx context.Context, tab browser.Tab) error {
	a.reporter.Info("Waiting for login details from the operator")

	email, err := a.asker.Ask(ctx, types.InputTypeEmail, "Oblio email")
	if err != nil {
		return err
	}
	password, err := a.asker.Ask(ctx, types.InputTypePassword, "Oblio password")
	if err != nil {
		return err
	}
	return a.submitCredentials(ctx, tab, email, password)
}

// manual waits for the operator to log in through the visible browser.
func (a *Authenticator) manual(ctx context.Context, tab browser.Tab) error {
	if err := tab.Goto(a.opts.LoginURL); err != nil {
		return apperr.Transient(err)
	}
	a.dismissConsent(ctx, tab)

	a.reporter.Warning("No credentials supplied: log in manually in the browser window within %s", a.opts.ManualLoginTimeout)

	err := browser.Poll(ctx, a.opts.ManualLoginTimeout, a.opts.PollInterval, func() (bool, error) {
		return a.loggedIn(tab.URL()), nil
	})
	if errors.Is(err, browser.ErrPollTimeout) {
		return fmt.Errorf("%w: manual login not completed within %s", apperr.ErrAuthenticationTimeout, a.opts.ManualLoginTimeout)
	}
	return err
}

// submitCredentials fills and submits the login form, then handles the
// second factor if the site asks for one.
func (a *Authenticator) submitCredentials(ctx context.Context, tab browser.Tab, email, password string) error {
	if err := tab.Goto(a.opts.LoginURL); err != nil {
		return apperr.Transient(err)
	}
	if a.loggedIn(tab.URL()) {
		// an earlier strategy left a valid session behind
		return nil
	}
	a.dismissConsent(ctx, tab)

	sel := a.opts.Selectors
	emailLoc, err := browser.WaitFirst(ctx, tab, sel.Email, a.opts.SubmitTimeout)
	if err != nil {
		return apperr.Transient(fmt.Errorf("login form not found: %w", err))
	}
	passLoc, err := browser.First(tab, sel.Password)
	if err != nil {
		return apperr.Transient(fmt.Errorf("password field not found: %w", err))
	}
	submitLoc, err := browser.First(tab, sel.Submit)
	if err != nil {
		return apperr.Transient(fmt.Errorf("login button not found: %w", err))
	}

	if err := tab.Fill(emailLoc.Selector(), email); err != nil {
		return apperr.Transient(err)
	}
	if err := tab.Fill(passLoc.Selector(), password); err != nil {
		return apperr.Transient(err)
	}
	a.logger.Debugf("submitting login form for %s", email)
	if err := tab.Click(submitLoc.Selector()); err != nil {
		return apperr.Transient(err)
	}

	outcome, text, err := a.awaitLoginOutcome(ctx, tab)
	if err != nil {
		return err
	}

	switch outcome {
	case outcomeAuthenticated:
		return nil
	case outcomeRejected:
		return apperr.WithMessage(apperr.ErrAuthenticationFailed, text)
	case outcomeSecondFactor:
		a.status = types.AuthStatusAwaitingSecondFactor
		return a.secondFactor(ctx, tab)
	default:
		return apperr.WithMessage(apperr.ErrAuthenticationFailed, "login form submitted but the page did not change")
	}
}

type loginOutcome int

const (
	outcomePending loginOutcome = iota
	outcomeAuthenticated
	outcomeSecondFactor
	outcomeRejected
)

func (a *Authenticator) awaitLoginOutcome(ctx context.Context, tab browser.Tab) (loginOutcome, string, error) {
	outcome := outcomePending
	var text string

	err := browser.Poll(ctx, a.opts.SubmitTimeout, a.opts.PollInterval, func() (bool, error) {
		switch {
		case a.awaitingCode(tab):
			outcome = outcomeSecondFactor
		case a.loggedIn(tab.URL()):
			outcome = outcomeAuthenticated
		default:
			if msg, ok := a.pageError(tab); ok {
				outcome, text = outcomeRejected, msg
			}
		}
		return outcome != outcomePending, nil
	})
	if err != nil && !errors.Is(err, browser.ErrPollTimeout) {
		return outcomePending, "", err
	}
	return outcome, text, nil
}

// secondFactor obtains the SMS code from the operator, or waits for it to
// be typed into the browser when no prompt channel exists.
func (a *Authenticator) secondFactor(ctx context.Context, tab browser.Tab) error {
	a.reporter.Warning("Second factor required: an SMS code was sent")

	if a.asker == nil {
		a.reporter.Info("Enter the SMS code in the browser window within %s", a.opts.TwoFactorTimeout)
		return a.awaitPastSecondFactor(ctx, tab, a.opts.TwoFactorTimeout)
	}

	askCtx, cancel := context.WithTimeout(ctx, a.opts.TwoFactorTimeout)
	code, err := a.asker.Ask(askCtx, types.InputTypeTwoFactorCode, "SMS code")
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: no SMS code within %s", apperr.ErrAuthenticationTimeout, a.opts.TwoFactorTimeout)
		}
		return err
	}

	sel := a.opts.Selectors
	codeLoc, err := browser.First(tab, sel.TwoFactor)
	if err != nil {
		return apperr.Transient(fmt.Errorf("SMS code field disappeared: %w", err))
	}
	if err := tab.Fill(codeLoc.Selector(), code); err != nil {
		return apperr.Transient(err)
	}
	if submit, err := browser.First(tab, sel.TwoFactorSubmit); err == nil {
		err = tab.Click(submit.Selector())
		if err != nil {
			return apperr.Transient(err)
		}
	} else if err := tab.Press(codeLoc.Selector(), "Enter"); err != nil {
		return apperr.Transient(err)
	}

	return a.awaitPastSecondFactor(ctx, tab, a.opts.SubmitTimeout)
}

// awaitPastSecondFactor polls until the URL leaves both the login and the
// second factor routes. A visible page error fails immediately.
func (a *Authenticator) awaitPastSecondFactor(ctx context.Context, tab browser.Tab, timeout time.Duration) error {
	var rejected string
	err := browser.Poll(ctx, timeout, a.opts.PollInterval, func() (bool, error) {
		if a.loggedIn(tab.URL()) {
			return true, nil
		}
		if msg, ok := a.pageError(tab); ok {
			rejected = msg
			return true, nil
		}
		return false, nil
	})

	switch {
	case errors.Is(err, browser.ErrPollTimeout):
		return fmt.Errorf("%w: second factor not completed within %s", apperr.ErrAuthenticationTimeout, timeout)
	case err != nil:
		return err
	case rejected != "":
		return apperr.WithMessage(apperr.ErrAuthenticationFailed, rejected)
	}
	return nil
}

// dismissConsent clicks the cookie banner's accept button if it shows up.
func (a *Authenticator) dismissConsent(ctx context.Context, tab browser.Tab) {
	loc, err := browser.WaitFirst(ctx, tab, a.opts.Selectors.CookieConsent, a.opts.ConsentTimeout)
	if err != nil {
		return
	}
	if err := tab.Click(loc.Selector()); err != nil {
		a.logger.Debugf("cookie banner click failed: %v", err)
		return
	}
	a.logger.Debugf("cookie banner dismissed")
}

func (a *Authenticator) loggedIn(url string) bool {
	return !a.login.Match(url) && !a.twoFactor.Match(url) && url != "about:blank" && url != ""
}

func (a *Authenticator) awaitingCode(tab browser.Tab) bool {
	if a.twoFactor.Match(tab.URL()) {
		return true
	}
	_, err := browser.First(tab, a.opts.Selectors.TwoFactor)
	return err == nil
}

// pageError returns the text of the first visible error element.
func (a *Authenticator) pageError(tab browser.Tab) (string, bool) {
	loc, err := browser.First(tab, a.opts.Selectors.Error)
	if err != nil {
		return "", false
	}
	text, err := tab.Text(loc.Selector())
	if err != nil {
		return "", false
	}
	if text == "" {
		text = "login rejected"
	}
	return text, true
}

func describe(err error) string {
	if text := apperr.PageText(err); text != "" {
		return text
	}
	return err.Error()
}
