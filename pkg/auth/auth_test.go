package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/stockpilot/pkg/apperr"
	"github.com/entrhq/stockpilot/pkg/browser/fake"
	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/types"
)

const (
	homeURL  = "https://www.oblio.eu/stock/production/"
	loginURL = "https://www.oblio.eu/login/"

	consentSel   = "#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll"
	submitSel    = `button[type="submit"]`
	codeSel      = "#sms_code"
	codeSubmit   = ".modal.show button[type='submit']"
	loginErrSel  = ".alert-danger"
	validCookie  = "PHPSESSID"
	goodEmail    = "ops@example.com"
	goodPassword = "s3cret"
)

// site scripts the login flow of the accounting UI on a fake tab.
type site struct {
	mu        sync.Mutex
	twoFactor bool
	code      string
	loggedIn  bool
}

func (s *site) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *site) setLoggedIn() {
	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()
}

func (s *site) attach(tab *fake.Tab) {
	tab.OnGoto(func(tab *fake.Tab, url string) error {
		if s.isLoggedIn() || tab.HasCookie(validCookie) {
			if url == loginURL {
				url = homeURL
			}
			tab.SetURL(url)
			return nil
		}
		tab.SetURL(loginURL)
		tab.Show(consentSel, "Permite toate")
		tab.Input("#username", "").Input("#password", "").Show(submitSel, "Autentificare")
		return nil
	})

	tab.OnClick(consentSel, func(tab *fake.Tab) error {
		tab.Hide(consentSel)
		return nil
	})

	tab.OnClick(submitSel, func(tab *fake.Tab) error {
		if tab.ValueOf("#username") != goodEmail || tab.ValueOf("#password") != goodPassword {
			tab.Show(loginErrSel, "Email sau parola incorecta")
			return nil
		}
		if s.twoFactor {
			tab.Input(codeSel, "").Show(codeSubmit, "Verifica")
			return nil
		}
		s.setLoggedIn()
		tab.SetURL(homeURL)
		return nil
	})

	tab.OnClick(codeSubmit, func(tab *fake.Tab) error {
		if tab.ValueOf(codeSel) != s.code {
			tab.Show(loginErrSel, "Codul introdus nu este corect")
			return nil
		}
		s.setLoggedIn()
		tab.Hide(codeSel).Hide(codeSubmit)
		tab.SetURL(homeURL)
		return nil
	})
}

// scriptedAsker answers prompts from a map and records what was asked.
type scriptedAsker struct {
	mu      sync.Mutex
	answers map[types.InputType]string
	err     error
	asked   []types.InputType
}

func (a *scriptedAsker) Ask(_ context.Context, kind types.InputType, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked = append(a.asked, kind)
	if a.err != nil {
		return "", a.err
	}
	return a.answers[kind], nil
}

func testOptions() Options {
	return Options{
		HomeURL:            homeURL,
		LoginURL:           loginURL,
		LoginPattern:       "*/login*",
		TwoFactorPattern:   "*/login/{2fa,sms}*",
		ManualLoginTimeout: 200 * time.Millisecond,
		TwoFactorTimeout:   200 * time.Millisecond,
		SubmitTimeout:      100 * time.Millisecond,
		ConsentTimeout:     20 * time.Millisecond,
		PollInterval:       5 * time.Millisecond,
	}
}

func newAuthenticator(t *testing.T, asker events.Asker, rec *events.Recorder) *Authenticator {
	t.Helper()
	a, err := New(testOptions(), asker, events.NewReporter(rec, "run"), nil)
	require.NoError(t, err)
	return a
}

func TestAuthenticateWithCookies(t *testing.T) {
	s := &site{}
	tab := fake.NewTab("primary")
	s.attach(tab)

	a := newAuthenticator(t, nil, events.NewRecorder())
	sess, err := a.Authenticate(context.Background(), tab, types.Credentials{
		Cookies: []types.Cookie{{Name: validCookie, Value: "abc", Domain: ".oblio.eu"}},
	})
	require.NoError(t, err)

	assert.Equal(t, types.AuthMethodCookies, sess.Method)
	assert.Equal(t, types.AuthStatusAuthenticated, sess.Status)
	assert.Equal(t, types.AuthStatusAuthenticated, a.Status())
	assert.Equal(t, homeURL, sess.URL)
	require.Len(t, sess.Cookies, 1)
	assert.False(t, tab.Called("fill"), "cookie login must not touch the form")
	assert.True(t, tab.Called("reload"))
}

func TestAuthenticateStaleCookiesFallBackToCredentials(t *testing.T) {
	s := &site{}
	tab := fake.NewTab("primary")
	s.attach(tab)
	rec := events.NewRecorder()

	a := newAuthenticator(t, nil, rec)
	sess, err := a.Authenticate(context.Background(), tab, types.Credentials{
		Cookies:  []types.Cookie{{Name: "expired", Value: "x", Domain: ".oblio.eu"}},
		Email:    goodEmail,
		Password: goodPassword,
	})
	require.NoError(t, err)

	assert.Equal(t, types.AuthMethodCredentials, sess.Method)
	assert.True(t, tab.Called("click "+consentSel), "cookie banner should be dismissed")
	assert.Contains(t, tab.Calls(), "fill #username="+goodEmail)
	assert.NotEmpty(t, rec.Messages(types.LogLevelWarning))
}

func TestAuthenticateWrongCredentials(t *testing.T) {
	s := &site{}
	tab := fake.NewTab("primary")
	s.attach(tab)

	a := newAuthenticator(t, nil, events.NewRecorder())
	_, err := a.Authenticate(context.Background(), tab, types.Credentials{Email: goodEmail, Password: "wrong"})
	require.Error(t, err)

	assert.ErrorIs(t, err, apperr.ErrAuthenticationFailed)
	assert.True(t, strings.HasPrefix(err.Error(), "authentication failed"))
	assert.Equal(t, "Email sau parola incorecta", apperr.PageText(err))
	assert.Equal(t, types.AuthStatusUnauthenticated, a.Status())
}

func TestAuthenticateSecondFactorThroughPrompt(t *testing.T) {
	s := &site{twoFactor: true, code: "482910"}
	tab := fake.NewTab("primary")
	s.attach(tab)

	asker := &scriptedAsker{answers: map[types.InputType]string{types.InputTypeTwoFactorCode: "482910"}}
	a := newAuthenticator(t, asker, events.NewRecorder())

	sess, err := a.Authenticate(context.Background(), tab, types.Credentials{Email: goodEmail, Password: goodPassword})
	require.NoError(t, err)

	assert.Equal(t, types.AuthMethodCredentials, sess.Method)
	assert.Equal(t, []types.InputType{types.InputTypeTwoFactorCode}, asker.asked)
	assert.Contains(t, tab.Calls(), "fill #sms_code=482910")
}

func TestAuthenticateWrongSecondFactor(t *testing.T) {
	s := &site{twoFactor: true, code: "482910"}
	tab := fake.NewTab("primary")
	s.attach(tab)

	asker := &scriptedAsker{answers: map[types.InputType]string{types.InputTypeTwoFactorCode: "000000"}}
	a := newAuthenticator(t, asker, events.NewRecorder())

	_, err := a.Authenticate(context.Background(), tab, types.Credentials{Email: goodEmail, Password: goodPassword})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrAuthenticationFailed)
	assert.Equal(t, types.AuthStatusAwaitingSecondFactor, a.Status())
}

func TestAuthenticateSecondFactorPromptTimeout(t *testing.T) {
	s := &site{twoFactor: true, code: "482910"}
	tab := fake.NewTab("primary")
	s.attach(tab)

	// a real prompter with nobody answering
	a := newAuthenticator(t, events.NewPrompter(nil, 30*time.Millisecond), events.NewRecorder())

	_, err := a.Authenticate(context.Background(), tab, types.Credentials{Email: goodEmail, Password: goodPassword})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrAuthenticationTimeout)
}

func TestAuthenticateSecondFactorInBrowser(t *testing.T) {
	s := &site{twoFactor: true, code: "482910"}
	tab := fake.NewTab("primary")
	s.attach(tab)

	a := newAuthenticator(t, nil, events.NewRecorder())

	go func() {
		time.Sleep(30 * time.Millisecond)
		// operator types the code in the visible window
		tab.SetURL(homeURL)
	}()

	sess, err := a.Authenticate(context.Background(), tab, types.Credentials{Email: goodEmail, Password: goodPassword})
	require.NoError(t, err)
	assert.Equal(t, types.AuthMethodCredentials, sess.Method)
}

func TestAuthenticateInteractive(t *testing.T) {
	s := &site{}
	tab := fake.NewTab("primary")
	s.attach(tab)

	asker := &scriptedAsker{answers: map[types.InputType]string{
		types.InputTypeEmail:    goodEmail,
		types.InputTypePassword: goodPassword,
	}}
	a := newAuthenticator(t, asker, events.NewRecorder())

	sess, err := a.Authenticate(context.Background(), tab, types.Credentials{})
	require.NoError(t, err)

	assert.Equal(t, types.AuthMethodInteractive, sess.Method)
	assert.Equal(t, []types.InputType{types.InputTypeEmail, types.InputTypePassword}, asker.asked)
}

func TestAuthenticateInteractiveAfterWrongCredentials(t *testing.T) {
	s := &site{}
	tab := fake.NewTab("primary")
	s.attach(tab)

	asker := &scriptedAsker{answers: map[types.InputType]string{
		types.InputTypeEmail:    goodEmail,
		types.InputTypePassword: goodPassword,
	}}
	rec := events.NewRecorder()
	a := newAuthenticator(t, asker, rec)

	// the stale error banner from the first attempt is cleared by navigation
	tab.OnClick(consentSel, func(tab *fake.Tab) error {
		tab.Hide(consentSel).Hide(loginErrSel)
		return nil
	})

	sess, err := a.Authenticate(context.Background(), tab, types.Credentials{Email: goodEmail, Password: "wrong"})
	require.NoError(t, err)
	assert.Equal(t, types.AuthMethodInteractive, sess.Method)
	assert.NotEmpty(t, rec.Messages(types.LogLevelError))
}

func TestAuthenticatePromptError(t *testing.T) {
	s := &site{}
	tab := fake.NewTab("primary")
	s.attach(tab)

	asker := &scriptedAsker{err: errors.New("operator went away")}
	a := newAuthenticator(t, asker, events.NewRecorder())

	_, err := a.Authenticate(context.Background(), tab, types.Credentials{})
	assert.EqualError(t, err, "operator went away")
}

func TestAuthenticateManual(t *testing.T) {
	t.Run("operator logs in", func(t *testing.T) {
		s := &site{}
		tab := fake.NewTab("primary")
		s.attach(tab)

		go func() {
			time.Sleep(30 * time.Millisecond)
			tab.SetURL("https://www.oblio.eu/dashboard/")
		}()

		a := newAuthenticator(t, nil, events.NewRecorder())
		sess, err := a.Authenticate(context.Background(), tab, types.Credentials{})
		require.NoError(t, err)
		assert.Equal(t, types.AuthMethodManual, sess.Method)
	})

	t.Run("timeout", func(t *testing.T) {
		s := &site{}
		tab := fake.NewTab("primary")
		s.attach(tab)

		a := newAuthenticator(t, nil, events.NewRecorder())
		_, err := a.Authenticate(context.Background(), tab, types.Credentials{})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrAuthenticationTimeout)
	})

	t.Run("cancelled", func(t *testing.T) {
		s := &site{}
		tab := fake.NewTab("primary")
		s.attach(tab)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		a := newAuthenticator(t, nil, events.NewRecorder())
		_, err := a.Authenticate(ctx, tab, types.Credentials{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewRejectsBadPatterns(t *testing.T) {
	opts := testOptions()
	opts.LoginPattern = "*/login["
	_, err := New(opts, nil, nil, nil)
	assert.ErrorContains(t, err, "invalid login pattern")
}
