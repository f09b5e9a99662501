package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/browser/fake"
)

func TestLocatorSelector(t *testing.T) {
	tests := []struct {
		name string
		loc  browser.Locator
		want string
	}{
		{name: "id", loc: browser.ByID("pp_name"), want: "#pp_name"},
		{name: "id with hash", loc: browser.ByID("#pp_name"), want: "#pp_name"},
		{name: "css", loc: browser.ByCSS(".ui-autocomplete li"), want: ".ui-autocomplete li"},
		{name: "xpath", loc: browser.ByXPath("//a[contains(text(),'Emite')]"), want: "xpath=//a[contains(text(),'Emite')]"},
		{name: "text", loc: browser.ByText("Previzualizare"), want: "text=Previzualizare"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loc.Selector())
		})
	}
}

func TestFirst(t *testing.T) {
	candidates := browser.Locators{
		browser.ByID("invoice_preview_btn"),
		browser.ByCSS("a[onclick*='submit_form_doc']"),
		browser.ByCSS(".btn-submit"),
	}

	t.Run("first visible wins", func(t *testing.T) {
		tab := fake.NewTab("t")
		tab.Show(".btn-submit", "Salveaza")
		tab.Show("a[onclick*='submit_form_doc']", "Salveaza")

		loc, err := browser.First(tab, candidates)
		require.NoError(t, err)
		assert.Equal(t, candidates[1], loc)
	})

	t.Run("skips erroring candidates", func(t *testing.T) {
		tab := fake.NewTab("t")
		tab.Show("#invoice_preview_btn", "")
		tab.Fail("#invoice_preview_btn", errors.New("stale element"))
		tab.Show(".btn-submit", "Salveaza")

		loc, err := browser.First(tab, candidates)
		require.NoError(t, err)
		assert.Equal(t, candidates[2], loc)
	})

	t.Run("hidden elements do not match", func(t *testing.T) {
		tab := fake.NewTab("t")
		tab.Show("#invoice_preview_btn", "").Hide("#invoice_preview_btn")

		_, err := browser.First(tab, candidates)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNoMatch)
	})
}

func TestWaitFirst(t *testing.T) {
	t.Run("resolves once element appears", func(t *testing.T) {
		tab := fake.NewTab("t")
		go func() {
			time.Sleep(30 * time.Millisecond)
			tab.Show(".alert-success", "Salvat")
		}()

		loc, err := browser.WaitFirst(context.Background(), tab, browser.Locators{browser.ByCSS(".alert-success")}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, ".alert-success", loc.Selector())
	})

	t.Run("times out with ErrNoMatch", func(t *testing.T) {
		tab := fake.NewTab("t")
		_, err := browser.WaitFirst(context.Background(), tab, browser.Locators{browser.ByID("missing")}, 50*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNoMatch)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := browser.WaitFirst(ctx, fake.NewTab("t"), browser.Locators{browser.ByID("missing")}, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPoll(t *testing.T) {
	t.Run("returns condition error", func(t *testing.T) {
		boom := errors.New("boom")
		err := browser.Poll(context.Background(), time.Second, 10*time.Millisecond, func() (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("retries until true", func(t *testing.T) {
		calls := 0
		err := browser.Poll(context.Background(), time.Second, 5*time.Millisecond, func() (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("timeout", func(t *testing.T) {
		err := browser.Poll(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func() (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, browser.ErrPollTimeout)
	})
}
