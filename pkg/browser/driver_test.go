package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/browser/fake"
	"github.com/entrhq/stockpilot/pkg/types"
)

func TestWithCookies(t *testing.T) {
	drv := fake.NewDriver(nil)
	cookies := []types.Cookie{{Name: "PHPSESSID", Value: "abc", Domain: ".oblio.eu"}}

	shared := browser.WithCookies(drv, cookies)
	tab, err := shared.NewTab(context.Background())
	require.NoError(t, err)

	ft := drv.Tabs()[0]
	assert.Equal(t, ft.ID(), tab.ID())
	assert.True(t, ft.HasCookie("PHPSESSID"))

	// mutating the caller's slice must not leak into later tabs
	cookies[0].Name = "changed"
	_, err = shared.NewTab(context.Background())
	require.NoError(t, err)
	assert.True(t, drv.Tabs()[1].HasCookie("PHPSESSID"))
}

func TestWithCookiesPropagatesOpenError(t *testing.T) {
	drv := fake.NewDriver(nil)
	drv.FailNewTab(errors.New("browser crashed"))

	_, err := browser.WithCookies(drv, nil).NewTab(context.Background())
	assert.EqualError(t, err, "browser crashed")
}

func TestThrottle(t *testing.T) {
	t.Run("nil limiter returns driver unchanged", func(t *testing.T) {
		drv := fake.NewDriver(nil)
		assert.Same(t, browser.Driver(drv), browser.Throttle(drv, nil))
	})

	t.Run("actions pass through", func(t *testing.T) {
		drv := fake.NewDriver(func(tab *fake.Tab) {
			tab.Input("#pp_quantity", "")
		})
		tab, err := browser.Throttle(drv, rate.NewLimiter(rate.Inf, 1)).NewTab(context.Background())
		require.NoError(t, err)

		require.NoError(t, tab.Fill("#pp_quantity", "3"))
		v, err := tab.Value("#pp_quantity")
		require.NoError(t, err)
		assert.Equal(t, "3", v)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		drv := fake.NewDriver(nil)
		lim := rate.NewLimiter(rate.Every(time.Hour), 1)
		ctx, cancel := context.WithCancel(context.Background())

		tab, err := browser.Throttle(drv, lim).NewTab(ctx)
		require.NoError(t, err)
		require.NoError(t, tab.Goto("https://www.oblio.eu/"))

		cancel()
		assert.Error(t, tab.Goto("https://www.oblio.eu/"))
	})
}
