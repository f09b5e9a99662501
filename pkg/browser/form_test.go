package browser_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/browser/fake"
)

func TestReplace(t *testing.T) {
	tab := fake.NewTab("t")
	tab.Input("#qty", "17")

	require.NoError(t, browser.Replace(tab, "#qty", "2", 0))
	assert.Equal(t, "2", tab.ValueOf("#qty"))
	assert.Equal(t, []string{"press #qty ControlOrMeta+a", "press #qty Delete", "type #qty=2"}, tab.Calls())
}

func TestAutocomplete(t *testing.T) {
	items := browser.Locators{browser.ByCSS(".ui-menu-item")}

	t.Run("picks first suggestion", func(t *testing.T) {
		tab := fake.NewTab("t")
		tab.Input("#q", "old")
		tab.OnInput("#q", func(t *fake.Tab, v string) {
			if v == "A-3" {
				t.Show(".ui-menu-item", "Oud Wood")
			} else {
				t.Hide(".ui-menu-item")
			}
		})

		picked, err := browser.Autocomplete(context.Background(), tab, "#q", "A-3", items, 20*time.Millisecond, 0)
		require.NoError(t, err)
		assert.True(t, picked)
		assert.True(t, tab.Called("click .ui-menu-item"))
		assert.False(t, tab.Called("press #q Enter"))
	})

	t.Run("falls back to enter", func(t *testing.T) {
		tab := fake.NewTab("t")
		tab.Input("#q", "")

		picked, err := browser.Autocomplete(context.Background(), tab, "#q", "A-3", items, 20*time.Millisecond, 0)
		require.NoError(t, err)
		assert.False(t, picked)
		assert.True(t, tab.Called("press #q Enter"))
		assert.Equal(t, "A-3", tab.ValueOf("#q"))
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := browser.Autocomplete(context.Background(), fake.NewTab("t"), "#q", "A-3", items, time.Millisecond, 0)
		assert.ErrorIs(t, err, fake.ErrNotFound)
	})
}

func TestVisibleText(t *testing.T) {
	tab := fake.NewTab("t")
	alerts := browser.Locators{browser.ByCSS(".alert-danger"), browser.ByCSS(".alert")}

	_, ok := browser.VisibleText(tab, alerts)
	assert.False(t, ok)

	tab.Show(".alert", "  Eroare  ")
	text, ok := browser.VisibleText(tab, alerts)
	assert.True(t, ok)
	assert.Equal(t, "Eroare", text)

	tab.Show(".alert-danger", "   ")
	_, ok = browser.VisibleText(tab, alerts)
	assert.False(t, ok, "blank first match counts as no text")
}

func TestClickFirst(t *testing.T) {
	tab := fake.NewTab("t")
	tab.Show("#b", "Go")
	require.NoError(t, browser.ClickFirst(context.Background(), tab, browser.Locators{browser.ByID("a"), browser.ByID("b")}, 10*time.Millisecond))
	assert.Equal(t, []string{"click #b"}, tab.Calls())

	err := browser.ClickFirst(context.Background(), tab, browser.Locators{browser.ByID("a")}, 10*time.Millisecond)
	assert.ErrorIs(t, err, browser.ErrNoMatch)
}
