package browser

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/stockpilot/pkg/types"
)

// Throttle returns a Driver whose tabs wait on lim before every mutating
// action (navigation, typing, clicks). Reads are not throttled.
// A nil limiter returns d unchanged.
func Throttle(d Driver, lim *rate.Limiter) Driver {
	if lim == nil {
		return d
	}
	return &throttledDriver{next: d, lim: lim}
}

type throttledDriver struct {
	next Driver
	lim  *rate.Limiter
}

func (d *throttledDriver) NewTab(ctx context.Context) (Tab, error) {
	tab, err := d.next.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	return &throttledTab{Tab: tab, ctx: ctx, lim: d.lim}, nil
}

// throttledTab keeps the ctx of NewTab so a cancelled run stops waiting.
type throttledTab struct {
	Tab
	ctx context.Context
	lim *rate.Limiter
}

func (t *throttledTab) wait() error {
	return t.lim.Wait(t.ctx)
}

func (t *throttledTab) Goto(url string) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Goto(url)
}

func (t *throttledTab) Reload() error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Reload()
}

func (t *throttledTab) AddCookies(cookies []types.Cookie) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.AddCookies(cookies)
}

func (t *throttledTab) Fill(selector, value string) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Fill(selector, value)
}

func (t *throttledTab) Type(selector, text string, delay time.Duration) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Type(selector, text, delay)
}

func (t *throttledTab) Press(selector, key string) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Press(selector, key)
}

func (t *throttledTab) Click(selector string) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Click(selector)
}

func (t *throttledTab) Select(selector, option string) error {
	if err := t.wait(); err != nil {
		return err
	}
	return t.Tab.Select(selector, option)
}
