// Package fake provides a scriptable in-memory browser.Driver for tests.
//
// A Tab is a flat map of selector strings to elements. Tests script the
// accounting UI by registering elements and hooks that react to navigation,
// clicks, key presses and input, e.g. revealing an autocomplete list after
// the SKU is typed or changing the URL after the save button is clicked.
package fake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/types"
)

// ErrNotFound is returned for actions on selectors that were never registered.
var ErrNotFound = errors.New("fake: element not found")

// Element is one scripted element.
type Element struct {
	Value   string
	Text    string
	Options []string
	Visible bool
}

// Driver opens fake tabs, running Setup on each one.
type Driver struct {
	mu     sync.Mutex
	setup  func(t *Tab)
	tabs   []*Tab
	newErr error
	seq    int
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver creates a driver. setup may be nil.
func NewDriver(setup func(t *Tab)) *Driver {
	return &Driver{setup: setup}
}

// FailNewTab makes every following NewTab call fail with err. Nil clears it.
func (d *Driver) FailNewTab(err error) {
	d.mu.Lock()
	d.newErr = err
	d.mu.Unlock()
}

func (d *Driver) NewTab(ctx context.Context) (browser.Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.newErr != nil {
		err := d.newErr
		d.mu.Unlock()
		return nil, err
	}
	d.seq++
	t := NewTab(fmt.Sprintf("tab-%d", d.seq))
	d.tabs = append(d.tabs, t)
	setup := d.setup
	d.mu.Unlock()

	if setup != nil {
		setup(t)
	}
	return t, nil
}

// Tabs returns every tab opened so far, in opening order.
func (d *Driver) Tabs() []*Tab {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Tab(nil), d.tabs...)
}

// Opened returns how many tabs were opened.
func (d *Driver) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tabs)
}

// Tab is a scriptable browser.Tab.
type Tab struct {
	mu        sync.Mutex
	id        string
	url       string
	content   string
	elements  map[string]*Element
	cookies   []types.Cookie
	failures  map[string]error
	selectAll map[string]bool
	calls     []string
	closed    bool

	onGoto  func(t *Tab, url string) error
	onClick map[string]func(t *Tab) error
	onPress map[string]func(t *Tab, key string) error
	onInput map[string]func(t *Tab, value string)
}

var _ browser.Tab = (*Tab)(nil)

// NewTab creates a standalone tab at about:blank.
func NewTab(id string) *Tab {
	return &Tab{
		id:        id,
		url:       "about:blank",
		elements:  make(map[string]*Element),
		failures:  make(map[string]error),
		selectAll: make(map[string]bool),
		onClick:   make(map[string]func(t *Tab) error),
		onPress:   make(map[string]func(t *Tab, key string) error),
		onInput:   make(map[string]func(t *Tab, value string)),
	}
}

// Scripting helpers.

// Show registers or reveals a visible element with text.
func (t *Tab) Show(selector, text string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	el := t.el(selector)
	el.Visible = true
	el.Text = text
	return t
}

// Hide makes an element invisible without removing it.
func (t *Tab) Hide(selector string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.elements[selector]; ok {
		el.Visible = false
	}
	return t
}

// Remove deletes an element.
func (t *Tab) Remove(selector string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.elements, selector)
	return t
}

// Input registers a visible input with an initial value.
func (t *Tab) Input(selector, value string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	el := t.el(selector)
	el.Visible = true
	el.Value = value
	return t
}

// Hidden registers an invisible input, like <input type="hidden">.
func (t *Tab) Hidden(selector, value string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	el := t.el(selector)
	el.Visible = false
	el.Value = value
	return t
}

// SelectBox registers a visible <select> with option labels.
func (t *Tab) SelectBox(selector string, options ...string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	el := t.el(selector)
	el.Visible = true
	el.Options = options
	return t
}

// SetValue sets an input value without running input hooks.
func (t *Tab) SetValue(selector, value string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.el(selector).Value = value
	return t
}

// SetURL changes the current URL without running navigation hooks.
func (t *Tab) SetURL(url string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
	return t
}

// SetContent sets the HTML returned by Content.
func (t *Tab) SetContent(html string) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.content = html
	return t
}

// Fail makes every action on selector return err.
func (t *Tab) Fail(selector string, err error) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[selector] = err
	return t
}

// OnGoto runs fn on Goto and Reload instead of just setting the URL.
// fn is responsible for calling SetURL.
func (t *Tab) OnGoto(fn func(t *Tab, url string) error) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onGoto = fn
	return t
}

// OnClick runs fn after selector is clicked.
func (t *Tab) OnClick(selector string, fn func(t *Tab) error) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClick[selector] = fn
	return t
}

// OnPress runs fn after a key is pressed on selector.
func (t *Tab) OnPress(selector string, fn func(t *Tab, key string) error) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPress[selector] = fn
	return t
}

// OnInput runs fn whenever the value of selector changes through Fill, Type or Press.
func (t *Tab) OnInput(selector string, fn func(t *Tab, value string)) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onInput[selector] = fn
	return t
}

// Inspection helpers.

// ValueOf returns the current value of selector.
func (t *Tab) ValueOf(selector string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.elements[selector]; ok {
		return el.Value
	}
	return ""
}

// Calls returns the recorded actions, e.g. "click #save" or "fill #pp_quantity=2".
func (t *Tab) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Called reports whether an action starting with prefix was recorded.
func (t *Tab) Called(prefix string) bool {
	for _, c := range t.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Closed reports whether Close was called.
func (t *Tab) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// HasCookie reports whether a cookie with name was added.
func (t *Tab) HasCookie(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

// browser.Tab implementation.

func (t *Tab) ID() string { return t.id }

func (t *Tab) Goto(url string) error {
	t.mu.Lock()
	t.record("goto " + url)
	hook := t.onGoto
	if hook == nil {
		t.url = url
	}
	t.mu.Unlock()

	if hook != nil {
		return hook(t, url)
	}
	return nil
}

func (t *Tab) Reload() error {
	t.mu.Lock()
	t.record("reload")
	hook := t.onGoto
	url := t.url
	t.mu.Unlock()

	if hook != nil {
		return hook(t, url)
	}
	return nil
}

func (t *Tab) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *Tab) AddCookies(cookies []types.Cookie) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(fmt.Sprintf("cookies %d", len(cookies)))
	t.cookies = append(t.cookies, cookies...)
	return nil
}

func (t *Tab) Cookies() ([]types.Cookie, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.Cookie(nil), t.cookies...), nil
}

func (t *Tab) Count(selector string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures[selector]; err != nil {
		return 0, err
	}
	if el, ok := t.elements[selector]; ok && el.Visible {
		return 1, nil
	}
	return 0, nil
}

func (t *Tab) Visible(selector string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures[selector]; err != nil {
		return false, err
	}
	el, ok := t.elements[selector]
	return ok && el.Visible, nil
}

// WaitVisible does not sleep: an element either is visible or the wait fails.
func (t *Tab) WaitVisible(selector string, timeout time.Duration) error {
	visible, err := t.Visible(selector)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("fake: timeout %s waiting for %s", timeout, selector)
	}
	return nil
}

func (t *Tab) Fill(selector, value string) error {
	t.mu.Lock()
	el, err := t.target(selector)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.record(fmt.Sprintf("fill %s=%s", selector, value))
	el.Value = value
	hook := t.onInput[selector]
	t.mu.Unlock()

	if hook != nil {
		hook(t, value)
	}
	return nil
}

func (t *Tab) Type(selector, text string, _ time.Duration) error {
	t.mu.Lock()
	el, err := t.target(selector)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.record(fmt.Sprintf("type %s=%s", selector, text))
	if t.selectAll[selector] {
		el.Value = ""
		t.selectAll[selector] = false
	}
	el.Value += text
	value := el.Value
	hook := t.onInput[selector]
	t.mu.Unlock()

	if hook != nil {
		hook(t, value)
	}
	return nil
}

func (t *Tab) Press(selector, key string) error {
	t.mu.Lock()
	el, err := t.target(selector)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.record(fmt.Sprintf("press %s %s", selector, key))

	changed := false
	switch key {
	case "ControlOrMeta+a", "Control+a", "Meta+a":
		t.selectAll[selector] = true
	case "Delete", "Backspace":
		if t.selectAll[selector] {
			el.Value = ""
			t.selectAll[selector] = false
		} else if key == "Backspace" && el.Value != "" {
			r := []rune(el.Value)
			el.Value = string(r[:len(r)-1])
		}
		changed = true
	}
	value := el.Value
	pressHook := t.onPress[selector]
	inputHook := t.onInput[selector]
	t.mu.Unlock()

	if changed && inputHook != nil {
		inputHook(t, value)
	}
	if pressHook != nil {
		return pressHook(t, key)
	}
	return nil
}

func (t *Tab) Click(selector string) error {
	t.mu.Lock()
	el, err := t.target(selector)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !el.Visible {
		t.mu.Unlock()
		return fmt.Errorf("fake: %s is not visible", selector)
	}
	t.record("click " + selector)
	hook := t.onClick[selector]
	t.mu.Unlock()

	if hook != nil {
		return hook(t)
	}
	return nil
}

func (t *Tab) Select(selector, option string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, err := t.target(selector)
	if err != nil {
		return err
	}
	for _, o := range el.Options {
		if o == option {
			el.Value = option
			t.record(fmt.Sprintf("select %s=%s", selector, option))
			return nil
		}
	}
	return fmt.Errorf("fake: option %q not in %s", option, selector)
}

func (t *Tab) Value(selector string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, err := t.target(selector)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (t *Tab) Text(selector string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, err := t.target(selector)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (t *Tab) Texts(selector string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures[selector]; err != nil {
		return nil, err
	}
	if el, ok := t.elements[selector]; ok && el.Visible {
		return []string{el.Text}, nil
	}
	return nil, nil
}

func (t *Tab) Content() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content, nil
}

func (t *Tab) Screenshot(path string) error {
	t.mu.Lock()
	t.record("screenshot")
	url := t.url
	t.mu.Unlock()
	return os.WriteFile(path, []byte("fake screenshot of "+url), 0o644)
}

func (t *Tab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// el returns the element for selector, creating it hidden. Caller holds mu.
func (t *Tab) el(selector string) *Element {
	el, ok := t.elements[selector]
	if !ok {
		el = &Element{}
		t.elements[selector] = el
	}
	return el
}

// target returns an existing element or the scripted failure. Caller holds mu.
func (t *Tab) target(selector string) (*Element, error) {
	if err := t.failures[selector]; err != nil {
		return nil, err
	}
	el, ok := t.elements[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return el, nil
}

func (t *Tab) record(call string) {
	t.calls = append(t.calls, call)
}
