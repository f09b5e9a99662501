// Package browser is the thin capability layer between the automation engine
// and a controllable browser.
//
// Everything above this package talks to two interfaces:
//
//   - Driver opens isolated tabs. Each tab is its own browser context, so
//     cookies, storage and navigation never leak between vouchers.
//   - Tab exposes the handful of page operations the engine needs: navigate,
//     type, click, read values and text, wait, screenshot.
//
// The production implementation is Manager, which owns one Playwright
// instance and one launched Chromium. Tests use the scriptable fake in
// browser/fake.
//
// # Locators
//
// The accounting UI has changed its markup over time, so most controls are
// described by an ordered list of Locator candidates. First and WaitFirst
// resolve such a list against a tab, first visible match wins:
//
//	save := browser.Locators{
//	    browser.ByID("invoice_preview_btn"),
//	    browser.ByCSS("a[onclick*='submit_form_doc']"),
//	    browser.ByXPath("//a[contains(text(),'Previzualizare')]"),
//	}
//	loc, err := browser.WaitFirst(ctx, tab, save, 5*time.Second)
//
// # Sharing a login
//
// WithCookies wraps a Driver so every new tab starts with the cookies of an
// already authenticated tab. Throttle wraps a Driver so every action waits on
// a shared rate limiter.
package browser
