package browser

import (
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/stockpilot/pkg/types"
)

// toPlaywrightCookies converts exported cookies to the form AddCookies accepts.
// Cookies without a domain cannot be set and are dropped.
func toPlaywrightCookies(cookies []types.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		pc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}

		path := c.Path
		if path == "" {
			path = "/"
		}
		pc.Path = playwright.String(path)

		if c.Expires > 0 {
			pc.Expires = playwright.Float(c.Expires)
		}

		if sameSite := normalizeSameSite(c.SameSite); sameSite != "" {
			attr := playwright.SameSiteAttribute(sameSite)
			pc.SameSite = &attr
		}

		out = append(out, pc)
	}
	return out
}

func fromPlaywrightCookies(cookies []playwright.Cookie) []types.Cookie {
	out := make([]types.Cookie, 0, len(cookies))
	for _, c := range cookies {
		tc := types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			tc.SameSite = string(*c.SameSite)
		}
		out = append(out, tc)
	}
	return out
}

// normalizeSameSite maps browser-extension spellings onto Playwright's.
func normalizeSameSite(v string) string {
	switch v {
	case "strict", "Strict":
		return "Strict"
	case "lax", "Lax":
		return "Lax"
	case "none", "None", "no_restriction":
		return "None"
	default:
		return ""
	}
}
