package voucher

import "github.com/entrhq/stockpilot/pkg/browser"

// Selectors locate the controls of the production page and its preview.
type Selectors struct {
	ProductSearch browser.Locators
	Autocomplete  browser.Locators

	// ProductID is the hidden input filled once a product is picked.
	// Hidden inputs are never "visible", so this is a plain selector.
	ProductID string

	Quantity browser.Locators

	// Recipe stock figures. Each selector may match one cell per raw material.
	RequiredStock  browser.Locators
	AvailableStock browser.Locators

	Save     browser.Locators
	Alert    browser.Locators
	Commit   browser.Locators
	Confirm  browser.Locators
	Finalize browser.Locators
}

// DefaultSelectors returns the locators of the current production page.
func DefaultSelectors() Selectors {
	return Selectors{
		ProductSearch: browser.Locators{
			browser.ByID("pp_name"),
		},
		Autocomplete: browser.Locators{
			browser.ByCSS(".ui-autocomplete .ui-menu-item"),
			browser.ByCSS(".ui-menu-item"),
			browser.ByCSS(".ui-autocomplete li"),
			browser.ByCSS(`[role="option"]`),
		},
		ProductID: "#pp_name_id",
		Quantity: browser.Locators{
			browser.ByID("pp_quantity"),
			browser.ByCSS("input[name='pp_quantity']"),
		},
		RequiredStock: browser.Locators{
			browser.ByCSS("#pp_products .pp-necesar"),
			browser.ByCSS("#pp_products td.required"),
		},
		AvailableStock: browser.Locators{
			browser.ByCSS("#pp_products .pp-stoc"),
			browser.ByCSS("#pp_products td.stock"),
		},
		Save: browser.Locators{
			browser.ByID("invoice_preview_btn"),
			browser.ByCSS("a[onclick*='submit_form_doc']"),
			browser.ByCSS(".btn-submit"),
			browser.ByXPath("//a[contains(text(), 'Previzualizare')]"),
			browser.ByCSS(`button[type="submit"]`),
		},
		Alert: browser.Locators{
			browser.ByCSS(".alert-danger"),
			browser.ByCSS(".invalid-feedback"),
			browser.ByCSS(".alert-warning"),
			browser.ByCSS(".error"),
		},
		Commit: browser.Locators{
			browser.ByID("production_launch_btn"),
			browser.ByXPath("//a[contains(text(), 'Lanseaza')]"),
			browser.ByXPath("//button[contains(text(), 'Lanseaza')]"),
			browser.ByXPath("//a[contains(text(), 'Emite')]"),
		},
		Confirm: browser.Locators{
			browser.ByCSS(".modal.show .btn-primary"),
			browser.ByXPath("//div[contains(@class, 'modal')]//button[contains(text(), 'Da')]"),
			browser.ByCSS(".bootbox-accept"),
		},
		Finalize: browser.Locators{
			browser.ByID("production_finalize_btn"),
			browser.ByXPath("//a[contains(text(), 'Finalizeaza')]"),
			browser.ByXPath("//button[contains(text(), 'Finalizeaza')]"),
		},
	}
}

// DefaultStockKeywords mark an alert as a stock refusal rather than a
// generic validation error.
var DefaultStockKeywords = []string{"stoc insuficient", "insufficient stock", "nu aveti stoc"}
