package transfer

import "github.com/entrhq/stockpilot/pkg/browser"

// Selectors locate the controls of the transfer note page.
type Selectors struct {
	Source      browser.Locators
	Destination browser.Locators

	ProductSearch browser.Locators
	Autocomplete  browser.Locators
	ProductID     string
	Quantity      browser.Locators
	UnitPrice     browser.Locators
	AddLine       browser.Locators

	// PricePrompt confirms a line whose price differs from the catalogue.
	PricePrompt browser.Locators

	Save    browser.Locators
	Issue   browser.Locators
	Confirm browser.Locators
	Alert   browser.Locators
}

// DefaultSelectors returns the locators of the current transfer page.
func DefaultSelectors() Selectors {
	return Selectors{
		Source: browser.Locators{
			browser.ByID("ts_management_from"),
			browser.ByCSS("select[name='management_from']"),
		},
		Destination: browser.Locators{
			browser.ByID("ts_management_to"),
			browser.ByCSS("select[name='management_to']"),
		},
		ProductSearch: browser.Locators{
			browser.ByID("tp_name"),
		},
		Autocomplete: browser.Locators{
			browser.ByCSS(".ui-autocomplete .ui-menu-item"),
			browser.ByCSS(".ui-menu-item"),
			browser.ByCSS(`[role="option"]`),
		},
		ProductID: "#tp_name_id",
		Quantity: browser.Locators{
			browser.ByID("tp_quantity"),
		},
		UnitPrice: browser.Locators{
			browser.ByID("tp_price"),
			browser.ByCSS("input[name='price']"),
		},
		AddLine: browser.Locators{
			browser.ByID("add_product_btn"),
			browser.ByXPath("//button[contains(text(), 'Adauga')]"),
		},
		PricePrompt: browser.Locators{
			browser.ByCSS(".modal.show .btn-primary"),
			browser.ByCSS(".bootbox-accept"),
		},
		Save: browser.Locators{
			browser.ByID("invoice_preview_btn"),
			browser.ByXPath("//a[contains(text(), 'Previzualizare')]"),
			browser.ByCSS(`button[type="submit"]`),
		},
		Issue: browser.Locators{
			browser.ByID("issue_doc_btn"),
			browser.ByXPath("//a[contains(text(), 'Emite')]"),
			browser.ByXPath("//button[contains(text(), 'Emite')]"),
		},
		Confirm: browser.Locators{
			browser.ByCSS(".modal.show .btn-primary"),
			browser.ByCSS(".bootbox-accept"),
		},
		Alert: browser.Locators{
			browser.ByCSS(".alert-danger"),
			browser.ByCSS(".invalid-feedback"),
			browser.ByCSS(".error"),
		},
	}
}
