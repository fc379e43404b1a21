// Package messages holds every subscriber-facing string of the top-up flow.
package messages

import (
	"embed"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

//go:embed locales/*.toml
var locales embed.FS

// Message IDs.
const (
	Welcome             = "welcome"
	WelcomeLabel        = "welcome_label"
	AmountPrompt        = "amount_prompt"
	AmountLabel         = "amount_label"
	CartSubmitted       = "cart_submitted"
	CartItemName        = "cart_item_name"
	AmountBelowMinimum  = "amount_below_minimum"
	AmountInvalid       = "amount_invalid"
	MeterInvalid        = "meter_invalid"
	StepInvalid         = "step_invalid"
	UnexpectedError     = "unexpected_error"
	PurchaseSuccess     = "purchase_success"
	PurchaseFailure     = "purchase_failure"
	PaymentUnsuccessful = "payment_unsuccessful"
	PaymentProcessed    = "payment_processed"
	ReleaseLabel        = "release_label"
)

// Catalog renders messages in one language. The customer-care contact is
// injected into every template that mentions it.
type Catalog struct {
	localizer    *i18n.Localizer
	customerCare string
}

// New loads the embedded bundle and returns a Catalog for lang. Messages
// missing in lang fall back to English.
func New(lang, customerCare string) (*Catalog, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", lang, err)
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	files, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	for _, f := range files {
		if _, err := bundle.LoadMessageFileFS(locales, "locales/"+f.Name()); err != nil {
			return nil, fmt.Errorf("load %s: %w", f.Name(), err)
		}
	}

	return &Catalog{
		localizer:    i18n.NewLocalizer(bundle, tag.String(), language.English.String()),
		customerCare: customerCare,
	}, nil
}

// CustomerCare returns the configured contact string.
func (c *Catalog) CustomerCare() string { return c.customerCare }

// Text renders message id with data. Unknown IDs render as the ID itself so a
// missing translation never aborts a dialog.
func (c *Catalog) Text(id string, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["CustomerCare"]; !ok {
		data["CustomerCare"] = c.customerCare
	}
	msg, err := c.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    id,
		TemplateData: data,
	})
	if err != nil {
		return id
	}
	return msg
}

// AmountPrompt asks for the top-up amount once the meter is confirmed.
func (c *Catalog) AmountPrompt(meterNumber, customerName string) string {
	return c.Text(AmountPrompt, map[string]any{
		"MeterNumber":  meterNumber,
		"CustomerName": customerName,
	})
}

// BelowMinimum rejects an amount under minimum, citing it in cedis.
func (c *Catalog) BelowMinimum(minimum decimal.Decimal) string {
	return c.Text(AmountBelowMinimum, map[string]any{"Minimum": minimum.StringFixed(2)})
}

// PurchaseSuccess composes the SMS sent after tokens are issued.
func (c *Catalog) PurchaseSuccess(transactionID, rechargeAmount, rechargeVolume, token string) string {
	return c.Text(PurchaseSuccess, map[string]any{
		"TransactionID":  transactionID,
		"RechargeAmount": rechargeAmount,
		"RechargeVolume": rechargeVolume,
		"Token":          token,
	})
}

// PurchaseFailure composes the SMS sent when the gateway refuses a purchase.
func (c *Catalog) PurchaseFailure(transactionID, reason string) string {
	return c.Text(PurchaseFailure, map[string]any{
		"TransactionID": transactionID,
		"Reason":        reason,
	})
}
