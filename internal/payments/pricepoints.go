package payments

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PricePoint is a store price converted into another currency.
type PricePoint struct {
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	MinorUnits int64           `json:"minorUnits"`
	Display    string          `json:"display"`
}

var displayPrinter = message.NewPrinter(language.BritishEnglish)

// MinorUnits converts an amount into the currency's smallest unit using the
// ISO 4217 standard scale (GBP 12.5 -> 1250, JPY 1200 -> 1200).
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("payments: currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Round(int32(scale)).Shift(int32(scale)).IntPart(), nil
}

// FromMinorUnits converts a vendor amount back into a decimal.
func FromMinorUnits(minor int64, code string) (decimal.Decimal, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payments: currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(minor, -int32(scale)), nil
}

// Format renders an amount with its currency symbol.
func Format(amount decimal.Decimal, code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("payments: currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return displayPrinter.Sprint(currency.Symbol(unit.Amount(amount.Round(int32(scale)).InexactFloat64()))), nil
}

// ComputePricePoints converts price into every listed currency that has a rate.
// Rates are units of the target currency per unit of store currency. Currencies
// without a positive rate are skipped.
func ComputePricePoints(price decimal.Decimal, rates map[string]decimal.Decimal, currencies []string) ([]PricePoint, error) {
	out := make([]PricePoint, 0, len(currencies))
	for _, code := range currencies {
		code = strings.ToUpper(code)
		rate, ok := rates[code]
		if !ok || !rate.IsPositive() {
			continue
		}
		unit, err := currency.ParseISO(code)
		if err != nil {
			return nil, fmt.Errorf("payments: currency %q: %w", code, err)
		}
		scale, _ := currency.Standard.Rounding(unit)
		amount := price.Mul(rate).Round(int32(scale))
		minor, err := MinorUnits(amount, code)
		if err != nil {
			return nil, err
		}
		display, err := Format(amount, code)
		if err != nil {
			return nil, err
		}
		out = append(out, PricePoint{Currency: code, Amount: amount, MinorUnits: minor, Display: display})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
