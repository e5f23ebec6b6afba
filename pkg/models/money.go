package models

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatEuros renders an amount the way prompts show it: 1,234.50€.
func FormatEuros(d decimal.Decimal) string {
	return amountPrinter.Sprintf("%.2f€", d.Round(2).InexactFloat64())
}
