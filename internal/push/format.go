// Package push renders personalised notifications for a client's best product.
package push

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency of benefit amounts.
const DefaultCurrency = "KZT"

var currencySymbols = map[string]string{
	"KZT": "₸",
	"USD": "$",
	"EUR": "€",
	"RUB": "₽",
	"GBP": "£",
}

// FormatMoney renders an amount as "2 490 ₸": space-grouped thousands,
// decimal comma, no decimals for KZT and two otherwise. Non-finite amounts
// render as "".
func FormatMoney(v float64, currency string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	var places int32 = 2
	if currency == "KZT" {
		places = 0
	}
	s := decimal.NewFromFloat(v).Round(places).StringFixed(places)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg && strings.Trim(s, "0.") != "" {
		b.WriteByte('-')
	}
	b.WriteString(groupThousands(whole))
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	b.WriteByte(' ')
	if sym, ok := currencySymbols[currency]; ok {
		b.WriteString(sym)
	} else {
		b.WriteString(currency)
	}
	return b.String()
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Trim shortens s to at most limit runes, cutting at the last sentence
// boundary that fits, else the last space, and ending with a period.
func Trim(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	head := string(r[:limit])
	cut := strings.LastIndex(head, ". ")
	if cut <= 0 {
		cut = strings.LastIndex(head, " ")
	}
	if cut <= 0 {
		return string(r[:limit-1]) + "."
	}
	return strings.TrimRight(head[:cut], " .,") + "."
}
