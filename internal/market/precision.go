package market

import (
	"strings"

	"github.com/shopspring/decimal"
)

// precision captures the decimal places a venue accepts for one base currency.
type precision struct {
	price int32
	qty   int32
}

// Per-currency rounding rules consulted before every price- or
// quantity-bearing request. Venue validation rejects values with excess
// precision outright, so rounding happens here rather than at the venue
// boundary.
var precisionTable = map[string]precision{
	"BTC": {price: 2, qty: 6},
	"ETH": {price: 2, qty: 5},
	"SOL": {price: 3, qty: 2},
	"XRP": {price: 4, qty: 1},
	"XLM": {price: 5, qty: 1},
	"DOGE": {price: 5, qty: 0},
}

const (
	defaultPricePrecision int32 = 4
	defaultQtyPrecision   int32 = 4
)

// RoundPrice rounds a price to the venue precision for the instrument's base
// currency, half away from zero.
func RoundPrice(currency string, value float64) float64 {
	scale := defaultPricePrecision
	if p, ok := precisionTable[normalizeCurrency(currency)]; ok {
		scale = p.price
	}
	return round(value, scale)
}

// RoundQty rounds a quantity to the venue precision for the instrument's base
// currency, half away from zero.
func RoundQty(currency string, value float64) float64 {
	scale := defaultQtyPrecision
	if p, ok := precisionTable[normalizeCurrency(currency)]; ok {
		scale = p.qty
	}
	return round(value, scale)
}

// BaseCurrency extracts the base leg from a venue symbol. Handles both
// dash-separated ("BTC-USDT") and concatenated ("BTCUSDT") renderings.
func BaseCurrency(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ""
	}
	if idx := strings.IndexByte(symbol, '-'); idx > 0 {
		return symbol[:idx]
	}
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

func round(value float64, scale int32) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(scale).Float64()
	return rounded
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
