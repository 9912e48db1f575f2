package kucoinclient

import "strings"

// KuCoin futures contract symbols differ from the USDT-pair convention:
// BTC trades as XBTUSDTM and every other USDT perpetual appends an M.
// Lookups in either direction go through these helpers so trade rows keep
// the Binance-style pair as the canonical symbol.

// ToContract converts a canonical pair ("BTCUSDT") to a KuCoin contract
// symbol ("XBTUSDTM").
func ToContract(pair string) string {
	base := strings.TrimSuffix(pair, "USDT")
	if base == "BTC" {
		base = "XBT"
	}
	return base + "USDTM"
}

// FromContract converts a KuCoin contract symbol back to the canonical pair.
func FromContract(contract string) string {
	base := strings.TrimSuffix(contract, "USDTM")
	if base == "XBT" {
		base = "BTC"
	}
	return base + "USDT"
}
