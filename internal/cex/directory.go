// Package cex holds the static, process-wide CEX directory of spec §3: a
// finite, compile-time map from address to a labeled exchange name. Grounded
// on the original implementation's model/cex.rs, which hard-codes a table of
// labeled hot/cold-wallet addresses per exchange; this table keeps a subset
// of those labels, keyed by short stand-in addresses 0x01-0x14.
package cex

import "github.com/rizilab/al-hafiz/internal/chaintypes"

// Name is a labeled exchange wallet, e.g. "binance-hw-1".
type Name string

const (
	CoinbaseHW1  Name = "coinbase-hw-1"
	CoinbaseHW2  Name = "coinbase-hw-2"
	Coinbase1    Name = "coinbase-1"
	CoinbaseCW1  Name = "coinbase-cw-1"
	OKXHW1       Name = "okx-hw-1"
	OKX          Name = "okx"
	MEXC1        Name = "mexc-1"
	Kraken       Name = "kraken"
	KrakenCW     Name = "kraken-cw"
	Binance1     Name = "binance-1"
	Binance2     Name = "binance-2"
	BinanceCW    Name = "binance-cw"
	BitgetCW     Name = "bitget-cw"
	Gateio1      Name = "gateio-1"
	BybitHW      Name = "bybit-hw"
	BitfinexHW   Name = "bitfinex-hw"
	KuCoin1      Name = "kucoin-1"
	KuCoinCW     Name = "kucoin-cw"
	PoloniexHW   Name = "poloniex-hw"
	LBank        Name = "lbank"
)

// directory is deliberately a plain package-level map: static compile-time
// data with no lifecycle, per spec §9 "global singletons".
var directory = map[chaintypes.Address]Name{
	chaintypes.MustHexToAddress("0x" + "01"): CoinbaseHW1,
	chaintypes.MustHexToAddress("0x" + "02"): CoinbaseHW2,
	chaintypes.MustHexToAddress("0x" + "03"): Coinbase1,
	chaintypes.MustHexToAddress("0x" + "04"): CoinbaseCW1,
	chaintypes.MustHexToAddress("0x" + "05"): OKXHW1,
	chaintypes.MustHexToAddress("0x" + "06"): OKX,
	chaintypes.MustHexToAddress("0x" + "07"): MEXC1,
	chaintypes.MustHexToAddress("0x" + "08"): Kraken,
	chaintypes.MustHexToAddress("0x" + "09"): KrakenCW,
	chaintypes.MustHexToAddress("0x" + "0a"): Binance1,
	chaintypes.MustHexToAddress("0x" + "0b"): Binance2,
	chaintypes.MustHexToAddress("0x" + "0c"): BinanceCW,
	chaintypes.MustHexToAddress("0x" + "0d"): BitgetCW,
	chaintypes.MustHexToAddress("0x" + "0e"): Gateio1,
	chaintypes.MustHexToAddress("0x" + "0f"): BybitHW,
	chaintypes.MustHexToAddress("0x" + "10"): BitfinexHW,
	chaintypes.MustHexToAddress("0x" + "11"): KuCoin1,
	chaintypes.MustHexToAddress("0x" + "12"): KuCoinCW,
	chaintypes.MustHexToAddress("0x" + "13"): PoloniexHW,
	chaintypes.MustHexToAddress("0x" + "14"): LBank,
}

// Contains reports whether addr is a known terminal CEX address. Expansion
// stops here per spec §4.D.
func Contains(addr chaintypes.Address) bool {
	_, ok := directory[addr]
	return ok
}

// Lookup returns the labeled exchange name for addr, if any.
func Lookup(addr chaintypes.Address) (Name, bool) {
	name, ok := directory[addr]
	return name, ok
}

// Size reports the number of entries, mostly useful for tests and metrics.
func Size() int { return len(directory) }
