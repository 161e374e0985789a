package domain

import "strings"

// Normalize 规范化交易对符号用于比较：去掉所有 "-" 并转为大写
// 例: "btc-usdt" -> "BTCUSDT", "BTCUSDT" -> "BTCUSDT"
func Normalize(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(raw, "-", ""))
}

// TradingPair is the pair the user selected, kept exactly as typed.
type TradingPair struct {
	Raw string
}

// NewTradingPair trims raw. Input that normalizes to nothing ("", "---")
// yields the zero pair.
func NewTradingPair(raw string) TradingPair {
	raw = strings.TrimSpace(raw)
	if Normalize(raw) == "" {
		return TradingPair{}
	}
	return TradingPair{Raw: raw}
}

// Canonical returns the normalized form used for tick matching.
func (p TradingPair) Canonical() string {
	return Normalize(p.Raw)
}

func (p TradingPair) IsZero() bool {
	return p.Canonical() == ""
}

func (p TradingPair) String() string {
	return p.Raw
}

// Matches 判断 tick 中的原始符号是否属于该交易对
func (p TradingPair) Matches(symbol string) bool {
	if p.IsZero() {
		return false
	}
	return Normalize(symbol) == p.Canonical()
}
