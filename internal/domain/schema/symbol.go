package schema

import (
	"fmt"
	"strings"
)

// Market identifies an A-share exchange.
type Market string

const (
	// MarketSH is the Shanghai Stock Exchange.
	MarketSH Market = "SH"
	// MarketSZ is the Shenzhen Stock Exchange.
	MarketSZ Market = "SZ"
)

// Symbol is a market-qualified security code.
type Symbol struct {
	Market Market
	Code   string
}

// String renders the canonical "MARKET.CODE" form.
func (s Symbol) String() string {
	if s.Code == "" {
		return ""
	}
	return string(s.Market) + "." + s.Code
}

// ParseSymbol splits "SZ.000001" or "SZ:000001" into market and bare code.
// Markets other than SH and SZ are rejected.
func ParseSymbol(raw string) (Symbol, error) {
	trimmed := strings.TrimSpace(raw)
	idx := strings.IndexAny(trimmed, ".:")
	if idx <= 0 || idx == len(trimmed)-1 {
		return Symbol{}, fmt.Errorf("symbol %q must look like MARKET.CODE", raw)
	}
	market := Market(strings.ToUpper(trimmed[:idx]))
	code := trimmed[idx+1:]
	switch market {
	case MarketSH, MarketSZ:
	default:
		return Symbol{}, fmt.Errorf("symbol %q is not an A-share market", raw)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return Symbol{}, fmt.Errorf("symbol %q has a non-numeric code", raw)
		}
	}
	return Symbol{Market: market, Code: code}, nil
}

// InferMarket derives the exchange from a bare code: codes starting with
// 5, 6 or 9 list in Shanghai, everything else in Shenzhen.
func InferMarket(code string) Market {
	if code == "" {
		return MarketSZ
	}
	switch code[0] {
	case '5', '6', '9':
		return MarketSH
	default:
		return MarketSZ
	}
}

// SymbolFromCode qualifies a bare code returned by the gateway.
func SymbolFromCode(code string) Symbol {
	code = strings.TrimSpace(code)
	return Symbol{Market: InferMarket(code), Code: code}
}
