package schema

import "testing"

func TestParseSymbolAcceptsBothSeparators(t *testing.T) {
	for _, raw := range []string{"SZ.000001", "SZ:000001", " sz.000001 "} {
		sym, err := ParseSymbol(raw)
		if err != nil {
			t.Fatalf("ParseSymbol(%q) returned error: %v", raw, err)
		}
		if sym.Market != MarketSZ || sym.Code != "000001" {
			t.Fatalf("ParseSymbol(%q) = %+v", raw, sym)
		}
		if sym.String() != "SZ.000001" {
			t.Fatalf("unexpected canonical form %q", sym.String())
		}
	}
}

func TestParseSymbolRejections(t *testing.T) {
	for _, raw := range []string{"", "000001", "HK.00700", "SZ.", ".000001", "SH.60a000", "US.AAPL"} {
		if _, err := ParseSymbol(raw); err == nil {
			t.Fatalf("expected ParseSymbol(%q) to fail", raw)
		}
	}
}

func TestInferMarket(t *testing.T) {
	cases := map[string]Market{
		"600000": MarketSH,
		"510300": MarketSH,
		"900901": MarketSH,
		"000001": MarketSZ,
		"300750": MarketSZ,
		"":       MarketSZ,
	}
	for code, want := range cases {
		if got := InferMarket(code); got != want {
			t.Fatalf("InferMarket(%q) = %s, want %s", code, got, want)
		}
	}
	if got := SymbolFromCode("600000").String(); got != "SH.600000" {
		t.Fatalf("unexpected symbol %q", got)
	}
}

func TestEnumValidity(t *testing.T) {
	if !SideBuy.Valid() || !SideSell.Valid() || Side(2).Valid() || Side(-1).Valid() {
		t.Fatalf("side validity mismatch")
	}
	for _, ot := range []OrderType{OrderTypeLimit, OrderTypeMarket, OrderTypeSpecialLimit} {
		if !ot.Valid() {
			t.Fatalf("expected %s to be valid", ot)
		}
	}
	if OrderType(2).Valid() || OrderType(4).Valid() {
		t.Fatalf("unexpected valid order type")
	}
	if StatusAction(4).Valid() || StatusAction(-1).Valid() || !StatusActionDelete.Valid() {
		t.Fatalf("status action range mismatch")
	}
}

func TestParseEnvAndAction(t *testing.T) {
	env, err := ParseEnv("1")
	if err != nil || env != EnvSimulated {
		t.Fatalf("ParseEnv(1) = %v, %v", env, err)
	}
	env, err = ParseEnv("")
	if err != nil || env != EnvLive {
		t.Fatalf("ParseEnv(\"\") = %v, %v", env, err)
	}
	if _, err := ParseEnv("mars"); err == nil {
		t.Fatalf("expected error for unknown env")
	}
	action, err := ParseStatusAction("cancel")
	if err != nil || action != StatusActionCancel {
		t.Fatalf("ParseStatusAction(cancel) = %v, %v", action, err)
	}
	action, err = ParseStatusAction("3")
	if err != nil || action != StatusActionDelete {
		t.Fatalf("ParseStatusAction(3) = %v, %v", action, err)
	}
}

func TestStockTypeWireCode(t *testing.T) {
	if code, ok := StockTypeAny.WireCode(); !ok || code != "" {
		t.Fatalf("empty stock type should encode as empty string")
	}
	if code, ok := StockType("etf").WireCode(); !ok || code != "4" {
		t.Fatalf("unexpected ETF code %q", code)
	}
	if _, ok := StockType("FUTURE").WireCode(); ok {
		t.Fatalf("unknown stock type must be rejected")
	}
}
