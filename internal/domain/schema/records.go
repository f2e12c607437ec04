package schema

// Order is a live order snapshot. Every update yields a fresh value.
type Order struct {
	Env           Env         `json:"env"`
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	DealtAvgPrice float64     `json:"dealt_avg_price"`
	DealtQty      int64       `json:"dealt_qty"`
	Qty           int64       `json:"qty"`
	OrderID       string      `json:"order_id"`
	Type          OrderType   `json:"order_type"`
	Side          Side        `json:"side"`
	Price         float64     `json:"price"`
	Status        OrderStatus `json:"status"`
	SubmittedTime string      `json:"submitted_time"`
	UpdatedTime   string      `json:"updated_time"`
}

// HistoryOrder is an order from the history query, which carries no average fill price.
type HistoryOrder struct {
	Env           Env         `json:"env"`
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	DealtQty      int64       `json:"dealt_qty"`
	Qty           int64       `json:"qty"`
	OrderID       string      `json:"order_id"`
	Type          OrderType   `json:"order_type"`
	Side          Side        `json:"side"`
	Price         float64     `json:"price"`
	Status        OrderStatus `json:"status"`
	SubmittedTime string      `json:"submitted_time"`
	UpdatedTime   string      `json:"updated_time"`
}

// Deal is an execution fact.
type Deal struct {
	Env              Env     `json:"env"`
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	DealID           string  `json:"deal_id"`
	OrderID          string  `json:"order_id"`
	Qty              int64   `json:"qty"`
	Price            float64 `json:"price"`
	Side             Side    `json:"side"`
	Time             string  `json:"time"`
	ContraBrokerID   int     `json:"contra_broker_id,omitempty"`
	ContraBrokerName string  `json:"contra_broker_name,omitempty"`
}

// Position is a holding reported by the position query.
type Position struct {
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Qty            int64   `json:"qty"`
	CanSellQty     int64   `json:"can_sell_qty"`
	CostPrice      float64 `json:"cost_price"`
	CostPriceValid bool    `json:"cost_price_valid"`
	MarketValue    float64 `json:"market_val"`
	NominalPrice   float64 `json:"nominal_price"`
	PLRatio        float64 `json:"pl_ratio"`
	PLRatioValid   bool    `json:"pl_ratio_valid"`
	PLValue        float64 `json:"pl_val"`
	PLValueValid   bool    `json:"pl_val_valid"`
	TodayBuyQty    int64   `json:"today_buy_qty"`
	TodayBuyValue  float64 `json:"today_buy_val"`
	TodayPLValue   float64 `json:"today_pl_val"`
	TodaySellQty   int64   `json:"today_sell_qty"`
	TodaySellValue float64 `json:"today_sell_val"`
}

// AccountInfo carries the account money summary. Field names follow the gateway.
type AccountInfo struct {
	Power float64 `json:"power"`
	ZCJZ  float64 `json:"zcjz"`
	ZQSZ  float64 `json:"zqsz"`
	XJJY  float64 `json:"xjjy"`
	KQXJ  float64 `json:"kqxj"`
	DJZJ  float64 `json:"djzj"`
	ZSJE  float64 `json:"zsje"`
	ZGJDE float64 `json:"zgjde"`
	YYJDE float64 `json:"yyjde"`
	GPBZJ float64 `json:"gpbzj"`
}

// OrderAck acknowledges a modify or set-status request.
type OrderAck struct {
	Env     Env    `json:"env"`
	OrderID string `json:"order_id"`
}

// GlobalState is the gateway's market and login summary.
type GlobalState struct {
	MarketSH     string `json:"market_sh"`
	MarketSZ     string `json:"market_sz"`
	MarketHK     string `json:"market_hk"`
	MarketUS     string `json:"market_us"`
	QuoteLogined bool   `json:"quote_logined"`
	TradeLogined bool   `json:"trade_logined"`
	TimeStamp    string `json:"timestamp"`
	Version      string `json:"version"`
}
