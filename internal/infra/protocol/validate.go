package protocol

import (
	"strconv"
	"strings"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
)

// PlaceOrderParams describes a new order.
type PlaceOrderParams struct {
	Env       schema.Env       `json:"env"`
	Symbol    string           `json:"symbol"`
	Side      schema.Side      `json:"side"`
	Type      schema.OrderType `json:"order_type"`
	Price     float64          `json:"price"`
	Qty       int64            `json:"qty"`
	PriceMode int              `json:"price_mode"`
}

// ModifyOrderParams changes the price and quantity of a working order.
type ModifyOrderParams struct {
	Env     schema.Env `json:"env"`
	OrderID string     `json:"order_id"`
	Price   float64    `json:"price"`
	Qty     int64      `json:"qty"`
}

// SetOrderStatusParams requests a manual state change.
type SetOrderStatusParams struct {
	Env     schema.Env          `json:"env"`
	OrderID string              `json:"order_id"`
	Action  schema.StatusAction `json:"action"`
}

// OrderQuery filters the live order list.
type OrderQuery struct {
	Env          schema.Env           `json:"env"`
	OrderID      string               `json:"order_id"`
	StatusFilter []schema.OrderStatus `json:"status_filter"`
	Symbol       string               `json:"symbol"`
	Start        string               `json:"start"`
	End          string               `json:"end"`
}

// PositionQuery filters the position list.
type PositionQuery struct {
	Env        schema.Env       `json:"env"`
	Symbol     string           `json:"symbol"`
	StockType  schema.StockType `json:"stock_type"`
	PLRatioMin *float64         `json:"pl_ratio_min,omitempty"`
	PLRatioMax *float64         `json:"pl_ratio_max,omitempty"`
}

// HistoryOrderQuery filters the history order list.
type HistoryOrderQuery struct {
	Env          schema.Env           `json:"env"`
	StatusFilter []schema.OrderStatus `json:"status_filter"`
	Symbol       string               `json:"symbol"`
	Start        string               `json:"start"`
	End          string               `json:"end"`
}

// HistoryDealQuery filters the history deal list.
type HistoryDealQuery struct {
	Env    schema.Env `json:"env"`
	Symbol string     `json:"symbol"`
	Start  string     `json:"start"`
	End    string     `json:"end"`
}

// SubscribeParams toggles order and deal pushes for a set of order ids.
// An empty id list addresses every order in the environment.
type SubscribeParams struct {
	Env       schema.Env `json:"env"`
	OrderIDs  []string   `json:"order_ids"`
	Enable    bool       `json:"enable"`
	FirstPush bool       `json:"first_push"`
}

// Credentials unlock trading. Either field may be used.
type Credentials struct {
	Password    string `json:"password,omitempty"`
	PasswordMD5 string `json:"password_md5,omitempty"`
}

// Empty reports whether neither secret is present.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Password) == "" && strings.TrimSpace(c.PasswordMD5) == ""
}

// SwitchAccountParams logs the gateway into another account.
type SwitchAccountParams struct {
	UserID           string      `json:"user_id"`
	LoginPasswordMD5 string      `json:"login_password_md5"`
	Trade            Credentials `json:"trade"`
}

func (d Dialect) validatePlaceOrder(p PlaceOrderParams) (schema.Symbol, error) {
	if err := d.checkEnv(ProtoPlaceOrder, p.Env); err != nil {
		return schema.Symbol{}, err
	}
	if !p.Side.Valid() {
		return schema.Symbol{}, errs.Invalid(ProtoPlaceOrder, "parameter orderside is wrong")
	}
	if !p.Type.Valid() {
		return schema.Symbol{}, errs.Invalid(ProtoPlaceOrder, "parameter ordertype is wrong")
	}
	if p.Qty <= 0 {
		return schema.Symbol{}, errs.Invalid(ProtoPlaceOrder, "parameter qty must be positive")
	}
	if p.Price < 0 {
		return schema.Symbol{}, errs.Invalid(ProtoPlaceOrder, "parameter price must not be negative")
	}
	return d.parseSymbol(ProtoPlaceOrder, p.Symbol)
}

func (d Dialect) validateModify(p ModifyOrderParams) error {
	if err := d.checkEnv(ProtoModifyOrder, p.Env); err != nil {
		return err
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return errs.Invalid(ProtoModifyOrder, "parameter orderid is required")
	}
	if p.Qty <= 0 {
		return errs.Invalid(ProtoModifyOrder, "parameter qty must be positive")
	}
	if p.Price < 0 {
		return errs.Invalid(ProtoModifyOrder, "parameter price must not be negative")
	}
	return nil
}

func (d Dialect) validateSetStatus(p SetOrderStatusParams) error {
	if !p.Action.Valid() {
		return errs.Invalid(ProtoSetStatus, "parameter status is wrong")
	}
	if err := d.checkEnv(ProtoSetStatus, p.Env); err != nil {
		return err
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return errs.Invalid(ProtoSetStatus, "parameter orderid is required")
	}
	return nil
}

func statusFilter(statuses []schema.OrderStatus) string {
	if len(statuses) == 0 {
		return ""
	}
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, strconv.Itoa(int(s)))
	}
	return strings.Join(parts, ",")
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func itoa(v int) string { return strconv.Itoa(v) }

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
