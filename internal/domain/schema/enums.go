// Package schema defines the typed records and enumerations exchanged with the trading gateway.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Env identifies the trading environment.
type Env int

const (
	// EnvLive designates real trading.
	EnvLive Env = 0
	// EnvSimulated designates paper trading.
	EnvSimulated Env = 1
)

func (e Env) String() string {
	switch e {
	case EnvLive:
		return "live"
	case EnvSimulated:
		return "simulated"
	default:
		return "env(" + strconv.Itoa(int(e)) + ")"
	}
}

// Wire returns the decimal string used in request parameters.
func (e Env) Wire() string { return strconv.Itoa(int(e)) }

// ParseEnv accepts the numeric wire form or the lowercase names.
func ParseEnv(raw string) (Env, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "live", "real":
		return EnvLive, nil
	case "1", "simulated", "sim", "paper":
		return EnvSimulated, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid env %q", raw)
	}
	return Env(v), nil
}

// Side captures the direction of an order.
type Side int

const (
	// SideBuy indicates a buy order.
	SideBuy Side = 0
	// SideSell indicates a sell order.
	SideSell Side = 1
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "side(" + strconv.Itoa(int(s)) + ")"
	}
}

// OrderType enumerates the order types the A-share gateway accepts.
type OrderType int

const (
	// OrderTypeLimit is an ordinary limit order.
	OrderTypeLimit OrderType = 0
	// OrderTypeMarket is a market order.
	OrderTypeMarket OrderType = 1
	// OrderTypeSpecialLimit is the gateway's special limit order.
	OrderTypeSpecialLimit OrderType = 3
)

// Valid reports whether t is accepted by the gateway.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeSpecialLimit:
		return true
	default:
		return false
	}
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypeSpecialLimit:
		return "special_limit"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// OrderStatus is the gateway's integer order state. The full domain is owned by
// the gateway; only the values below are named.
type OrderStatus int

const (
	// OrderStatusFilled reports a completely filled order.
	OrderStatusFilled OrderStatus = 3
	// OrderStatusFailed reports an order the broker refused.
	OrderStatusFailed OrderStatus = 5
	// OrderStatusCancelled reports a cancelled order.
	OrderStatusCancelled OrderStatus = 6
	// OrderStatusDeleted reports a deleted order.
	OrderStatusDeleted OrderStatus = 7
)

// DefaultTerminalStatuses lists the statuses after which no further updates are expected.
var DefaultTerminalStatuses = []OrderStatus{
	OrderStatusFilled,
	OrderStatusFailed,
	OrderStatusCancelled,
	OrderStatusDeleted,
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusFilled:
		return "filled"
	case OrderStatusFailed:
		return "failed"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusDeleted:
		return "deleted"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// StatusAction is the manual state change requested through set-order-status.
type StatusAction int

const (
	// StatusActionCancel cancels the order.
	StatusActionCancel StatusAction = 0
	// StatusActionDisable suspends the order.
	StatusActionDisable StatusAction = 1
	// StatusActionEnable resumes a suspended order.
	StatusActionEnable StatusAction = 2
	// StatusActionDelete removes the order.
	StatusActionDelete StatusAction = 3
)

// Valid reports whether a falls in the accepted range.
func (a StatusAction) Valid() bool { return a >= StatusActionCancel && a <= StatusActionDelete }

func (a StatusAction) String() string {
	switch a {
	case StatusActionCancel:
		return "cancel"
	case StatusActionDisable:
		return "disable"
	case StatusActionEnable:
		return "enable"
	case StatusActionDelete:
		return "delete"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParseStatusAction accepts the numeric form or the lowercase name.
func ParseStatusAction(raw string) (StatusAction, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	for a := StatusActionCancel; a <= StatusActionDelete; a++ {
		if trimmed == a.String() || trimmed == strconv.Itoa(int(a)) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("invalid status action %q", raw)
}

// StockType filters position queries by security class.
type StockType string

const (
	StockTypeAny     StockType = ""
	StockTypeBond    StockType = "BOND"
	StockTypeStock   StockType = "STOCK"
	StockTypeETF     StockType = "ETF"
	StockTypeWarrant StockType = "WARRANT"
	StockTypeIndex   StockType = "IDX"
)

var stockTypeCodes = map[StockType]int{
	StockTypeBond:    1,
	StockTypeStock:   3,
	StockTypeETF:     4,
	StockTypeWarrant: 5,
	StockTypeIndex:   6,
}

// WireCode returns the gateway code for t. The empty type encodes as "".
func (t StockType) WireCode() (string, bool) {
	if t == StockTypeAny {
		return "", true
	}
	code, ok := stockTypeCodes[StockType(strings.ToUpper(string(t)))]
	if !ok {
		return "", false
	}
	return strconv.Itoa(code), true
}
