package protocol

import (
	"strings"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/numeric"
)

func priceParam(protocol int, field string, v float64) (string, error) {
	return optionalPriceParam(protocol, field, &v)
}

func optionalPriceParam(protocol int, field string, v *float64) (string, error) {
	wire, err := numeric.OptionalPriceToWire(v)
	if err != nil {
		return "", errs.New(protocol, errs.CodeInvalid,
			errs.WithMessage("parameter "+field+" is not a finite number"),
			errs.WithCause(err))
	}
	return wire, nil
}

// EncodePlaceOrder builds a 5003 request. Price is sent at scale 1000 and the
// symbol is reduced to its bare code.
func EncodePlaceOrder(s Session, p PlaceOrderParams) (Request, error) {
	sym, err := s.Dialect.validatePlaceOrder(p)
	if err != nil {
		return Request{}, err
	}
	price, err := priceParam(ProtoPlaceOrder, "price", p.Price)
	if err != nil {
		return Request{}, err
	}
	return newRequest(ProtoPlaceOrder, Params{
		"Cookie":    s.Cookie,
		"EnvType":   p.Env.Wire(),
		"OrderSide": itoa(int(p.Side)),
		"OrderType": itoa(int(p.Type)),
		"Price":     price,
		"Qty":       itoa64(p.Qty),
		"StockCode": sym.Code,
		"PriceMode": itoa(p.PriceMode),
	}), nil
}

// EncodeSetOrderStatus builds a 5004 request.
func EncodeSetOrderStatus(s Session, p SetOrderStatusParams) (Request, error) {
	if err := s.Dialect.validateSetStatus(p); err != nil {
		return Request{}, err
	}
	return newRequest(ProtoSetStatus, Params{
		"Cookie":         s.Cookie,
		"EnvType":        p.Env.Wire(),
		"LocalID":        "0",
		"OrderID":        strings.TrimSpace(p.OrderID),
		"SetOrderStatus": itoa(int(p.Action)),
	}), nil
}

// EncodeModifyOrder builds a 5005 request.
func EncodeModifyOrder(s Session, p ModifyOrderParams) (Request, error) {
	if err := s.Dialect.validateModify(p); err != nil {
		return Request{}, err
	}
	price, err := priceParam(ProtoModifyOrder, "price", p.Price)
	if err != nil {
		return Request{}, err
	}
	return newRequest(ProtoModifyOrder, Params{
		"Cookie":  s.Cookie,
		"EnvType": p.Env.Wire(),
		"LocalID": "0",
		"OrderID": strings.TrimSpace(p.OrderID),
		"Price":   price,
		"Qty":     itoa64(p.Qty),
	}), nil
}

// EncodeAccountInfo builds a 5007 request.
func EncodeAccountInfo(s Session, env schema.Env) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoAccountInfo, env); err != nil {
		return Request{}, err
	}
	return newRequest(ProtoAccountInfo, Params{
		"Cookie":  s.Cookie,
		"EnvType": env.Wire(),
	}), nil
}

// EncodeOrderList builds a 5008 request.
func EncodeOrderList(s Session, q OrderQuery) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoOrderList, q.Env); err != nil {
		return Request{}, err
	}
	code, err := s.Dialect.optionalCode(ProtoOrderList, q.Symbol)
	if err != nil {
		return Request{}, err
	}
	return newRequest(ProtoOrderList, Params{
		"Cookie":          s.Cookie,
		"EnvType":         q.Env.Wire(),
		"OrderID":         strings.TrimSpace(q.OrderID),
		"StatusFilterStr": statusFilter(q.StatusFilter),
		"StockCode":       code,
		"start_time":      strings.TrimSpace(q.Start),
		"end_time":        strings.TrimSpace(q.End),
	}), nil
}

// EncodePositionList builds a 5009 request. Ratio bounds are optional and
// travel at scale 1000.
func EncodePositionList(s Session, q PositionQuery) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoPositionList, q.Env); err != nil {
		return Request{}, err
	}
	stockType, ok := q.StockType.WireCode()
	if !ok {
		return Request{}, errs.New(ProtoPositionList, errs.CodeInvalid,
			errs.WithMessage("parameter stocktype is wrong"),
			errs.WithField("stock_type", string(q.StockType)))
	}
	code, err := s.Dialect.optionalCode(ProtoPositionList, q.Symbol)
	if err != nil {
		return Request{}, err
	}
	minRatio, err := optionalPriceParam(ProtoPositionList, "pl_ratio_min", q.PLRatioMin)
	if err != nil {
		return Request{}, err
	}
	maxRatio, err := optionalPriceParam(ProtoPositionList, "pl_ratio_max", q.PLRatioMax)
	if err != nil {
		return Request{}, err
	}
	return newRequest(ProtoPositionList, Params{
		"Cookie":     s.Cookie,
		"StockCode":  code,
		"StockType":  stockType,
		"PLRatioMin": minRatio,
		"PLRatioMax": maxRatio,
		"EnvType":    q.Env.Wire(),
	}), nil
}

// EncodeDealList builds a 5010 request.
func EncodeDealList(s Session, env schema.Env) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoDealList, env); err != nil {
		return Request{}, err
	}
	return newRequest(ProtoDealList, Params{
		"Cookie":  s.Cookie,
		"EnvType": env.Wire(),
	}), nil
}

// EncodeHistoryOrders builds a 5011 request.
func EncodeHistoryOrders(s Session, q HistoryOrderQuery) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoHistoryOrders, q.Env); err != nil {
		return Request{}, err
	}
	code, err := s.Dialect.optionalCode(ProtoHistoryOrders, q.Symbol)
	if err != nil {
		return Request{}, err
	}
	return newRequest(ProtoHistoryOrders, Params{
		"Cookie":          s.Cookie,
		"EnvType":         q.Env.Wire(),
		"StatusFilterStr": statusFilter(q.StatusFilter),
		"StockCode":       code,
		"start_date":      strings.TrimSpace(q.Start),
		"end_date":        strings.TrimSpace(q.End),
	}), nil
}

// EncodeHistoryDeals builds a 5012 request.
func EncodeHistoryDeals(s Session, q HistoryDealQuery) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoHistoryDeals, q.Env); err != nil {
		return Request{}, err
	}
	code, err := s.Dialect.optionalCode(ProtoHistoryDeals, q.Symbol)
	if err != nil {
		return Request{}, err
	}
	return newRequest(ProtoHistoryDeals, Params{
		"Cookie":     s.Cookie,
		"EnvType":    q.Env.Wire(),
		"StockCode":  code,
		"start_date": strings.TrimSpace(q.Start),
		"end_date":   strings.TrimSpace(q.End),
	}), nil
}

// EncodeSubscribe builds a 5100 request. Order ids are comma joined; an empty
// list subscribes to every order in the environment.
func EncodeSubscribe(s Session, p SubscribeParams) (Request, error) {
	if err := s.Dialect.checkEnv(ProtoSubscribe, p.Env); err != nil {
		return Request{}, err
	}
	return EncodeResubscribe(s, p), nil
}

// EncodeResubscribe builds a 5100 request for a subscription that was already
// accepted, so the environment is replayed as recorded.
func EncodeResubscribe(s Session, p SubscribeParams) Request {
	ids := make([]string, 0, len(p.OrderIDs))
	for _, id := range p.OrderIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return newRequest(ProtoSubscribe, Params{
		"Cookie":    s.Cookie,
		"EnvType":   p.Env.Wire(),
		"OrderID":   strings.Join(ids, ","),
		"SubOrder":  flag(p.Enable),
		"SubDeal":   flag(p.Enable),
		"FirstPush": flag(p.FirstPush),
	})
}

// EncodeUnlock builds a 6006 request.
func EncodeUnlock(s Session, c Credentials) (Request, error) {
	if c.Empty() {
		return Request{}, errs.New(ProtoUnlock, errs.CodeAuth, errs.WithMessage("password or password md5 required"))
	}
	return newRequest(ProtoUnlock, Params{
		"Cookie":      s.Cookie,
		"Password":    c.Password,
		"PasswordMD5": c.PasswordMD5,
	}), nil
}

// EncodeSwitchAccount builds a 1037 request.
func EncodeSwitchAccount(s Session, p SwitchAccountParams) (Request, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Request{}, errs.Invalid(ProtoSwitchAccount, "parameter user_id is required")
	}
	return newRequest(ProtoSwitchAccount, Params{
		"Cookie":      s.Cookie,
		"UserID":      strings.TrimSpace(p.UserID),
		"PasswordMD5": p.LoginPasswordMD5,
	}), nil
}

// EncodeGlobalState builds a 1029 request.
func EncodeGlobalState(s Session) Request {
	return newRequest(ProtoGlobalState, Params{
		"Cookie":    s.Cookie,
		"StateType": "0",
	})
}

// EncodeHeartbeat builds a 1008 keepalive request.
func EncodeHeartbeat(s Session) Request {
	return newRequest(ProtoHeartbeat, Params{
		"Cookie": s.Cookie,
	})
}
