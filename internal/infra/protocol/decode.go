package protocol

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/numeric"
)

var errNotIntegral = errors.New("value is not a whole number")

// fieldReader converts payload scalars and keeps the first conversion error.
type fieldReader struct {
	protocol int
	err      error
}

func (r *fieldReader) fail(field string, v Value, cause error) {
	if r.err != nil {
		return
	}
	r.err = errs.New(r.protocol, errs.CodeMalformed,
		errs.WithMessage("field "+field+" has an invalid value"),
		errs.WithField("field", field),
		errs.WithField("value", string(v)),
		errs.WithCause(cause))
}

func (r *fieldReader) price(field string, v Value) float64 {
	out, err := numeric.WireToPrice(v.String())
	if err != nil {
		r.fail(field, v, err)
	}
	return out
}

func (r *fieldReader) integer(field string, v Value) int64 {
	raw := v.String()
	if raw == "" {
		return 0
	}
	out, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return out
	}
	f, ferr := strconv.ParseFloat(raw, 64)
	if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.fail(field, v, err)
		return 0
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		r.fail(field, v, errNotIntegral)
		return 0
	}
	return int64(f)
}

func (r *fieldReader) small(field string, v Value) int {
	return int(r.integer(field, v))
}

func (r *fieldReader) env(v Value) schema.Env {
	return schema.Env(r.small("EnvType", v))
}

func (r *fieldReader) flag(v Value) bool {
	switch strings.ToLower(v.String()) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

type wireOrder struct {
	EnvType       Value `json:"EnvType"`
	StockCode     Value `json:"StockCode"`
	StockName     Value `json:"StockName"`
	DealtAvgPrice Value `json:"DealtAvgPrice"`
	DealtQty      Value `json:"DealtQty"`
	Qty           Value `json:"Qty"`
	OrderID       Value `json:"OrderID"`
	OrderType     Value `json:"OrderType"`
	OrderSide     Value `json:"OrderSide"`
	Price         Value `json:"Price"`
	Status        Value `json:"Status"`
	SubmitedTime  Value `json:"SubmitedTime"`
	UpdatedTime   Value `json:"UpdatedTime"`
}

func (w wireOrder) order(r *fieldReader, env schema.Env) schema.Order {
	return schema.Order{
		Env:           env,
		Symbol:        schema.SymbolFromCode(w.StockCode.String()).String(),
		Name:          string(w.StockName),
		DealtAvgPrice: r.price("DealtAvgPrice", w.DealtAvgPrice),
		DealtQty:      r.integer("DealtQty", w.DealtQty),
		Qty:           r.integer("Qty", w.Qty),
		OrderID:       w.OrderID.String(),
		Type:          schema.OrderType(r.small("OrderType", w.OrderType)),
		Side:          schema.Side(r.small("OrderSide", w.OrderSide)),
		Price:         r.price("Price", w.Price),
		Status:        schema.OrderStatus(r.small("Status", w.Status)),
		SubmittedTime: string(w.SubmitedTime),
		UpdatedTime:   string(w.UpdatedTime),
	}
}

func (w wireOrder) history(r *fieldReader, env schema.Env) schema.HistoryOrder {
	return schema.HistoryOrder{
		Env:           env,
		Symbol:        schema.SymbolFromCode(w.StockCode.String()).String(),
		Name:          string(w.StockName),
		DealtQty:      r.integer("DealtQty", w.DealtQty),
		Qty:           r.integer("Qty", w.Qty),
		OrderID:       w.OrderID.String(),
		Type:          schema.OrderType(r.small("OrderType", w.OrderType)),
		Side:          schema.Side(r.small("OrderSide", w.OrderSide)),
		Price:         r.price("Price", w.Price),
		Status:        schema.OrderStatus(r.small("Status", w.Status)),
		SubmittedTime: string(w.SubmitedTime),
		UpdatedTime:   string(w.UpdatedTime),
	}
}

type wireDeal struct {
	EnvType          Value `json:"EnvType"`
	StockCode        Value `json:"StockCode"`
	StockName        Value `json:"StockName"`
	DealID           Value `json:"DealID"`
	OrderID          Value `json:"OrderID"`
	Qty              Value `json:"Qty"`
	Price            Value `json:"Price"`
	OrderSide        Value `json:"OrderSide"`
	Time             Value `json:"Time"`
	ContraBrokerID   Value `json:"ContraBrokerID"`
	ContraBrokerName Value `json:"ContraBrokerName"`
}

func (w wireDeal) deal(r *fieldReader, env schema.Env) schema.Deal {
	return schema.Deal{
		Env:              env,
		Symbol:           schema.SymbolFromCode(w.StockCode.String()).String(),
		Name:             string(w.StockName),
		DealID:           w.DealID.String(),
		OrderID:          w.OrderID.String(),
		Qty:              r.integer("Qty", w.Qty),
		Price:            r.price("Price", w.Price),
		Side:             schema.Side(r.small("OrderSide", w.OrderSide)),
		Time:             string(w.Time),
		ContraBrokerID:   r.small("ContraBrokerID", w.ContraBrokerID),
		ContraBrokerName: string(w.ContraBrokerName),
	}
}

type wirePosition struct {
	StockCode      Value `json:"StockCode"`
	StockName      Value `json:"StockName"`
	Qty            Value `json:"Qty"`
	CanSellQty     Value `json:"CanSellQty"`
	CostPrice      Value `json:"CostPrice"`
	CostPriceValid Value `json:"CostPriceValid"`
	MarketVal      Value `json:"MarketVal"`
	NominalPrice   Value `json:"NominalPrice"`
	PLRatio        Value `json:"PLRatio"`
	PLRatioValid   Value `json:"PLRatioValid"`
	PLVal          Value `json:"PLVal"`
	PLValValid     Value `json:"PLValValid"`
	TodayBuyQty    Value `json:"Today_BuyQty"`
	TodayBuyVal    Value `json:"Today_BuyVal"`
	TodayPLVal     Value `json:"Today_PLVal"`
	TodaySellQty   Value `json:"Today_SellQty"`
	TodaySellVal   Value `json:"Today_SellVal"`
}

func (w wirePosition) position(r *fieldReader) schema.Position {
	return schema.Position{
		Symbol:         schema.SymbolFromCode(w.StockCode.String()).String(),
		Name:           string(w.StockName),
		Qty:            r.integer("Qty", w.Qty),
		CanSellQty:     r.integer("CanSellQty", w.CanSellQty),
		CostPrice:      r.price("CostPrice", w.CostPrice),
		CostPriceValid: r.flag(w.CostPriceValid),
		MarketValue:    r.price("MarketVal", w.MarketVal),
		NominalPrice:   r.price("NominalPrice", w.NominalPrice),
		PLRatio:        r.price("PLRatio", w.PLRatio),
		PLRatioValid:   r.flag(w.PLRatioValid),
		PLValue:        r.price("PLVal", w.PLVal),
		PLValueValid:   r.flag(w.PLValValid),
		TodayBuyQty:    r.integer("Today_BuyQty", w.TodayBuyQty),
		TodayBuyValue:  r.price("Today_BuyVal", w.TodayBuyVal),
		TodayPLValue:   r.price("Today_PLVal", w.TodayPLVal),
		TodaySellQty:   r.integer("Today_SellQty", w.TodaySellQty),
		TodaySellValue: r.price("Today_SellVal", w.TodaySellVal),
	}
}

func decodeAck(protocol int, frame []byte) (schema.OrderAck, error) {
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return schema.OrderAck{}, err
	}
	if err := p.require(protocol, "EnvType", "OrderID"); err != nil {
		return schema.OrderAck{}, err
	}
	envRaw, err := p.value(protocol, "EnvType")
	if err != nil {
		return schema.OrderAck{}, err
	}
	idRaw, err := p.value(protocol, "OrderID")
	if err != nil {
		return schema.OrderAck{}, err
	}
	r := &fieldReader{protocol: protocol}
	ack := schema.OrderAck{Env: r.env(envRaw), OrderID: idRaw.String()}
	if r.err != nil {
		return schema.OrderAck{}, r.err
	}
	if ack.OrderID == "" {
		return schema.OrderAck{}, errs.New(protocol, errs.CodeMalformed, errs.WithMessage("empty OrderID in response"))
	}
	return ack, nil
}

// DecodePlaceOrder extracts the gateway order id from a 5003 response.
func DecodePlaceOrder(frame []byte) (schema.OrderAck, error) {
	return decodeAck(ProtoPlaceOrder, frame)
}

// DecodeSetOrderStatus decodes a 5004 response.
func DecodeSetOrderStatus(frame []byte) (schema.OrderAck, error) {
	return decodeAck(ProtoSetStatus, frame)
}

// DecodeModifyOrder decodes a 5005 response.
func DecodeModifyOrder(frame []byte) (schema.OrderAck, error) {
	return decodeAck(ProtoModifyOrder, frame)
}

var accountKeys = []string{"Power", "ZCJZ", "ZQSZ", "XJJY", "KQXJ", "DJZJ", "ZSJE", "ZGJDE", "YYJDE", "GPBZJ"}

// DecodeAccountInfo decodes a 5007 response. Every money field is scale 1000.
func DecodeAccountInfo(frame []byte) (schema.AccountInfo, error) {
	p, err := decodePayload(ProtoAccountInfo, frame)
	if err != nil {
		return schema.AccountInfo{}, err
	}
	if err := p.require(ProtoAccountInfo, accountKeys...); err != nil {
		return schema.AccountInfo{}, err
	}
	values := make([]float64, len(accountKeys))
	r := &fieldReader{protocol: ProtoAccountInfo}
	for i, key := range accountKeys {
		raw, err := p.value(ProtoAccountInfo, key)
		if err != nil {
			return schema.AccountInfo{}, err
		}
		values[i] = r.price(key, raw)
	}
	if r.err != nil {
		return schema.AccountInfo{}, r.err
	}
	return schema.AccountInfo{
		Power: values[0],
		ZCJZ:  values[1],
		ZQSZ:  values[2],
		XJJY:  values[3],
		KQXJ:  values[4],
		DJZJ:  values[5],
		ZSJE:  values[6],
		ZGJDE: values[7],
		YYJDE: values[8],
		GPBZJ: values[9],
	}, nil
}

func payloadEnv(protocol int, p payload) (schema.Env, error) {
	raw, err := p.value(protocol, "EnvType")
	if err != nil {
		return 0, err
	}
	r := &fieldReader{protocol: protocol}
	env := r.env(raw)
	return env, r.err
}

// DecodeOrderList decodes a 5008 response.
func (d Dialect) DecodeOrderList(frame []byte) ([]schema.Order, error) {
	const protocol = ProtoOrderList
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return nil, err
	}
	if err := p.require(protocol, "EnvType", d.OrderArrayKey); err != nil {
		return nil, err
	}
	env, err := payloadEnv(protocol, p)
	if err != nil {
		return nil, err
	}
	var rows []wireOrder
	if err := p.array(protocol, d.OrderArrayKey, &rows); err != nil {
		return nil, err
	}
	r := &fieldReader{protocol: protocol}
	out := make([]schema.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.order(r, env))
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// DecodePositionList decodes a 5009 response.
func (d Dialect) DecodePositionList(frame []byte) ([]schema.Position, error) {
	const protocol = ProtoPositionList
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return nil, err
	}
	if err := p.require(protocol, "EnvType", d.PositionArrayKey); err != nil {
		return nil, err
	}
	var rows []wirePosition
	if err := p.array(protocol, d.PositionArrayKey, &rows); err != nil {
		return nil, err
	}
	r := &fieldReader{protocol: protocol}
	out := make([]schema.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.position(r))
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// DecodeDealList decodes a 5010 response.
func (d Dialect) DecodeDealList(frame []byte) ([]schema.Deal, error) {
	return d.decodeDeals(ProtoDealList, frame, d.DealArrayKey, "EnvType")
}

// DecodeHistoryOrders decodes a 5011 response.
func (d Dialect) DecodeHistoryOrders(frame []byte) ([]schema.HistoryOrder, error) {
	const protocol = ProtoHistoryOrders
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return nil, err
	}
	if err := p.require(protocol, "EnvType", d.HistoryOrderArrayKey); err != nil {
		return nil, err
	}
	env, err := payloadEnv(protocol, p)
	if err != nil {
		return nil, err
	}
	var rows []wireOrder
	if err := p.array(protocol, d.HistoryOrderArrayKey, &rows); err != nil {
		return nil, err
	}
	r := &fieldReader{protocol: protocol}
	out := make([]schema.HistoryOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.history(r, env))
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// DecodeHistoryDeals decodes a 5012 response.
func (d Dialect) DecodeHistoryDeals(frame []byte) ([]schema.Deal, error) {
	return d.decodeDeals(ProtoHistoryDeals, frame, d.HistoryDealArrayKey, "Cookie", "EnvType")
}

func (d Dialect) decodeDeals(protocol int, frame []byte, arrayKey string, keys ...string) ([]schema.Deal, error) {
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return nil, err
	}
	if err := p.require(protocol, append(keys, arrayKey)...); err != nil {
		return nil, err
	}
	env, err := payloadEnv(protocol, p)
	if err != nil {
		return nil, err
	}
	var rows []wireDeal
	if err := p.array(protocol, arrayKey, &rows); err != nil {
		return nil, err
	}
	r := &fieldReader{protocol: protocol}
	out := make([]schema.Deal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.deal(r, env))
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// DecodeOrderPush decodes a single order pushed outside request correlation.
func DecodeOrderPush(frame []byte) (schema.Order, error) {
	const protocol = ProtoOrderPush
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return schema.Order{}, err
	}
	if err := p.require(protocol, "EnvType", "OrderID", "Status"); err != nil {
		return schema.Order{}, err
	}
	var row wireOrder
	if err := p.object(protocol, &row); err != nil {
		return schema.Order{}, err
	}
	r := &fieldReader{protocol: protocol}
	order := row.order(r, r.env(row.EnvType))
	if r.err != nil {
		return schema.Order{}, r.err
	}
	return order, nil
}

// DecodeDealPush decodes a single pushed deal.
func DecodeDealPush(frame []byte) (schema.Deal, error) {
	const protocol = ProtoDealPush
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return schema.Deal{}, err
	}
	if err := p.require(protocol, "EnvType", "DealID", "OrderID"); err != nil {
		return schema.Deal{}, err
	}
	var row wireDeal
	if err := p.object(protocol, &row); err != nil {
		return schema.Deal{}, err
	}
	r := &fieldReader{protocol: protocol}
	deal := row.deal(r, r.env(row.EnvType))
	if r.err != nil {
		return schema.Deal{}, r.err
	}
	return deal, nil
}

// DecodeUnlock checks a 6006 response. A gateway rejection is reported as an auth error.
func DecodeUnlock(frame []byte) error {
	_, err := DecodeEnvelope(ProtoUnlock, frame)
	var e *errs.E
	if errors.As(err, &e) && e.Code == errs.CodeGateway {
		e.Code = errs.CodeAuth
	}
	return err
}

// DecodeSubscribe checks a 5100 response.
func DecodeSubscribe(frame []byte) error {
	_, err := DecodeEnvelope(ProtoSubscribe, frame)
	return err
}

// DecodeHeartbeat extracts the gateway timestamp from a 1008 frame.
func DecodeHeartbeat(frame []byte) (string, error) {
	p, err := decodePayload(ProtoHeartbeat, frame)
	if err != nil {
		return "", err
	}
	if err := p.require(ProtoHeartbeat, "TimeStamp"); err != nil {
		return "", err
	}
	ts, err := p.value(ProtoHeartbeat, "TimeStamp")
	if err != nil {
		return "", err
	}
	return ts.String(), nil
}

type wireGlobalState struct {
	MarketSH     Value `json:"Market_SH"`
	MarketSZ     Value `json:"Market_SZ"`
	MarketHK     Value `json:"Market_HK"`
	MarketUS     Value `json:"Market_US"`
	QuoteLogined Value `json:"Quote_Logined"`
	TradeLogined Value `json:"Trade_Logined"`
	TimeStamp    Value `json:"TimeStamp"`
	Version      Value `json:"Version"`
}

// DecodeGlobalState decodes a 1029 response. No key is required; absent
// fields decode as zero values and a missing Version as "".
func DecodeGlobalState(frame []byte) (schema.GlobalState, error) {
	const protocol = ProtoGlobalState
	p, err := decodePayload(protocol, frame)
	if err != nil {
		return schema.GlobalState{}, err
	}
	var row wireGlobalState
	if err := p.object(protocol, &row); err != nil {
		return schema.GlobalState{}, err
	}
	r := &fieldReader{protocol: protocol}
	return schema.GlobalState{
		MarketSH:     row.MarketSH.String(),
		MarketSZ:     row.MarketSZ.String(),
		MarketHK:     row.MarketHK.String(),
		MarketUS:     row.MarketUS.String(),
		QuoteLogined: r.flag(row.QuoteLogined),
		TradeLogined: r.flag(row.TradeLogined),
		TimeStamp:    row.TimeStamp.String(),
		Version:      row.Version.String(),
	}, nil
}
