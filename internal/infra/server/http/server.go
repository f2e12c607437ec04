// Package httpserver exposes the HTTP control surface over the trade client.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/app/trade"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/persistence/postgres"
	"github.com/coachpo/cntrade/internal/infra/protocol"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	healthPath         = "/healthz"
	statePath          = "/state"
	accountPath        = "/account"
	ordersPath         = "/orders"
	orderDetailPrefix  = ordersPath + "/"
	positionsPath      = "/positions"
	dealsPath          = "/deals"
	historyOrdersPath  = "/history/orders"
	historyDealsPath   = "/history/deals"
	subscriptionsPath  = "/subscriptions"
	unlockPath         = "/unlock"
	journalOrderPrefix = "/journal/orders/"
)

// TradeService is the subset of *trade.Client the API drives.
type TradeService interface {
	PlaceOrder(ctx context.Context, req trade.PlaceOrderRequest) (schema.Order, error)
	ModifyOrder(ctx context.Context, p protocol.ModifyOrderParams) (schema.OrderAck, error)
	SetOrderStatus(ctx context.Context, p protocol.SetOrderStatusParams) (schema.OrderAck, error)
	QueryAccountInfo(ctx context.Context, env schema.Env) (schema.AccountInfo, error)
	QueryOrders(ctx context.Context, q protocol.OrderQuery) ([]schema.Order, error)
	QueryPositions(ctx context.Context, q protocol.PositionQuery) ([]schema.Position, error)
	QueryDeals(ctx context.Context, env schema.Env) ([]schema.Deal, error)
	QueryHistoryOrders(ctx context.Context, q protocol.HistoryOrderQuery) ([]schema.HistoryOrder, error)
	QueryHistoryDeals(ctx context.Context, q protocol.HistoryDealQuery) ([]schema.Deal, error)
	GlobalState(ctx context.Context) (schema.GlobalState, error)
	Unlock(ctx context.Context, creds protocol.Credentials) error
	SubscribeOrderPush(ctx context.Context, env schema.Env, orderIDs []string, enable bool) error
	Subscriptions() []trade.Subscription
}

// ConnectionStatus reports the gateway link state.
type ConnectionStatus interface {
	Connected() bool
	ConnectionID() string
}

// JournalReader serves journaled order history.
type JournalReader interface {
	OrderEvents(ctx context.Context, env schema.Env, orderID string, limit int) ([]postgres.OrderEvent, error)
	DealsForOrder(ctx context.Context, env schema.Env, orderID string) ([]schema.Deal, error)
}

// Options wires the handler dependencies. Status and Journal are optional.
type Options struct {
	Trade          TradeService
	Status         ConnectionStatus
	Journal        JournalReader
	RequestTimeout time.Duration
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	trade   TradeService
	status  ConnectionStatus
	journal JournalReader
	timeout time.Duration
}

// NewHandler creates the HTTP handler for trade operations.
func NewHandler(opts Options) http.Handler {
	server := &httpServer{
		trade:   opts.Trade,
		status:  opts.Status,
		journal: opts.Journal,
		timeout: opts.RequestTimeout,
	}
	if server.timeout <= 0 {
		server.timeout = 15 * time.Second
	}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(statePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.globalState,
	}))
	mux.Handle(accountPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.accountInfo,
	}))
	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listOrders,
		http.MethodPost: server.placeOrder,
	}))
	mux.Handle(orderDetailPrefix, http.HandlerFunc(server.handleOrder))
	mux.Handle(positionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listPositions,
	}))
	mux.Handle(dealsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listDeals,
	}))
	mux.Handle(historyOrdersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listHistoryOrders,
	}))
	mux.Handle(historyDealsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listHistoryDeals,
	}))
	mux.Handle(subscriptionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listSubscriptions,
		http.MethodPost: server.updateSubscriptions,
	}))
	mux.Handle(unlockPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.unlock,
	}))
	if server.journal != nil {
		mux.Handle(journalOrderPrefix, server.methodHandlers(map[string]handlerFunc{
			http.MethodGet: server.journalOrder,
		}))
	}

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if s.status != nil {
		payload["connected"] = s.status.Connected()
		payload["connection_id"] = s.status.ConnectionID()
		if !s.status.Connected() {
			payload["status"] = "degraded"
		}
	}
	payload["subscriptions"] = len(s.trade.Subscriptions())
	writeJSON(w, http.StatusOK, payload)
}

func (s *httpServer) globalState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	state, err := s.trade.GlobalState(ctx)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *httpServer) accountInfo(w http.ResponseWriter, r *http.Request) {
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	info, err := s.trade.QueryAccountInfo(ctx, env)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	statuses, ok := statusParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx, cancel := s.context(r)
	defer cancel()
	orders, err := s.trade.QueryOrders(ctx, protocol.OrderQuery{
		Env:          env,
		OrderID:      strings.TrimSpace(q.Get("order_id")),
		StatusFilter: statuses,
		Symbol:       strings.TrimSpace(q.Get("symbol")),
		Start:        strings.TrimSpace(q.Get("start")),
		End:          strings.TrimSpace(q.Get("end")),
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": nonNil(orders)})
}

type placeOrderPayload struct {
	Env         string  `json:"env"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"order_type"`
	Price       float64 `json:"price"`
	Qty         int64   `json:"qty"`
	PriceMode   int     `json:"price_mode"`
	DisablePush bool    `json:"disable_push"`
}

func (s *httpServer) placeOrder(w http.ResponseWriter, r *http.Request) {
	var payload placeOrderPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	env, err := schema.ParseEnv(payload.Env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := parseSide(payload.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orderType, err := parseOrderType(payload.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	order, err := s.trade.PlaceOrder(ctx, trade.PlaceOrderRequest{
		PlaceOrderParams: protocol.PlaceOrderParams{
			Env:       env,
			Symbol:    payload.Symbol,
			Side:      side,
			Type:      orderType,
			Price:     payload.Price,
			Qty:       payload.Qty,
			PriceMode: payload.PriceMode,
		},
		DisablePush: payload.DisablePush,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *httpServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, orderDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "order id required")
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		s.modifyOrder(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.setOrderStatus(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

type modifyOrderPayload struct {
	Env   string  `json:"env"`
	Price float64 `json:"price"`
	Qty   int64   `json:"qty"`
}

func (s *httpServer) modifyOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	var payload modifyOrderPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	env, err := schema.ParseEnv(payload.Env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	ack, err := s.trade.ModifyOrder(ctx, protocol.ModifyOrderParams{
		Env:     env,
		OrderID: orderID,
		Price:   payload.Price,
		Qty:     payload.Qty,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

type orderStatusPayload struct {
	Env    string `json:"env"`
	Action string `json:"action"`
}

func (s *httpServer) setOrderStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	var payload orderStatusPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	env, err := schema.ParseEnv(payload.Env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := schema.ParseStatusAction(payload.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	ack, err := s.trade.SetOrderStatus(ctx, protocol.SetOrderStatusParams{
		Env:     env,
		OrderID: orderID,
		Action:  action,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *httpServer) listPositions(w http.ResponseWriter, r *http.Request) {
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := protocol.PositionQuery{
		Env:       env,
		Symbol:    strings.TrimSpace(q.Get("symbol")),
		StockType: schema.StockType(strings.ToUpper(strings.TrimSpace(q.Get("stock_type")))),
	}
	for key, dst := range map[string]**float64{"pl_ratio_min": &query.PLRatioMin, "pl_ratio_max": &query.PLRatioMax} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", key, raw))
			return
		}
		*dst = &v
	}
	ctx, cancel := s.context(r)
	defer cancel()
	positions, err := s.trade.QueryPositions(ctx, query)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": nonNil(positions)})
}

func (s *httpServer) listDeals(w http.ResponseWriter, r *http.Request) {
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	deals, err := s.trade.QueryDeals(ctx, env)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": nonNil(deals)})
}

func (s *httpServer) listHistoryOrders(w http.ResponseWriter, r *http.Request) {
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	statuses, ok := statusParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx, cancel := s.context(r)
	defer cancel()
	orders, err := s.trade.QueryHistoryOrders(ctx, protocol.HistoryOrderQuery{
		Env:          env,
		StatusFilter: statuses,
		Symbol:       strings.TrimSpace(q.Get("symbol")),
		Start:        strings.TrimSpace(q.Get("start")),
		End:          strings.TrimSpace(q.Get("end")),
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": nonNil(orders)})
}

func (s *httpServer) listHistoryDeals(w http.ResponseWriter, r *http.Request) {
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx, cancel := s.context(r)
	defer cancel()
	deals, err := s.trade.QueryHistoryDeals(ctx, protocol.HistoryDealQuery{
		Env:    env,
		Symbol: strings.TrimSpace(q.Get("symbol")),
		Start:  strings.TrimSpace(q.Get("start")),
		End:    strings.TrimSpace(q.Get("end")),
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": nonNil(deals)})
}

type subscriptionView struct {
	Env     schema.Env `json:"env"`
	OrderID string     `json:"order_id"`
}

func (s *httpServer) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.trade.Subscriptions()
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView{Env: sub.Env, OrderID: sub.OrderID})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Env != views[j].Env {
			return views[i].Env < views[j].Env
		}
		return views[i].OrderID < views[j].OrderID
	})
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": views})
}

type subscriptionPayload struct {
	Env      string   `json:"env"`
	OrderIDs []string `json:"order_ids"`
	Enable   *bool    `json:"enable"`
}

func (s *httpServer) updateSubscriptions(w http.ResponseWriter, r *http.Request) {
	var payload subscriptionPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	env, err := schema.ParseEnv(payload.Env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	enable := true
	if payload.Enable != nil {
		enable = *payload.Enable
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.trade.SubscribeOrderPush(ctx, env, payload.OrderIDs, enable); err != nil {
		writeTradeError(w, err)
		return
	}
	s.listSubscriptions(w, r)
}

func (s *httpServer) unlock(w http.ResponseWriter, r *http.Request) {
	var creds protocol.Credentials
	if !decodeBody(w, r, &creds) {
		return
	}
	if creds.Empty() {
		writeError(w, http.StatusBadRequest, "password or password_md5 required")
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.trade.Unlock(ctx, creds); err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *httpServer) journalOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.Trim(strings.TrimPrefix(r.URL.Path, journalOrderPrefix), "/")
	if orderID == "" || strings.Contains(orderID, "/") {
		writeError(w, http.StatusNotFound, "order id required")
		return
	}
	env, ok := envParam(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = v
	}
	ctx, cancel := s.context(r)
	defer cancel()
	events, err := s.journal.OrderEvents(ctx, env, orderID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("journal: %v", err))
		return
	}
	deals, err := s.journal.DealsForOrder(ctx, env, orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("journal: %v", err))
		return
	}
	if len(events) == 0 && len(deals) == 0 {
		writeError(w, http.StatusNotFound, "order not journaled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": nonNil(events), "deals": nonNil(deals)})
}

func envParam(w http.ResponseWriter, r *http.Request) (schema.Env, bool) {
	env, err := schema.ParseEnv(r.URL.Query().Get("env"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return env, true
}

func statusParam(w http.ResponseWriter, r *http.Request) ([]schema.OrderStatus, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	out := make([]schema.OrderStatus, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", part))
			return nil, false
		}
		out = append(out, schema.OrderStatus(v))
	}
	return out, true
}

func parseSide(raw string) (schema.Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "buy":
		return schema.SideBuy, nil
	case "1", "sell":
		return schema.SideSell, nil
	}
	return 0, fmt.Errorf("invalid side %q", raw)
}

func parseOrderType(raw string) (schema.OrderType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return schema.OrderTypeLimit, nil
	}
	for _, t := range []schema.OrderType{schema.OrderTypeLimit, schema.OrderTypeMarket, schema.OrderTypeSpecialLimit} {
		if trimmed == t.String() || trimmed == strconv.Itoa(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid order type %q", raw)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// statusFor maps a trade error onto the HTTP status surfaced to callers.
func statusFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeGateway:
		return http.StatusUnprocessableEntity
	case errs.CodeMalformed:
		return http.StatusBadGateway
	case errs.CodeNetwork, errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeAuth:
		return http.StatusUnauthorized
	case errs.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeTradeError(w http.ResponseWriter, err error) {
	body := map[string]any{"status": "error", "error": err.Error()}
	var e *errs.E
	if errors.As(err, &e) {
		body["code"] = string(e.Code)
		body["error"] = e.Reason()
		if e.Protocol > 0 {
			body["protocol"] = e.Protocol
		}
		if e.RawCode != "" {
			body["raw_code"] = e.RawCode
		}
	}
	writeJSON(w, statusFor(err), body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeDecodeError(w, err)
		return false
	}
	return true
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
}

func isRequestTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
