package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/app/trade"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/persistence/postgres"
	"github.com/coachpo/cntrade/internal/infra/protocol"
)

type fakeTrade struct {
	err error

	placed     trade.PlaceOrderRequest
	modified   protocol.ModifyOrderParams
	statusSet  protocol.SetOrderStatusParams
	orderQuery protocol.OrderQuery
	posQuery   protocol.PositionQuery
	unlocked   protocol.Credentials
	subEnv     schema.Env
	subIDs     []string
	subEnable  bool
	subs       []trade.Subscription
}

func (f *fakeTrade) PlaceOrder(_ context.Context, req trade.PlaceOrderRequest) (schema.Order, error) {
	f.placed = req
	if f.err != nil {
		return schema.Order{}, f.err
	}
	return schema.Order{Env: req.Env, Symbol: req.Symbol, OrderID: "12345", Price: req.Price, Qty: req.Qty, Side: req.Side}, nil
}

func (f *fakeTrade) ModifyOrder(_ context.Context, p protocol.ModifyOrderParams) (schema.OrderAck, error) {
	f.modified = p
	return schema.OrderAck{Env: p.Env, OrderID: p.OrderID}, f.err
}

func (f *fakeTrade) SetOrderStatus(_ context.Context, p protocol.SetOrderStatusParams) (schema.OrderAck, error) {
	f.statusSet = p
	return schema.OrderAck{Env: p.Env, OrderID: p.OrderID}, f.err
}

func (f *fakeTrade) QueryAccountInfo(context.Context, schema.Env) (schema.AccountInfo, error) {
	return schema.AccountInfo{Power: 1000.5}, f.err
}

func (f *fakeTrade) QueryOrders(_ context.Context, q protocol.OrderQuery) ([]schema.Order, error) {
	f.orderQuery = q
	return nil, f.err
}

func (f *fakeTrade) QueryPositions(_ context.Context, q protocol.PositionQuery) ([]schema.Position, error) {
	f.posQuery = q
	return []schema.Position{{Symbol: "SZ.000001", Qty: 100}}, f.err
}

func (f *fakeTrade) QueryDeals(context.Context, schema.Env) ([]schema.Deal, error) {
	return nil, f.err
}

func (f *fakeTrade) QueryHistoryOrders(context.Context, protocol.HistoryOrderQuery) ([]schema.HistoryOrder, error) {
	return nil, f.err
}

func (f *fakeTrade) QueryHistoryDeals(context.Context, protocol.HistoryDealQuery) ([]schema.Deal, error) {
	return nil, f.err
}

func (f *fakeTrade) GlobalState(context.Context) (schema.GlobalState, error) {
	return schema.GlobalState{TradeLogined: true, QuoteLogined: true}, f.err
}

func (f *fakeTrade) Unlock(_ context.Context, creds protocol.Credentials) error {
	f.unlocked = creds
	return f.err
}

func (f *fakeTrade) SubscribeOrderPush(_ context.Context, env schema.Env, ids []string, enable bool) error {
	f.subEnv, f.subIDs, f.subEnable = env, ids, enable
	if f.err != nil {
		return f.err
	}
	for _, id := range ids {
		f.subs = append(f.subs, trade.Subscription{OrderID: id, Env: env})
	}
	return nil
}

func (f *fakeTrade) Subscriptions() []trade.Subscription {
	return append([]trade.Subscription(nil), f.subs...)
}

type fakeStatus struct{ up bool }

func (s fakeStatus) Connected() bool      { return s.up }
func (s fakeStatus) ConnectionID() string { return "conn-1" }

type fakeJournal struct {
	events []postgres.OrderEvent
	deals  []schema.Deal
	limit  int
}

func (j *fakeJournal) OrderEvents(_ context.Context, _ schema.Env, _ string, limit int) ([]postgres.OrderEvent, error) {
	j.limit = limit
	return j.events, nil
}

func (j *fakeJournal) DealsForOrder(context.Context, schema.Env, string) ([]schema.Deal, error) {
	return j.deals, nil
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthReportsConnection(t *testing.T) {
	handler := NewHandler(Options{Trade: &fakeTrade{}, Status: fakeStatus{up: false}})
	rec := serve(t, handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "degraded" || body["connected"] != false {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestPlaceOrder(t *testing.T) {
	svc := &fakeTrade{}
	handler := NewHandler(Options{Trade: svc})
	rec := serve(t, handler, http.MethodPost, "/orders",
		`{"env":"0","symbol":"000001","side":"buy","order_type":"limit","price":10.55,"qty":100,"disable_push":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.placed.Symbol != "000001" || svc.placed.Price != 10.55 || !svc.placed.DisablePush {
		t.Fatalf("unexpected request %+v", svc.placed)
	}
	if svc.placed.Side != schema.SideBuy || svc.placed.Type != schema.OrderTypeLimit {
		t.Fatalf("unexpected side/type %+v", svc.placed)
	}
	body := decode(t, rec)
	if body["order_id"] != "12345" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPlaceOrderRejectsBadInput(t *testing.T) {
	handler := NewHandler(Options{Trade: &fakeTrade{}})
	cases := []string{
		`{"side":"hold","qty":1}`,
		`{"side":"buy","order_type":"stop"}`,
		`{"env":"x","side":"buy"}`,
		`{"unknown":1}`,
		`not json`,
	}
	for _, body := range cases {
		rec := serve(t, handler, http.MethodPost, "/orders", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

func TestTradeErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.Invalid(protocol.ProtoPlaceOrder, "parameter qty must be positive"), http.StatusBadRequest},
		{errs.New(protocol.ProtoPlaceOrder, errs.CodeGateway, errs.WithRawCode("-1"), errs.WithRawMessage("insufficient funds")), http.StatusUnprocessableEntity},
		{errs.New(protocol.ProtoPlaceOrder, errs.CodeMalformed), http.StatusBadGateway},
		{errs.New(protocol.ProtoPlaceOrder, errs.CodeNetwork), http.StatusServiceUnavailable},
		{errs.New(protocol.ProtoPlaceOrder, errs.CodeUnavailable), http.StatusServiceUnavailable},
		{errs.New(protocol.ProtoUnlock, errs.CodeAuth), http.StatusUnauthorized},
		{errs.New(protocol.ProtoPlaceOrder, errs.CodeRateLimited), http.StatusTooManyRequests},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		handler := NewHandler(Options{Trade: &fakeTrade{err: tc.err}})
		rec := serve(t, handler, http.MethodPost, "/orders", `{"side":"sell","qty":100,"symbol":"600000"}`)
		if rec.Code != tc.want {
			t.Fatalf("expected %d for %v, got %d", tc.want, tc.err, rec.Code)
		}
	}

	handler := NewHandler(Options{Trade: &fakeTrade{err: errs.New(protocol.ProtoPlaceOrder, errs.CodeGateway,
		errs.WithRawCode("-1"), errs.WithRawMessage("insufficient funds"))}})
	body := decode(t, serve(t, handler, http.MethodPost, "/orders", `{"side":"sell","qty":1}`))
	if body["error"] != "insufficient funds" || body["code"] != "gateway_error" || body["raw_code"] != "-1" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestModifyAndSetStatus(t *testing.T) {
	svc := &fakeTrade{}
	handler := NewHandler(Options{Trade: svc})

	rec := serve(t, handler, http.MethodPut, "/orders/777", `{"env":"simulated","price":9.9,"qty":300}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("modify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.modified.OrderID != "777" || svc.modified.Env != schema.EnvSimulated || svc.modified.Qty != 300 {
		t.Fatalf("unexpected modify %+v", svc.modified)
	}

	rec = serve(t, handler, http.MethodPost, "/orders/777/status", `{"env":"0","action":"cancel"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.statusSet.OrderID != "777" || svc.statusSet.Action != schema.StatusActionCancel {
		t.Fatalf("unexpected status %+v", svc.statusSet)
	}

	if rec := serve(t, handler, http.MethodGet, "/orders/777", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := serve(t, handler, http.MethodPost, "/orders/777/unknown", "{}"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListOrdersParsesFilters(t *testing.T) {
	svc := &fakeTrade{}
	handler := NewHandler(Options{Trade: svc})
	rec := serve(t, handler, http.MethodGet, "/orders?env=1&status=3,6&symbol=600000&order_id=9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	q := svc.orderQuery
	if q.Env != schema.EnvSimulated || q.Symbol != "600000" || q.OrderID != "9" || len(q.StatusFilter) != 2 {
		t.Fatalf("unexpected query %+v", q)
	}
	if !strings.Contains(rec.Body.String(), `"orders":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
	if rec := serve(t, handler, http.MethodGet, "/orders?status=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rec.Code)
	}
}

func TestListPositionsParsesRatios(t *testing.T) {
	svc := &fakeTrade{}
	handler := NewHandler(Options{Trade: svc})
	rec := serve(t, handler, http.MethodGet, "/positions?stock_type=etf&pl_ratio_min=-5&pl_ratio_max=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	q := svc.posQuery
	if q.StockType != schema.StockTypeETF || q.PLRatioMin == nil || *q.PLRatioMin != -5 || q.PLRatioMax == nil || *q.PLRatioMax != 10 {
		t.Fatalf("unexpected query %+v", q)
	}
	if rec := serve(t, handler, http.MethodGet, "/positions?pl_ratio_min=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubscriptionsRoundTrip(t *testing.T) {
	svc := &fakeTrade{}
	handler := NewHandler(Options{Trade: svc})
	rec := serve(t, handler, http.MethodPost, "/subscriptions", `{"env":"0","order_ids":["B","A"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !svc.subEnable || len(svc.subIDs) != 2 {
		t.Fatalf("unexpected subscribe call %v %v", svc.subEnable, svc.subIDs)
	}
	var body struct {
		Subscriptions []subscriptionView `json:"subscriptions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Subscriptions) != 2 || body.Subscriptions[0].OrderID != "A" {
		t.Fatalf("expected sorted subscriptions, got %+v", body.Subscriptions)
	}

	rec = serve(t, handler, http.MethodPost, "/subscriptions", `{"env":"0","order_ids":["A"],"enable":false}`)
	if rec.Code != http.StatusOK || svc.subEnable {
		t.Fatalf("expected disable call, got %d enable=%v", rec.Code, svc.subEnable)
	}
}

func TestUnlock(t *testing.T) {
	svc := &fakeTrade{}
	handler := NewHandler(Options{Trade: svc})
	if rec := serve(t, handler, http.MethodPost, "/unlock", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without secret, got %d", rec.Code)
	}
	rec := serve(t, handler, http.MethodPost, "/unlock", `{"password":"123456"}`)
	if rec.Code != http.StatusOK || svc.unlocked.Password != "123456" {
		t.Fatalf("unexpected unlock result %d %+v", rec.Code, svc.unlocked)
	}
	if rec := serve(t, handler, http.MethodGet, "/unlock", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStateAndAccount(t *testing.T) {
	handler := NewHandler(Options{Trade: &fakeTrade{}})
	body := decode(t, serve(t, handler, http.MethodGet, "/state", ""))
	if body["trade_logined"] != true {
		t.Fatalf("unexpected state %v", body)
	}
	body = decode(t, serve(t, handler, http.MethodGet, "/account?env=live", ""))
	if body["power"] != 1000.5 {
		t.Fatalf("unexpected account %v", body)
	}
}

func TestJournalRoute(t *testing.T) {
	journal := &fakeJournal{}
	handler := NewHandler(Options{Trade: &fakeTrade{}, Journal: journal})
	if rec := serve(t, handler, http.MethodGet, "/journal/orders/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", rec.Code)
	}

	journal.events = []postgres.OrderEvent{{ID: "e1", Order: schema.Order{OrderID: "1"}, RecordedAt: time.Unix(0, 0)}}
	rec := serve(t, handler, http.MethodGet, "/journal/orders/1?limit=5", "")
	if rec.Code != http.StatusOK || journal.limit != 5 {
		t.Fatalf("unexpected journal response %d limit=%d", rec.Code, journal.limit)
	}

	withoutJournal := NewHandler(Options{Trade: &fakeTrade{}})
	if rec := serve(t, withoutJournal, http.MethodGet, "/journal/orders/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without journal, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewHandler(Options{Trade: &fakeTrade{}})
	rec := serve(t, handler, http.MethodOptions, "/orders", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}
