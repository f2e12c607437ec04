package trade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/protocol"
)

type sentFrame struct {
	tag    int
	params protocol.Params
	async  bool
}

type responder func(tag int, params protocol.Params) (string, error)

type fakeTransport struct {
	mu      sync.Mutex
	frames  []sentFrame
	respond responder
	onSend  func(sent sentFrame) error
}

func (f *fakeTransport) record(frame []byte, async bool) (sentFrame, error) {
	var req protocol.Request
	if err := json.Unmarshal(bytes.TrimSuffix(frame, protocol.Delimiter), &req); err != nil {
		return sentFrame{}, err
	}
	sent := sentFrame{tag: req.Tag(), params: req.ReqParam, async: async}
	f.mu.Lock()
	f.frames = append(f.frames, sent)
	f.mu.Unlock()
	return sent, nil
}

func (f *fakeTransport) Request(_ context.Context, tag int, frame []byte) ([]byte, error) {
	sent, err := f.record(frame, false)
	if err != nil {
		return nil, err
	}
	if sent.tag != tag {
		return nil, fmt.Errorf("tag mismatch: frame %d, request %d", sent.tag, tag)
	}
	body, err := f.respond(tag, sent.params)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	sent, err := f.record(frame, true)
	if err != nil {
		return err
	}
	if f.onSend != nil {
		return f.onSend(sent)
	}
	return nil
}

func (f *fakeTransport) allFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.frames...)
}

func (f *fakeTransport) syncFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, 0, len(f.frames))
	for _, fr := range f.frames {
		if !fr.async {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) asyncFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, 0, len(f.frames))
	for _, fr := range f.frames {
		if fr.async {
			out = append(out, fr)
		}
	}
	return out
}

func ok(tag int, retData string) string {
	return fmt.Sprintf(`{"Protocol":"%d","Version":"1","ErrCode":"0","ErrDesc":"","RetData":%s}`, tag, retData)
}

func fail(tag int, code, desc string) string {
	return fmt.Sprintf(`{"Protocol":"%d","Version":"1","ErrCode":"%s","ErrDesc":%q}`, tag, code, desc)
}

// acceptAll answers every request with an empty success payload, except the
// order acks which need an id.
func acceptAll(tag int, params protocol.Params) (string, error) {
	switch tag {
	case protocol.ProtoPlaceOrder:
		return ok(tag, `{"EnvType":"0","OrderID":"12345"}`), nil
	case protocol.ProtoGlobalState:
		return ok(tag, `{"Trade_Logined":"1","Quote_Logined":"1"}`), nil
	default:
		return ok(tag, `{}`), nil
	}
}

func newTestClient(t *testing.T, transport *fakeTransport, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Cookie: "100000",
		Region: protocol.RegionCN,
		Unlock: UnlockPolicy{Attempts: 3, Delay: time.Millisecond},
		Logger: log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewClient(transport, opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPlaceOrderEncodesScaledPriceAndSubscribes(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, nil)

	order, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{
		PlaceOrderParams: protocol.PlaceOrderParams{
			Env:    schema.EnvLive,
			Symbol: "SZ.000001",
			Side:   schema.SideBuy,
			Type:   schema.OrderTypeLimit,
			Price:  10.55,
			Qty:    100,
		},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.OrderID != "12345" || order.Price != 10.55 || order.Qty != 100 || order.Symbol != "SZ.000001" {
		t.Fatalf("unexpected order record: %+v", order)
	}
	if !c.Ledger().Contains("12345", schema.EnvLive) {
		t.Fatalf("new order must be tracked for pushes")
	}

	frames := transport.allFrames()
	if len(frames) != 2 {
		t.Fatalf("expected place and subscribe frames, got %d", len(frames))
	}
	if frames[0].tag != protocol.ProtoPlaceOrder || frames[0].async || frames[0].params["Price"] != "10550" {
		t.Fatalf("unexpected place frame: %+v", frames[0])
	}
	sub := frames[1]
	if !sub.async || sub.tag != protocol.ProtoSubscribe || sub.params["OrderID"] != "12345" || sub.params["SubOrder"] != "1" {
		t.Fatalf("unexpected subscribe frame: %+v", sub)
	}
}

func TestPlaceOrderDisablePushUnsubscribes(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, nil)
	c.Ledger().Add("12345", schema.EnvLive)

	_, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{
		PlaceOrderParams: protocol.PlaceOrderParams{
			Env: schema.EnvLive, Symbol: "SH.600000", Price: 9.8, Qty: 200,
		},
		DisablePush: true,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if c.Ledger().Contains("12345", schema.EnvLive) {
		t.Fatalf("disabled push must drop the order from the ledger")
	}
	frames := transport.asyncFrames()
	if len(frames) != 1 {
		t.Fatalf("expected one unsubscribe frame, got %+v", frames)
	}
	if got := frames[0].params["SubOrder"]; got != "0" {
		t.Fatalf("expected unsubscribe flag, got %q", got)
	}
}

func TestNonLiveEnvRejectedWithoutNetwork(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, nil)
	ctx := context.Background()

	_, err := c.PlaceOrder(ctx, PlaceOrderRequest{PlaceOrderParams: protocol.PlaceOrderParams{
		Env: schema.EnvSimulated, Symbol: "SZ.000001", Price: 1, Qty: 100,
	}})
	if !errs.Is(err, errs.CodeInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.QueryAccountInfo(ctx, schema.EnvSimulated); !errs.Is(err, errs.CodeInvalid) {
		t.Fatalf("expected validation error for account info, got %v", err)
	}
	if err := c.SubscribeOrderPush(ctx, schema.EnvSimulated, nil, true); !errs.Is(err, errs.CodeInvalid) {
		t.Fatalf("expected validation error for subscribe, got %v", err)
	}
	if n := len(transport.allFrames()); n != 0 {
		t.Fatalf("validation failures must not reach the transport, got %d frames", n)
	}
	if c.Ledger().Len() != 0 {
		t.Fatalf("rejected subscribe must not touch the ledger")
	}
}

func TestGatewayErrorAndTransportErrorAreDistinct(t *testing.T) {
	transport := &fakeTransport{respond: func(tag int, _ protocol.Params) (string, error) {
		switch tag {
		case protocol.ProtoAccountInfo:
			return fail(tag, "400", "market closed"), nil
		case protocol.ProtoOrderList:
			return ok(tag, `{"EnvType":"0"}`), nil
		default:
			return "", errors.New("connection reset")
		}
	}}
	c := newTestClient(t, transport, nil)
	ctx := context.Background()

	_, err := c.QueryAccountInfo(ctx, schema.EnvLive)
	var e *errs.E
	if !errors.As(err, &e) || e.Code != errs.CodeGateway || e.Reason() != "market closed" {
		t.Fatalf("expected gateway error with description, got %v", err)
	}
	if _, err := c.QueryOrders(ctx, protocol.OrderQuery{Env: schema.EnvLive}); !errs.Is(err, errs.CodeMalformed) {
		t.Fatalf("expected malformed response for missing array key, got %v", err)
	}
	if _, err := c.QueryDeals(ctx, schema.EnvLive); !errs.Is(err, errs.CodeNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestUnlockCachesCredentialsAndMirrors(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, nil)

	if err := c.Unlock(context.Background(), protocol.Credentials{Password: "123456"}); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	creds, set := c.creds.load()
	if !set || creds.Password != "123456" {
		t.Fatalf("expected cached credentials, got %+v set=%v", creds, set)
	}
	async := transport.asyncFrames()
	if len(async) != 1 || async[0].tag != protocol.ProtoUnlock {
		t.Fatalf("expected one mirrored unlock frame, got %+v", async)
	}
}

func TestUnlockRejectedIsAuthError(t *testing.T) {
	transport := &fakeTransport{respond: func(tag int, _ protocol.Params) (string, error) {
		return fail(tag, "-1", "wrong password"), nil
	}}
	c := newTestClient(t, transport, nil)

	err := c.Unlock(context.Background(), protocol.Credentials{Password: "bad"})
	if !errs.Is(err, errs.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, set := c.creds.load(); set {
		t.Fatalf("rejected credentials must not be cached")
	}
	if len(transport.asyncFrames()) != 0 {
		t.Fatalf("rejected unlock must not be mirrored")
	}
}

func TestReconcileReplaysLedgerPerEnv(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, nil)
	c.Ledger().Add("A", schema.EnvLive)
	c.Ledger().Add("B", schema.EnvLive)
	c.Ledger().Add("", schema.EnvSimulated)

	if err := c.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	frames := transport.asyncFrames()
	if len(frames) != 2 {
		t.Fatalf("expected two subscribe frames, got %+v", frames)
	}
	live, sim := frames[0], frames[1]
	if live.params["EnvType"] != "0" || live.params["OrderID"] != "A,B" || live.params["FirstPush"] != "1" {
		t.Fatalf("unexpected env 0 replay: %+v", live.params)
	}
	if sim.params["EnvType"] != "1" || sim.params["OrderID"] != "" || sim.params["FirstPush"] != "0" {
		t.Fatalf("unexpected env 1 replay: %+v", sim.params)
	}
}

func TestReconcileRetriesUnlockBeforeResubscribing(t *testing.T) {
	var mu sync.Mutex
	unlockCalls := 0
	transport := &fakeTransport{respond: func(tag int, params protocol.Params) (string, error) {
		if tag == protocol.ProtoUnlock {
			mu.Lock()
			defer mu.Unlock()
			unlockCalls++
			if unlockCalls <= 2 {
				return fail(tag, "1", "gateway busy"), nil
			}
		}
		return acceptAll(tag, params)
	}}
	c := newTestClient(t, transport, nil)
	c.creds.store(protocol.Credentials{Password: "123456"})
	c.Ledger().Add("A", schema.EnvLive)

	if err := c.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	frames := transport.allFrames()
	tags := make([]int, 0, len(frames))
	for _, f := range frames {
		tags = append(tags, f.tag)
	}
	// Three unlock attempts, the mirrored unlock, then the replay.
	want := []int{protocol.ProtoUnlock, protocol.ProtoUnlock, protocol.ProtoUnlock, protocol.ProtoUnlock, protocol.ProtoSubscribe}
	if fmt.Sprint(tags) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, tags)
	}
}

func TestReconcileUnlockExhaustionIsNotFatal(t *testing.T) {
	transport := &fakeTransport{respond: func(tag int, params protocol.Params) (string, error) {
		if tag == protocol.ProtoUnlock {
			return fail(tag, "1", "locked"), nil
		}
		return acceptAll(tag, params)
	}}
	c := newTestClient(t, transport, nil)
	c.creds.store(protocol.Credentials{PasswordMD5: "e10adc3949ba59abbe56e057f20f883e"})
	c.Ledger().Add("", schema.EnvLive)

	if err := c.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile must not fail on unlock exhaustion: %v", err)
	}
	frames := transport.allFrames()
	if len(frames) != 4 || frames[3].tag != protocol.ProtoSubscribe || !frames[3].async {
		t.Fatalf("expected 3 unlock attempts then a subscribe, got %+v", frames)
	}
}

func TestReconcileAggregatesSubscribeFailures(t *testing.T) {
	transport := &fakeTransport{
		respond: acceptAll,
		onSend: func(sent sentFrame) error {
			if sent.tag == protocol.ProtoSubscribe && sent.params["EnvType"] == "0" {
				return errors.New("broken pipe")
			}
			return nil
		},
	}
	c := newTestClient(t, transport, nil)
	c.Ledger().Add("A", schema.EnvLive)
	c.Ledger().Add("", schema.EnvSimulated)

	err := c.Reconcile(context.Background())
	if !errs.Is(err, errs.CodeNetwork) {
		t.Fatalf("expected aggregated network error, got %v", err)
	}
	if n := len(transport.asyncFrames()); n != 2 {
		t.Fatalf("one failure must not stop the other replay, got %d frames", n)
	}
}

func TestSubscribeDoesNotWaitForAnswer(t *testing.T) {
	transport := &fakeTransport{respond: func(tag int, _ protocol.Params) (string, error) {
		return "", fmt.Errorf("unexpected synchronous request %d", tag)
	}}
	var logs bytes.Buffer
	c := newTestClient(t, transport, func(o *Options) { o.Logger = log.New(&logs, "", 0) })
	listener := &recordingListener{}
	c.SetListener(listener)

	if err := c.SubscribeOrderPush(context.Background(), schema.EnvLive, []string{"42"}, true); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(transport.syncFrames()) != 0 || len(transport.asyncFrames()) != 1 {
		t.Fatalf("expected one fire-and-forget frame, got %+v", transport.allFrames())
	}

	c.HandlePush([]byte(fail(protocol.ProtoSubscribe, "2", "unknown order")))
	if !strings.Contains(logs.String(), "subscribe rejected") || !strings.Contains(logs.String(), "unknown order") {
		t.Fatalf("expected late rejection to be logged, got %q", logs.String())
	}
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.errs) != 0 {
		t.Fatalf("subscribe answers are not push errors: %v", listener.errs)
	}
}

func TestHandleReconnectedRunsReconcile(t *testing.T) {
	done := make(chan struct{}, 1)
	transport := &fakeTransport{
		respond: acceptAll,
		onSend: func(sent sentFrame) error {
			if sent.tag == protocol.ProtoSubscribe {
				select {
				case done <- struct{}{}:
				default:
				}
			}
			return nil
		},
	}
	c := newTestClient(t, transport, nil)
	c.Ledger().Add("A", schema.EnvLive)

	c.HandleReconnected()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reconnect did not trigger a resubscribe")
	}
}

type recordingListener struct {
	mu     sync.Mutex
	orders []schema.Order
	deals  []schema.Deal
	errs   []error
}

func (l *recordingListener) OnOrder(o schema.Order) {
	l.mu.Lock()
	l.orders = append(l.orders, o)
	l.mu.Unlock()
}

func (l *recordingListener) OnDeal(d schema.Deal) {
	l.mu.Lock()
	l.deals = append(l.deals, d)
	l.mu.Unlock()
}

func (l *recordingListener) OnPushError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func orderPush(id string, status int) []byte {
	return []byte(ok(protocol.ProtoOrderPush, fmt.Sprintf(
		`{"EnvType":"0","StockCode":"000001","OrderID":%q,"Status":"%d","Price":"10550","Qty":"100"}`, id, status)))
}

func TestHandlePushTracksStatusThroughCatchAll(t *testing.T) {
	c := newTestClient(t, &fakeTransport{respond: acceptAll}, nil)
	listener := &recordingListener{}
	c.SetListener(listener)
	c.Ledger().Add("", schema.EnvLive)

	c.HandlePush(orderPush("777", 1))
	if !c.Ledger().Contains("777", schema.EnvLive) {
		t.Fatalf("working order seen through catch-all must be tracked")
	}
	c.HandlePush(orderPush("777", int(schema.OrderStatusFilled)))
	if c.Ledger().Contains("777", schema.EnvLive) {
		t.Fatalf("filled order must be dropped")
	}
	if !c.Ledger().Contains("", schema.EnvLive) {
		t.Fatalf("catch-all must stay")
	}
	if len(listener.orders) != 2 || listener.orders[0].Price != 10.55 || listener.orders[0].Symbol != "SZ.000001" {
		t.Fatalf("unexpected delivered orders: %+v", listener.orders)
	}
}

func TestHandlePushTerminalWithoutCatchAll(t *testing.T) {
	c := newTestClient(t, &fakeTransport{respond: acceptAll}, func(o *Options) {
		o.TerminalStatuses = []schema.OrderStatus{9}
	})
	c.Ledger().Add("42", schema.EnvLive)

	c.HandlePush(orderPush("42", int(schema.OrderStatusFilled)))
	if !c.Ledger().Contains("42", schema.EnvLive) {
		t.Fatalf("status outside the configured terminal set must keep the order")
	}
	c.HandlePush(orderPush("42", 9))
	if c.Ledger().Contains("42", schema.EnvLive) {
		t.Fatalf("configured terminal status must drop the order")
	}
	c.HandlePush(orderPush("43", 1))
	if c.Ledger().Contains("43", schema.EnvLive) {
		t.Fatalf("without catch-all unknown orders are not tracked")
	}
}

func TestHandlePushErrorsDoNotStopStream(t *testing.T) {
	c := newTestClient(t, &fakeTransport{respond: acceptAll}, nil)
	listener := &recordingListener{}
	c.SetListener(listener)

	c.HandlePush([]byte("not json"))
	c.HandlePush([]byte(ok(protocol.ProtoOrderPush, `{"EnvType":"0","OrderID":"1"}`)))
	c.HandlePush([]byte(ok(protocol.ProtoDealPush,
		`{"EnvType":"0","StockCode":"600000","DealID":"d1","OrderID":"1","Qty":"100","Price":"9800","OrderSide":"1"}`)))

	if len(listener.errs) != 2 {
		t.Fatalf("expected two push errors, got %v", listener.errs)
	}
	if !errs.Is(listener.errs[1], errs.CodeMalformed) {
		t.Fatalf("missing Status must be a malformed response, got %v", listener.errs[1])
	}
	if len(listener.deals) != 1 {
		t.Fatalf("valid frame after failures must be delivered")
	}
	d := listener.deals[0]
	if d.Symbol != "SH.600000" || d.Price != 9.8 || d.Side != schema.SideSell {
		t.Fatalf("unexpected deal: %+v", d)
	}
}

func TestSetListenerReplaces(t *testing.T) {
	c := newTestClient(t, &fakeTransport{respond: acceptAll}, nil)
	first, second := &recordingListener{}, &recordingListener{}
	c.SetListener(first)
	c.SetListener(second)

	c.HandlePush(orderPush("1", 1))
	if len(first.orders) != 0 || len(second.orders) != 1 {
		t.Fatalf("only the latest listener must receive pushes")
	}
}

type memoryJournal struct {
	mu     sync.Mutex
	orders []schema.Order
	deals  []schema.Deal
}

func (j *memoryJournal) RecordOrder(_ context.Context, o schema.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, o)
	return nil
}

func (j *memoryJournal) RecordDeal(_ context.Context, d schema.Deal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deals = append(j.deals, d)
	return nil
}

func TestJournalReceivesPlacedAndPushedOrders(t *testing.T) {
	journal := &memoryJournal{}
	c := newTestClient(t, &fakeTransport{respond: acceptAll}, func(o *Options) { o.Journal = journal })

	_, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{PlaceOrderParams: protocol.PlaceOrderParams{
		Env: schema.EnvLive, Symbol: "SZ.000001", Price: 10.55, Qty: 100,
	}})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	c.HandlePush(orderPush("12345", 2))
	c.Close()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.orders) != 2 {
		t.Fatalf("expected placed and pushed orders in journal, got %d", len(journal.orders))
	}
}

func TestSwitchAccountClearsCredentialsThenUnlocks(t *testing.T) {
	var mu sync.Mutex
	stateCalls := 0
	transport := &fakeTransport{respond: func(tag int, params protocol.Params) (string, error) {
		switch tag {
		case protocol.ProtoSwitchAccount:
			return "", errors.New("connection closed by gateway")
		case protocol.ProtoGlobalState:
			mu.Lock()
			defer mu.Unlock()
			stateCalls++
			if stateCalls == 1 {
				return "", errors.New("reconnecting")
			}
		}
		return acceptAll(tag, params)
	}}
	c := newTestClient(t, transport, func(o *Options) { o.StateInterval = time.Millisecond })
	c.creds.store(protocol.Credentials{Password: "old"})

	err := c.SwitchAccount(context.Background(), protocol.SwitchAccountParams{
		UserID:           "88888",
		LoginPasswordMD5: "abc",
		Trade:            protocol.Credentials{Password: "new"},
	})
	if err != nil {
		t.Fatalf("switch account: %v", err)
	}
	creds, set := c.creds.load()
	if !set || creds.Password != "new" {
		t.Fatalf("expected new credentials cached, got %+v", creds)
	}
	if stateCalls != 2 {
		t.Fatalf("expected global state to be polled until it answered, got %d calls", stateCalls)
	}
}

func TestSwitchAccountAcceptsStateWithoutQuoteLogin(t *testing.T) {
	var mu sync.Mutex
	stateCalls := 0
	transport := &fakeTransport{respond: func(tag int, params protocol.Params) (string, error) {
		if tag == protocol.ProtoGlobalState {
			mu.Lock()
			stateCalls++
			mu.Unlock()
			return ok(tag, `{"Market_SH":"6","Market_SZ":"6","Trade_Logined":"1","TimeStamp":"1508250058"}`), nil
		}
		return acceptAll(tag, params)
	}}
	c := newTestClient(t, transport, func(o *Options) { o.StateInterval = time.Millisecond })

	err := c.SwitchAccount(context.Background(), protocol.SwitchAccountParams{
		UserID: "88888",
		Trade:  protocol.Credentials{Password: "new"},
	})
	if err != nil {
		t.Fatalf("switch account: %v", err)
	}
	if _, set := c.creds.load(); !set {
		t.Fatalf("expected the new account to be unlocked")
	}
	if stateCalls != 1 {
		t.Fatalf("expected a single global state query, got %d", stateCalls)
	}
}

func TestSwitchAccountStopsPollingOnGatewayError(t *testing.T) {
	var mu sync.Mutex
	stateCalls := 0
	transport := &fakeTransport{respond: func(tag int, params protocol.Params) (string, error) {
		if tag == protocol.ProtoGlobalState {
			mu.Lock()
			stateCalls++
			mu.Unlock()
			return fail(tag, "1", "not logged in"), nil
		}
		return acceptAll(tag, params)
	}}
	c := newTestClient(t, transport, func(o *Options) { o.StateInterval = time.Millisecond })

	err := c.SwitchAccount(context.Background(), protocol.SwitchAccountParams{UserID: "88888"})
	if !errs.Is(err, errs.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if stateCalls != 1 {
		t.Fatalf("gateway errors must not be retried, got %d calls", stateCalls)
	}
}

func TestSwitchAccountWithoutTradePasswordLeavesLocked(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, nil)
	c.creds.store(protocol.Credentials{Password: "old"})

	if err := c.SwitchAccount(context.Background(), protocol.SwitchAccountParams{UserID: "88888"}); err != nil {
		t.Fatalf("switch account: %v", err)
	}
	if _, set := c.creds.load(); set {
		t.Fatalf("credentials of the previous account must be cleared")
	}
}

func TestOrderThrottleHonoursContext(t *testing.T) {
	transport := &fakeTransport{respond: acceptAll}
	c := newTestClient(t, transport, func(o *Options) {
		o.OrderThrottle = 0.001
		o.OrderBurst = 1
	})
	ctx := context.Background()
	params := protocol.ModifyOrderParams{Env: schema.EnvLive, OrderID: "1", Price: 1, Qty: 100}
	if _, err := c.ModifyOrder(ctx, params); err != nil {
		t.Fatalf("first modify: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := c.ModifyOrder(short, params); !errs.Is(err, errs.CodeRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestKeepaliveFrameIsHeartbeat(t *testing.T) {
	c := newTestClient(t, &fakeTransport{respond: acceptAll}, nil)
	frame, err := c.KeepaliveFrame()
	if err != nil {
		t.Fatalf("keepalive frame: %v", err)
	}
	tag, err := protocol.PeekProtocol(bytes.TrimSuffix(frame, protocol.Delimiter))
	if err != nil || tag != protocol.ProtoHeartbeat {
		t.Fatalf("expected 1008 frame, got %d (%v)", tag, err)
	}
	if !strings.Contains(string(frame), `"Cookie":"100000"`) {
		t.Fatalf("keepalive must carry the session cookie: %s", frame)
	}
}
