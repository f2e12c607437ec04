// Package trade implements the A-share trade client: typed operations over a
// gateway transport, the push subscription ledger and reconnect reconciliation.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/protocol"
	"github.com/coachpo/cntrade/internal/numeric"
)

// Transport carries request frames to the gateway.
type Transport interface {
	// Request sends frame and blocks until the response tagged with protocol arrives.
	Request(ctx context.Context, protocol int, frame []byte) ([]byte, error)
	// Send writes frame without waiting for a response.
	Send(ctx context.Context, frame []byte) error
}

// PushListener receives decoded push events. Callbacks run on the transport
// read goroutine and must not block.
type PushListener interface {
	OnOrder(order schema.Order)
	OnDeal(deal schema.Deal)
	OnPushError(err error)
}

// Journal persists pushed orders and deals.
type Journal interface {
	RecordOrder(ctx context.Context, order schema.Order) error
	RecordDeal(ctx context.Context, deal schema.Deal) error
}

// UnlockPolicy controls the unlock replay after a reconnect.
type UnlockPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Options configures a Client.
type Options struct {
	Cookie           string
	Region           string
	TerminalStatuses []schema.OrderStatus
	Unlock           UnlockPolicy
	// OrderThrottle is the maximum rate of order-mutating calls per second.
	// Zero disables pacing.
	OrderThrottle float64
	OrderBurst    int
	// StateRetries bounds the global-state polls issued after an account switch.
	StateRetries  int
	StateInterval time.Duration
	Journal       Journal
	JournalQueue  int
	Logger        *log.Logger
}

const (
	defaultUnlockAttempts = 3
	defaultUnlockDelay    = time.Second
	defaultStateRetries   = 10
	defaultStateInterval  = 500 * time.Millisecond
	defaultJournalQueue   = 256
	journalWriteTimeout   = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Unlock.Attempts <= 0 {
		o.Unlock.Attempts = defaultUnlockAttempts
	}
	if o.Unlock.Delay < 0 {
		o.Unlock.Delay = 0
	} else if o.Unlock.Delay == 0 {
		o.Unlock.Delay = defaultUnlockDelay
	}
	if len(o.TerminalStatuses) == 0 {
		o.TerminalStatuses = schema.DefaultTerminalStatuses
	}
	if o.OrderBurst <= 0 {
		o.OrderBurst = 1
	}
	if o.StateRetries <= 0 {
		o.StateRetries = defaultStateRetries
	}
	if o.StateInterval <= 0 {
		o.StateInterval = defaultStateInterval
	}
	if o.JournalQueue <= 0 {
		o.JournalQueue = defaultJournalQueue
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Client issues trading operations against one gateway connection.
type Client struct {
	transport Transport
	session   protocol.Session
	opts      Options
	logger    *log.Logger

	terminal map[schema.OrderStatus]struct{}
	ledger   *Ledger
	creds    credentialCache
	limiter  *rate.Limiter
	metrics  *clientMetrics

	listenerMu sync.RWMutex
	listener   PushListener

	ctx    context.Context
	cancel context.CancelFunc

	reconcileMu     sync.Mutex
	reconcileCancel context.CancelFunc

	journalMu     sync.RWMutex
	journalCh     chan journalEntry
	journalClosed bool
	workers       conc.WaitGroup
	closeOnce     sync.Once
}

// NewClient builds a client bound to transport.
func NewClient(transport Transport, opts Options) (*Client, error) {
	if transport == nil {
		return nil, errors.New("trade client: transport required")
	}
	session, err := protocol.NewSession(opts.Cookie, opts.Region)
	if err != nil {
		return nil, fmt.Errorf("trade client: %w", err)
	}
	opts = opts.withDefaults()

	terminal := make(map[schema.OrderStatus]struct{}, len(opts.TerminalStatuses))
	for _, status := range opts.TerminalStatuses {
		terminal[status] = struct{}{}
	}

	var limiter *rate.Limiter
	if opts.OrderThrottle > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.OrderThrottle), opts.OrderBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ledger := NewLedger()
	c := &Client{
		transport: transport,
		session:   session,
		opts:      opts,
		logger:    opts.Logger,
		terminal:  terminal,
		ledger:    ledger,
		limiter:   limiter,
		metrics:   newClientMetrics(ledger),
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.Journal != nil {
		c.journalCh = make(chan journalEntry, opts.JournalQueue)
		c.workers.Go(c.runJournal)
	}
	return c, nil
}

// Session exposes the request context shared by every encoder call.
func (c *Client) Session() protocol.Session { return c.session }

// KeepaliveFrame builds the 1008 frame the transport sends on an idle connection.
func (c *Client) KeepaliveFrame() ([]byte, error) {
	return protocol.EncodeHeartbeat(c.session).Frame()
}

// Ledger exposes the subscription ledger.
func (c *Client) Ledger() *Ledger { return c.ledger }

// SetListener installs the push listener, replacing any previous one.
// A nil listener disables delivery.
func (c *Client) SetListener(l PushListener) {
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
}

func (c *Client) currentListener() PushListener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener
}

// IsTerminal reports whether status ends an order's life.
func (c *Client) IsTerminal(status schema.OrderStatus) bool {
	_, ok := c.terminal[status]
	return ok
}

// Close stops background work. Pending journal entries are flushed first.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.reconcileMu.Lock()
		c.cancel()
		c.reconcileMu.Unlock()
		if c.journalCh != nil {
			c.journalMu.Lock()
			c.journalClosed = true
			close(c.journalCh)
			c.journalMu.Unlock()
		}
		c.workers.Wait()
	})
}

// call performs one synchronous round trip and decodes the answer.
func call[T any](ctx context.Context, c *Client, req protocol.Request, decode func([]byte) (T, error)) (T, error) {
	var zero T
	started := time.Now()
	tag := req.Tag()
	frame, err := req.Frame()
	if err != nil {
		err = errs.New(tag, errs.CodeInvalid, errs.WithMessage("encode request"), errs.WithCause(err))
		c.metrics.recordRequest(ctx, tag, started, err)
		return zero, err
	}
	raw, err := c.transport.Request(ctx, tag, frame)
	if err != nil {
		err = transportError(tag, err)
		c.metrics.recordRequest(ctx, tag, started, err)
		return zero, err
	}
	out, err := decode(raw)
	c.metrics.recordRequest(ctx, tag, started, err)
	if err != nil {
		return zero, err
	}
	return out, nil
}

// send writes req without waiting; an answer, if any, reaches HandlePush.
func (c *Client) send(ctx context.Context, req protocol.Request) error {
	started := time.Now()
	tag := req.Tag()
	frame, err := req.Frame()
	if err != nil {
		err = errs.New(tag, errs.CodeInvalid, errs.WithMessage("encode request"), errs.WithCause(err))
		c.metrics.recordRequest(ctx, tag, started, err)
		return err
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		err = transportError(tag, err)
		c.metrics.recordRequest(ctx, tag, started, err)
		return err
	}
	c.metrics.recordRequest(ctx, tag, started, nil)
	return nil
}

func transportError(tag int, err error) error {
	var e *errs.E
	if errors.As(err, &e) {
		return err
	}
	return errs.New(tag, errs.CodeNetwork, errs.WithMessage("gateway request failed"), errs.WithCause(err))
}

func discard(decode func([]byte) error) func([]byte) (struct{}, error) {
	return func(raw []byte) (struct{}, error) {
		return struct{}{}, decode(raw)
	}
}

func (c *Client) pace(ctx context.Context, tag int) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New(tag, errs.CodeRateLimited, errs.WithMessage("order throttle limit exceeded"), errs.WithCause(err))
	}
	return nil
}

// PlaceOrderRequest is a new order plus its push preference.
type PlaceOrderRequest struct {
	protocol.PlaceOrderParams
	// DisablePush unsubscribes the new order instead of subscribing it.
	DisablePush bool `json:"disable_push"`
}

// PlaceOrder submits an order. The returned record echoes the request with
// the gateway's order id. The order is subscribed for pushes unless
// DisablePush is set.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (schema.Order, error) {
	encoded, err := protocol.EncodePlaceOrder(c.session, req.PlaceOrderParams)
	if err != nil {
		return schema.Order{}, err
	}
	if err := c.pace(ctx, protocol.ProtoPlaceOrder); err != nil {
		return schema.Order{}, err
	}
	ack, err := call(ctx, c, encoded, protocol.DecodePlaceOrder)
	if err != nil {
		return schema.Order{}, err
	}

	sym, _ := schema.ParseSymbol(req.Symbol)
	order := schema.Order{
		Env:     req.Env,
		Symbol:  sym.String(),
		OrderID: ack.OrderID,
		Qty:     req.Qty,
		Price:   numeric.Round(req.Price, numeric.PriceExp),
		Side:    req.Side,
		Type:    req.Type,
	}

	if err := c.subscribe(ctx, req.Env, []string{ack.OrderID}, !req.DisablePush); err != nil {
		c.logger.Printf("trade: subscribe order %s: %v", ack.OrderID, err)
	}
	c.enqueueOrder(order)
	return order, nil
}

// ModifyOrder changes price and quantity of a working order.
func (c *Client) ModifyOrder(ctx context.Context, p protocol.ModifyOrderParams) (schema.OrderAck, error) {
	encoded, err := protocol.EncodeModifyOrder(c.session, p)
	if err != nil {
		return schema.OrderAck{}, err
	}
	if err := c.pace(ctx, protocol.ProtoModifyOrder); err != nil {
		return schema.OrderAck{}, err
	}
	return call(ctx, c, encoded, protocol.DecodeModifyOrder)
}

// SetOrderStatus cancels, disables, enables or deletes an order.
func (c *Client) SetOrderStatus(ctx context.Context, p protocol.SetOrderStatusParams) (schema.OrderAck, error) {
	encoded, err := protocol.EncodeSetOrderStatus(c.session, p)
	if err != nil {
		return schema.OrderAck{}, err
	}
	if err := c.pace(ctx, protocol.ProtoSetStatus); err != nil {
		return schema.OrderAck{}, err
	}
	return call(ctx, c, encoded, protocol.DecodeSetOrderStatus)
}

// QueryAccountInfo returns the money summary of env.
func (c *Client) QueryAccountInfo(ctx context.Context, env schema.Env) (schema.AccountInfo, error) {
	encoded, err := protocol.EncodeAccountInfo(c.session, env)
	if err != nil {
		return schema.AccountInfo{}, err
	}
	return call(ctx, c, encoded, protocol.DecodeAccountInfo)
}

// QueryOrders lists today's orders.
func (c *Client) QueryOrders(ctx context.Context, q protocol.OrderQuery) ([]schema.Order, error) {
	encoded, err := protocol.EncodeOrderList(c.session, q)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, encoded, c.session.Dialect.DecodeOrderList)
}

// QueryPositions lists holdings.
func (c *Client) QueryPositions(ctx context.Context, q protocol.PositionQuery) ([]schema.Position, error) {
	encoded, err := protocol.EncodePositionList(c.session, q)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, encoded, c.session.Dialect.DecodePositionList)
}

// QueryDeals lists today's deals.
func (c *Client) QueryDeals(ctx context.Context, env schema.Env) ([]schema.Deal, error) {
	encoded, err := protocol.EncodeDealList(c.session, env)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, encoded, c.session.Dialect.DecodeDealList)
}

// QueryHistoryOrders lists orders over a date range.
func (c *Client) QueryHistoryOrders(ctx context.Context, q protocol.HistoryOrderQuery) ([]schema.HistoryOrder, error) {
	encoded, err := protocol.EncodeHistoryOrders(c.session, q)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, encoded, c.session.Dialect.DecodeHistoryOrders)
}

// QueryHistoryDeals lists deals over a date range.
func (c *Client) QueryHistoryDeals(ctx context.Context, q protocol.HistoryDealQuery) ([]schema.Deal, error) {
	encoded, err := protocol.EncodeHistoryDeals(c.session, q)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, encoded, c.session.Dialect.DecodeHistoryDeals)
}

// GlobalState queries the gateway's market and login state.
func (c *Client) GlobalState(ctx context.Context) (schema.GlobalState, error) {
	return call(ctx, c, protocol.EncodeGlobalState(c.session), protocol.DecodeGlobalState)
}

// Unlock enables trading. On success the credentials are kept in memory for
// reconnects and the unlock frame is mirrored without waiting for its answer
// so the push side of the gateway is unlocked too.
func (c *Client) Unlock(ctx context.Context, creds protocol.Credentials) error {
	encoded, err := protocol.EncodeUnlock(c.session, creds)
	if err != nil {
		return err
	}
	if _, err := call(ctx, c, encoded, discard(protocol.DecodeUnlock)); err != nil {
		return err
	}
	c.creds.store(creds)
	c.mirror(ctx, encoded)
	return nil
}

// SubscribeOrderPush toggles order and deal pushes for ids in env. An empty
// id list addresses every order in env.
func (c *Client) SubscribeOrderPush(ctx context.Context, env schema.Env, orderIDs []string, enable bool) error {
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		ids = []string{""}
	}
	return c.subscribe(ctx, env, ids, enable)
}

// subscribe updates the ledger before the frame goes out so that a push
// arriving ahead of any answer is already tracked. The gateway's answer is
// not awaited; a rejection is logged by HandlePush.
func (c *Client) subscribe(ctx context.Context, env schema.Env, ids []string, enable bool) error {
	params := protocol.SubscribeParams{Env: env, OrderIDs: ids, Enable: enable, FirstPush: true}
	encoded, err := protocol.EncodeSubscribe(c.session, params)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if enable {
			c.ledger.Add(id, env)
		} else {
			c.ledger.Remove(id, env)
		}
	}
	return c.send(ctx, encoded)
}

// Subscriptions returns the current ledger contents.
func (c *Client) Subscriptions() []Subscription {
	return c.ledger.Snapshot()
}

// SwitchAccount logs the gateway into another account. The gateway drops the
// connection while switching, so the switch response is ignored and the call
// waits until a global-state query succeeds. Cached credentials are cleared;
// the new account is unlocked when trade credentials are supplied.
func (c *Client) SwitchAccount(ctx context.Context, p protocol.SwitchAccountParams) error {
	encoded, err := protocol.EncodeSwitchAccount(c.session, p)
	if err != nil {
		return err
	}
	if _, err := call(ctx, c, encoded, discard(func(raw []byte) error {
		_, err := protocol.DecodeEnvelope(protocol.ProtoSwitchAccount, raw)
		return err
	})); err != nil {
		c.logger.Printf("trade: switch account %s: %v", p.UserID, err)
	}
	c.creds.clear()

	_, err = backoff.Retry(ctx, func() (schema.GlobalState, error) {
		state, err := c.GlobalState(ctx)
		if errs.Is(err, errs.CodeMalformed) || errs.Is(err, errs.CodeGateway) {
			return state, backoff.Permanent(err)
		}
		return state, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.StateInterval)),
		backoff.WithMaxTries(uint(c.opts.StateRetries)),
	)
	if err != nil {
		return fmt.Errorf("switch account: wait for gateway: %w", err)
	}

	if p.Trade.Empty() {
		return nil
	}
	return c.Unlock(ctx, p.Trade)
}
