// Package transport maintains the persistent socket to the trading gateway:
// framing, reconnects, heartbeat supervision and request correlation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/infra/protocol"
)

const (
	defaultDialTimeout          = 5 * time.Second
	defaultWriteTimeout         = 5 * time.Second
	defaultRequestTimeout       = 10 * time.Second
	defaultStartTimeout         = 10 * time.Second
	defaultReconnectInterval    = 500 * time.Millisecond
	defaultMaxReconnectInterval = 30 * time.Second
	defaultReadLimit            = 4 * 1024 * 1024
)

var errHeartbeatTimeout = errors.New("no frame received within heartbeat timeout")

// Handler consumes connection events.
type Handler interface {
	// HandlePush receives every frame that did not answer the in-flight request.
	HandlePush(frame []byte)
	// HandleReconnected fires after every successful connect except the first.
	HandleReconnected()
}

// Keepaliver is implemented by handlers that can build a keepalive frame. The
// watchdog sends it once the connection has been idle for half of
// HeartbeatTimeout.
type Keepaliver interface {
	KeepaliveFrame() ([]byte, error)
}

// Options configures a Gateway.
type Options struct {
	// Addr is host:port or tcp://host:port for line framing, or a ws:// or
	// wss:// URL for WebSocket framing.
	Addr                 string
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	RequestTimeout       time.Duration
	StartTimeout         time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	ReadLimit            int
	// SendRate caps outbound frames per second. Zero disables pacing.
	SendRate  float64
	SendBurst int
	Logger    *log.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = defaultStartTimeout
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = defaultReconnectInterval
	}
	if o.MaxReconnectInterval <= 0 {
		o.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	if o.MaxReconnectInterval < o.ReconnectInterval {
		o.MaxReconnectInterval = o.ReconnectInterval
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 1
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

type pendingRequest struct {
	tag  int
	resp chan []byte
}

// Gateway is a self-healing connection to the trading gateway. Synchronous
// requests are serialized and matched to responses by protocol tag.
type Gateway struct {
	opts   Options
	kind   string
	target string
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	handlerMu sync.RWMutex
	handler   Handler

	connMu sync.RWMutex
	conn   frameConn
	connID string
	lost   chan struct{}

	reqMu     sync.Mutex
	pendingMu sync.Mutex
	pending   *pendingRequest

	ready     chan struct{}
	readyOnce sync.Once
	connects  atomic.Uint64
	lastFrame atomic.Int64

	limiter   *rate.Limiter
	metrics   *gatewayMetrics
	lifecycle conc.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewGateway validates opts and prepares an unconnected gateway.
func NewGateway(opts Options) (*Gateway, error) {
	opts = opts.withDefaults()
	kind, target, err := parseAddr(opts.Addr)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if opts.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		opts:    opts,
		kind:    kind,
		target:  target,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		limiter: limiter,
		metrics: newGatewayMetrics(kind),
	}, nil
}

func parseAddr(addr string) (string, string, error) {
	trimmed := strings.TrimSpace(addr)
	switch {
	case trimmed == "":
		return "", "", errors.New("gateway address required")
	case strings.HasPrefix(trimmed, "ws://"), strings.HasPrefix(trimmed, "wss://"):
		return kindWebSocket, trimmed, nil
	case strings.HasPrefix(trimmed, "tcp://"):
		trimmed = strings.TrimPrefix(trimmed, "tcp://")
	case strings.Contains(trimmed, "://"):
		return "", "", fmt.Errorf("unsupported gateway address scheme %q", addr)
	}
	if _, _, err := net.SplitHostPort(trimmed); err != nil {
		return "", "", fmt.Errorf("invalid gateway address %q: %w", addr, err)
	}
	return kindTCP, trimmed, nil
}

// SetHandler installs the event handler. It must be called before Start.
func (g *Gateway) SetHandler(h Handler) {
	g.handlerMu.Lock()
	g.handler = h
	g.handlerMu.Unlock()
}

func (g *Gateway) currentHandler() Handler {
	g.handlerMu.RLock()
	defer g.handlerMu.RUnlock()
	return g.handler
}

// Start launches the connection loop and waits for the first connection.
// The loop keeps retrying in the background when the wait times out.
func (g *Gateway) Start(ctx context.Context) error {
	g.startOnce.Do(func() {
		g.lifecycle.Go(func() {
			if err := g.run(); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Printf("transport: connection loop stopped: %v", err)
			}
		})
	})

	timer := time.NewTimer(g.opts.StartTimeout)
	defer timer.Stop()
	select {
	case <-g.ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for gateway connection to %s", g.target)
	case <-ctx.Done():
		return fmt.Errorf("start gateway: %w", ctx.Err())
	case <-g.ctx.Done():
		return fmt.Errorf("gateway closed: %w", g.ctx.Err())
	}
}

// Close stops the connection loop and closes the socket.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.cancel()
		g.connMu.RLock()
		conn := g.conn
		g.connMu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}
		g.lifecycle.Wait()
	})
	return nil
}

// Connected reports whether a connection is currently open.
func (g *Gateway) Connected() bool {
	conn, _, _ := g.current()
	return conn != nil
}

// ConnectionID identifies the open connection, or "" when disconnected.
func (g *Gateway) ConnectionID() string {
	_, id, _ := g.current()
	return id
}

func (g *Gateway) current() (frameConn, string, chan struct{}) {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return g.conn, g.connID, g.lost
}

// Request writes frame and waits for the response tagged with tag.
func (g *Gateway) Request(ctx context.Context, tag int, frame []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()
	}

	g.reqMu.Lock()
	defer g.reqMu.Unlock()

	conn, connID, lost := g.current()
	if conn == nil {
		return nil, errs.New(tag, errs.CodeUnavailable, errs.WithMessage("gateway not connected"))
	}

	p := &pendingRequest{tag: tag, resp: make(chan []byte, 1)}
	g.pendingMu.Lock()
	g.pending = p
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		if g.pending == p {
			g.pending = nil
		}
		g.pendingMu.Unlock()
	}()

	if err := g.write(ctx, conn, frame); err != nil {
		return nil, errs.New(tag, errs.CodeNetwork,
			errs.WithMessage("write request"),
			errs.WithField("connection", connID),
			errs.WithCause(err))
	}

	select {
	case resp := <-p.resp:
		return resp, nil
	case <-lost:
		return nil, errs.New(tag, errs.CodeUnavailable,
			errs.WithMessage("connection lost before response"),
			errs.WithField("connection", connID))
	case <-ctx.Done():
		return nil, errs.New(tag, errs.CodeNetwork,
			errs.WithMessage("no response from gateway"),
			errs.WithField("connection", connID),
			errs.WithCause(ctx.Err()))
	}
}

// Send writes frame without waiting for a response.
func (g *Gateway) Send(ctx context.Context, frame []byte) error {
	conn, connID, _ := g.current()
	if conn == nil {
		return errs.New(0, errs.CodeUnavailable, errs.WithMessage("gateway not connected"))
	}
	if err := g.write(ctx, conn, frame); err != nil {
		return errs.New(0, errs.CodeNetwork,
			errs.WithMessage("write frame"),
			errs.WithField("connection", connID),
			errs.WithCause(err))
	}
	return nil
}

func (g *Gateway) write(ctx context.Context, conn frameConn, frame []byte) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send pacing: %w", err)
		}
	}
	if err := conn.WriteFrame(ctx, frame); err != nil {
		return err
	}
	g.metrics.recordOutbound(ctx)
	return nil
}

// dispatch hands frame to the in-flight request when the protocol matches,
// otherwise to the push handler.
func (g *Gateway) dispatch(frame []byte) {
	if tag, err := protocol.PeekProtocol(frame); err == nil {
		g.pendingMu.Lock()
		p := g.pending
		if p != nil && p.tag == tag {
			g.pending = nil
		} else {
			p = nil
		}
		g.pendingMu.Unlock()
		if p != nil {
			p.resp <- frame
			return
		}
	}
	if h := g.currentHandler(); h != nil {
		h.HandlePush(frame)
	}
}

func (g *Gateway) dial(ctx context.Context) (frameConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, g.opts.DialTimeout)
	defer cancel()
	if g.kind == kindWebSocket {
		conn, _, err := websocket.Dial(dialCtx, g.target, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", g.target, err)
		}
		return newWSConn(conn, g.opts.ReadLimit, g.opts.WriteTimeout), nil
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", g.target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", g.target, err)
	}
	return newLineConn(conn, g.opts.ReadLimit, g.opts.WriteTimeout), nil
}

// run keeps one connection alive until Close. Dial failures and dropped
// connections back off exponentially up to MaxReconnectInterval.
func (g *Gateway) run() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = g.opts.ReconnectInterval
	backoffCfg.MaxInterval = g.opts.MaxReconnectInterval

	for {
		select {
		case <-g.ctx.Done():
			return context.Canceled
		default:
		}

		conn, err := g.dial(g.ctx)
		if err != nil {
			g.metrics.recordConnect(g.ctx, "error")
			if g.ctx.Err() == nil {
				g.logger.Printf("transport: %v", err)
			}
			if !g.sleep(backoffCfg) {
				return context.Canceled
			}
			continue
		}
		g.metrics.recordConnect(g.ctx, "success")
		backoffCfg.Reset()

		err = g.serve(conn)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Printf("transport: %v", err)
		}
		if !g.sleep(backoffCfg) {
			return context.Canceled
		}
	}
}

func (g *Gateway) sleep(b *backoff.ExponentialBackOff) bool {
	wait := b.NextBackOff()
	if wait == backoff.Stop {
		wait = g.opts.MaxReconnectInterval
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-g.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serve runs the read loop and heartbeat watchdog for one connection and
// returns when either stops.
func (g *Gateway) serve(conn frameConn) error {
	connID := uuid.NewString()
	lost := make(chan struct{})
	g.lastFrame.Store(time.Now().UnixNano())

	g.connMu.Lock()
	g.conn = conn
	g.connID = connID
	g.lost = lost
	g.connMu.Unlock()
	g.metrics.adjustConnections(g.ctx, 1)

	reconnect := g.connects.Add(1) > 1
	g.logger.Printf("transport: connection %s open to %s", connID, g.target)

	connCtx, connCancel := context.WithCancel(g.ctx)
	errCh := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() { errCh <- g.readLoop(connCtx, conn) })
	wg.Go(func() { errCh <- g.watchdog(connCtx, conn) })

	g.readyOnce.Do(func() { close(g.ready) })
	if reconnect {
		if h := g.currentHandler(); h != nil {
			h.HandleReconnected()
		}
	}

	firstErr := <-errCh
	connCancel()

	g.connMu.Lock()
	if g.conn == conn {
		g.conn = nil
		g.connID = ""
		g.lost = nil
	}
	g.connMu.Unlock()
	close(lost)
	_ = conn.Close()
	wg.Wait()
	g.metrics.adjustConnections(g.ctx, -1)

	if firstErr == nil || errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return fmt.Errorf("connection %s: %w", connID, firstErr)
}

func (g *Gateway) readLoop(ctx context.Context, conn frameConn) error {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			if errors.Is(err, io.EOF) {
				return errors.New("gateway closed the connection")
			}
			return err
		}
		g.lastFrame.Store(time.Now().UnixNano())
		g.metrics.recordInbound(ctx, len(frame))
		g.dispatch(frame)
	}
}

// watchdog fails the connection when the gateway stays silent for longer
// than HeartbeatTimeout. Any inbound frame counts as a sign of life. Halfway
// there a keepalive goes out when the handler can build one.
func (g *Gateway) watchdog(ctx context.Context, conn frameConn) error {
	timeout := g.opts.HeartbeatTimeout
	if timeout <= 0 {
		<-ctx.Done()
		return context.Canceled
	}
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastPing time.Time
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			idle := time.Since(time.Unix(0, g.lastFrame.Load()))
			if idle > timeout {
				return errHeartbeatTimeout
			}
			if idle >= timeout/2 && time.Since(lastPing) >= timeout/2 {
				lastPing = time.Now()
				g.keepalive(ctx, conn)
			}
		}
	}
}

func (g *Gateway) keepalive(ctx context.Context, conn frameConn) {
	k, ok := g.currentHandler().(Keepaliver)
	if !ok {
		return
	}
	frame, err := k.KeepaliveFrame()
	if err != nil {
		g.logger.Printf("transport: build keepalive: %v", err)
		return
	}
	if err := g.write(ctx, conn, frame); err != nil && ctx.Err() == nil {
		g.logger.Printf("transport: send keepalive: %v", err)
	}
}
