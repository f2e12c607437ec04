// Package redisbus publishes order and deal pushes to a Redis Pub/Sub channel
// so that processes outside the adapter can follow the order stream.
package redisbus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/telemetry"
)

// Event kinds carried in Event.Kind.
const (
	KindOrder = "order"
	KindDeal  = "deal"
	KindError = "error"
)

// Event is the JSON document published for every push.
type Event struct {
	Kind  string        `json:"kind"`
	At    time.Time     `json:"at"`
	Order *schema.Order `json:"order,omitempty"`
	Deal  *schema.Deal  `json:"deal,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Config configures the Redis connection and publish queue.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
	Channel    string
	// QueueSize bounds the events waiting to be published. Events arriving
	// while the queue is full are dropped.
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *log.Logger
}

// publisher is the subset of *redis.Client the Publisher uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher forwards pushes to Redis without blocking the push path.
type Publisher struct {
	client  publisher
	closer  func() error
	channel string
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     conc.WaitGroup
	once   sync.Once

	published metric.Int64Counter
	dropped   metric.Int64Counter
}

// Dial connects to Redis, verifies connectivity and starts the publish worker.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	p := newPublisher(rdb, cfg)
	p.closer = rdb.Close
	return p, nil
}

func newPublisher(client publisher, cfg Config) *Publisher {
	if cfg.Channel == "" {
		cfg.Channel = "cntrade:push"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	p := &Publisher{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.PublishTimeout,
		logger:  cfg.Logger,
		now:     time.Now,
		queue:   make(chan Event, cfg.QueueSize),
	}

	meter := otel.Meter("cntrade.redisbus")
	p.published, _ = meter.Int64Counter("cntrade_push_published",
		metric.WithDescription("Push events published to Redis by result"),
		metric.WithUnit("{event}"))
	p.dropped, _ = meter.Int64Counter("cntrade_push_dropped",
		metric.WithDescription("Push events dropped because the publish queue was full"),
		metric.WithUnit("{event}"))

	p.wg.Go(p.run)
	return p
}

// Channel reports the Pub/Sub channel events are published to.
func (p *Publisher) Channel() string { return p.channel }

// OnOrder publishes an order push.
func (p *Publisher) OnOrder(order schema.Order) {
	p.enqueue(Event{Kind: KindOrder, Order: &order})
}

// OnDeal publishes a deal push.
func (p *Publisher) OnDeal(deal schema.Deal) {
	p.enqueue(Event{Kind: KindDeal, Deal: &deal})
}

// OnPushError publishes a push decode failure.
func (p *Publisher) OnPushError(err error) {
	if err == nil {
		return
	}
	p.logger.Printf("redisbus: push error: %v", err)
	p.enqueue(Event{Kind: KindError, Error: err.Error()})
}

func (p *Publisher) enqueue(evt Event) {
	evt.At = p.now().UTC()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.record(p.dropped, evt.Kind, telemetry.ResultError)
		p.logger.Printf("redisbus: queue full, dropping %s event", evt.Kind)
	}
}

func (p *Publisher) run() {
	for evt := range p.queue {
		if err := p.publish(evt); err != nil {
			p.logger.Printf("redisbus: %v", err)
			p.record(p.published, evt.Kind, telemetry.ResultError)
			continue
		}
		p.record(p.published, evt.Kind, telemetry.ResultSuccess)
	}
}

func (p *Publisher) publish(evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Kind, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) record(counter metric.Int64Counter, kind, result string) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.PushAttributes(telemetry.Environment(), kind, result)...))
}

// Close drains queued events and closes the Redis client when it was dialed here.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
		if p.closer != nil {
			err = p.closer()
		}
	})
	return err
}
