package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/cntrade/internal/domain/schema"
)

// Journal records every order snapshot and deal the gateway pushes. The
// orders table keeps the latest snapshot per order; order_events keeps each
// snapshot as it arrived.
type Journal struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewJournal constructs a Journal backed by the provided pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool, now: time.Now}
}

// OrderEvent is one journaled order snapshot.
type OrderEvent struct {
	ID         string       `json:"id"`
	Order      schema.Order `json:"order"`
	RecordedAt time.Time    `json:"recorded_at"`
}

const (
	orderUpsertSQL = `
INSERT INTO orders (
    env,
    order_id,
    symbol,
    name,
    side,
    order_type,
    qty,
    price,
    dealt_qty,
    dealt_avg_price,
    status,
    submitted_time,
    updated_time,
    created_at,
    updated_at
)
VALUES (
    @env,
    @order_id,
    @symbol,
    @name,
    @side,
    @order_type,
    @qty,
    @price,
    @dealt_qty,
    @dealt_avg_price,
    @status,
    @submitted_time,
    @updated_time,
    @recorded_at,
    @recorded_at
)
ON CONFLICT (env, order_id) DO UPDATE SET
    symbol = EXCLUDED.symbol,
    name = CASE WHEN EXCLUDED.name = '' THEN orders.name ELSE EXCLUDED.name END,
    qty = EXCLUDED.qty,
    price = EXCLUDED.price,
    dealt_qty = EXCLUDED.dealt_qty,
    dealt_avg_price = EXCLUDED.dealt_avg_price,
    status = EXCLUDED.status,
    submitted_time = CASE WHEN EXCLUDED.submitted_time = '' THEN orders.submitted_time ELSE EXCLUDED.submitted_time END,
    updated_time = EXCLUDED.updated_time,
    updated_at = EXCLUDED.updated_at;
`

	orderEventInsertSQL = `
INSERT INTO order_events (id, env, order_id, status, dealt_qty, payload, recorded_at)
VALUES (@id, @env, @order_id, @status, @dealt_qty, @payload::jsonb, @recorded_at);
`

	dealUpsertSQL = `
INSERT INTO deals (
    id,
    env,
    deal_id,
    order_id,
    symbol,
    name,
    side,
    qty,
    price,
    deal_time,
    contra_broker_id,
    contra_broker_name,
    created_at
)
VALUES (
    @id,
    @env,
    @deal_id,
    @order_id,
    @symbol,
    @name,
    @side,
    @qty,
    @price,
    @deal_time,
    @contra_broker_id,
    @contra_broker_name,
    @recorded_at
)
ON CONFLICT (env, deal_id) DO NOTHING;
`

	orderEventsSelectSQL = `
SELECT id::text, payload, recorded_at
FROM order_events
WHERE env = @env AND order_id = @order_id
ORDER BY recorded_at, id
LIMIT @limit;
`

	dealsSelectSQL = `
SELECT deal_id, order_id, symbol, name, side, qty, price, deal_time, contra_broker_id, contra_broker_name
FROM deals
WHERE env = @env AND order_id = @order_id
ORDER BY deal_time, deal_id;
`

	defaultEventLimit = 200
	maxEventLimit     = 1000
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (j *Journal) ensurePool() (*pgxpool.Pool, error) {
	if j == nil || j.pool == nil {
		return nil, fmt.Errorf("journal: nil pool")
	}
	return j.pool, nil
}

// RecordOrder stores the latest snapshot and appends it to the event log.
func (j *Journal) RecordOrder(ctx context.Context, order schema.Order) error {
	pool, err := j.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(order.OrderID) == "" {
		return fmt.Errorf("journal: order id required")
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	if err := j.recordOrderWith(ctx, tx, order); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	return nil
}

func (j *Journal) recordOrderWith(ctx context.Context, exec execer, order schema.Order) error {
	price, err := priceNumeric(order.Price)
	if err != nil {
		return fmt.Errorf("journal: price: %w", err)
	}
	avg, err := priceNumeric(order.DealtAvgPrice)
	if err != nil {
		return fmt.Errorf("journal: dealt avg price: %w", err)
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("journal: encode order: %w", err)
	}
	recordedAt := j.now().UTC()

	args := pgx.NamedArgs{
		"env":             int16(order.Env),
		"order_id":        order.OrderID,
		"symbol":          order.Symbol,
		"name":            order.Name,
		"side":            int16(order.Side),
		"order_type":      int16(order.Type),
		"qty":             order.Qty,
		"price":           price,
		"dealt_qty":       order.DealtQty,
		"dealt_avg_price": avg,
		"status":          int16(order.Status),
		"submitted_time":  order.SubmittedTime,
		"updated_time":    order.UpdatedTime,
		"recorded_at":     recordedAt,
	}
	if _, err := exec.Exec(ctx, orderUpsertSQL, args); err != nil {
		return fmt.Errorf("journal: upsert order: %w", err)
	}

	event := pgx.NamedArgs{
		"id":          uuid.NewString(),
		"env":         int16(order.Env),
		"order_id":    order.OrderID,
		"status":      int16(order.Status),
		"dealt_qty":   order.DealtQty,
		"payload":     string(payload),
		"recorded_at": recordedAt,
	}
	if _, err := exec.Exec(ctx, orderEventInsertSQL, event); err != nil {
		return fmt.Errorf("journal: insert order event: %w", err)
	}
	return nil
}

// RecordDeal stores a deal. Deals are immutable so a repeated push is ignored.
func (j *Journal) RecordDeal(ctx context.Context, deal schema.Deal) error {
	pool, err := j.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(deal.DealID) == "" {
		return fmt.Errorf("journal: deal id required")
	}
	price, err := priceNumeric(deal.Price)
	if err != nil {
		return fmt.Errorf("journal: price: %w", err)
	}
	args := pgx.NamedArgs{
		"id":                 uuid.NewString(),
		"env":                int16(deal.Env),
		"deal_id":            deal.DealID,
		"order_id":           deal.OrderID,
		"symbol":             deal.Symbol,
		"name":               deal.Name,
		"side":               int16(deal.Side),
		"qty":                deal.Qty,
		"price":              price,
		"deal_time":          deal.Time,
		"contra_broker_id":   int32(deal.ContraBrokerID),
		"contra_broker_name": deal.ContraBrokerName,
		"recorded_at":        j.now().UTC(),
	}
	if _, err := pool.Exec(ctx, dealUpsertSQL, args); err != nil {
		return fmt.Errorf("journal: upsert deal: %w", err)
	}
	return nil
}

// OrderEvents returns the journaled snapshots of one order, oldest first.
func (j *Journal) OrderEvents(ctx context.Context, env schema.Env, orderID string, limit int) ([]OrderEvent, error) {
	pool, err := j.ensurePool()
	if err != nil {
		return nil, err
	}
	args := pgx.NamedArgs{
		"env":      int16(env),
		"order_id": strings.TrimSpace(orderID),
		"limit":    clampLimit(limit, defaultEventLimit, maxEventLimit),
	}
	rows, err := pool.Query(ctx, orderEventsSelectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("journal: query order events: %w", err)
	}
	defer rows.Close()

	var events []OrderEvent
	for rows.Next() {
		var (
			id         string
			payload    []byte
			recordedAt time.Time
		)
		if err := rows.Scan(&id, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan order event: %w", err)
		}
		var order schema.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("journal: decode order event %s: %w", id, err)
		}
		events = append(events, OrderEvent{ID: id, Order: order, RecordedAt: recordedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate order events: %w", err)
	}
	return events, nil
}

// DealsForOrder returns the deals journaled against one order.
func (j *Journal) DealsForOrder(ctx context.Context, env schema.Env, orderID string) ([]schema.Deal, error) {
	pool, err := j.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, dealsSelectSQL, pgx.NamedArgs{
		"env":      int16(env),
		"order_id": strings.TrimSpace(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: query deals: %w", err)
	}
	defer rows.Close()

	var deals []schema.Deal
	for rows.Next() {
		var (
			deal     schema.Deal
			side     int16
			price    pgtype.Numeric
			brokerID int32
		)
		if err := rows.Scan(&deal.DealID, &deal.OrderID, &deal.Symbol, &deal.Name, &side,
			&deal.Qty, &price, &deal.Time, &brokerID, &deal.ContraBrokerName); err != nil {
			return nil, fmt.Errorf("journal: scan deal: %w", err)
		}
		value, err := priceFloat(price)
		if err != nil {
			return nil, fmt.Errorf("journal: deal %s price: %w", deal.DealID, err)
		}
		deal.Env = env
		deal.Side = schema.Side(side)
		deal.Price = value
		deal.ContraBrokerID = int(brokerID)
		deals = append(deals, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate deals: %w", err)
	}
	return deals, nil
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}
