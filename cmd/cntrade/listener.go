package main

import (
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/observability"
)

// logListener writes pushes to the process log when no publisher is configured.
type logListener struct {
	logger observability.Logger
}

func (l logListener) OnOrder(order schema.Order) {
	l.logger.Info("order push",
		observability.Field{Key: "env", Value: order.Env},
		observability.Field{Key: "order_id", Value: order.OrderID},
		observability.Field{Key: "symbol", Value: order.Symbol},
		observability.Field{Key: "status", Value: int(order.Status)},
		observability.Field{Key: "dealt_qty", Value: order.DealtQty},
	)
}

func (l logListener) OnDeal(deal schema.Deal) {
	l.logger.Info("deal push",
		observability.Field{Key: "env", Value: deal.Env},
		observability.Field{Key: "deal_id", Value: deal.DealID},
		observability.Field{Key: "order_id", Value: deal.OrderID},
		observability.Field{Key: "qty", Value: deal.Qty},
		observability.Field{Key: "price", Value: deal.Price},
	)
}

func (l logListener) OnPushError(err error) {
	l.logger.Error("push error", observability.Field{Key: "error", Value: err})
}
