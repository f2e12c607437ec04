package trade

import (
	"context"
	"fmt"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/protocol"
)

const (
	pushKindOrder     = "order"
	pushKindDeal      = "deal"
	pushKindHeartbeat = "heartbeat"
	pushKindSubscribe = "subscribe"
	pushKindOther     = "other"
)

// HandlePush routes one frame that did not answer a synchronous request.
// Decode failures are reported to the listener and never stop the stream.
func (c *Client) HandlePush(frame []byte) {
	kind := pushKindOther
	defer func() {
		if r := recover(); r != nil {
			err := errs.New(0, errs.CodeMalformed, errs.WithMessage(fmt.Sprintf("push handler panic: %v", r)))
			c.metrics.recordPush(kind, err)
			c.reportPushError(err)
		}
	}()

	tag, err := protocol.PeekProtocol(frame)
	if err != nil {
		c.metrics.recordPush(kind, err)
		c.reportPushError(err)
		return
	}

	switch tag {
	case protocol.ProtoOrderPush:
		kind = pushKindOrder
		order, err := protocol.DecodeOrderPush(frame)
		c.metrics.recordPush(kind, err)
		if err != nil {
			c.reportPushError(err)
			return
		}
		c.OnOrderStatusChanged(order.OrderID, order.Env, order.Status)
		if l := c.currentListener(); l != nil {
			l.OnOrder(order)
		}
		c.enqueueOrder(order)
	case protocol.ProtoDealPush:
		kind = pushKindDeal
		deal, err := protocol.DecodeDealPush(frame)
		c.metrics.recordPush(kind, err)
		if err != nil {
			c.reportPushError(err)
			return
		}
		if l := c.currentListener(); l != nil {
			l.OnDeal(deal)
		}
		c.enqueueDeal(deal)
	case protocol.ProtoHeartbeat:
		kind = pushKindHeartbeat
		_, err := protocol.DecodeHeartbeat(frame)
		c.metrics.recordPush(kind, err)
		if err != nil {
			c.reportPushError(err)
		}
	case protocol.ProtoSubscribe:
		kind = pushKindSubscribe
		err := protocol.DecodeSubscribe(frame)
		c.metrics.recordPush(kind, err)
		if err != nil {
			c.logger.Printf("trade: subscribe rejected: %v", err)
		}
	default:
		// Late answers to mirrored or abandoned requests land here.
		c.metrics.recordPush(kind, nil)
	}
}

// OnOrderStatusChanged applies the ledger rule for a pushed status: terminal
// orders are unsubscribed, and live orders seen through a catch-all
// subscription start being tracked by id.
func (c *Client) OnOrderStatusChanged(orderID string, env schema.Env, status schema.OrderStatus) {
	c.ledger.Track(orderID, env, c.IsTerminal(status))
}

func (c *Client) reportPushError(err error) {
	if l := c.currentListener(); l != nil {
		l.OnPushError(err)
		return
	}
	c.logger.Printf("trade: push: %v", err)
}

type journalEntry struct {
	order *schema.Order
	deal  *schema.Deal
}

func (c *Client) enqueueOrder(order schema.Order) {
	c.enqueue(journalEntry{order: &order})
}

func (c *Client) enqueueDeal(deal schema.Deal) {
	c.enqueue(journalEntry{deal: &deal})
}

// enqueue never blocks the push path; a full queue drops the entry.
func (c *Client) enqueue(entry journalEntry) {
	if c.journalCh == nil {
		return
	}
	c.journalMu.RLock()
	defer c.journalMu.RUnlock()
	if c.journalClosed {
		return
	}
	select {
	case c.journalCh <- entry:
	default:
		c.logger.Printf("trade: journal queue full, dropping entry")
	}
}

func (c *Client) runJournal() {
	for entry := range c.journalCh {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		var err error
		switch {
		case entry.order != nil:
			err = c.opts.Journal.RecordOrder(ctx, *entry.order)
		case entry.deal != nil:
			err = c.opts.Journal.RecordDeal(ctx, *entry.deal)
		}
		cancel()
		if err != nil {
			c.logger.Printf("trade: journal: %v", err)
		}
	}
}
