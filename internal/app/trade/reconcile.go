package trade

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/cntrade/internal/infra/protocol"
	"github.com/coachpo/cntrade/internal/observability"
)

// HandleReconnected starts a reconcile pass for a fresh connection. A pass
// still running from an earlier reconnect is abandoned.
func (c *Client) HandleReconnected() {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	if c.reconcileCancel != nil {
		c.reconcileCancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.reconcileCancel = cancel
	c.workers.Go(func() {
		defer cancel()
		if err := c.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Printf("trade: reconcile: %v", err)
		}
	})
}

// Reconcile restores session state after a reconnect: the cached unlock is
// replayed first, then every ledger entry is subscribed again. Environments
// with tracked ids get one request carrying the whole id list; environments
// present only through a catch-all get one request with an empty list.
func (c *Client) Reconcile(ctx context.Context) error {
	if creds, ok := c.creds.load(); ok {
		if err := c.replayUnlock(ctx, creds); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Printf("trade: unlock after reconnect gave up after %d attempts: %v", c.opts.Unlock.Attempts, err)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	plan := Plan(c.ledger.Snapshot())
	results := make([]error, 0, len(plan.Specific)+len(plan.CatchAll))
	for _, group := range plan.Specific {
		results = append(results, c.resubscribe(ctx, protocol.SubscribeParams{
			Env:       group.Env,
			OrderIDs:  group.OrderIDs,
			Enable:    true,
			FirstPush: true,
		}))
	}
	for _, env := range plan.CatchAll {
		results = append(results, c.resubscribe(ctx, protocol.SubscribeParams{
			Env:       env,
			OrderIDs:  nil,
			Enable:    true,
			FirstPush: false,
		}))
	}
	return observability.AggregateErrors("resubscribe", results,
		observability.Field{Key: "cookie", Value: c.session.Cookie})
}

func (c *Client) replayUnlock(ctx context.Context, creds protocol.Credentials) error {
	encoded, err := protocol.EncodeUnlock(c.session, creds)
	if err != nil {
		return err
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := call(ctx, c, encoded, discard(protocol.DecodeUnlock))
		c.metrics.recordUnlockAttempt(ctx, err)
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.Unlock.Delay)),
		backoff.WithMaxTries(uint(c.opts.Unlock.Attempts)),
	)
	if err != nil {
		return err
	}
	c.mirror(ctx, encoded)
	return nil
}

func (c *Client) resubscribe(ctx context.Context, p protocol.SubscribeParams) error {
	err := c.send(ctx, protocol.EncodeResubscribe(c.session, p))
	c.metrics.recordResubscribe(ctx, p.Env.String(), err)
	return err
}

func (c *Client) mirror(ctx context.Context, req protocol.Request) {
	if err := c.send(ctx, req); err != nil {
		c.logger.Printf("trade: mirror %s: %v", protocol.Name(req.Tag()), err)
	}
}
