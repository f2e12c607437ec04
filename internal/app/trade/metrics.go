package trade

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/infra/protocol"
	"github.com/coachpo/cntrade/internal/infra/telemetry"
)

type clientMetrics struct {
	environment string

	requests       metric.Int64Counter
	requestLatency metric.Float64Histogram
	pushes         metric.Int64Counter
	unlockAttempts metric.Int64Counter
	resubscribes   metric.Int64Counter
	ledgerSize     metric.Int64ObservableGauge
}

func newClientMetrics(ledger *Ledger) *clientMetrics {
	meter := otel.Meter("cntrade.trade")
	m := &clientMetrics{
		environment:    telemetry.Environment(),
		requests:       nil,
		requestLatency: nil,
		pushes:         nil,
		unlockAttempts: nil,
		resubscribes:   nil,
		ledgerSize:     nil,
	}

	m.requests, _ = meter.Int64Counter("cntrade_gateway_requests",
		metric.WithDescription("Synchronous gateway requests by protocol and result"),
		metric.WithUnit("{request}"))

	m.requestLatency, _ = meter.Float64Histogram("cntrade_gateway_request_duration",
		metric.WithDescription("Round trip latency of synchronous gateway requests"),
		metric.WithUnit("ms"))

	m.pushes, _ = meter.Int64Counter("cntrade_push_frames",
		metric.WithDescription("Push frames handled by kind and result"),
		metric.WithUnit("{frame}"))

	m.unlockAttempts, _ = meter.Int64Counter("cntrade_unlock_attempts",
		metric.WithDescription("Unlock attempts issued while reconciling a reconnect"),
		metric.WithUnit("{attempt}"))

	m.resubscribes, _ = meter.Int64Counter("cntrade_resubscribe_requests",
		metric.WithDescription("Subscribe requests replayed after reconnect"),
		metric.WithUnit("{request}"))

	m.ledgerSize, _ = meter.Int64ObservableGauge("cntrade_subscription_ledger_size",
		metric.WithDescription("Entries in the push subscription ledger"),
		metric.WithUnit("{subscription}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(ledger.Len()), metric.WithAttributes(telemetry.AttrEnvironment.String(m.environment)))
			return nil
		}))

	return m
}

func resultOf(err error) (string, string) {
	if err == nil {
		return telemetry.ResultSuccess, ""
	}
	code := string(errs.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	return telemetry.ResultError, code
}

func (m *clientMetrics) recordRequest(ctx context.Context, proto int, started time.Time, err error) {
	if m == nil {
		return
	}
	ctx = ensureContext(ctx)
	result, errType := resultOf(err)
	attrs := telemetry.RequestAttributes(m.environment, protocol.Name(proto), result, errType)
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.requestLatency != nil {
		m.requestLatency.Record(ctx, float64(time.Since(started).Microseconds())/1000, metric.WithAttributes(attrs...))
	}
}

func (m *clientMetrics) recordPush(kind string, err error) {
	if m == nil || m.pushes == nil {
		return
	}
	result, _ := resultOf(err)
	m.pushes.Add(context.Background(), 1, metric.WithAttributes(telemetry.PushAttributes(m.environment, kind, result)...))
}

func (m *clientMetrics) recordUnlockAttempt(ctx context.Context, err error) {
	if m == nil || m.unlockAttempts == nil {
		return
	}
	result, _ := resultOf(err)
	m.unlockAttempts.Add(ensureContext(ctx), 1,
		metric.WithAttributes(telemetry.OperationResultAttributes(m.environment, "unlock", result)...))
}

func (m *clientMetrics) recordResubscribe(ctx context.Context, tradeEnv string, err error) {
	if m == nil || m.resubscribes == nil {
		return
	}
	result, _ := resultOf(err)
	attrs := append(telemetry.TradeEnvAttributes(m.environment, tradeEnv), telemetry.AttrResult.String(result))
	m.resubscribes.Add(ensureContext(ctx), 1, metric.WithAttributes(attrs...))
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
