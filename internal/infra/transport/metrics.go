package transport

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/cntrade/internal/infra/telemetry"
)

type gatewayMetrics struct {
	environment string
	kind        string

	connects    metric.Int64Counter
	connections metric.Int64UpDownCounter
	framesIn    metric.Int64Counter
	framesOut   metric.Int64Counter
	bytesIn     metric.Int64Counter
}

func newGatewayMetrics(kind string) *gatewayMetrics {
	meter := otel.Meter("cntrade.transport")
	m := &gatewayMetrics{
		environment: telemetry.Environment(),
		kind:        kind,
		connects:    nil,
		connections: nil,
		framesIn:    nil,
		framesOut:   nil,
		bytesIn:     nil,
	}

	m.connects, _ = meter.Int64Counter("cntrade_gateway_connects",
		metric.WithDescription("Gateway dial attempts by result"),
		metric.WithUnit("{attempt}"))

	m.connections, _ = meter.Int64UpDownCounter("cntrade_gateway_connections",
		metric.WithDescription("Open gateway connections"),
		metric.WithUnit("{connection}"))

	m.framesIn, _ = meter.Int64Counter("cntrade_gateway_frames_received",
		metric.WithDescription("Frames read from the gateway"),
		metric.WithUnit("{frame}"))

	m.framesOut, _ = meter.Int64Counter("cntrade_gateway_frames_sent",
		metric.WithDescription("Frames written to the gateway"),
		metric.WithUnit("{frame}"))

	m.bytesIn, _ = meter.Int64Counter("cntrade_gateway_bytes_received",
		metric.WithDescription("Payload bytes read from the gateway"),
		metric.WithUnit("By"))

	return m
}

func (m *gatewayMetrics) recordConnect(ctx context.Context, state string) {
	if m == nil || m.connects == nil {
		return
	}
	m.connects.Add(ensureContext(ctx), 1,
		metric.WithAttributes(telemetry.ConnectionAttributes(m.environment, m.kind, state)...))
}

func (m *gatewayMetrics) adjustConnections(ctx context.Context, delta int64) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ensureContext(ctx), delta,
		metric.WithAttributes(telemetry.ConnectionAttributes(m.environment, m.kind, "open")...))
}

func (m *gatewayMetrics) recordInbound(ctx context.Context, size int) {
	if m == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := metric.WithAttributes(telemetry.ConnectionAttributes(m.environment, m.kind, "open")...)
	if m.framesIn != nil {
		m.framesIn.Add(ctx, 1, attrs)
	}
	if m.bytesIn != nil {
		m.bytesIn.Add(ctx, int64(size), attrs)
	}
}

func (m *gatewayMetrics) recordOutbound(ctx context.Context) {
	if m == nil || m.framesOut == nil {
		return
	}
	m.framesOut.Add(ensureContext(ctx), 1,
		metric.WithAttributes(telemetry.ConnectionAttributes(m.environment, m.kind, "open")...))
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
