// Package telemetry provides OpenTelemetry setup and semantic conventions for cntrade.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrProtocol names the gateway operation a signal belongs to (place_order, subscribe, ...).
	AttrProtocol = attribute.Key("protocol")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrErrorType categorizes failures by error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrPushKind distinguishes order, deal and heartbeat pushes.
	AttrPushKind = attribute.Key("push.kind")
	// AttrTradeEnv is the gateway trading environment (live or simulated).
	AttrTradeEnv = attribute.Key("trade.env")
	// AttrConnectionState labels connection lifecycle signals (connected, reconnecting, ...).
	AttrConnectionState = attribute.Key("connection.state")
	// AttrTransport identifies the framing in use (tcp, ws).
	AttrTransport = attribute.Key("transport")
)

// Result values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// RequestAttributes labels a synchronous gateway request.
func RequestAttributes(environment, protocol, result, errorType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProtocol.String(protocol),
		AttrResult.String(result),
	}
	if errorType != "" {
		attrs = append(attrs, AttrErrorType.String(errorType))
	}
	return attrs
}

// PushAttributes labels an inbound push frame.
func PushAttributes(environment, kind, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrPushKind.String(kind),
		AttrResult.String(result),
	}
}

// TradeEnvAttributes labels ledger and subscription signals per trading environment.
func TradeEnvAttributes(environment, tradeEnv string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrTradeEnv.String(tradeEnv),
	}
}

// OperationResultAttributes labels a named operation with its outcome.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProtocol.String(operation),
		AttrResult.String(result),
	}
}

// ConnectionAttributes labels connection state metrics.
func ConnectionAttributes(environment, transport, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrTransport.String(transport),
		AttrConnectionState.String(state),
	}
}
