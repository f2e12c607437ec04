package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment where cntrade operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Environment variables recognised as overrides. Secrets belong here or in
// a .env file rather than in the YAML document.
const (
	EnvVarEnvironment      = "CNTRADE_ENV"
	EnvVarGatewayAddr      = "CNTRADE_GATEWAY_ADDR"
	EnvVarHeartbeatTimeout = "CNTRADE_GATEWAY_HEARTBEAT_TIMEOUT"
	EnvVarTradeCookie      = "CNTRADE_TRADE_COOKIE"
	EnvVarTradePassword    = "CNTRADE_TRADE_PASSWORD"
	EnvVarTradePasswordMD5 = "CNTRADE_TRADE_PASSWORD_MD5"
	EnvVarAPIAddr          = "CNTRADE_API_ADDR"
	EnvVarDatabaseDSN      = "CNTRADE_DATABASE_DSN"
	EnvVarDatabaseEnabled  = "CNTRADE_DATABASE_ENABLED"
	EnvVarRedisAddr        = "CNTRADE_REDIS_ADDR"
	EnvVarRedisPassword    = "CNTRADE_REDIS_PASSWORD"
	EnvVarRedisEnabled     = "CNTRADE_REDIS_ENABLED"
	EnvVarOTLPEndpoint     = "CNTRADE_OTLP_ENDPOINT"
)

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		*dst = parsed
	}
}

func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		*dst = parsed
	}
}
