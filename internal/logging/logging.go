// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "numa")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("NUMA_LOG_LEVEL", "info"),
		Format: getenv("NUMA_LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// TLSMode returns a zap field for TLS mode.
func TLSMode(mode string) zap.Field { return zap.String("tls_mode", mode) }

// RequestID returns a zap field for the per-request correlation ID.
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }

// HTTPStatus returns a zap field for an HTTP response status.
func HTTPStatus(code int) zap.Field { return zap.Int("http_status", code) }

// RemoteAddr returns a zap field for a client address.
func RemoteAddr(addr string) zap.Field { return zap.String("remote_addr", addr) }

// SessionID returns a zap field for a USSD session ID.
func SessionID(id string) zap.Field { return zap.String("session_id", id) }

// OrderID returns a zap field for a payment order ID.
func OrderID(id string) zap.Field { return zap.String("order_id", id) }

// TransactionID returns a zap field for a metering transaction ID.
func TransactionID(id string) zap.Field { return zap.String("transaction_id", id) }

// Sequence returns a zap field for a dialog step.
func Sequence(n int) zap.Field { return zap.Int("sequence", n) }

// MeterNumber returns a zap field for a meter number.
func MeterNumber(meter string) zap.Field { return zap.String("meter_number", meter) }

// Mobile returns a zap field for a subscriber phone number.
func Mobile(msisdn string) zap.Field { return zap.String("mobile", msisdn) }

// Code returns a zap field for an upstream result code.
func Code(code string) zap.Field { return zap.String("code", code) }

// Status returns a zap field for a service status.
func Status(status string) zap.Field { return zap.String("status", status) }

// Kind returns a zap field for a failure kind.
func Kind(kind string) zap.Field { return zap.String("kind", kind) }

// Breaker returns a zap field for a circuit breaker name.
func Breaker(name string) zap.Field { return zap.String("breaker", name) }
