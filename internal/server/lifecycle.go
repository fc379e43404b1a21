package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/numa/internal/logging"
)

type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	TLSConfig         *tls.Config
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig leaves room in WriteTimeout for a fulfilment, which
// makes up to three sequential outbound calls.
func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger, outboundTimeout time.Duration) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3*outboundTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ManagedServer runs an http.Server in the background.
type ManagedServer struct {
	server   *http.Server
	logger   *zap.Logger
	name     string
	listener net.Listener
	errCh    chan error
}

func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(cfg.Logger, zapcore.ErrorLevel)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           cfg.Handler,
		TLSConfig:         cfg.TLSConfig,
		ErrorLog:          errLog,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return &ManagedServer{
		server: srv,
		logger: cfg.Logger,
		name:   name,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listening socket and serves in a new goroutine. Bind
// failures are returned directly.
func (m *ManagedServer) Start() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("%s failed to start: %w", m.name, err)
	}
	if m.server.TLSConfig != nil {
		ln = tls.NewListener(ln, m.server.TLSConfig)
	}
	m.listener = ln

	m.logger.Info("server listening",
		zap.String("server", m.name),
		logging.Addr(ln.Addr().String()),
		logging.TLSMode(tlsMode(m.server.TLSConfig)))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()
	return nil
}

// Addr returns the bound address. It is nil before Start.
func (m *ManagedServer) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Err delivers the error that stopped the server, if any, and is closed when
// serving ends.
func (m *ManagedServer) Err() <-chan error { return m.errCh }

func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.listener == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}

func tlsMode(cfg *tls.Config) string {
	if cfg == nil {
		return "none"
	}
	return "tls"
}
