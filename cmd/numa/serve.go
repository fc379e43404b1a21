package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/acme"
	"github.com/rsclarke/numa/internal/config"
	"github.com/rsclarke/numa/internal/db"
	"github.com/rsclarke/numa/internal/hubtel"
	"github.com/rsclarke/numa/internal/logging"
	"github.com/rsclarke/numa/internal/server"
	"github.com/rsclarke/numa/internal/session"
	"github.com/rsclarke/numa/internal/ussd"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the USSD and payment callbacks",
	Long: `Start the callback server.

TLS Modes:
  --tls-cert + --tls-key  → Manual TLS mode (use provided certificates)
  --acme-domain           → ACME mode (Let's Encrypt over HTTP-01/TLS-ALPN-01)
  (neither)               → plain HTTP, for use behind a terminating proxy

Notes:
  ACME challenges need ports 80 and 443 reachable from the internet.
  Certificates are stored in the SQLite database named by --cert-db.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8000, "port to listen on")
	serveCmd.Flags().String("language", "en", "language of subscriber messages")
	serveCmd.Flags().String("tls-cert", "", "path to TLS certificate file (enables manual TLS mode)")
	serveCmd.Flags().String("tls-key", "", "path to TLS key file (enables manual TLS mode)")
	serveCmd.Flags().String("acme-domain", "", "domain to obtain a certificate for (enables ACME mode)")
	serveCmd.Flags().String("acme-email", "", "email for Let's Encrypt notifications")
	serveCmd.Flags().Bool("acme-staging", false, "use Let's Encrypt staging CA")
	serveCmd.Flags().String("cert-db", "numa-certs.db", "certificate database path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	minAmount, err := cfg.MinimumAmount()
	if err != nil {
		return fmt.Errorf("parse min_amount: %w", err)
	}

	meter, catalog, err := newMeteringClient(cfg)
	if err != nil {
		return err
	}
	gateway := hubtel.New(hubtel.Config{
		SMSURL:         cfg.HubtelSMS,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		Sender:         cfg.SMSSender,
		FulfillmentURL: cfg.HubtelFulfillment,
		APIKey:         cfg.HubtelAPIKey,
		Connection:     cfg.Connection,
		Timeout:        cfg.HTTPTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.New(cfg.SessionCapacity, cfg.SessionTTL)
	sessions.StartSweeper(ctx, sweepInterval, func(evicted int) {
		logger.Debug("expired sessions evicted", zap.Int("evicted", evicted), zap.Int("remaining", sessions.Len()))
	})

	machine := ussd.New(ussd.Deps{
		Lookup:    meter,
		Purchaser: meter,
		SMS:       gateway,
		Confirmer: gateway,
		Sessions:  sessions,
		Messages:  catalog,
		Logger:    logger,
	}, minAmount)

	httpLogger := logger.Named("http")
	callbacks := server.NewCallbackServer(machine, resty.New().SetTimeout(cfg.HTTPTimeout), httpLogger)

	tlsConfig, closeTLS, err := setupTLS(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTLS()

	srvCfg := server.DefaultServerConfig(fmt.Sprintf(":%d", cfg.Port), callbacks.Handler(), httpLogger, cfg.HTTPTimeout)
	srvCfg.TLSConfig = tlsConfig
	srv := server.NewManagedServer("callback", srvCfg)
	if err := srv.Start(); err != nil {
		return err
	}

	logger.Info("numa started",
		logging.Port(cfg.Port),
		logging.TLSMode(cfg.TLSMode()),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Int("session_capacity", cfg.SessionCapacity),
		zap.String("min_amount", minAmount.String()))

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-srv.Err():
		if ok && err != nil {
			serveErr = fmt.Errorf("callback server: %w", err)
		}
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	return serveErr
}

// setupTLS returns the server TLS configuration for the configured mode, or
// nil for plain HTTP. The returned func releases what the mode opened.
func setupTLS(ctx context.Context, cfg *config.Config) (*tls.Config, func(), error) {
	noop := func() {}

	switch cfg.TLSMode() {
	case "manual":
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, noop, fmt.Errorf("load TLS certificate: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, noop, nil

	case "acme":
		database, err := db.Open(cfg.CertDB)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() { database.Close() }

		manager := acme.NewManager(cfg.ACMEDomain, cfg.ACMEEmail, database, cfg.ACMEStaging, logger.Named("certmagic"))
		logger.Info("starting acme certificate acquisition",
			logging.Domain(cfg.ACMEDomain),
			zap.Bool("staging", cfg.ACMEStaging))
		if err := manager.Manage(ctx); err != nil {
			closeDB()
			if errors.Is(err, context.Canceled) {
				return nil, noop, fmt.Errorf("acme certificate acquisition interrupted: %w", err)
			}
			return nil, noop, fmt.Errorf("acme certificate acquisition: %w", err)
		}
		logger.Info("acme certificate obtained", logging.Domain(cfg.ACMEDomain))
		return manager.TLSConfig(), closeDB, nil
	}

	logger.Info("https disabled", zap.String("reason", "no tls_cert or acme_domain configured"))
	return nil, noop, nil
}
