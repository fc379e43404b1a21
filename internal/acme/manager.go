// Package acme handles automatic TLS certificate management via ACME.
package acme

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"os"
	"slices"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/logging"
)

// Manager obtains and renews the certificate for the callback server's
// domain. Challenges are answered over HTTP-01 or TLS-ALPN-01.
type Manager struct {
	Domain  string
	Email   string
	Staging bool
	DB      *sql.DB
	Logger  *zap.Logger

	config  *certmagic.Config
	issuer  *certmagic.ACMEIssuer
	storage *certmagicsqlite.SQLiteStorage
}

// NewManager creates a new ACME manager.
func NewManager(domain, email string, db *sql.DB, staging bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	// certmagic logs through its package defaults until a config exists.
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger

	return &Manager{
		Domain:  domain,
		Email:   email,
		Staging: staging,
		DB:      db,
		Logger:  logger,
	}
}

// CA returns the directory URL the manager issues from.
func (m *Manager) CA() string {
	if m.Staging {
		return certmagic.LetsEncryptStagingCA
	}
	return certmagic.LetsEncryptProductionCA
}

func (m *Manager) prepare() error {
	hostname, _ := os.Hostname()
	storage, err := certmagicsqlite.NewWithDB(m.DB, certmagicsqlite.WithOwnerID(hostname))
	if err != nil {
		return fmt.Errorf("create certmagic storage: %w", err)
	}
	m.storage = storage

	cfg := certmagic.NewDefault()
	cfg.Storage = m.storage
	cfg.Logger = m.Logger

	m.issuer = certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
		CA:     m.CA(),
		Email:  m.Email,
		Agreed: true,
		Logger: m.Logger,
	})
	cfg.Issuers = []certmagic.Issuer{m.issuer}
	m.config = cfg
	return nil
}

// Manage obtains the certificate, blocking until it is available, and keeps
// it renewed in the background.
func (m *Manager) Manage(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}

	m.Logger.Info("obtaining certificate", logging.Domain(m.Domain))
	if err := m.config.ManageSync(ctx, []string{m.Domain}); err != nil {
		return fmt.Errorf("manage certificate for %s: %w", m.Domain, err)
	}
	return nil
}

// TLSConfig returns a TLS configuration that serves the managed certificate
// and answers TLS-ALPN challenges. It is nil until Manage has run.
func (m *Manager) TLSConfig() *tls.Config {
	if m.config == nil {
		return nil
	}
	tlsCfg := m.config.TLSConfig()
	for _, proto := range []string{"h2", "http/1.1"} {
		if !slices.Contains(tlsCfg.NextProtos, proto) {
			tlsCfg.NextProtos = append(tlsCfg.NextProtos, proto)
		}
	}
	return tlsCfg
}
