// Package database provides SQL connection management for GoExtract's sink
// and run ledger.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/dbsmedya/goextract/internal/config"
)

// Supported driver names.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Ping attempts made by Connect and the wait before the second one. The wait
// doubles after every failure.
var (
	connectAttempts = 3
	connectBackoff  = time.Second
)

// Manager owns the connection shared by the SQL sink and the SQL run ledger.
type Manager struct {
	DB     *sql.DB
	config *config.SinkConfig
}

// NewManager creates a manager for the given sink configuration.
func NewManager(cfg *config.SinkConfig) *Manager {
	return &Manager{config: cfg}
}

// Driver returns the configured driver name.
func (m *Manager) Driver() string {
	if m.config == nil {
		return ""
	}
	return m.config.Driver
}

// Connect opens the pool and waits until the server answers a ping.
func (m *Manager) Connect(ctx context.Context) error {
	if m.config == nil {
		return fmt.Errorf("sink configuration is nil")
	}
	db, err := open(m.config.Driver, &m.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", m.config.Driver, err)
	}
	if err := pingWithBackoff(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to %s database: %w", m.config.Driver, err)
	}
	m.DB = db
	return nil
}

func pingWithBackoff(ctx context.Context, db *sql.DB) error {
	wait := connectBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			return fmt.Errorf("no answer after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			wait *= 2
		}
	}
}

func open(driver string, cfg *config.DatabaseConfig) (*sql.DB, error) {
	var dsn string
	switch driver {
	case DriverMySQL:
		dsn = BuildDSN(cfg)
	case DriverSQLite:
		dsn = BuildSQLiteDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	} else if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

// BuildDSN renders a go-sql-driver DSN for the configured MySQL server.
func BuildDSN(cfg *config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.MultiStatements = true
	mc.TLSConfig = tlsMode(cfg.TLS)
	return mc.FormatDSN()
}

// tlsMode maps the configured TLS policy onto the driver's tls parameter.
func tlsMode(policy string) string {
	switch policy {
	case "disable":
		return "false"
	case "required":
		return "true"
	default:
		return "preferred"
	}
}

// BuildSQLiteDSN constructs a go-sqlite3 DSN from configuration.
func BuildSQLiteDSN(cfg *config.DatabaseConfig) string {
	return "file:" + cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// Close closes the pool. It is a no-op before Connect.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	if err := m.DB.Close(); err != nil {
		return fmt.Errorf("close %s database: %w", m.Driver(), err)
	}
	return nil
}

// Ping verifies the connection is alive. It is a no-op before Connect.
func (m *Manager) Ping(ctx context.Context) error {
	if m.DB == nil {
		return nil
	}
	if err := m.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", m.Driver(), err)
	}
	return nil
}
