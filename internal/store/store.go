package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/retry"
)

// Client wraps the database handle together with the configured table names.
// All pipeline components go through it so a reconnect swaps the handle for
// everyone at once.
type Client struct {
	db       *gorm.DB
	cfg      config.DatabaseConfig
	retryCfg retry.Config
	logger   zerolog.Logger
}

// Open connects to the configured database and verifies the connection with
// retrying pings. The caller owns the returned client and must Close it.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Client, error) {
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger

	c := &Client{
		cfg:      cfg,
		retryCfg: retryCfg,
		logger:   logger,
	}

	db, err := c.open()
	if err != nil {
		return nil, err
	}
	c.db = db

	if err := retry.Do(ctx, retryCfg, func() error {
		return c.Ping(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("driver", cfg.Driver).
		Str("target", c.target()).
		Msg("Connected to database")

	return c, nil
}

func (c *Client) open() (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.cfg.Driver {
	case "sqlite":
		dsn := c.cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		dialector = sqlite.Open(dsn)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.cfg.User, c.cfg.Password, c.cfg.Host, c.cfg.Port, c.cfg.Name)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", c.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (c *Client) target() string {
	if c.cfg.Driver == "sqlite" {
		return c.cfg.Path
	}
	return fmt.Sprintf("%s:%d/%s", c.cfg.Host, c.cfg.Port, c.cfg.Name)
}

// DB returns the underlying handle.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Events returns a query scoped to the configured events table.
func (c *Client) Events() *gorm.DB {
	return c.db.Table(c.cfg.EventsTable)
}

// Ledger returns a query scoped to the configured ledger table.
func (c *Client) Ledger() *gorm.DB {
	return c.db.Table(c.cfg.LedgerTable)
}

// EventsTable returns the configured events table name.
func (c *Client) EventsTable() string {
	return c.cfg.EventsTable
}

// LedgerTable returns the configured ledger table name.
func (c *Client) LedgerTable() string {
	return c.cfg.LedgerTable
}

// Ping checks connection liveness.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Reconnect re-establishes the connection with a bounded number of attempts
// and a fixed delay between them. On success the stale handle is replaced.
func (c *Client) Reconnect(ctx context.Context) error {
	attempts := c.cfg.MaxReconnectAttempts
	delay := time.Duration(c.cfg.ReconnectDelaySeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Reconnecting to database")

		lastErr = c.reopen(ctx)
		if lastErr == nil {
			c.logger.Info().Msg("Database connection restored")
			return nil
		}

		c.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Msg("Reconnect attempt failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("database unreachable after %d reconnect attempts: %w", attempts, lastErr)
}

func (c *Client) reopen(ctx context.Context) error {
	db, err := c.open()
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return err
	}

	if old, err := c.db.DB(); err == nil {
		_ = old.Close()
	}
	c.db = db
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	c.logger.Info().Msg("Closing database connection")
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.Close()
}

// AutoMigrate creates the events and ledger tables with their declared
// indexes under the configured names. Existing structures are left alone.
func (c *Client) AutoMigrate() error {
	if err := c.db.Table(c.cfg.EventsTable).AutoMigrate(&domain.AlarmEvent{}); err != nil {
		return fmt.Errorf("migrate events table %s: %w", c.cfg.EventsTable, err)
	}
	if err := c.db.Table(c.cfg.LedgerTable).AutoMigrate(&domain.FileProcessingRecord{}); err != nil {
		return fmt.Errorf("migrate ledger table %s: %w", c.cfg.LedgerTable, err)
	}
	return nil
}

// EnsureIndexes recreates any index that went missing. AutoMigrate declares
// them on fresh tables; this covers indexes dropped out-of-band.
func (c *Client) EnsureIndexes() error {
	checks := []struct {
		table string
		model interface{}
		name  string
	}{
		{c.cfg.EventsTable, &domain.AlarmEvent{}, "idx_dedup"},
		{c.cfg.EventsTable, &domain.AlarmEvent{}, "idx_time"},
		{c.cfg.LedgerTable, &domain.FileProcessingRecord{}, "idx_file_name"},
		{c.cfg.LedgerTable, &domain.FileProcessingRecord{}, "idx_status"},
		{c.cfg.LedgerTable, &domain.FileProcessingRecord{}, "idx_started"},
	}

	for _, chk := range checks {
		m := c.db.Table(chk.table).Migrator()
		if m.HasIndex(chk.model, chk.name) {
			continue
		}
		c.logger.Warn().
			Str("table", chk.table).
			Str("index", chk.name).
			Msg("Index missing, recreating")
		if err := m.CreateIndex(chk.model, chk.name); err != nil {
			return fmt.Errorf("create index %s on %s: %w", chk.name, chk.table, err)
		}
	}
	return nil
}

// ListTables returns all table names visible to the current connection.
func (c *Client) ListTables() ([]string, error) {
	tables, err := c.db.Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// DropTable removes a table if it exists.
func (c *Client) DropTable(name string) error {
	if err := c.db.Exec("DROP TABLE IF EXISTS " + name).Error; err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}
