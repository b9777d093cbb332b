package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"logguard/config"
)

var validDatabaseNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ClickHouse holds the connection used by the raw entry archive.
type ClickHouse struct {
	Conn   driver.Conn
	Config *config.Config
	Logger *zap.SugaredLogger
}

// NewClickHouse connects, pings, and ensures the database exists.
func NewClickHouse(cfg *config.Config, logger *zap.SugaredLogger) (*ClickHouse, error) {
	options := &clickhouse.Options{
		Addr: []string{cfg.ClickHouse.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     cfg.ClickHouse.MaxPoolSize,
		MaxIdleConns:     cfg.ClickHouse.MaxPoolSize / 2,
		ConnMaxLifetime:  1 * time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			// TCP keepalive detects broken connections before a batch write.
			var d net.Dialer
			d.Timeout = 10 * time.Second
			d.KeepAlive = 30 * time.Second
			return d.DialContext(ctx, "tcp", addr)
		},
	}

	if cfg.ClickHouse.TLS {
		options.TLS = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := ensureDatabase(ctx, conn, cfg.ClickHouse.Database); err != nil {
		return nil, fmt.Errorf("failed to ensure database exists: %w", err)
	}

	logger.Infow("Connected to ClickHouse", "addr", cfg.ClickHouse.Addr, "database", cfg.ClickHouse.Database)

	return &ClickHouse{
		Conn:   conn,
		Config: cfg,
		Logger: logger,
	}, nil
}

func validateDatabaseName(database string) error {
	if database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if len(database) > 64 {
		return fmt.Errorf("database name too long (max 64 characters)")
	}
	if !validDatabaseNameRegex.MatchString(database) {
		return fmt.Errorf("database name contains invalid characters")
	}
	return nil
}

func ensureDatabase(ctx context.Context, conn driver.Conn, database string) error {
	if err := validateDatabaseName(database); err != nil {
		return fmt.Errorf("invalid database name: %w", err)
	}
	// Backtick quoting on top of validation for identifier safety.
	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database)
	if err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

// CreateTablesIfNotExist creates the raw entry archive table.
func (ch *ClickHouse) CreateTablesIfNotExist(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS log_entries (
		entry_hash String,
		log_file_id String,
		line_number UInt32,
		format LowCardinality(String),
		timestamp DateTime64(3),
		raw String,
		fields String,
		ingested_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(ingested_at)
	ORDER BY (log_file_id, line_number)
	TTL toDateTime(ingested_at) + INTERVAL 90 DAY
	`
	if err := ch.Conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create log_entries table: %w", err)
	}
	return nil
}

// HealthCheck pings the connection.
func (ch *ClickHouse) HealthCheck(ctx context.Context) error {
	return ch.Conn.Ping(ctx)
}

// Close closes the ClickHouse connection.
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}
