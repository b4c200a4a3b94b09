package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/metrics"
)

const mysqlBackend = "mysql"

// MySQLConfig holds the connection settings for the MySQL/MariaDB store
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN renders the driver connection string
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// MySQLStore keeps the snapshot as a single row with a fixed primary key
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an open database handle
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OpenMySQL connects, verifies the connection and creates the table if needed
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewMySQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("addr", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))).Msg("Connected to MySQL snapshot store")
	return store, nil
}

// EnsureSchema creates the snapshot table
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS esistatus_snapshot (
			id TINYINT UNSIGNED NOT NULL PRIMARY KEY,
			compatibility_date VARCHAR(10) NOT NULL,
			status_data JSON NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create snapshot table: %w", err)
	}
	return nil
}

// Load reads the snapshot row
func (s *MySQLStore) Load(ctx context.Context) (Snapshot, error) {
	startTime := time.Now()

	var (
		snap Snapshot
		raw  []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT compatibility_date, status_data, updated_at FROM esistatus_snapshot WHERE id = ?`, ID,
	).Scan(&snap.CompatibilityDate, &raw, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordStoreOperation(mysqlBackend, "load", "not_found", time.Since(startTime))
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreOperation(mysqlBackend, "load", "failed", time.Since(startTime))
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &snap.StatusData); err != nil {
		metrics.RecordStoreOperation(mysqlBackend, "load", "failed", time.Since(startTime))
		return Snapshot{}, fmt.Errorf("failed to decode snapshot status data: %w", err)
	}

	metrics.RecordStoreOperation(mysqlBackend, "load", "success", time.Since(startTime))
	return snap, nil
}

// Save upserts the snapshot row in one statement
func (s *MySQLStore) Save(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	startTime := time.Now()

	raw, err := json.Marshal(snap.StatusData)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot status data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO esistatus_snapshot (id, compatibility_date, status_data, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			compatibility_date = VALUES(compatibility_date),
			status_data = VALUES(status_data),
			updated_at = VALUES(updated_at)`,
		ID, snap.CompatibilityDate, raw, snap.UpdatedAt.UTC(),
	)
	if err != nil {
		metrics.RecordStoreOperation(mysqlBackend, "save", "failed", time.Since(startTime))
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	metrics.RecordStoreOperation(mysqlBackend, "save", "success", time.Since(startTime))
	return nil
}

// Close closes the database handle
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
