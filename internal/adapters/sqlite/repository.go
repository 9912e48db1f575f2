package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// Repository implements the persistence ports (trades, alerts, balances,
// transaction history) using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/buybot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// All instants are stored as integer unix milliseconds so that the
// millisecond-precision timestamp binding and the write-once CAS updates
// stay exact.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_id TEXT NOT NULL UNIQUE,
		timestamp INTEGER NOT NULL,
		trader TEXT DEFAULT '',
		coin_symbol TEXT NOT NULL,
		parsed_signal TEXT DEFAULT NULL,
		signal_type TEXT DEFAULT '',
		position_type TEXT NOT NULL,
		entry_prices TEXT NOT NULL DEFAULT '[]',
		stop_loss REAL DEFAULT NULL,
		take_profits TEXT NOT NULL DEFAULT '[]',
		order_type TEXT NOT NULL DEFAULT 'MARKET',
		quantity_multiplier INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		entry_price REAL DEFAULT 0,
		binance_entry_price REAL DEFAULT 0,
		exit_price REAL DEFAULT 0,
		position_size REAL DEFAULT 0,
		exchange_order_id TEXT DEFAULT '',
		original_order_response BLOB DEFAULT NULL,
		binance_response BLOB DEFAULT NULL,
		order_status_response BLOB DEFAULT NULL,
		tp_sl_orders TEXT NOT NULL DEFAULT '[]',
		pnl_usd REAL DEFAULT NULL,
		sync_error_count INTEGER NOT NULL DEFAULT 0,
		sync_issues TEXT NOT NULL DEFAULT '[]',
		manual_verification_needed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER DEFAULT NULL,
		closed_at INTEGER DEFAULT NULL,
		updated_at INTEGER NOT NULL,
		merged_into_trade_id INTEGER DEFAULT NULL,
		merge_reason TEXT DEFAULT '',
		merged_at INTEGER DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		discord_id TEXT NOT NULL UNIQUE,
		trade TEXT NOT NULL,
		content TEXT NOT NULL,
		trader TEXT DEFAULT '',
		parsed_alert TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'received',
		status_detail TEXT DEFAULT '',
		binance_response BLOB DEFAULT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		platform TEXT NOT NULL,
		account_type TEXT NOT NULL,
		asset TEXT NOT NULL,
		free REAL NOT NULL DEFAULT 0,
		locked REAL NOT NULL DEFAULT 0,
		total REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (platform, account_type, asset)
	);

	CREATE TABLE IF NOT EXISTS transaction_history (
		time INTEGER NOT NULL,
		type TEXT NOT NULL,
		amount REAL NOT NULL,
		asset TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (time, type, amount, asset, symbol)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades (timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (coin_symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_exchange_order_id ON trades (exchange_order_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_trade ON alerts (trade);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- small marshal helpers ---

func marshalJSON(v interface{}) []byte {
	if v == nil {
		return []byte("[]")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func millisPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
