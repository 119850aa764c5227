package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/markout/internal/persistence"
)

// Config holds the database connection settings. Disabled by default:
// persistence is opt-in and every command runs without it.
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns the stock pool shape.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// databaseFile is the config/database.yaml layout.
type databaseFile struct {
	Database Config `yaml:"database"`
}

// LoadConfig reads config/database.yaml (missing file means defaults)
// and applies PG_DSN / PG_ENABLED environment overrides.
func LoadConfig(path string) (Config, error) {
	file := databaseFile{Database: DefaultConfig()}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return file.Database, fmt.Errorf("read database config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &file); err != nil {
			return file.Database, fmt.Errorf("parse database config %s: %w", path, err)
		}
	}
	cfg := file.Database
	applyEnvOverrides(&cfg)
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 5 * time.Minute
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.DSN = dsn
	}
	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			cfg.Enabled = val
		}
	}
}

// Manager owns the connection pool and the repository set.
type Manager struct {
	db    *sqlx.DB
	cfg   Config
	repos *persistence.Repository
}

// NewManager opens the pool, verifies connectivity, applies the schema
// and wires the repositories. A disabled config yields a manager whose
// Enabled() is false and whose Repository() is nil.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{cfg: cfg}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database enabled but no DSN configured")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("database connected")
	return &Manager{
		db:  db,
		cfg: cfg,
		repos: &persistence.Repository{
			ReturnLabels:  NewReturnLabelStore(db, cfg.QueryTimeout),
			BarrierLabels: NewBarrierLabelStore(db, cfg.QueryTimeout),
			Trades:        NewTradeStore(db, cfg.QueryTimeout),
		},
	}, nil
}

// NewManagerFromDB wires a manager over an existing pool; tests hand in
// sqlmock.
func NewManagerFromDB(db *sqlx.DB, cfg Config) *Manager {
	return &Manager{
		db:  db,
		cfg: cfg,
		repos: &persistence.Repository{
			ReturnLabels:  NewReturnLabelStore(db, cfg.QueryTimeout),
			BarrierLabels: NewBarrierLabelStore(db, cfg.QueryTimeout),
			Trades:        NewTradeStore(db, cfg.QueryTimeout),
		},
	}
}

// Enabled reports whether a live connection backs this manager.
func (m *Manager) Enabled() bool { return m.db != nil }

// Repository returns the store set, nil when disabled.
func (m *Manager) Repository() *persistence.Repository { return m.repos }

// Ping verifies connectivity; trivially healthy when disabled.
func (m *Manager) Ping(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.PingContext(ctx)
}

// Close releases the pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
