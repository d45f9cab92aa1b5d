// Package postgres implements the storage.Store interface on PostgreSQL
// via GORM. The sqlite backend reuses these models and repositories.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/devicesync"
	"github.com/jkaninda/nafsi/internal/dream"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/memory"
	"github.com/jkaninda/nafsi/internal/storage"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	return cfg
}

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu           sync.Mutex
	counterparts *CounterpartRepository
	affective    *AffectiveRepository
	heritage     *HeritageRepository
	memories     *MemoryRepository
	trust        *TrustRepository
	actions      *ActionRepository
	audit        *AuditRepository
	hypotheses   *DreamRepository
	leases       *LeaseRepository
	sync         *SyncRepository
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg *Config, log *slog.Logger) (*Store, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	resolved := cfg.withDefaults()

	db, err := gorm.Open(postgres.Open(resolved.DSN), &gorm.Config{
		Logger:      newGormLogger(log),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(resolved.MaxOpenConns)
	sqlDB.SetMaxIdleConns(resolved.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(resolved.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return NewStore(db, log), nil
}

// NewStore wraps an already-open gorm connection. Used by the sqlite
// backend, which shares these repositories.
func NewStore(db *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, logger: log}
}

// Migrate creates or updates the schema and seeds the sync cursor row.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&CounterpartModel{},
		&AffectiveStateModel{},
		&HeritageEntryModel{},
		&MemoryRecordModel{},
		&TrustStateModel{},
		&ActionRecordModel{},
		&AuditEventModel{},
		&HypothesisModel{},
		&WatermarkModel{},
		&LeaseModel{},
		&PriorVersionModel{},
		&SyncCursorModel{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	cursor := SyncCursorModel{ID: 1, Seq: 0}
	if err := s.db.WithContext(ctx).FirstOrCreate(&cursor, SyncCursorModel{ID: 1}).Error; err != nil {
		return fmt.Errorf("failed to seed sync cursor: %w", err)
	}
	return nil
}

func (s *Store) Counterparts() core.CounterpartStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterparts == nil {
		s.counterparts = &CounterpartRepository{db: s.db}
	}
	return s.counterparts
}

func (s *Store) Affective() limbic.StateStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.affective == nil {
		s.affective = &AffectiveRepository{db: s.db}
	}
	return s.affective
}

func (s *Store) Heritage() heritage.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heritage == nil {
		s.heritage = &HeritageRepository{db: s.db}
	}
	return s.heritage
}

func (s *Store) Memories() memory.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memories == nil {
		s.memories = &MemoryRepository{db: s.db}
	}
	return s.memories
}

func (s *Store) Trust() agency.TrustStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trust == nil {
		s.trust = &TrustRepository{db: s.db}
	}
	return s.trust
}

func (s *Store) Actions() agency.ActionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actions == nil {
		s.actions = &ActionRepository{db: s.db}
	}
	return s.actions
}

func (s *Store) Audit() agency.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = &AuditRepository{db: s.db}
	}
	return s.audit
}

func (s *Store) Hypotheses() dream.HypothesisStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hypotheses == nil {
		s.hypotheses = &DreamRepository{db: s.db}
	}
	return s.hypotheses
}

func (s *Store) Leases() dream.LeaseStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases == nil {
		s.leases = &LeaseRepository{db: s.db}
	}
	return s.leases
}

func (s *Store) Sync() devicesync.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sync == nil {
		s.sync = &SyncRepository{db: s.db}
	}
	return s.sync
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) Driver() string { return storage.DriverPostgres }

var _ storage.Store = (*Store)(nil)

// newGormLogger routes gorm's logging through slog at Warn level, so slow
// queries and errors surface without per-query noise.
func newGormLogger(log *slog.Logger) logger.Interface {
	return logger.New(slogWriter{logger: log}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(fmt.Sprintf(format, args...))
}
