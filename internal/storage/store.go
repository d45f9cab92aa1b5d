// Package storage defines the unified Store interface that abstracts all
// persistence operations. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/devicesync"
	"github.com/jkaninda/nafsi/internal/dream"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/memory"
)

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the unified persistence interface. It provides access to all
// domain-specific sub-stores through accessor methods; the returned stores
// share the same underlying connection. Both backends implement it.
type Store interface {
	Counterparts() core.CounterpartStore
	Affective() limbic.StateStore
	Heritage() heritage.Store
	Memories() memory.Store

	// Agency sub-stores.
	Trust() agency.TrustStore
	Actions() agency.ActionStore
	Audit() agency.AuditStore

	// Dream-cycle sub-stores.
	Hypotheses() dream.HypothesisStore
	Leases() dream.LeaseStore

	// Sync exposes the delta interface over the same tables the limbic
	// engine and heritage profile write to.
	Sync() devicesync.Store

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}
