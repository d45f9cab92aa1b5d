package devicesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
)

// StateInvalidator drops in-process affective caches after a revision
// lands in storage outside the turn path. Satisfied by the limbic engine.
type StateInvalidator interface {
	Invalidate(counterpartID uuid.UUID)
}

// Manager implements the export/apply halves of the sync interface.
type Manager struct {
	store       Store
	invalidator StateInvalidator
	deviceID    string
	metrics     *Metrics
	logger      *slog.Logger
}

func NewManager(store Store, metrics *Metrics, logger *slog.Logger) *Manager {
	return &Manager{store: store, metrics: metrics, logger: logger}
}

// WithInvalidator registers a cache invalidator notified after every
// applied affective revision.
func (m *Manager) WithInvalidator(inv StateInvalidator) *Manager {
	m.invalidator = inv
	return m
}

// WithDeviceID sets this device's identifier, used as the final conflict
// tiebreak when version and timestamp are both equal.
func (m *Manager) WithDeviceID(id string) *Manager {
	m.deviceID = id
	return m
}

// ExportDelta returns all revisions committed after sinceSeq. An empty
// delta (MaxSeq == SinceSeq) means the peer is up to date.
func (m *Manager) ExportDelta(ctx context.Context, sinceSeq int64) (*Delta, error) {
	affective, err := m.store.AffectiveSince(ctx, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("exporting affective revisions: %w", err)
	}
	entries, err := m.store.HeritageSince(ctx, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("exporting heritage revisions: %w", err)
	}
	maxSeq, err := m.store.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sync cursor: %w", err)
	}

	m.metrics.observeExport(len(affective) + len(entries))
	m.logger.DebugContext(ctx, "delta exported",
		slog.Int64("since_seq", sinceSeq),
		slog.Int64("max_seq", maxSeq),
		slog.Int("affective", len(affective)),
		slog.Int("heritage", len(entries)),
	)
	return &Delta{
		SinceSeq:   sinceSeq,
		MaxSeq:     maxSeq,
		Affective:  affective,
		Heritage:   entries,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// ApplyDelta merges a peer's delta. Conflicts resolve by version, then
// updated_at, then the lexically greater device id, so both peers settle
// on the same winner. Every conflict is reported and the losing version
// retained; nothing is silently dropped.
func (m *Manager) ApplyDelta(ctx context.Context, delta *Delta) (*ConflictReport, error) {
	if delta == nil {
		return nil, ErrBadDelta
	}

	report := &ConflictReport{}
	for i := range delta.Affective {
		if err := m.applyAffective(ctx, &delta.Affective[i].State, delta.DeviceID, report); err != nil {
			return nil, err
		}
	}
	for i := range delta.Heritage {
		if err := m.applyHeritage(ctx, &delta.Heritage[i].Entry, delta.DeviceID, report); err != nil {
			return nil, err
		}
	}

	m.metrics.observeApply(report)
	m.logger.InfoContext(ctx, "delta applied",
		slog.String("device_id", delta.DeviceID),
		slog.Int("applied", report.Applied),
		slog.Int("skipped", report.Skipped),
		slog.Int("conflicts", len(report.Conflicts)),
	)
	return report, nil
}

func (m *Manager) applyAffective(ctx context.Context, remote *limbic.State, fromDevice string, report *ConflictReport) error {
	local, err := m.store.LatestAffective(ctx, remote.CounterpartID)
	if err != nil {
		if err := m.store.CommitAffective(ctx, remote); err != nil {
			return fmt.Errorf("applying affective state: %w", err)
		}
		m.invalidate(remote.CounterpartID)
		report.Applied++
		return nil
	}

	if local.Version == remote.Version && local.UpdatedAt.Equal(remote.UpdatedAt) {
		report.Skipped++
		return nil
	}

	conflict := Conflict{
		Kind:          KindAffective,
		CounterpartID: remote.CounterpartID,
		LocalVersion:  local.Version,
		RemoteVersion: remote.Version,
	}
	if !m.remoteWins(local.Version, remote.Version, local.UpdatedAt, remote.UpdatedAt, fromDevice) {
		conflict.Resolution = ResolutionLocalKept
		report.Conflicts = append(report.Conflicts, conflict)
		report.Skipped++
		return nil
	}

	if err := m.retain(ctx, KindAffective, local.CounterpartID, "", local.Version, local); err != nil {
		return err
	}
	merged := remote.Clone()
	if merged.Version <= local.Version {
		merged.Version = local.Version + 1
	}
	if err := m.store.CommitAffective(ctx, merged); err != nil {
		return fmt.Errorf("applying affective state: %w", err)
	}
	m.invalidate(merged.CounterpartID)
	conflict.Resolution = ResolutionRemoteApplied
	report.Conflicts = append(report.Conflicts, conflict)
	report.Applied++
	return nil
}

func (m *Manager) applyHeritage(ctx context.Context, remote *heritage.Entry, fromDevice string, report *ConflictReport) error {
	local, err := m.store.LatestHeritage(ctx, remote.CounterpartID, remote.Key)
	if err != nil {
		if err := m.store.UpsertHeritage(ctx, remote); err != nil {
			return fmt.Errorf("applying heritage entry %q: %w", remote.Key, err)
		}
		report.Applied++
		return nil
	}

	if local.Version == remote.Version && local.UpdatedAt.Equal(remote.UpdatedAt) {
		report.Skipped++
		return nil
	}

	conflict := Conflict{
		Kind:          KindHeritage,
		CounterpartID: remote.CounterpartID,
		Key:           remote.Key,
		LocalVersion:  local.Version,
		RemoteVersion: remote.Version,
	}
	if !m.remoteWins(local.Version, remote.Version, local.UpdatedAt, remote.UpdatedAt, fromDevice) {
		conflict.Resolution = ResolutionLocalKept
		report.Conflicts = append(report.Conflicts, conflict)
		report.Skipped++
		return nil
	}

	if err := m.retain(ctx, KindHeritage, local.CounterpartID, local.Key, local.Version, local); err != nil {
		return err
	}
	if err := m.store.UpsertHeritage(ctx, remote); err != nil {
		return fmt.Errorf("applying heritage entry %q: %w", remote.Key, err)
	}
	conflict.Resolution = ResolutionRemoteApplied
	report.Conflicts = append(report.Conflicts, conflict)
	report.Applied++
	return nil
}

// remoteWins resolves a conflict: higher version wins, equal versions fall
// back to updated_at, and fully equal revisions break the tie on the
// lexically greater device id so both peers converge.
func (m *Manager) remoteWins(localVer, remoteVer int64, localAt, remoteAt time.Time, fromDevice string) bool {
	switch {
	case remoteVer != localVer:
		return remoteVer > localVer
	case !remoteAt.Equal(localAt):
		return remoteAt.After(localAt)
	default:
		return fromDevice > m.deviceID
	}
}

func (m *Manager) invalidate(counterpartID uuid.UUID) {
	if m.invalidator != nil {
		m.invalidator.Invalidate(counterpartID)
	}
}

// retain writes the losing side of a merge to the prior-version log.
func (m *Manager) retain(ctx context.Context, kind string, counterpartID uuid.UUID, key string, version int64, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serializing prior version: %w", err)
	}
	p := &PriorVersion{
		Kind:          kind,
		CounterpartID: counterpartID,
		Key:           key,
		Version:       version,
		Payload:       string(payload),
		RetainedAt:    time.Now().UTC(),
	}
	if err := m.store.AppendPrior(ctx, p); err != nil {
		return fmt.Errorf("retaining prior version: %w", err)
	}
	return nil
}
