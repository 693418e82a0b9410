// internal/reconcile/reconciler.go

// Package reconcile implements the client-side half of the optimistic update
// protocol: a pending-operation log layered over the last authoritative
// snapshot. A client applies its own actions locally and immediately, records
// them here, and reconciles when the server's broadcasts come back.
package reconcile

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/game"
)

var ErrOpNotFound = errors.New("pending operation not found")

// Op is one optimistically applied local action, stamped with the session
// version it was built against.
type Op struct {
	ID          uuid.UUID
	ActionType  string
	BaseVersion int64
	Payload     map[string]interface{}
	ProposedAt  time.Time
}

// Reconciler tracks the authoritative session version, the last full
// snapshot, and the log of local operations the server has not yet settled.
// All methods are safe for concurrent use.
type Reconciler struct {
	mu       sync.Mutex
	version  int64
	snapshot *game.ObfSessionState
	pending  []Op
}

// New creates a reconciler with no baseline; the first merged snapshot or
// event establishes the version.
func New() *Reconciler {
	return &Reconciler{}
}

// Version returns the last authoritative session version seen.
func (rc *Reconciler) Version() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.version
}

// Snapshot returns the last authoritative snapshot, or nil before first sync.
func (rc *Reconciler) Snapshot() *game.ObfSessionState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.snapshot
}

// Pending returns a copy of the unsettled operation log, oldest first.
func (rc *Reconciler) Pending() []Op {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]Op, len(rc.pending))
	copy(out, rc.pending)
	return out
}

// Propose records a local action applied optimistically against the current
// version. The returned op carries the version the outgoing action should be
// fenced with.
func (rc *Reconciler) Propose(actionType string, payload map[string]interface{}) Op {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	op := Op{
		ID:          uuid.New(),
		ActionType:  actionType,
		BaseVersion: rc.version,
		Payload:     payload,
		ProposedAt:  time.Now(),
	}
	rc.pending = append(rc.pending, op)
	return op
}

// Confirm settles a pending op the server accepted, advancing the version to
// the one the server assigned the action. Confirming an unknown op is an
// error; confirming twice is therefore naturally rejected.
func (rc *Reconciler) Confirm(opID uuid.UUID, serverVersion int64) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.removeLocked(opID) {
		return ErrOpNotFound
	}
	if serverVersion > rc.version {
		rc.version = serverVersion
	}
	return nil
}

// Reject settles a pending op the server refused. A rejection invalidates the
// whole speculative layer, not just the failed entry: later local ops may have
// been built on top of the wrong guess. The entire pending log is returned,
// rejected op first, so the caller can roll everything back and resync from an
// authoritative snapshot. The version does not move; rejections never mutate
// server state.
func (rc *Reconciler) Reject(opID uuid.UUID) ([]Op, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	idx := -1
	for i, op := range rc.pending {
		if op.ID == opID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrOpNotFound
	}
	dropped := make([]Op, 0, len(rc.pending))
	dropped = append(dropped, rc.pending[idx])
	dropped = append(dropped, rc.pending[:idx]...)
	dropped = append(dropped, rc.pending[idx+1:]...)
	rc.pending = nil
	return dropped, nil
}

// ObserveEvent folds a versioned broadcast into the baseline. Events at or
// below the current version are duplicates of state already absorbed and are
// ignored, which makes observation idempotent under redelivery.
func (rc *Reconciler) ObserveEvent(serverVersion int64) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if serverVersion <= rc.version {
		return false
	}
	rc.version = serverVersion
	return true
}

// MergeSnapshot replaces the baseline with an authoritative snapshot, as
// received after reconnect or a STALE_VERSION rejection. Pending ops fenced
// below the snapshot's version were either absorbed or invalidated by it and
// are dropped; the caller rebuilds display state from the snapshot plus the
// surviving ops. A snapshot older than the current version is ignored.
func (rc *Reconciler) MergeSnapshot(state *game.ObfSessionState) []Op {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if state == nil || state.Version < rc.version {
		return rc.copyPendingLocked()
	}
	rc.snapshot = state
	rc.version = state.Version

	kept := rc.pending[:0]
	for _, op := range rc.pending {
		if op.BaseVersion >= state.Version {
			kept = append(kept, op)
		}
	}
	rc.pending = kept
	return rc.copyPendingLocked()
}

func (rc *Reconciler) removeLocked(opID uuid.UUID) bool {
	for i, op := range rc.pending {
		if op.ID == opID {
			rc.pending = append(rc.pending[:i], rc.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (rc *Reconciler) copyPendingLocked() []Op {
	out := make([]Op, len(rc.pending))
	copy(out, rc.pending)
	return out
}
