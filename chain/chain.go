//go:generate mockgen -destination=./mocks/mocks.go -package=mocks github.com/blocknative/devnode/chain Backend

// Package chain checkpoints a chain backed node by block height.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lthibault/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/blocknative/devnode/snapshot"
)

var ErrRollbackTooDeep = errors.New("rollback depth exceeds chain height")

// Info describes the head of the chain after a revert.
type Info struct {
	Height uint64      `json:"height"`
	Hash   common.Hash `json:"hash"`
}

type RevertInfo struct {
	BlocksReverted uint64 `json:"blocksReverted"`
	Chain          Info   `json:"chain"`
}

// Backend is the chain store the manager rewinds. It is owned elsewhere;
// the manager only borrows it for the duration of a call.
type Backend interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	// Revert drops the newest n blocks.
	Revert(ctx context.Context, n uint64) (Info, error)
}

type SnapshotManager struct {
	l log.Logger
	b Backend

	mu    sync.Mutex
	snaps *snapshot.StateSnapshots[uint64]

	m *SnapshotMetrics
}

func NewSnapshotManager(l log.Logger, b Backend) *SnapshotManager {
	sm := &SnapshotManager{
		l:     l.WithField("subService", "chain-snapshots"),
		b:     b,
		snaps: snapshot.New[uint64](),
		m:     &SnapshotMetrics{},
	}
	sm.initMetrics()
	return sm
}

// Snapshot records the current height and returns its id.
func (sm *SnapshotManager) Snapshot(ctx context.Context) (snapshot.ID, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	height, err := sm.b.CurrentHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("read height: %w", err)
	}

	id := sm.snaps.Insert(height)
	sm.m.Live.Set(float64(sm.snaps.Len()))

	sm.l.With(log.F{
		"id":     id,
		"height": height,
	}).Debug("snapshot taken")
	return id, nil
}

// Revert rewinds the chain to the height recorded under id. It returns nil
// when id is unknown. On success id and every snapshot recorded at or above
// the target height are dropped. A backend failure leaves the table as it
// was.
func (sm *SnapshotManager) Revert(ctx context.Context, id snapshot.ID) (*RevertInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	target, ok := sm.snaps.Get(id)
	if !ok {
		return nil, nil
	}

	current, err := sm.b.CurrentHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("read height: %w", err)
	}

	var blocks uint64
	if current > target {
		blocks = current - target
	}

	info, err := sm.b.Revert(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("revert %d blocks: %w", blocks, err)
	}

	sm.snaps.Retain(func(_ snapshot.ID, h uint64) bool { return h < target })
	sm.m.Live.Set(float64(sm.snaps.Len()))
	sm.m.BlocksReverted.Add(float64(blocks))

	sm.l.With(log.F{
		"id":     id,
		"height": target,
		"blocks": blocks,
	}).Debug("reverted to snapshot")

	return &RevertInfo{BlocksReverted: blocks, Chain: info}, nil
}

// Rollback drops the newest depth blocks without consulting the snapshot
// table. A depth of zero rolls back one block.
func (sm *SnapshotManager) Rollback(ctx context.Context, depth uint64) (RevertInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if depth == 0 {
		depth = 1
	}

	current, err := sm.b.CurrentHeight(ctx)
	if err != nil {
		return RevertInfo{}, fmt.Errorf("read height: %w", err)
	}
	if depth > current {
		return RevertInfo{}, fmt.Errorf("%w: depth %d, height %d", ErrRollbackTooDeep, depth, current)
	}

	info, err := sm.b.Revert(ctx, depth)
	if err != nil {
		return RevertInfo{}, fmt.Errorf("rollback %d blocks: %w", depth, err)
	}

	sm.m.BlocksReverted.Add(float64(depth))
	return RevertInfo{BlocksReverted: depth, Chain: info}, nil
}

// List returns the live snapshots keyed by id.
func (sm *SnapshotManager) List() map[snapshot.ID]uint64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make(map[snapshot.ID]uint64, sm.snaps.Len())
	sm.snaps.Ascend(func(id snapshot.ID, h uint64) bool {
		out[id] = h
		return true
	})
	return out
}

// IDs returns the live ids sorted ascending.
func (sm *SnapshotManager) IDs() []snapshot.ID {
	ids := maps.Keys(sm.List())
	slices.Sort(ids)
	return ids
}

func (sm *SnapshotManager) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.snaps.Clear()
	sm.m.Live.Set(0)
}
