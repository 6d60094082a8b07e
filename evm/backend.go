package evm

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lthibault/log"

	"github.com/blocknative/devnode/chain"
	"github.com/blocknative/devnode/snapshot"
)

// RevertAction tells RevertState what to do with the checkpoint it restored.
type RevertAction uint8

const (
	// RevertRemove consumes the checkpoint.
	RevertRemove RevertAction = iota
	// RevertKeep leaves the checkpoint in place so it can be restored again.
	// Checkpoints taken after it are still dropped, as with RevertRemove.
	RevertKeep
)

func (a RevertAction) String() string {
	if a == RevertKeep {
		return "keep"
	}
	return "remove"
}

// BackendStateSnapshot is one checkpoint: the database view, the journaled
// state and the environment at the time it was taken.
type BackendStateSnapshot struct {
	DB             *MemDB
	JournaledState *JournaledState
	Env            Env
}

func (s *BackendStateSnapshot) Copy() *BackendStateSnapshot {
	return &BackendStateSnapshot{
		DB:             s.DB.Copy(),
		JournaledState: s.JournaledState.Copy(),
		Env:            s.Env.Copy(),
	}
}

// Merge carries the logs of current over into the checkpointed state.
// Balances and storage stay as checkpointed; the log list becomes the live
// one, since logs already handed to clients are not taken back.
func (s *BackendStateSnapshot) Merge(current *JournaledState) {
	s.JournaledState.Logs = copyLogs(current.Logs)
}

// Backend owns the database of an in-memory node and its checkpoints. All
// methods are safe for concurrent use.
type Backend struct {
	l log.Logger

	mu    sync.Mutex
	db    *MemDB
	snaps *snapshot.StateSnapshots[*BackendStateSnapshot]
}

func NewBackend(l log.Logger, genesis *types.Header) *Backend {
	return &Backend{
		l:     l.WithField("subService", "evm-backend"),
		db:    NewMemDB(genesis),
		snaps: snapshot.New[*BackendStateSnapshot](),
	}
}

// SnapshotState checkpoints the database together with js and env.
func (b *Backend) SnapshotState(js *JournaledState, env Env) snapshot.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.snaps.Insert(&BackendStateSnapshot{
		DB:             b.db.Copy(),
		JournaledState: js.Copy(),
		Env:            env.Copy(),
	})

	b.l.With(log.F{
		"id":     id,
		"height": b.db.Height(),
	}).Debug("state snapshot taken")
	return id
}

// RevertState restores checkpoint id. The database and the accounts of the
// returned state come from the checkpoint, the logs from current. Every
// checkpoint taken after id is dropped; id itself survives only with
// RevertKeep. ok is false if id is unknown, in which case nothing changes.
func (b *Backend) RevertState(id snapshot.ID, current *JournaledState, action RevertAction) (js *JournaledState, env Env, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, ok := b.snaps.Remove(id)
	if !ok {
		return nil, Env{}, false
	}
	if action == RevertKeep {
		b.snaps.InsertAt(id, snap)
	}

	restored := snap.Copy()
	restored.Merge(current)
	b.db = restored.DB

	b.l.With(log.F{
		"id":     id,
		"height": b.db.Height(),
		"action": action.String(),
	}).Debug("state reverted")

	return restored.JournaledState, restored.Env, true
}

// DeleteStateSnapshot drops checkpoint id only.
func (b *Backend) DeleteStateSnapshot(id snapshot.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.snaps.RemoveAt(id)
	return ok
}

func (b *Backend) DeleteStateSnapshots() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snaps.Clear()
}

// StateSnapshots returns the height each live checkpoint was taken at.
func (b *Backend) StateSnapshots() map[snapshot.ID]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[snapshot.ID]uint64, b.snaps.Len())
	b.snaps.Ascend(func(id snapshot.ID, s *BackendStateSnapshot) bool {
		out[id] = s.DB.Height()
		return true
	})
	return out
}

// Reset replaces the database with a fresh one and drops every checkpoint.
func (b *Backend) Reset(_ context.Context, genesis *types.Header) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.db = NewMemDB(genesis)
	b.snaps.Clear()
	return nil
}

func (b *Backend) CurrentHeight(_ context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Height(), nil
}

func (b *Backend) Revert(_ context.Context, n uint64) (chain.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.Truncate(n); err != nil {
		return chain.Info{}, err
	}
	return b.info(), nil
}

func (b *Backend) Append(_ context.Context, h *types.Header) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Append(h)
}

func (b *Backend) HeaderByNumber(_ context.Context, n uint64) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Header(n)
}

func (b *Backend) Head(_ context.Context) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Head(), nil
}

func (b *Backend) info() chain.Info {
	head := b.db.Head()
	return chain.Info{Height: b.db.Height(), Hash: head.Hash()}
}
