// Package node implements the JSON-RPC methods of a local development node.
package node

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lthibault/log"
	"go.uber.org/atomic"

	"github.com/blocknative/devnode/chain"
	"github.com/blocknative/devnode/evm"
	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/snapshot"
	"github.com/blocknative/devnode/structs"
)

const DefaultClientVersion = "devnode/v0.1.0"

type Config struct {
	ChainID          uint64
	GasLimit         uint64
	GenesisTimestamp uint64
	Coinbase         common.Address
	ClientVersion    string
}

// BlockStore holds the canonical headers of the node.
type BlockStore interface {
	chain.Backend
	Append(ctx context.Context, h *types.Header) error
	HeaderByNumber(ctx context.Context, n uint64) (*types.Header, error)
	Head(ctx context.Context) (*types.Header, error)
	Reset(ctx context.Context, genesis *types.Header) error
}

// Node serves the node methods. Every state change happens under the write
// lock and every read under the read lock, so a revert never interleaves
// with another mutation and reads never see a half reverted state.
type Node struct {
	l       log.Logger
	conf    Config
	hub     *pubsub.Hub
	logging *atomic.Bool

	mu      sync.RWMutex
	blocks  BlockStore
	mem     *evm.Backend
	heights *chain.SnapshotManager
	state   *evm.JournaledState
	env     evm.Env
}

// NewMemory returns a node that keeps everything in process. Snapshots
// capture accounts, logs and blocks.
func NewMemory(l log.Logger, conf Config, hub *pubsub.Hub, logging *atomic.Bool) *Node {
	mem := evm.NewBackend(l, Genesis(conf))
	n := newNode(l, conf, mem, hub, logging)
	n.mem = mem
	return n
}

// NewPersistent returns a node whose blocks live in store. Snapshots record
// the chain height only; account state is not rewound by them.
func NewPersistent(l log.Logger, conf Config, store BlockStore, hub *pubsub.Hub, logging *atomic.Bool) *Node {
	return newNode(l, conf, store, hub, logging)
}

func newNode(l log.Logger, conf Config, store BlockStore, hub *pubsub.Hub, logging *atomic.Bool) *Node {
	if conf.ClientVersion == "" {
		conf.ClientVersion = DefaultClientVersion
	}
	if logging == nil {
		logging = atomic.NewBool(true)
	}

	return &Node{
		l:       l.WithField("subService", "node"),
		conf:    conf,
		hub:     hub,
		logging: logging,
		blocks:  store,
		heights: chain.NewSnapshotManager(l, store),
		state:   evm.NewJournaledState(),
		env:     initialEnv(conf),
	}
}

// Genesis builds the genesis header for conf.
func Genesis(conf Config) *types.Header {
	return &types.Header{
		Number:     new(big.Int),
		Difficulty: new(big.Int),
		GasLimit:   conf.GasLimit,
		Time:       conf.GenesisTimestamp,
		Coinbase:   conf.Coinbase,
	}
}

func initialEnv(conf Config) evm.Env {
	return evm.Env{
		ChainID: conf.ChainID,
		Block: evm.BlockEnv{
			Number:    0,
			Timestamp: conf.GenesisTimestamp,
			Coinbase:  conf.Coinbase,
			GasLimit:  conf.GasLimit,
		},
	}
}

func (n *Node) Heights() *chain.SnapshotManager {
	return n.heights
}

func (n *Node) OnConfigChange(c structs.OldNew) error {
	switch c.Name {
	case "LoggingEnabled":
		if b, ok := c.New.(bool); ok {
			n.logging.Store(b)
		}
	}
	return nil
}

// AddLogs records logs emitted by the execution engine for the pending
// block and pushes them to subscribers. Block number and index of each log
// are assigned here.
func (n *Node) AddLogs(ctx context.Context, logs ...*types.Log) error {
	n.mu.Lock()
	height, err := n.blocks.CurrentHeight(ctx)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	for _, lg := range logs {
		lg.BlockNumber = height + 1
		lg.Index = uint(len(n.state.Logs))
		n.state.AddLogs(lg)
	}
	n.mu.Unlock()

	n.hub.PublishLogs(logs)
	return nil
}

// AddPendingTransaction announces a transaction accepted by the pool.
func (n *Node) AddPendingTransaction(hash common.Hash) {
	n.hub.PublishPendingTransaction(hash)
}

// Mine produces count empty blocks on top of the head.
func (n *Node) Mine(ctx context.Context, count uint64) ([]*types.Header, error) {
	if count == 0 {
		count = 1
	}

	n.mu.Lock()
	mined := make([]*types.Header, 0, count)
	var err error
	for i := uint64(0); i < count; i++ {
		var h *types.Header
		if h, err = n.mineOne(ctx); err != nil {
			break
		}
		mined = append(mined, h)
	}
	n.mu.Unlock()

	for _, h := range mined {
		n.hub.PublishHead(h)
	}
	return mined, err
}

func (n *Node) mineOne(ctx context.Context) (*types.Header, error) {
	head, err := n.blocks.Head(ctx)
	if err != nil {
		return nil, err
	}

	ts := uint64(time.Now().Unix())
	if ts <= head.Time {
		ts = head.Time + 1
	}

	h := &types.Header{
		ParentHash:  head.Hash(),
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    n.env.Block.Coinbase,
		Root:        head.Root,
		TxHash:      types.EmptyRootHash,
		ReceiptHash: types.EmptyRootHash,
		Number:      new(big.Int).Add(head.Number, common.Big1),
		Difficulty:  new(big.Int),
		GasLimit:    n.env.Block.GasLimit,
		Time:        ts,
	}
	if err := n.blocks.Append(ctx, h); err != nil {
		return nil, err
	}

	n.env.Block.Number = h.Number.Uint64()
	n.env.Block.Timestamp = h.Time
	return h, nil
}

// Snapshot checkpoints the node.
func (n *Node) Snapshot(ctx context.Context) (snapshot.ID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mem != nil {
		return n.mem.SnapshotState(n.state, n.env), nil
	}
	return n.heights.Snapshot(ctx)
}

// Revert restores checkpoint id and reports whether it existed.
func (n *Node) Revert(ctx context.Context, id snapshot.ID) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mem != nil {
		js, env, ok := n.mem.RevertState(id, n.state, evm.RevertRemove)
		if ok {
			n.state, n.env = js, env
		}
		return ok, nil
	}

	info, err := n.heights.Revert(ctx, id)
	if err != nil || info == nil {
		return false, err
	}
	return true, n.syncEnv(ctx)
}

// Rollback drops the newest depth blocks, one if depth is zero.
func (n *Node) Rollback(ctx context.Context, depth uint64) (chain.RevertInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	info, err := n.heights.Rollback(ctx, depth)
	if err != nil {
		return info, err
	}
	return info, n.syncEnv(ctx)
}

// Reset drops every block, account and snapshot.
func (n *Node) Reset(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.blocks.Reset(ctx, Genesis(n.conf)); err != nil {
		return err
	}
	n.heights.Clear()
	n.state = evm.NewJournaledState()
	n.env = initialEnv(n.conf)
	return nil
}

// Snapshots returns the height of every live checkpoint.
func (n *Node) Snapshots() map[snapshot.ID]uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.mem != nil {
		return n.mem.StateSnapshots()
	}
	return n.heights.List()
}

func (n *Node) syncEnv(ctx context.Context) error {
	head, err := n.blocks.Head(ctx)
	if err != nil {
		return err
	}
	n.env.Block.Number = head.Number.Uint64()
	n.env.Block.Timestamp = head.Time
	return nil
}
