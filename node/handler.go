package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/lthibault/log"

	"github.com/blocknative/devnode/chain"
	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/rpc"
	"github.com/blocknative/devnode/snapshot"
)

var errNoNotifications = rpc.NewError(rpc.CodeMethodNotFound, "notifications not supported")

type method func(n *Node, ctx context.Context, params json.RawMessage) (any, error)

var methods = map[string]method{
	"web3_clientVersion": (*Node).clientVersion,
	"net_version":        (*Node).netVersion,
	"eth_chainId":        (*Node).chainID,
	"eth_syncing":        (*Node).syncing,

	"eth_blockNumber":      (*Node).blockNumber,
	"eth_getBlockByNumber": (*Node).getBlockByNumber,
	"eth_getBalance":       (*Node).getBalance,
	"eth_getStorageAt":     (*Node).getStorageAt,

	"evm_snapshot":        (*Node).snapshot,
	"anvil_snapshot":      (*Node).snapshot,
	"evm_revert":          (*Node).revert,
	"anvil_revert":        (*Node).revert,
	"anvil_rollback":      (*Node).rollback,
	"anvil_reset":         (*Node).reset,
	"anvil_listSnapshots": (*Node).listSnapshots,
	"evm_mine":            (*Node).mine,
	"anvil_mine":          (*Node).mine,

	"anvil_setBalance":        (*Node).setBalance,
	"anvil_setStorageAt":      (*Node).setStorageAt,
	"anvil_setLoggingEnabled": (*Node).setLoggingEnabled,
}

// Execute implements rpc.Handler.
func (n *Node) Execute(ctx context.Context, name string, params json.RawMessage) (any, error) {
	if name == pubsub.MethodSubscribe || name == pubsub.MethodUnsubscribe {
		return nil, errNoNotifications
	}

	m, ok := methods[name]
	if !ok {
		return nil, rpc.MethodNotFound()
	}

	if n.logging.Load() {
		n.l.WithField("method", name).Info("rpc call")
	}
	return m(n, ctx, params)
}

func (n *Node) clientVersion(_ context.Context, _ json.RawMessage) (any, error) {
	return n.conf.ClientVersion, nil
}

func (n *Node) netVersion(_ context.Context, _ json.RawMessage) (any, error) {
	return strconv.FormatUint(n.conf.ChainID, 10), nil
}

func (n *Node) chainID(_ context.Context, _ json.RawMessage) (any, error) {
	return hexutil.Uint64(n.conf.ChainID), nil
}

func (n *Node) syncing(_ context.Context, _ json.RawMessage) (any, error) {
	return false, nil
}

func (n *Node) blockNumber(ctx context.Context, _ json.RawMessage) (any, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	h, err := n.blocks.CurrentHeight(ctx)
	return hexutil.Uint64(h), err
}

func (n *Node) getBlockByNumber(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		tag  = tagLatest
		full bool
	)
	if err := rpc.UnmarshalParams(params, 1, &tag, &full); err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	head, err := n.blocks.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}
	num := tag.resolve(head)
	if num > head {
		return nil, nil
	}

	h, err := n.blocks.HeaderByNumber(ctx, num)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// State reads are always served from the head; the tag is accepted for
// compatibility only.
func (n *Node) getBalance(_ context.Context, params json.RawMessage) (any, error) {
	var (
		addr common.Address
		tag  blockTag
	)
	if err := rpc.UnmarshalParams(params, 1, &addr, &tag); err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	return (*hexutil.Big)(n.state.Balance(addr).ToBig()), nil
}

func (n *Node) getStorageAt(_ context.Context, params json.RawMessage) (any, error) {
	var (
		addr common.Address
		slot common.Hash
		tag  blockTag
	)
	if err := rpc.UnmarshalParams(params, 2, &addr, &slot, &tag); err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state.Storage(addr, slot), nil
}

func (n *Node) snapshot(ctx context.Context, _ json.RawMessage) (any, error) {
	id, err := n.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return hexutil.Uint64(id), nil
}

func (n *Node) revert(ctx context.Context, params json.RawMessage) (any, error) {
	var id quantity
	if err := rpc.UnmarshalParams(params, 1, &id); err != nil {
		return nil, err
	}

	ok, err := n.Revert(ctx, snapshot.ID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		n.l.WithField("id", uint64(id)).Debug("revert to unknown snapshot")
	}
	return ok, nil
}

func (n *Node) rollback(ctx context.Context, params json.RawMessage) (any, error) {
	var depth *quantity
	if err := rpc.UnmarshalParams(params, 0, &depth); err != nil {
		return nil, err
	}

	d := uint64(1)
	if depth != nil {
		d = uint64(*depth)
	}

	info, err := n.Rollback(ctx, d)
	if errors.Is(err, chain.ErrRollbackTooDeep) {
		return nil, rpc.InvalidParams(err.Error())
	} else if err != nil {
		return nil, err
	}

	n.l.With(log.F{
		"blocks": info.BlocksReverted,
		"height": info.Chain.Height,
	}).Debug("rolled back")
	return nil, nil
}

func (n *Node) reset(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, n.Reset(ctx)
}

func (n *Node) listSnapshots(_ context.Context, _ json.RawMessage) (any, error) {
	out := make(map[hexutil.Uint64]hexutil.Uint64)
	for id, h := range n.Snapshots() {
		out[hexutil.Uint64(id)] = hexutil.Uint64(h)
	}
	return out, nil
}

func (n *Node) mine(ctx context.Context, params json.RawMessage) (any, error) {
	var count *quantity
	if err := rpc.UnmarshalParams(params, 0, &count); err != nil {
		return nil, err
	}

	c := uint64(1)
	if count != nil {
		c = uint64(*count)
	}
	if _, err := n.Mine(ctx, c); err != nil {
		return nil, err
	}
	return "0x0", nil
}

func (n *Node) setBalance(_ context.Context, params json.RawMessage) (any, error) {
	var (
		addr common.Address
		bal  hexutil.Big
	)
	if err := rpc.UnmarshalParams(params, 2, &addr, &bal); err != nil {
		return nil, err
	}

	v, overflow := uint256.FromBig(bal.ToInt())
	if overflow || bal.ToInt().Sign() < 0 {
		return nil, rpc.InvalidParams(fmt.Sprintf("balance out of range: %s", bal.String()))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.state.SetBalance(addr, v)
	return nil, nil
}

func (n *Node) setStorageAt(_ context.Context, params json.RawMessage) (any, error) {
	var (
		addr        common.Address
		slot, value common.Hash
	)
	if err := rpc.UnmarshalParams(params, 3, &addr, &slot, &value); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.state.SetStorage(addr, slot, value)
	return true, nil
}

func (n *Node) setLoggingEnabled(_ context.Context, params json.RawMessage) (any, error) {
	var enabled bool
	if err := rpc.UnmarshalParams(params, 1, &enabled); err != nil {
		return nil, err
	}

	n.logging.Store(enabled)
	return nil, nil
}
