package node_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/lthibault/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/blocknative/devnode/datastore"
	"github.com/blocknative/devnode/node"
	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/rpc"
)

var (
	logger = log.New(log.WithWriter(io.Discard))
	conf   = node.Config{ChainID: 31337, GasLimit: 30_000_000, GenesisTimestamp: 1}
	alice  = common.HexToAddress("0xa11ce")
)

func newMemory(t *testing.T) *node.Node {
	t.Helper()
	return node.NewMemory(logger, conf, pubsub.NewHub(), atomic.NewBool(false))
}

func newPersistent(t *testing.T) *node.Node {
	t.Helper()

	ctx := context.Background()
	store, err := datastore.NewChain(ctx, logger, dssync.MutexWrap(ds.NewMapDatastore()), node.Genesis(conf), 16)
	require.NoError(t, err)
	return node.NewPersistent(logger, conf, store, pubsub.NewHub(), atomic.NewBool(false))
}

func call(t *testing.T, n *node.Node, method string, params ...any) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	res, err := n.Execute(context.Background(), method, raw)
	require.NoError(t, err, method)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	return out
}

func callErr(t *testing.T, n *node.Node, method string, params ...any) *rpc.Error {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), method, raw)
	require.Error(t, err, method)
	return rpc.AsError(err)
}

func height(t *testing.T, n *node.Node) uint64 {
	t.Helper()

	var h hexutil.Uint64
	require.NoError(t, json.Unmarshal(call(t, n, "eth_blockNumber"), &h))
	return uint64(h)
}

func TestStaticMethods(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	require.JSONEq(t, `"0x7a69"`, string(call(t, n, "eth_chainId")))
	require.JSONEq(t, `"31337"`, string(call(t, n, "net_version")))
	require.JSONEq(t, `false`, string(call(t, n, "eth_syncing")))
	require.JSONEq(t, `"`+node.DefaultClientVersion+`"`, string(call(t, n, "web3_clientVersion")))
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()

	e := callErr(t, newMemory(t), "eth_sendMagic")
	require.Equal(t, rpc.CodeMethodNotFound, e.Code)
}

func TestSubscribeOverPlainHandler(t *testing.T) {
	t.Parallel()

	e := callErr(t, newMemory(t), "eth_subscribe", "newHeads")
	require.Equal(t, rpc.CodeMethodNotFound, e.Code)
	require.Equal(t, "notifications not supported", e.Message)
}

func TestMemorySnapshotRevert(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	call(t, n, "anvil_setBalance", alice, "0x64")
	call(t, n, "evm_mine", "0x3")
	require.EqualValues(t, 3, height(t, n))

	id := call(t, n, "evm_snapshot")
	require.JSONEq(t, `"0x0"`, string(id))

	call(t, n, "anvil_setBalance", alice, "0x1")
	call(t, n, "anvil_mine", 2)
	require.EqualValues(t, 5, height(t, n))

	require.JSONEq(t, `true`, string(call(t, n, "evm_revert", "0x0")))
	require.EqualValues(t, 3, height(t, n))
	require.JSONEq(t, `"0x64"`, string(call(t, n, "eth_getBalance", alice, "latest")))

	// consumed by the revert
	require.JSONEq(t, `false`, string(call(t, n, "evm_revert", "0x0")))
}

func TestMemoryCascadingRevert(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	call(t, n, "evm_snapshot")
	call(t, n, "evm_mine")
	call(t, n, "evm_snapshot")
	call(t, n, "evm_mine")
	call(t, n, "evm_snapshot")

	require.JSONEq(t, `{"0x0":"0x0","0x1":"0x1","0x2":"0x2"}`, string(call(t, n, "anvil_listSnapshots")))

	require.JSONEq(t, `true`, string(call(t, n, "anvil_revert", 1)))
	require.JSONEq(t, `{"0x0":"0x0"}`, string(call(t, n, "anvil_listSnapshots")))
	require.JSONEq(t, `false`, string(call(t, n, "evm_revert", 2)))

	// ids are never reused
	require.JSONEq(t, `"0x3"`, string(call(t, n, "evm_snapshot")))
}

func TestStorage(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	slot := common.HexToHash("0x02")
	val := common.HexToHash("0xbeef")

	require.JSONEq(t, `true`, string(call(t, n, "anvil_setStorageAt", alice, slot, val)))
	require.JSONEq(t, `"`+val.Hex()+`"`, string(call(t, n, "eth_getStorageAt", alice, slot, "latest")))

	e := callErr(t, n, "anvil_setStorageAt", alice)
	require.Equal(t, rpc.CodeInvalidParams, e.Code)
}

func TestSetBalanceRejectsNegative(t *testing.T) {
	t.Parallel()

	e := callErr(t, newMemory(t), "anvil_setBalance", alice, "-0x1")
	require.Equal(t, rpc.CodeInvalidParams, e.Code)
}

func TestGetBlockByNumber(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	call(t, n, "evm_mine", 2)

	var h types.Header
	require.NoError(t, json.Unmarshal(call(t, n, "eth_getBlockByNumber", "latest", false), &h))
	require.EqualValues(t, 2, h.Number.Uint64())

	require.NoError(t, json.Unmarshal(call(t, n, "eth_getBlockByNumber", "earliest", false), &h))
	require.EqualValues(t, 0, h.Number.Uint64())

	require.JSONEq(t, `null`, string(call(t, n, "eth_getBlockByNumber", "0x9", false)))

	e := callErr(t, n, "eth_getBlockByNumber", "sideways")
	require.Equal(t, rpc.CodeInvalidParams, e.Code)
}

func TestMinedBlocksLinkUp(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	mined, err := n.Mine(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, mined, 3)

	for i := 1; i < len(mined); i++ {
		require.Equal(t, mined[i-1].Hash(), mined[i].ParentHash)
		require.Greater(t, mined[i].Time, mined[i-1].Time)
	}
}

func TestPersistentSnapshotRevert(t *testing.T) {
	t.Parallel()

	n := newPersistent(t)
	call(t, n, "evm_mine", 10)
	id := call(t, n, "evm_snapshot")
	call(t, n, "evm_mine", 5)
	require.EqualValues(t, 15, height(t, n))

	var sid hexutil.Uint64
	require.NoError(t, json.Unmarshal(id, &sid))

	require.JSONEq(t, `true`, string(call(t, n, "evm_revert", sid)))
	require.EqualValues(t, 10, height(t, n))
	require.JSONEq(t, `{}`, string(call(t, n, "anvil_listSnapshots")))
}

func TestRollback(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		n    func(*testing.T) *node.Node
	}{
		{"memory", newMemory},
		{"persistent", newPersistent},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n := tc.n(t)
			call(t, n, "evm_mine", 4)

			call(t, n, "anvil_rollback")
			require.EqualValues(t, 3, height(t, n))

			call(t, n, "anvil_rollback", 2)
			require.EqualValues(t, 1, height(t, n))

			e := callErr(t, n, "anvil_rollback", 5)
			require.Equal(t, rpc.CodeInvalidParams, e.Code)
			require.EqualValues(t, 1, height(t, n))
		})
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		n    func(*testing.T) *node.Node
	}{
		{"memory", newMemory},
		{"persistent", newPersistent},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n := tc.n(t)
			call(t, n, "anvil_setBalance", alice, "0x10")
			call(t, n, "evm_mine", 3)
			call(t, n, "evm_snapshot")

			call(t, n, "anvil_reset")
			require.EqualValues(t, 0, height(t, n))
			require.JSONEq(t, `"0x0"`, string(call(t, n, "eth_getBalance", alice)))
			require.JSONEq(t, `{}`, string(call(t, n, "anvil_listSnapshots")))
		})
	}
}

func TestLoggingToggle(t *testing.T) {
	t.Parallel()

	logging := atomic.NewBool(false)
	n := node.NewMemory(logger, conf, pubsub.NewHub(), logging)

	call(t, n, "anvil_setLoggingEnabled", true)
	require.True(t, logging.Load())

	call(t, n, "anvil_setLoggingEnabled", false)
	require.False(t, logging.Load())
}

func TestMinePublishesHeads(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n := node.NewMemory(logger, conf, hub, nil)

	ch := make(chan *types.Header, 4)
	sub := hub.SubscribeNewHeads(ch)
	defer sub.Unsubscribe()

	call(t, n, "evm_mine", 2)
	require.EqualValues(t, 1, (<-ch).Number.Uint64())
	require.EqualValues(t, 2, (<-ch).Number.Uint64())
}

func TestAddLogsStampsPosition(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n := node.NewMemory(logger, conf, hub, nil)

	ch := make(chan []*types.Log, 1)
	sub := hub.SubscribeLogs(ch)
	defer sub.Unsubscribe()

	require.NoError(t, n.AddLogs(context.Background(), &types.Log{Address: alice}, &types.Log{Address: alice}))

	logs := <-ch
	require.Len(t, logs, 2)
	require.EqualValues(t, 1, logs[0].BlockNumber)
	require.EqualValues(t, 0, logs[0].Index)
	require.EqualValues(t, 1, logs[1].Index)
}

func TestPendingTransactionReachesSubscribers(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n := node.NewMemory(logger, conf, hub, nil)

	ch := make(chan pubsub.Notification, 1)
	reg := pubsub.NewRegistry(logger, hub, pubsub.NotifierFunc(func(nt pubsub.Notification) error {
		ch <- nt
		return nil
	}), pubsub.NewMetrics())
	defer reg.Close()

	id, err := reg.Subscribe(pubsub.KindNewPendingTransactions, pubsub.Params{})
	require.NoError(t, err)
	reg.Activate()

	hash := common.HexToHash("0xfeed")
	n.AddPendingTransaction(hash)

	var got pubsub.Notification
	select {
	case got = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	b, err := json.Marshal(got)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"jsonrpc": "2.0",
		"method": "eth_subscription",
		"params": {"subscription": "`+string(id)+`", "result": "`+hash.Hex()+`"}
	}`, string(b))
}

// Snapshots that survive concurrent reverts were all taken at or below the
// current head.
func TestWriterDiscipline(t *testing.T) {
	t.Parallel()

	n := newMemory(t)
	ctx := context.Background()

	errs := make(chan error, 9)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id, err := n.Snapshot(ctx)
				if err == nil {
					_, err = n.Mine(ctx, 1)
				}
				if err == nil {
					_, err = n.Revert(ctx, id)
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			if _, err := n.Execute(ctx, "eth_blockNumber", nil); err != nil {
				errs <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	head := height(t, n)
	for _, h := range n.Snapshots() {
		require.LessOrEqual(t, h, head)
	}
}
