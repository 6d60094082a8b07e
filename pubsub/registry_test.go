package pubsub_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/rpc"
)

var logger = log.New(log.WithWriter(io.Discard))

func newRegistry(src pubsub.Source, n pubsub.Notifier) *pubsub.Registry {
	return pubsub.NewRegistry(logger, src, n, pubsub.NewMetrics())
}

func chanNotifier() (pubsub.Notifier, chan pubsub.Notification) {
	ch := make(chan pubsub.Notification, 64)
	return pubsub.NotifierFunc(func(n pubsub.Notification) error {
		ch <- n
		return nil
	}), ch
}

func receive(t *testing.T, ch <-chan pubsub.Notification) pubsub.Notification {
	t.Helper()

	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	return pubsub.Notification{}
}

// publish retries until a subscriber is attached, since producers
// subscribe to the hub asynchronously.
func publishHead(t *testing.T, hub *pubsub.Hub, h *types.Header) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.PublishHead(h) > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeNewHeads(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n, ch := chanNotifier()
	reg := newRegistry(hub, n)
	defer reg.Close()

	id, err := reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^0x[0-9a-f]{32}$`), string(id))
	reg.Activate()

	publishHead(t, hub, &types.Header{Number: common.Big1})

	got := receive(t, ch)
	require.Equal(t, pubsub.NotificationMethod, got.Method)
	require.Equal(t, id, got.Params.Subscription)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	require.Contains(t, string(b), `"jsonrpc":"2.0"`)
	require.Contains(t, string(b), `"number":"0x1"`)
}

func TestSubscribeValidatesParams(t *testing.T) {
	t.Parallel()

	n, _ := chanNotifier()
	reg := newRegistry(pubsub.NewHub(), n)
	defer reg.Close()

	_, err := reg.Subscribe(pubsub.KindLogs, pubsub.Params{})
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	_, err = reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{Filter: &pubsub.Filter{}})
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	require.Zero(t, reg.Len())
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	t.Parallel()

	n, _ := chanNotifier()
	reg := newRegistry(pubsub.NewHub(), n)
	defer reg.Close()

	seen := map[pubsub.ID]bool{}
	for i := 0; i < 32; i++ {
		id, err := reg.Subscribe(pubsub.KindSyncing, pubsub.Params{})
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
	require.Equal(t, 32, reg.Len())
}

func TestUnsubscribeStopsProducer(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n, ch := chanNotifier()
	reg := newRegistry(hub, n)
	defer reg.Close()

	id, err := reg.Subscribe(pubsub.KindNewPendingTransactions, pubsub.Params{})
	require.NoError(t, err)
	reg.Activate()

	hash := common.HexToHash("0xabc")
	require.Eventually(t, func() bool { return hub.PublishPendingTransaction(hash) > 0 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, hash, receive(t, ch).Params.Result)

	require.True(t, reg.Unsubscribe(id))
	require.Zero(t, hub.PublishPendingTransaction(hash), "producer still attached after unsubscribe returned")
	require.False(t, reg.Unsubscribe(id))
	require.False(t, reg.Unsubscribe("0xdeadbeef"))
}

func TestLogsAreFiltered(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n, ch := chanNotifier()
	reg := newRegistry(hub, n)
	defer reg.Close()

	var p pubsub.Params
	require.NoError(t, json.Unmarshal([]byte(`{"address":"`+addrA.Hex()+`"}`), &p))
	_, err := reg.Subscribe(pubsub.KindLogs, p)
	require.NoError(t, err)
	reg.Activate()

	logs := []*types.Log{
		{Address: addrB, Index: 0},
		{Address: addrA, Index: 1},
		{Address: addrB, Index: 2},
	}
	require.Eventually(t, func() bool { return hub.PublishLogs(logs) > 0 }, 2*time.Second, 5*time.Millisecond)

	got := receive(t, ch)
	lg, ok := got.Params.Result.(*types.Log)
	require.True(t, ok)
	require.EqualValues(t, 1, lg.Index)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected notification %v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNotificationsWaitForActivate(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n, ch := chanNotifier()
	reg := newRegistry(hub, n)
	defer reg.Close()

	_, err := reg.Subscribe(pubsub.KindSyncing, pubsub.Params{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.PublishSyncing(pubsub.SyncStatus{}) > 0 }, 2*time.Second, 5*time.Millisecond)

	select {
	case <-ch:
		t.Fatal("notified before activation")
	case <-time.After(20 * time.Millisecond):
	}

	reg.Activate()
	require.Equal(t, pubsub.SyncStatus{}, receive(t, ch).Params.Result)
}

func TestInactiveSubscriptionDoesNotBlockPublisher(t *testing.T) {
	t.Parallel()

	const (
		held      = 128
		published = 3 * held
	)

	hub := pubsub.NewHub()
	m := pubsub.NewMetrics()
	n, ch := chanNotifier()
	reg := pubsub.NewRegistry(logger, hub, n, m)
	defer reg.Close()

	_, err := reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < published; i++ {
			hub.PublishHead(&types.Header{Number: big.NewInt(int64(i))})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on an inactive subscription")
	}

	discarded := m.Discarded.WithLabelValues(string(pubsub.KindNewHeads))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(discarded) == published-held
	}, 2*time.Second, 5*time.Millisecond)

	reg.Activate()
	for i := 0; i < held; i++ {
		got := receive(t, ch)
		require.EqualValues(t, i, got.Params.Result.(*types.Header).Number.Int64())
	}
}

func TestCloseStopsEverything(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n, _ := chanNotifier()
	reg := newRegistry(hub, n)

	for i := 0; i < 4; i++ {
		_, err := reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return hub.PublishHead(&types.Header{}) == 4 }, 2*time.Second, 5*time.Millisecond)

	reg.Close()
	require.Zero(t, reg.Len())
	require.Zero(t, hub.PublishHead(&types.Header{}))

	_, err := reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{})
	require.ErrorIs(t, err, pubsub.ErrClosed)
}

func TestNotifierFailureEndsSubscription(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	reg := newRegistry(hub, pubsub.NotifierFunc(func(pubsub.Notification) error {
		return errors.New("connection gone")
	}))
	defer reg.Close()

	id, err := reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{})
	require.NoError(t, err)
	reg.Activate()

	publishHead(t, hub, &types.Header{})
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.False(t, reg.Unsubscribe(id))
}

type failingSource struct{ *pubsub.Hub }

func (failingSource) SubscribeNewHeads(chan<- *types.Header) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		return errors.New("source failed")
	})
}

func TestSourceFailureEndsSubscription(t *testing.T) {
	t.Parallel()

	n, ch := chanNotifier()
	reg := newRegistry(failingSource{pubsub.NewHub()}, n)
	defer reg.Close()

	_, err := reg.Subscribe(pubsub.KindNewHeads, pubsub.Params{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, ch)
}

func TestSessionRoutesSubscriptionMethods(t *testing.T) {
	t.Parallel()

	hub := pubsub.NewHub()
	n, _ := chanNotifier()
	reg := newRegistry(hub, n)
	defer reg.Close()

	next := rpc.HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return "next:" + method, nil
	})
	s := pubsub.NewSession(reg, next)
	ctx := context.Background()

	res, err := s.Execute(ctx, "eth_blockNumber", nil)
	require.NoError(t, err)
	require.Equal(t, "next:eth_blockNumber", res)

	res, err = s.Execute(ctx, pubsub.MethodSubscribe, json.RawMessage(`["newHeads"]`))
	require.NoError(t, err)
	id, ok := res.(pubsub.ID)
	require.True(t, ok)

	res, err = s.Execute(ctx, pubsub.MethodSubscribe, json.RawMessage(`["newHeads", null]`))
	require.NoError(t, err)
	require.NotEqual(t, id, res)

	_, err = s.Execute(ctx, pubsub.MethodSubscribe, json.RawMessage(`["logs"]`))
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	_, err = s.Execute(ctx, pubsub.MethodSubscribe, json.RawMessage(`["bogus"]`))
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	_, err = s.Execute(ctx, pubsub.MethodSubscribe, json.RawMessage(`["logs", 5]`))
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	res, err = s.Execute(ctx, pubsub.MethodSubscribe, json.RawMessage(`["logs", {"address":"`+addrA.Hex()+`"}]`))
	require.NoError(t, err)
	logsID := res.(pubsub.ID)

	res, err = s.Execute(ctx, pubsub.MethodUnsubscribe, json.RawMessage(`["`+string(logsID)+`"]`))
	require.NoError(t, err)
	require.Equal(t, true, res)

	res, err = s.Execute(ctx, pubsub.MethodUnsubscribe, json.RawMessage(`["`+string(logsID)+`"]`))
	require.NoError(t, err)
	require.Equal(t, false, res)

	require.Equal(t, 2, reg.Len())
}
