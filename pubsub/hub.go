package pubsub

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Source is where subscription producers get their events from.
type Source interface {
	SubscribeNewHeads(ch chan<- *types.Header) event.Subscription
	SubscribeLogs(ch chan<- []*types.Log) event.Subscription
	SubscribePendingTransactions(ch chan<- common.Hash) event.Subscription
	SubscribeSyncing(ch chan<- SyncStatus) event.Subscription
}

// Hub fans node events out to every subscribed producer. Publishing blocks
// until each subscriber channel accepted the value, so producers keep their
// channels buffered and drain them promptly.
type Hub struct {
	heads   event.Feed
	logs    event.Feed
	pending event.Feed
	syncing event.Feed
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) SubscribeNewHeads(ch chan<- *types.Header) event.Subscription {
	return h.heads.Subscribe(ch)
}

func (h *Hub) SubscribeLogs(ch chan<- []*types.Log) event.Subscription {
	return h.logs.Subscribe(ch)
}

func (h *Hub) SubscribePendingTransactions(ch chan<- common.Hash) event.Subscription {
	return h.pending.Subscribe(ch)
}

func (h *Hub) SubscribeSyncing(ch chan<- SyncStatus) event.Subscription {
	return h.syncing.Subscribe(ch)
}

func (h *Hub) PublishHead(head *types.Header) int {
	return h.heads.Send(head)
}

func (h *Hub) PublishLogs(logs []*types.Log) int {
	if len(logs) == 0 {
		return 0
	}
	return h.logs.Send(logs)
}

func (h *Hub) PublishPendingTransaction(hash common.Hash) int {
	return h.pending.Send(hash)
}

func (h *Hub) PublishSyncing(s SyncStatus) int {
	return h.syncing.Send(s)
}
