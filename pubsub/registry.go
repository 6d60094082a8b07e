package pubsub

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/lthibault/log"

	"github.com/blocknative/devnode/rpc"
)

const producerBuffer = 128

var (
	ErrClosed       = errors.New("connection closed")
	ErrSourceClosed = errors.New("event source closed")
)

// Notifier delivers notifications to the subscriber. Notify must not block
// for long; returning an error ends the subscription.
type Notifier interface {
	Notify(Notification) error
}

type NotifierFunc func(Notification) error

func (f NotifierFunc) Notify(n Notification) error { return f(n) }

type producer struct {
	kind   Kind
	cancel context.CancelFunc
	ready  chan struct{}
	active bool
	done   chan struct{}
}

// Registry tracks the subscriptions of one connection. Every subscription
// runs a producer goroutine until it is unsubscribed, the connection is
// closed or the producer fails.
type Registry struct {
	l   log.Logger
	src Source
	n   Notifier
	m   *Metrics

	mu     sync.Mutex
	subs   map[ID]*producer
	closed bool
}

func NewRegistry(l log.Logger, src Source, n Notifier, m *Metrics) *Registry {
	return &Registry{
		l:    l,
		src:  src,
		n:    n,
		m:    m,
		subs: make(map[ID]*producer),
	}
}

// Subscribe validates the request and starts a producer. Notifications are
// held back until Activate is called, so the subscription id reaches the
// client before the first event.
func (r *Registry) Subscribe(kind Kind, params Params) (ID, error) {
	switch {
	case kind == KindLogs && params.Filter == nil:
		return "", rpc.InvalidParams("logs subscription requires a filter")
	case kind != KindLogs && params.Filter != nil:
		return "", rpc.InvalidParams(fmt.Sprintf("%s subscription takes no filter", kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}

	id := newID()
	for _, taken := r.subs[id]; taken; _, taken = r.subs[id] {
		id = newID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{
		kind:   kind,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.subs[id] = p
	r.m.Active.WithLabelValues(string(kind)).Inc()

	go r.run(ctx, id, p, r.source(id, p, params.Filter))
	return id, nil
}

// Activate releases notifications of every subscription created so far.
func (r *Registry) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.subs {
		if !p.active {
			p.active = true
			close(p.ready)
		}
	}
}

// Unsubscribe stops the producer of id and waits for it to exit. It returns
// false if id is not a live subscription of this connection.
func (r *Registry) Unsubscribe(id ID) bool {
	r.mu.Lock()
	p, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	p.cancel()
	<-p.done
	r.m.Active.WithLabelValues(string(p.kind)).Dec()
	return true
}

// Close stops every producer and waits for all of them. Subscribe fails
// afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = make(map[ID]*producer)
	r.mu.Unlock()

	for _, p := range subs {
		p.cancel()
	}
	for _, p := range subs {
		<-p.done
		r.m.Active.WithLabelValues(string(p.kind)).Dec()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// source subscribes to the event source right away, so no event published
// after Subscribe returns is missed. The returned func pumps events until
// ctx is cancelled.
func (r *Registry) source(id ID, p *producer, f *Filter) func(context.Context) error {
	drop := func() { r.m.Discarded.WithLabelValues(string(p.kind)).Inc() }

	switch p.kind {
	case KindNewHeads:
		ch := make(chan *types.Header, producerBuffer)
		sub := r.src.SubscribeNewHeads(ch)
		return func(ctx context.Context) error {
			return pump(ctx, p.ready, sub, ch, func(h *types.Header) error {
				return r.notify(id, p.kind, h)
			}, drop)
		}
	case KindLogs:
		ch := make(chan []*types.Log, producerBuffer)
		sub := r.src.SubscribeLogs(ch)
		return func(ctx context.Context) error {
			return pump(ctx, p.ready, sub, ch, func(logs []*types.Log) error {
				for _, lg := range logs {
					if !f.Matches(lg) {
						continue
					}
					if err := r.notify(id, p.kind, lg); err != nil {
						return err
					}
				}
				return nil
			}, drop)
		}
	case KindNewPendingTransactions:
		ch := make(chan common.Hash, producerBuffer)
		sub := r.src.SubscribePendingTransactions(ch)
		return func(ctx context.Context) error {
			return pump(ctx, p.ready, sub, ch, func(h common.Hash) error {
				return r.notify(id, p.kind, h)
			}, drop)
		}
	default:
		ch := make(chan SyncStatus, producerBuffer)
		sub := r.src.SubscribeSyncing(ch)
		return func(ctx context.Context) error {
			return pump(ctx, p.ready, sub, ch, func(s SyncStatus) error {
				return r.notify(id, p.kind, s)
			}, drop)
		}
	}
}

func (r *Registry) run(ctx context.Context, id ID, p *producer, pumpFn func(context.Context) error) {
	defer close(p.done)

	l := r.l.With(log.F{
		"subscription": id,
		"kind":         p.kind,
	})

	err := pumpFn(ctx)
	if err == nil {
		return
	}

	l.WithError(err).Warn("subscription terminated")
	r.m.Terminated.WithLabelValues(string(p.kind)).Inc()

	r.mu.Lock()
	cur, ok := r.subs[id]
	owned := ok && cur == p
	if owned {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if owned {
		r.m.Active.WithLabelValues(string(p.kind)).Dec()
	}
}

func (r *Registry) notify(id ID, kind Kind, result any) error {
	if err := r.n.Notify(newNotification(id, result)); err != nil {
		return err
	}
	r.m.Notifications.WithLabelValues(string(kind)).Inc()
	return nil
}

// pump forwards events from ch to emit until ctx is cancelled. It returns a
// non nil error only when the producer failed. Until ready is closed events
// are held in a backlog of at most producerBuffer entries; overflow is passed
// to drop so the publisher never waits on an inactive subscription.
func pump[T any](ctx context.Context, ready <-chan struct{}, sub event.Subscription, ch <-chan T, emit func(T) error, drop func()) error {
	defer sub.Unsubscribe()

	var backlog []T
wait:
	for {
		select {
		case <-ready:
			break wait
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return sourceErr(err)
		case v := <-ch:
			if len(backlog) == producerBuffer {
				drop()
				continue
			}
			backlog = append(backlog, v)
		}
	}

	for _, v := range backlog {
		if err := emit(v); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return sourceErr(err)
		case v := <-ch:
			if err := emit(v); err != nil {
				return err
			}
		}
	}
}

func sourceErr(err error) error {
	if err == nil {
		return ErrSourceClosed
	}
	return err
}

func newID() ID {
	u := uuid.New()
	return ID("0x" + hex.EncodeToString(u[:]))
}
