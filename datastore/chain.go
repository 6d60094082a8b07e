package datastore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/lthibault/log"
	"github.com/pkg/errors"

	"github.com/blocknative/devnode/chain"
)

var (
	ErrUnknownBlock = errors.New("unknown block")
	ErrNotNext      = errors.New("block does not extend the head")
	ErrPastGenesis  = errors.New("cannot revert past genesis")
)

const headersPrefix = "/headers"

var headKey = ds.NewKey("/head")

func headerKey(n uint64) ds.Key {
	return ds.NewKey(fmt.Sprintf("%s/%020d", headersPrefix, n))
}

// Chain stores canonical block headers by height in a go-datastore. It is
// the block store of a node backed by a persistent chain.
type Chain struct {
	l  log.Logger
	ds ds.Batching

	mu     sync.RWMutex
	height uint64
	cache  *lru.Cache[uint64, *types.Header]

	m *ChainMetrics
}

// NewChain opens the chain kept in d, writing genesis first if d is empty.
func NewChain(ctx context.Context, l log.Logger, d ds.Batching, genesis *types.Header, cacheSize int) (*Chain, error) {
	cache, err := lru.New[uint64, *types.Header](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	c := &Chain{
		l:     l.WithField("subService", "chain-store"),
		ds:    d,
		cache: cache,
		m:     &ChainMetrics{},
	}
	c.initMetrics()

	raw, err := d.Get(ctx, headKey)
	switch {
	case errors.Is(err, ds.ErrNotFound):
		if err := c.writeGenesis(ctx, genesis); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrap(err, "read head")
	default:
		if len(raw) != 8 {
			return nil, fmt.Errorf("corrupt head record of %d bytes", len(raw))
		}
		c.height = binary.BigEndian.Uint64(raw)
	}

	c.m.Height.Set(float64(c.height))
	return c, nil
}

func (c *Chain) writeGenesis(ctx context.Context, genesis *types.Header) error {
	b, err := c.ds.Batch(ctx)
	if err != nil {
		return errors.Wrap(err, "open batch")
	}
	if err := putHeader(ctx, b, 0, genesis); err != nil {
		return err
	}
	if err := b.Put(ctx, headKey, encodeHeight(0)); err != nil {
		return errors.Wrap(err, "write head")
	}
	if err := b.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit genesis")
	}

	c.height = 0
	c.cache.Add(0, genesis)
	return nil
}

func (c *Chain) CurrentHeight(_ context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.height, nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, n uint64) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.header(ctx, n)
}

func (c *Chain) Head(ctx context.Context) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.header(ctx, c.height)
}

func (c *Chain) header(ctx context.Context, n uint64) (*types.Header, error) {
	if n > c.height {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, n)
	}

	if h, ok := c.cache.Get(n); ok {
		c.m.CacheHits.WithLabelValues("hit").Inc()
		return h, nil
	}
	c.m.CacheHits.WithLabelValues("miss").Inc()

	raw, err := c.ds.Get(ctx, headerKey(n))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, n)
	} else if err != nil {
		return nil, errors.Wrapf(err, "read header %d", n)
	}

	h := new(types.Header)
	if err := rlp.DecodeBytes(raw, h); err != nil {
		return nil, errors.Wrapf(err, "decode header %d", n)
	}
	c.cache.Add(n, h)
	return h, nil
}

// Append stores h as the new head. h must be numbered one above the head.
func (c *Chain) Append(ctx context.Context, h *types.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.Number == nil || !h.Number.IsUint64() || h.Number.Uint64() != c.height+1 {
		return fmt.Errorf("%w: got %v, head %d", ErrNotNext, h.Number, c.height)
	}
	n := c.height + 1

	b, err := c.ds.Batch(ctx)
	if err != nil {
		return errors.Wrap(err, "open batch")
	}
	if err := putHeader(ctx, b, n, h); err != nil {
		return err
	}
	if err := b.Put(ctx, headKey, encodeHeight(n)); err != nil {
		return errors.Wrap(err, "write head")
	}
	if err := b.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit block")
	}

	c.height = n
	c.cache.Add(n, h)
	c.m.Height.Set(float64(n))
	return nil
}

// Revert drops the newest n headers in one batch.
func (c *Chain) Revert(ctx context.Context, n uint64) (chain.Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.height {
		return chain.Info{}, fmt.Errorf("%w: %d blocks from height %d", ErrPastGenesis, n, c.height)
	}

	target := c.height - n
	if n > 0 {
		b, err := c.ds.Batch(ctx)
		if err != nil {
			return chain.Info{}, errors.Wrap(err, "open batch")
		}
		for h := c.height; h > target; h-- {
			if err := b.Delete(ctx, headerKey(h)); err != nil {
				return chain.Info{}, errors.Wrapf(err, "delete header %d", h)
			}
		}
		if err := b.Put(ctx, headKey, encodeHeight(target)); err != nil {
			return chain.Info{}, errors.Wrap(err, "write head")
		}
		if err := b.Commit(ctx); err != nil {
			return chain.Info{}, errors.Wrap(err, "commit revert")
		}

		for h := c.height; h > target; h-- {
			c.cache.Remove(h)
		}
		c.height = target
		c.m.Height.Set(float64(target))
	}

	head, err := c.header(ctx, target)
	if err != nil {
		return chain.Info{}, err
	}
	return chain.Info{Height: target, Hash: head.Hash()}, nil
}

// Reset deletes every stored header and starts over from genesis.
func (c *Chain) Reset(ctx context.Context, genesis *types.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.ds.Query(ctx, query.Query{Prefix: headersPrefix, KeysOnly: true})
	if err != nil {
		return errors.Wrap(err, "list headers")
	}
	entries, err := res.Rest()
	if err != nil {
		return errors.Wrap(err, "list headers")
	}

	b, err := c.ds.Batch(ctx)
	if err != nil {
		return errors.Wrap(err, "open batch")
	}
	for _, e := range entries {
		if err := b.Delete(ctx, ds.NewKey(e.Key)); err != nil {
			return errors.Wrapf(err, "delete %s", e.Key)
		}
	}
	if err := b.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit reset")
	}

	c.cache.Purge()
	if err := c.writeGenesis(ctx, genesis); err != nil {
		return err
	}
	c.m.Height.Set(0)
	return nil
}

func putHeader(ctx context.Context, b ds.Batch, n uint64, h *types.Header) error {
	raw, err := rlp.EncodeToBytes(h)
	if err != nil {
		return errors.Wrapf(err, "encode header %d", n)
	}
	return errors.Wrapf(b.Put(ctx, headerKey(n), raw), "write header %d", n)
}

func encodeHeight(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
