package evm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrUnknownBlock = errors.New("unknown block")
	ErrNotNext      = errors.New("block does not extend the head")
	ErrPastGenesis  = errors.New("cannot revert past genesis")
)

// MemDB is the database view of the in-memory node: its canonical headers,
// indexed by height. Headers are never mutated once stored, so copies share
// them.
type MemDB struct {
	headers []*types.Header
}

func NewMemDB(genesis *types.Header) *MemDB {
	return &MemDB{headers: []*types.Header{genesis}}
}

func (db *MemDB) Copy() *MemDB {
	return &MemDB{headers: append([]*types.Header(nil), db.headers...)}
}

func (db *MemDB) Height() uint64 {
	return uint64(len(db.headers) - 1)
}

func (db *MemDB) Head() *types.Header {
	return db.headers[len(db.headers)-1]
}

func (db *MemDB) Header(n uint64) (*types.Header, error) {
	if n >= uint64(len(db.headers)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, n)
	}
	return db.headers[n], nil
}

func (db *MemDB) Append(h *types.Header) error {
	if h.Number == nil || !h.Number.IsUint64() || h.Number.Uint64() != db.Height()+1 {
		return fmt.Errorf("%w: got %v, head %d", ErrNotNext, h.Number, db.Height())
	}
	db.headers = append(db.headers, h)
	return nil
}

// Truncate drops the newest n headers. Genesis always stays.
func (db *MemDB) Truncate(n uint64) error {
	if n > db.Height() {
		return fmt.Errorf("%w: %d blocks from height %d", ErrPastGenesis, n, db.Height())
	}
	db.headers = db.headers[:uint64(len(db.headers))-n]
	return nil
}
