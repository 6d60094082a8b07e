package pubsub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blocknative/devnode/rpc"
)

// NotificationMethod is the method name of every pushed notification.
const NotificationMethod = "eth_subscription"

var ErrUnknownKind = errors.New("unknown subscription kind")

type Kind string

const (
	KindNewHeads               Kind = "newHeads"
	KindLogs                   Kind = "logs"
	KindNewPendingTransactions Kind = "newPendingTransactions"
	KindSyncing                Kind = "syncing"
)

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	switch v := Kind(s); v {
	case KindNewHeads, KindLogs, KindNewPendingTransactions, KindSyncing:
		*k = v
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ID identifies a subscription within one connection.
type ID string

// Params holds the optional subscription argument. A nil Filter means no
// filter was given.
type Params struct {
	Filter *Filter
}

func (p *Params) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*p = Params{}
		return nil
	}

	var f Filter
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = Params{Filter: &f}
	return nil
}

// Filter restricts a logs subscription. Empty fields match everything.
type Filter struct {
	ethereum.FilterQuery
}

type filterJSON struct {
	BlockHash *common.Hash      `json:"blockHash"`
	FromBlock *string           `json:"fromBlock"`
	ToBlock   *string           `json:"toBlock"`
	Address   json.RawMessage   `json:"address"`
	Topics    []json.RawMessage `json:"topics"`
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw filterJSON

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	var (
		q   ethereum.FilterQuery
		err error
	)
	q.BlockHash = raw.BlockHash
	if q.FromBlock, err = parseBlock(raw.FromBlock); err != nil {
		return err
	}
	if q.ToBlock, err = parseBlock(raw.ToBlock); err != nil {
		return err
	}
	if q.BlockHash != nil && (q.FromBlock != nil || q.ToBlock != nil) {
		return errors.New("invalid filter: blockHash excludes fromBlock and toBlock")
	}

	if q.Addresses, err = parseAddresses(raw.Address); err != nil {
		return err
	}

	for i, t := range raw.Topics {
		sub, err := parseTopic(t)
		if err != nil {
			return fmt.Errorf("invalid topic %d: %w", i, err)
		}
		q.Topics = append(q.Topics, sub)
	}

	f.FilterQuery = q
	return nil
}

// parseBlock returns nil for tags without a fixed height.
func parseBlock(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}

	switch *s {
	case "latest", "pending", "safe", "finalized":
		return nil, nil
	case "earliest":
		return new(big.Int), nil
	}

	n, err := hexutil.DecodeBig(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid block number %q: %w", *s, err)
	}
	return n, nil
}

func parseAddresses(b json.RawMessage) ([]common.Address, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}

	if b[0] == '[' {
		var addrs []common.Address
		if err := json.Unmarshal(b, &addrs); err != nil {
			return nil, fmt.Errorf("invalid address list: %w", err)
		}
		return addrs, nil
	}

	var a common.Address
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	return []common.Address{a}, nil
}

func parseTopic(b json.RawMessage) ([]common.Hash, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil, nil
	}

	if len(b) > 0 && b[0] == '[' {
		var hs []*common.Hash
		if err := json.Unmarshal(b, &hs); err != nil {
			return nil, err
		}
		var out []common.Hash
		for _, h := range hs {
			// a null inside an alternatives list makes the position a wildcard
			if h == nil {
				return nil, nil
			}
			out = append(out, *h)
		}
		return out, nil
	}

	var h common.Hash
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, err
	}
	return []common.Hash{h}, nil
}

// Matches reports whether l passes the filter.
func (f *Filter) Matches(l *types.Log) bool {
	if f.BlockHash != nil && l.BlockHash != *f.BlockHash {
		return false
	}
	if f.FromBlock != nil && f.FromBlock.Sign() >= 0 && f.FromBlock.Uint64() > l.BlockNumber {
		return false
	}
	if f.ToBlock != nil && f.ToBlock.Sign() >= 0 && f.ToBlock.Uint64() < l.BlockNumber {
		return false
	}

	if len(f.Addresses) > 0 && !containsAddress(f.Addresses, l.Address) {
		return false
	}

	if len(f.Topics) > len(l.Topics) {
		return false
	}
	for i, sub := range f.Topics {
		if len(sub) == 0 {
			continue
		}
		if !containsHash(sub, l.Topics[i]) {
			return false
		}
	}
	return true
}

func containsAddress(as []common.Address, a common.Address) bool {
	for _, x := range as {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(hs []common.Hash, h common.Hash) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

// SyncStatus is pushed to syncing subscribers.
type SyncStatus struct {
	Syncing bool `json:"syncing"`
}

type Notification struct {
	Version string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

type NotificationParams struct {
	Subscription ID  `json:"subscription"`
	Result       any `json:"result"`
}

func newNotification(id ID, result any) Notification {
	return Notification{
		Version: rpc.Version,
		Method:  NotificationMethod,
		Params:  NotificationParams{Subscription: id, Result: result},
	}
}
