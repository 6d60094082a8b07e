// Package evm holds the in-memory state of a node without a persistent
// chain, and checkpoints it.
package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage map[common.Hash]common.Hash
}

func newAccount() *Account {
	return &Account{
		Balance: new(uint256.Int),
		Storage: make(map[common.Hash]common.Hash),
	}
}

func (a *Account) Copy() *Account {
	cp := &Account{
		Nonce:   a.Nonce,
		Balance: a.Balance.Clone(),
		Code:    common.CopyBytes(a.Code),
		Storage: make(map[common.Hash]common.Hash, len(a.Storage)),
	}
	for k, v := range a.Storage {
		cp.Storage[k] = v
	}
	return cp
}

// JournaledState is the live, uncommitted execution state: touched accounts
// and the logs emitted so far.
type JournaledState struct {
	State map[common.Address]*Account
	Logs  []*types.Log
}

func NewJournaledState() *JournaledState {
	return &JournaledState{State: make(map[common.Address]*Account)}
}

func (s *JournaledState) Copy() *JournaledState {
	cp := &JournaledState{
		State: make(map[common.Address]*Account, len(s.State)),
		Logs:  copyLogs(s.Logs),
	}
	for addr, acc := range s.State {
		cp.State[addr] = acc.Copy()
	}
	return cp
}

func (s *JournaledState) account(addr common.Address) *Account {
	acc, ok := s.State[addr]
	if !ok {
		acc = newAccount()
		s.State[addr] = acc
	}
	return acc
}

func (s *JournaledState) Balance(addr common.Address) *uint256.Int {
	if acc, ok := s.State[addr]; ok {
		return acc.Balance.Clone()
	}
	return new(uint256.Int)
}

func (s *JournaledState) SetBalance(addr common.Address, v *uint256.Int) {
	s.account(addr).Balance = v.Clone()
}

func (s *JournaledState) Storage(addr common.Address, slot common.Hash) common.Hash {
	if acc, ok := s.State[addr]; ok {
		return acc.Storage[slot]
	}
	return common.Hash{}
}

func (s *JournaledState) SetStorage(addr common.Address, slot, v common.Hash) {
	s.account(addr).Storage[slot] = v
}

func (s *JournaledState) AddLogs(logs ...*types.Log) {
	s.Logs = append(s.Logs, logs...)
}

func copyLogs(logs []*types.Log) []*types.Log {
	if logs == nil {
		return nil
	}
	out := make([]*types.Log, len(logs))
	for i, l := range logs {
		cp := *l
		cp.Topics = append([]common.Hash(nil), l.Topics...)
		cp.Data = common.CopyBytes(l.Data)
		out[i] = &cp
	}
	return out
}

type BlockEnv struct {
	Number    uint64
	Timestamp uint64
	Coinbase  common.Address
	GasLimit  uint64
	BaseFee   *uint256.Int
}

// Env is the execution environment captured with a checkpoint.
type Env struct {
	ChainID uint64
	Block   BlockEnv
}

func (e Env) Copy() Env {
	cp := e
	if e.Block.BaseFee != nil {
		cp.Block.BaseFee = e.Block.BaseFee.Clone()
	}
	return cp
}
