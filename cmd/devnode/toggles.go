package main

import (
	"sort"

	"go.uber.org/atomic"

	"github.com/blocknative/devnode/api/inner"
)

// toggles exposes runtime switches to the internal API.
type toggles map[string]*atomic.Bool

func (t toggles) GetBool(key string) (bool, error) {
	b, ok := t[key]
	if !ok {
		return false, inner.ErrUnknownKey
	}
	return b.Load(), nil
}

func (t toggles) SetBool(key string, val bool) error {
	b, ok := t[key]
	if !ok {
		return inner.ErrUnknownKey
	}
	b.Store(val)
	return nil
}

func (t toggles) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
