package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// quantity accepts a hex string, a decimal string or a JSON number.
type quantity uint64

func (q *quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			v, err := hexutil.DecodeUint64(s)
			if err != nil {
				return err
			}
			*q = quantity(v)
			return nil
		}

		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid quantity %q", s)
		}
		*q = quantity(v)
		return nil
	}

	var v uint64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*q = quantity(v)
	return nil
}

// blockTag is a block number or one of the named tags.
type blockTag string

const (
	tagLatest   blockTag = "latest"
	tagEarliest blockTag = "earliest"
)

func (t *blockTag) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid block tag %s", b)
		}
		*t = blockTag(hexutil.EncodeUint64(n))
		return nil
	}

	switch s {
	case "latest", "pending", "safe", "finalized", "":
		*t = tagLatest
	case "earliest":
		*t = tagEarliest
	default:
		if _, err := hexutil.DecodeUint64(s); err != nil {
			return fmt.Errorf("invalid block tag %q", s)
		}
		*t = blockTag(s)
	}
	return nil
}

// resolve returns the height the tag refers to, given the current head.
func (t blockTag) resolve(head uint64) uint64 {
	switch t {
	case tagLatest, "":
		return head
	case tagEarliest:
		return 0
	}
	n, _ := hexutil.DecodeUint64(string(t))
	return n
}
