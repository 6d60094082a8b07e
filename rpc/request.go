package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyBatch   = errors.New("empty batch")
	ErrNotACall     = errors.New("not a call object")
	ErrRequestShape = errors.New("request must be an object or an array")
)

type CallKind uint8

const (
	KindMethodCall CallKind = iota
	KindNotification
	KindInvalid
)

func (k CallKind) String() string {
	switch k {
	case KindMethodCall:
		return "call"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Call is one classified inbound call. Method and Params are only set for
// method calls and notifications; ID is unset for notifications.
type Call struct {
	Kind   CallKind
	ID     ID
	Method string
	Params json.RawMessage
}

type Request struct {
	Batch bool
	Calls []Call
}

var callFields = map[string]struct{}{
	"jsonrpc": {},
	"method":  {},
	"params":  {},
	"id":      {},
}

// DecodeRequest parses a raw payload into a single call or a batch. An object
// that is not a well formed call is classified as invalid, keeping its id when
// it has one. A non object element or an unusable id fails the whole decode.
func DecodeRequest(raw []byte) (Request, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Request{}, ErrEmptyPayload
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Request{}, err
		}
		if len(items) == 0 {
			return Request{}, ErrEmptyBatch
		}

		calls := make([]Call, 0, len(items))
		for i, item := range items {
			c, err := classify(item)
			if err != nil {
				return Request{}, fmt.Errorf("batch element %d: %w", i, err)
			}
			calls = append(calls, c)
		}
		return Request{Batch: true, Calls: calls}, nil

	case '{':
		c, err := classify(raw)
		if err != nil {
			return Request{}, err
		}
		return Request{Calls: []Call{c}}, nil
	}

	return Request{}, ErrRequestShape
}

func classify(raw json.RawMessage) (Call, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Call{}, ErrNotACall
	}

	if c, ok := strictCall(fields); ok {
		return c, nil
	}

	rawID, ok := fields["id"]
	if !ok {
		return Call{Kind: KindInvalid, ID: NullID}, nil
	}
	var id ID
	if err := json.Unmarshal(rawID, &id); err != nil {
		return Call{}, err
	}
	return Call{Kind: KindInvalid, ID: id}, nil
}

func strictCall(fields map[string]json.RawMessage) (c Call, ok bool) {
	for k := range fields {
		if _, known := callFields[k]; !known {
			return c, false
		}
	}

	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != Version {
		return c, false
	}
	if err := json.Unmarshal(fields["method"], &c.Method); err != nil {
		return c, false
	}

	if p, present := fields["params"]; present {
		p = bytes.TrimSpace(p)
		if len(p) == 0 || (p[0] != '[' && p[0] != '{' && !bytes.Equal(p, []byte("null"))) {
			return c, false
		}
		c.Params = p
	}

	rawID, present := fields["id"]
	if !present {
		c.Kind = KindNotification
		return c, true
	}
	if err := json.Unmarshal(rawID, &c.ID); err != nil {
		return c, false
	}
	c.Kind = KindMethodCall
	return c, true
}

// UnmarshalParams decodes positional params into dst. At least required
// elements must be present; trailing optional ones may be omitted, in which
// case the matching dst values are left untouched.
func UnmarshalParams(raw json.RawMessage, required int, dst ...any) error {
	var items []json.RawMessage

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return InvalidParams("params must be an array")
		}
	}

	if len(items) < required || len(items) > len(dst) {
		return InvalidParams(fmt.Sprintf("expected %d to %d params, got %d", required, len(dst), len(items)))
	}

	for i, item := range items {
		if err := json.Unmarshal(item, dst[i]); err != nil {
			return InvalidParams(fmt.Sprintf("invalid param %d: %v", i, err))
		}
	}
	return nil
}
