package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only protocol version accepted or produced.
const Version = "2.0"

var (
	ErrInvalidID    = errors.New("id must be a number, a string or null")
	ErrEmptyPayload = errors.New("empty payload")
)

// ID is a request id kept as raw JSON so that it is echoed back byte for
// byte. The zero value encodes as null.
type ID json.RawMessage

var NullID = ID("null")

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ErrInvalidID
	}

	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	case bytes.Equal(b, []byte("null")):
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
	default:
		return ErrInvalidID
	}

	*id = append((*id)[:0], b...)
	return nil
}

func (id ID) IsNull() bool {
	return len(id) == 0 || bytes.Equal(id, []byte("null"))
}

func (id ID) String() string {
	if len(id) == 0 {
		return "null"
	}
	return string(id)
}

// Response is a single JSON-RPC response object. Exactly one of Result and
// Error is set. The id is always written: a response without a usable id
// carries NullID, so a decoded response that had no id re-encodes with
// "id":null.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse builds the response for a finished call. The result is
// marshalled here, so a value that cannot be encoded turns into an internal
// error for this call only.
func NewResponse(id ID, result any, err error) Response {
	if err != nil {
		return ErrorResponse(id, AsError(err))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return ErrorResponse(id, InternalError(fmt.Sprintf("encode result: %v", err)))
	}
	return Response{Version: Version, ID: id, Result: raw}
}

func ErrorResponse(id ID, e *Error) Response {
	if len(id) == 0 {
		id = NullID
	}
	return Response{Version: Version, ID: id, Error: e}
}

func (r *Response) UnmarshalJSON(b []byte) error {
	type plain Response
	var p plain

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	if p.Version != Version {
		return fmt.Errorf("unsupported jsonrpc version %q", p.Version)
	}
	if (p.Error == nil) == (len(p.Result) == 0) {
		return errors.New("response must carry exactly one of result and error")
	}

	*r = Response(p)
	return nil
}

// Reply is everything written back for one request. It mirrors the request
// shape: a single object, or an array for batches.
type Reply struct {
	Batch     bool
	Responses []Response
}

func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Batch {
		if r.Responses == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Responses)
	}
	if len(r.Responses) != 1 {
		return nil, fmt.Errorf("single reply with %d responses", len(r.Responses))
	}
	return json.Marshal(r.Responses[0])
}

// UnmarshalJSON tells single and batch replies apart by the first
// significant byte of the payload.
func (r *Reply) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ErrEmptyPayload
	}

	switch b[0] {
	case '[':
		var rs []Response
		if err := json.Unmarshal(b, &rs); err != nil {
			return err
		}
		*r = Reply{Batch: true, Responses: rs}
	case '{':
		var resp Response
		if err := json.Unmarshal(b, &resp); err != nil {
			return err
		}
		*r = Reply{Responses: []Response{resp}}
	default:
		return fmt.Errorf("reply must be an object or an array, got %q", b[0])
	}
	return nil
}

func DecodeReply(b []byte) (r Reply, err error) {
	err = r.UnmarshalJSON(b)
	return r, err
}
