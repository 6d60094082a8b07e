package rpc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocknative/devnode/rpc"
)

func TestReplyRoundTrip(t *testing.T) {
	t.Parallel()

	batch := rpc.Reply{Batch: true, Responses: []rpc.Response{
		rpc.NewResponse(rpc.ID(`1`), map[string]int{"a": 1}, nil),
		rpc.ErrorResponse(rpc.ID(`"two"`), rpc.InvalidParams("bad")),
		rpc.NewResponse(rpc.NullID, "0x10", nil),
	}}

	b, err := json.Marshal(batch)
	require.NoError(t, err)
	require.Equal(t, byte('['), b[0])

	got, err := rpc.DecodeReply(b)
	require.NoError(t, err)
	require.True(t, got.Batch)
	require.Len(t, got.Responses, 3)
	for i := range batch.Responses {
		require.Equal(t, batch.Responses[i].ID.String(), got.Responses[i].ID.String())
		require.Equal(t, string(batch.Responses[i].Result), string(got.Responses[i].Result))
		require.Equal(t, batch.Responses[i].Error, got.Responses[i].Error)
	}

	single := rpc.Reply{Responses: []rpc.Response{rpc.NewResponse(rpc.ID(`7`), true, nil)}}
	b, err = json.Marshal(single)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":true}`, string(b))

	got, err = rpc.DecodeReply(b)
	require.NoError(t, err)
	require.False(t, got.Batch)
	require.Equal(t, single.Responses[0].ID.String(), got.Responses[0].ID.String())
	require.Equal(t, "true", string(got.Responses[0].Result))
}

func TestDecodeReplyPeeksShape(t *testing.T) {
	t.Parallel()

	got, err := rpc.DecodeReply([]byte("  \n[]"))
	require.NoError(t, err)
	require.True(t, got.Batch)
	require.Empty(t, got.Responses)

	_, err = rpc.DecodeReply([]byte(`"str"`))
	require.Error(t, err)

	_, err = rpc.DecodeReply([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err, "neither result nor error")

	_, err = rpc.DecodeReply([]byte(`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`))
	require.Error(t, err, "both result and error")

	_, err = rpc.DecodeReply([]byte(`{"jsonrpc":"2.0","id":1,"result":1,"extra":1}`))
	require.Error(t, err, "unknown field")
}

func TestErrorEnvelope(t *testing.T) {
	t.Parallel()

	resp := rpc.ErrorResponse(nil, rpc.InternalError("").WithData("0xdead"))
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error","data":"0xdead"}}`, string(b))

	var decoded rpc.Response
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","result":"0x1"}`), &decoded))
	b, err = json.Marshal(decoded)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":null,"result":"0x1"}`, string(b))

	resp = rpc.NewResponse(rpc.ID(`1`), make(chan int), nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeInternalError, resp.Error.Code)
}

func TestIDValidation(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{`1`, `-3`, `"a"`, `null`, `1.5`} {
		var id rpc.ID
		require.NoError(t, json.Unmarshal([]byte(ok), &id), ok)
		require.Equal(t, ok, id.String())
	}
	for _, bad := range []string{`{}`, `[1]`, `true`} {
		var id rpc.ID
		require.Error(t, json.Unmarshal([]byte(bad), &id), bad)
	}
}

func TestDecodeRequestClassification(t *testing.T) {
	t.Parallel()

	req, err := rpc.DecodeRequest([]byte(`[
		{"jsonrpc":"2.0","id":1,"method":"a","params":{}},
		{"jsonrpc":"2.0","method":"b","params":null},
		{"jsonrpc":"2.0","id":null,"method":"c","params":"nope"},
		{"foo":1}
	]`))
	require.NoError(t, err)
	require.True(t, req.Batch)
	require.Len(t, req.Calls, 4)

	require.Equal(t, rpc.KindMethodCall, req.Calls[0].Kind)
	require.Equal(t, "a", req.Calls[0].Method)
	require.Equal(t, rpc.KindNotification, req.Calls[1].Kind)
	require.Equal(t, "b", req.Calls[1].Method)
	require.Equal(t, rpc.KindInvalid, req.Calls[2].Kind)
	require.True(t, req.Calls[2].ID.IsNull())
	require.Equal(t, rpc.KindInvalid, req.Calls[3].Kind)
	require.True(t, req.Calls[3].ID.IsNull())

	_, err = rpc.DecodeRequest([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},1]`))
	require.Error(t, err)
}

func TestUnmarshalParams(t *testing.T) {
	t.Parallel()

	var (
		a string
		b uint64
	)
	require.NoError(t, rpc.UnmarshalParams(json.RawMessage(`["x"]`), 1, &a, &b))
	require.Equal(t, "x", a)
	require.Zero(t, b)

	require.NoError(t, rpc.UnmarshalParams(nil, 0, &a))

	err := rpc.UnmarshalParams(json.RawMessage(`[]`), 1, &a)
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	err = rpc.UnmarshalParams(json.RawMessage(`["x", 1, 2]`), 1, &a, &b)
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)

	err = rpc.UnmarshalParams(json.RawMessage(`{"a":1}`), 0, &a)
	require.Equal(t, rpc.CodeInvalidParams, rpc.AsError(err).Code)
}
