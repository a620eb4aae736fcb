package carmine

import (
	"testing"

	"github.com/bpoweski/carmine/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestDecodeReplySimpleAndInteger(t *testing.T) {
	r, err := decodeReply(wire.Reply{Kind: wire.SimpleString, Str: "PONG"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, KindSimpleString, r.Kind)
	require.Equal(t, "PONG", r.Simple)

	r, err = decodeReply(wire.Reply{Kind: wire.Integer, Int: 7}, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 7, r.Int)
}

func TestDecodeReplyErrorPrefix(t *testing.T) {
	r, err := decodeReply(wire.Reply{Kind: wire.Err, Str: "MOVED 5123 10.0.0.2:6379"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "moved", r.Err.Prefix)
	require.Equal(t, "MOVED 5123 10.0.0.2:6379", r.Err.Message)
}

func TestDecodeBulkBinaryMarker(t *testing.T) {
	payload := append([]byte{0x00, '<'}, 0x01, 0x02, 0x03)
	r, err := decodeReply(wire.Reply{Kind: wire.Bulk, Bulk: payload}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, BulkRaw, r.Bulk.Kind)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, r.Bulk.Bytes)
}

func TestDecodeBulkText(t *testing.T) {
	r, err := decodeReply(wire.Reply{Kind: wire.Bulk, Bulk: []byte("hello")}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, BulkText, r.Bulk.Kind)
	require.Equal(t, "hello", r.Bulk.Text)
}

func TestDecodeBulkNull(t *testing.T) {
	r, err := decodeReply(wire.Reply{Kind: wire.Bulk, BulkNull: true}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, BulkNil, r.Bulk.Kind)
}

func TestDecodeBulkRawBulkOption(t *testing.T) {
	payload := append([]byte{0x00, '<'}, 0x01)
	r, err := decodeReply(wire.Reply{Kind: wire.Bulk, Bulk: payload}, &Parser{RawBulk: true}, nil)
	require.NoError(t, err)
	require.Equal(t, BulkRaw, r.Bulk.Kind)
	require.Equal(t, payload, r.Bulk.Bytes)
}

func TestDecodeBulkFrozenObject(t *testing.T) {
	frozen, err := DefaultFreezer.Freeze(42)
	require.NoError(t, err)
	payload := append([]byte{0x00, '>'}, frozen...)
	r, err := decodeReply(wire.Reply{Kind: wire.Bulk, Bulk: payload}, nil, DefaultFreezer)
	require.NoError(t, err)
	require.Equal(t, BulkObject, r.Bulk.Kind)
	require.Equal(t, 42, r.Bulk.Object)
}

func TestDecodeBulkThawFailureBecomesErrorValue(t *testing.T) {
	payload := append([]byte{0x00, '>'}, []byte("not a frozen payload")...)
	r, err := decodeReply(wire.Reply{Kind: wire.Bulk, Bulk: payload}, nil, DefaultFreezer)
	require.NoError(t, err, "a bad frozen payload must not crash the pipeline")
	require.True(t, r.IsError())
	require.Equal(t, "thaw", r.Err.Prefix)
}

func TestDecodeArrayNested(t *testing.T) {
	in := wire.Reply{Kind: wire.Array, Array: []wire.Reply{
		{Kind: wire.SimpleString, Str: "OK"},
		{Kind: wire.Integer, Int: 1},
	}}
	r, err := decodeReply(in, nil, nil)
	require.NoError(t, err)
	require.Len(t, r.Array, 2)
	require.Equal(t, "OK", r.Array[0].Simple)
}

func TestDecodeArrayNull(t *testing.T) {
	r, err := decodeReply(wire.Reply{Kind: wire.Array, ArrayNull: true}, nil, nil)
	require.NoError(t, err)
	require.True(t, r.ArrayNull)
}
