package cluster

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/bpoweski/carmine/internal/transport"
	"github.com/bpoweski/carmine/internal/wire"
	"github.com/stretchr/testify/require"
)

// fakeConn replays a canned RESP stream and discards writes, enough to
// drive the dispatcher without a real server.
type fakeConn struct {
	spec transport.Spec
	r    *bufio.Reader
	w    *bufio.Writer
}

func newFakeConn(spec transport.Spec, script string) *fakeConn {
	return &fakeConn{
		spec: spec,
		r:    bufio.NewReader(bytes.NewBufferString(script)),
		w:    bufio.NewWriter(io.Discard),
	}
}

func (c *fakeConn) Reader() *bufio.Reader { return c.r }
func (c *fakeConn) Writer() *bufio.Writer { return c.w }
func (c *fakeConn) Spec() transport.Spec  { return c.spec }
func (c *fakeConn) Close() error          { return nil }

// fakePool hands out one scripted fakeConn per address, round-robin over a
// queue so a test can script a redirect followed by a successful retry.
type fakePool struct {
	scripts map[string][]string
}

func (p *fakePool) Get(spec transport.Spec) (transport.Conn, error) {
	q := p.scripts[spec.Addr]
	if len(q) == 0 {
		panic("fakePool: no script queued for " + spec.Addr)
	}
	script := q[0]
	p.scripts[spec.Addr] = q[1:]
	return newFakeConn(spec, script), nil
}

func (p *fakePool) Put(conn transport.Conn, failure error) {}

func TestDispatchSingleNodeSuccess(t *testing.T) {
	pool := &fakePool{scripts: map[string][]string{
		"node-a:6379": {"+OK\r\n"},
	}}
	cache := NewCache()
	items := []Item{{Args: [][]byte{[]byte("SET"), []byte("k"), []byte("v")}}}

	replies, err := Dispatch(pool, cache, transport.Spec{Addr: "node-a:6379"}, items, Options{})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, "OK", replies[0].Str)
}

func TestDispatchFollowsMovedRedirect(t *testing.T) {
	pool := &fakePool{scripts: map[string][]string{
		"node-a:6379": {"-MOVED 12182 node-b:6379\r\n"},
		"node-b:6379": {"+OK\r\n"},
	}}
	cache := NewCache()
	slot := 12182
	items := []Item{{Args: [][]byte{[]byte("GET"), []byte("foo")}, ExpectedKeyslot: &slot}}

	replies, err := Dispatch(pool, cache, transport.Spec{Addr: "node-a:6379"}, items, Options{})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, "OK", replies[0].Str)
	require.Equal(t, "node-b:6379", cache.Lookup(slot))
}

func TestDispatchFollowsAskRedirectWithoutCaching(t *testing.T) {
	pool := &fakePool{scripts: map[string][]string{
		"node-a:6379": {"-ASK 12182 node-b:6379\r\n"},
		// ASKING prelude reply, then the retried command's reply.
		"node-b:6379": {"+OK\r\n$5\r\nhello\r\n"},
	}}
	cache := NewCache()
	slot := 12182
	items := []Item{{Args: [][]byte{[]byte("GET"), []byte("foo")}, ExpectedKeyslot: &slot}}

	replies, err := Dispatch(pool, cache, transport.Spec{Addr: "node-a:6379"}, items, Options{})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, "hello", string(replies[0].Bulk))
	require.Equal(t, "", cache.Lookup(slot), "ASK redirects must never be cached")
}

func TestDispatchKeepsLastErrorAfterMaxRetries(t *testing.T) {
	scripts := map[string][]string{}
	// The first round plus MaxRetries (3) redirect rounds: four MOVEDs.
	for i := 0; i < 4; i++ {
		scripts["node-a:6379"] = append(scripts["node-a:6379"], "-MOVED 1 node-a:6379\r\n")
	}
	pool := &fakePool{scripts: scripts}
	cache := NewCache()
	slot := 1
	items := []Item{{Args: [][]byte{[]byte("GET"), []byte("foo")}, ExpectedKeyslot: &slot}}

	replies, err := Dispatch(pool, cache, transport.Spec{Addr: "node-a:6379"}, items, Options{MaxRetries: 3})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, wire.Err, replies[0].Kind)
	require.Contains(t, replies[0].Str, "MOVED")
}

// errPool refuses every lease, standing in for an unreachable node.
type errPool struct{}

func (errPool) Get(transport.Spec) (transport.Conn, error) {
	return nil, errors.New("connection refused")
}
func (errPool) Put(transport.Conn, error) {}

func TestDispatchNodeFailureYieldsPlaceholderErrors(t *testing.T) {
	cache := NewCache()
	items := []Item{
		{Args: [][]byte{[]byte("GET"), []byte("a")}, Pos: 0},
		{Args: [][]byte{[]byte("GET"), []byte("b")}, Pos: 1},
	}

	replies, err := Dispatch(errPool{}, cache, transport.Spec{Addr: "node-a:6379"}, items, Options{MaxRetries: 1})
	require.NoError(t, err)
	require.Len(t, replies, 2)
	for _, r := range replies {
		require.Equal(t, wire.Err, r.Kind)
		require.Contains(t, r.Str, "connection refused")
	}
}
