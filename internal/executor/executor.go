// Package executor drives one round of wire I/O over a single connection:
// write every pipelined item, flush once, then read back one reply per
// non-synthetic item in order. It knows nothing about carmine's Request or
// Parser types, only the wire-level shape a pipeline reduces to — the
// session package is the one translating between the two.
package executor

import (
	"github.com/bpoweski/carmine/internal/transport"
	"github.com/bpoweski/carmine/internal/wire"
)

// Item is one pipelined unit at the wire level. A nil or empty Args marks a
// synthetic "return" request: it contributes no bytes to the connection and
// Execute reports a zero wire.Reply for its slot, which the caller (the
// session's flush) overlays with the request's dummy reply.
type Item struct {
	Args [][]byte
}

// Execute writes every item with non-empty Args as one flushed pipeline,
// then reads back exactly that many replies, aligning them into a slice the
// same length as items (synthetic slots are left as the zero Reply).
func Execute(conn transport.Conn, items []Item) ([]wire.Reply, error) {
	w := conn.Writer()
	wireReplyCount := 0
	for _, it := range items {
		if len(it.Args) == 0 {
			continue
		}
		if err := wire.EncodeRequest(w, it.Args); err != nil {
			return nil, err
		}
		wireReplyCount++
	}
	if wireReplyCount == 0 {
		return make([]wire.Reply, len(items)), nil
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	r := conn.Reader()
	out := make([]wire.Reply, len(items))
	for i, it := range items {
		if len(it.Args) == 0 {
			continue
		}
		reply, err := wire.DecodeReply(r)
		if err != nil {
			return nil, err
		}
		out[i] = reply
	}
	return out, nil
}
