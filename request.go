package carmine

import "github.com/bpoweski/carmine/internal/freeze"

// RequestKind distinguishes a normal wire request from the zero-argument
// "return" convention, modeled as an explicit variant rather than an empty
// argument list since it is load-bearing for WithReplies stash/restore.
type RequestKind int

const (
	WireRequest RequestKind = iota
	SyntheticRequest
)

// ParserFunc rewrites a reply after it has been decoded (and, if
// ParseExceptions is set, even when that reply is an error). It is pure:
// no I/O, no mutation of shared state.
type ParserFunc func(Reply) Reply

// Parser bundles a rewrite function with the request options that ride
// along with it: RawBulk, ThawOpts, DummyReply, ParseExceptions. Setting a
// new parser on a Session replaces the current one; Compose is the
// distinct, opt-in operator for layering two parsers.
type Parser struct {
	Fn              ParserFunc
	RawBulk         bool
	ThawOpts        freeze.ThawOptions
	DummyReply      *Reply
	ParseExceptions bool
}

// apply runs the parser's rewrite function, honoring ParseExceptions: a
// parser only sees an error reply if it explicitly opted in.
func (p *Parser) apply(r Reply) Reply {
	if p == nil || p.Fn == nil {
		return r
	}
	if r.Kind == KindError && !p.ParseExceptions {
		return r
	}
	return p.Fn(r)
}

// Compose layers inner "under" p: the result runs inner's rewrite first,
// then p's. Options merge as follows: ThawOpts comes from inner when inner
// carries any hints, else from p; RawBulk and ParseExceptions are set if
// either side sets them; DummyReply is p's if set, else inner's —
// composition never fabricates a dummy reply that neither side asked for. This is the opt-in composition operator, as distinct
// from "setting a parser" (which replaces).
func (p *Parser) Compose(inner *Parser) *Parser {
	if p == nil {
		return inner
	}
	if inner == nil {
		return p
	}
	out := &Parser{
		RawBulk:         inner.RawBulk || p.RawBulk,
		ThawOpts:        p.ThawOpts,
		ParseExceptions: inner.ParseExceptions || p.ParseExceptions,
	}
	if inner.ThawOpts.Hints != nil {
		out.ThawOpts = inner.ThawOpts
	}
	switch {
	case p.DummyReply != nil:
		out.DummyReply = p.DummyReply
	case inner.DummyReply != nil:
		out.DummyReply = inner.DummyReply
	}
	out.Fn = func(r Reply) Reply {
		return p.apply(inner.apply(r))
	}
	return out
}

// Request is one pipelined unit: either a wire request (a command name
// plus arguments, already coerced to bytes) or a synthetic "return" value
// that never touches the connection. The session does not fill in Pos:
// its cluster flush hands the dispatcher each request's index in the
// flushed batch (as cluster.Item.Pos), and replies are placed back by that
// index regardless of per-node concurrency.
type Request struct {
	Kind            RequestKind
	Args            [][]byte
	Parser          *Parser
	ExpectedKeyslot *int
	Pos             int
}

// newSyntheticRequest builds the request pushed by Return: zero arguments,
// a parser carrying the dummy value threaded through whatever parser was
// already active, so user parsers still run on it.
func newSyntheticRequest(value Reply, active *Parser) Request {
	dv := value
	p := &Parser{DummyReply: &dv}
	if active != nil {
		p = active.Compose(p)
	}
	return Request{Kind: SyntheticRequest, Parser: p}
}
