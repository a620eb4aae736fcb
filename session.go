package carmine

import (
	"sync"
	"time"

	"github.com/bpoweski/carmine/internal/cluster"
	"github.com/bpoweski/carmine/internal/executor"
	"github.com/bpoweski/carmine/internal/logger"
	"github.com/bpoweski/carmine/internal/metrics"
	"github.com/bpoweski/carmine/internal/wire"
)

// requestQueue holds the requests issued against a Session since its last
// flush. Pushes and the swap-to-empty a flush performs are both taken under
// one mutex: the swap must be atomic with respect to concurrent pushes
// (the nested WithReplies stash/restore dance relies on this), and a mutex
// gives that as directly as a lock-free CAS loop would.
type requestQueue struct {
	mu    sync.Mutex
	items []Request
}

func (q *requestQueue) push(r Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// swap atomically takes every currently-queued request and resets the
// queue to empty.
func (q *requestQueue) swap() []Request {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// Session is a connection-or-cluster-scoped pipeline: commands append
// Requests to it, and a flush (driven by WithReplies, or implicitly by a
// single command call) sends whatever has queued up as one round trip and
// decodes the replies. There is no ambient dynamically-scoped state:
// callers thread a *Session through explicitly.
type Session struct {
	pool    Pool
	spec    Spec
	freezer Freezer

	// DispatchTimeout bounds each cluster node's share of a pipeline flush.
	// Zero uses the dispatcher's default of 5s. Ignored for non-cluster
	// sessions.
	DispatchTimeout time.Duration
	// MaxRedirects bounds how many MOVED/ASK rounds a cluster flush will
	// chase. Zero uses the dispatcher's default of 14.
	MaxRedirects int

	queue requestQueue

	parserMu    sync.Mutex
	parserStack []*Parser

	clusterCache *cluster.Cache
}

// SessionOption configures a Session at construction time.
type SessionOption func(*Session)

// WithFreezer overrides the GobFreezer default used to coerce and thaw
// application values that aren't one of the built-in wire types.
func WithFreezer(f Freezer) SessionOption {
	return func(s *Session) { s.freezer = f }
}

// WithDispatchTimeout bounds each cluster node's share of a pipeline
// flush. Ignored for non-cluster sessions.
func WithDispatchTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.DispatchTimeout = d }
}

// WithMaxRedirects bounds how many MOVED/ASK rounds a cluster flush will
// chase before a request keeps its last error.
func WithMaxRedirects(n int) SessionOption {
	return func(s *Session) { s.MaxRedirects = n }
}

// NewSession opens a Session against pool using spec. A non-empty
// spec.Cluster routes every flush through the cluster dispatcher instead
// of a single connection.
func NewSession(pool Pool, spec Spec, opts ...SessionOption) *Session {
	s := &Session{pool: pool, spec: spec, freezer: DefaultFreezer}
	if spec.Cluster != "" {
		s.clusterCache = cluster.NewCache()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// currentParser returns the parser in effect for a newly-pushed request: the
// top of the scope stack, or nil outside any SetParser/ComposeParser scope.
func (s *Session) currentParser() *Parser {
	s.parserMu.Lock()
	defer s.parserMu.Unlock()
	if len(s.parserStack) == 0 {
		return nil
	}
	return s.parserStack[len(s.parserStack)-1]
}

// SetParser replaces the current parser for the scope that follows, until
// the returned restore func runs: it discards whatever was previously
// active rather than layering onto it. Callers typically
// `defer restore()` immediately.
func (s *Session) SetParser(p *Parser) (restore func()) {
	return s.pushParser(p)
}

// ComposeParser layers p under the currently active parser: p's rewrite
// runs first, then whatever was already active. This is the opt-in
// composition operator, as opposed to SetParser's replace semantics.
func (s *Session) ComposeParser(p *Parser) (restore func()) {
	current := s.currentParser()
	if current == nil {
		return s.pushParser(p)
	}
	return s.pushParser(current.Compose(p))
}

func (s *Session) pushParser(p *Parser) func() {
	s.parserMu.Lock()
	s.parserStack = append(s.parserStack, p)
	s.parserMu.Unlock()
	return func() {
		s.parserMu.Lock()
		if n := len(s.parserStack); n > 0 {
			s.parserStack = s.parserStack[:n-1]
		}
		s.parserMu.Unlock()
	}
}

// Enqueue appends one wire request (already-coerced args) to the session's
// pending pipeline, tagging it with the keyslot its first key argument (by
// convention, args[1]) hashes to when this is a cluster session. Generated
// command wrappers (commands.go) call this; most callers won't need to.
func (s *Session) Enqueue(args [][]byte) {
	req := Request{Kind: WireRequest, Args: args, Parser: s.currentParser()}
	if s.clusterCache != nil && len(args) >= 2 {
		slot := cluster.Keyslot(args[1])
		req.ExpectedKeyslot = &slot
	}
	s.queue.push(req)
}

// Return pushes a synthetic, zero-argument request whose reply is value,
// threaded through whatever parser is currently active so a surrounding
// WithReplies still sees it rewritten consistently with real replies.
func (s *Session) Return(value Reply) {
	s.queue.push(newSyntheticRequest(value, s.currentParser()))
}

// WithReplies runs body against s, then flushes exactly the requests body
// issued. Requests pending before the call are flushed first and their
// replies stashed; once WithReplies returns, each stashed reply is queued
// back as a synthetic request, so an outer flush still sees one reply per
// request it issued, in order. If asPipeline is false and
// body issued exactly one request, the single Reply is unwrapped and
// returned directly (an error reply is raised as the returned error
// instead); otherwise a []Reply is returned, never raising on a
// per-element error.
func (s *Session) WithReplies(asPipeline bool, body func(*Session)) (any, error) {
	stashed := s.queue.swap()
	stashedReplies, err := s.flushRequests(stashed, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, r := range stashedReplies {
			s.queue.push(Request{Kind: SyntheticRequest, Parser: &Parser{DummyReply: replyPtr(r)}})
		}
	}()

	body(s)

	nested := s.queue.swap()
	replies, err := s.flushRequests(nested, true)
	if err != nil {
		return nil, err
	}
	if !asPipeline && len(nested) == 1 {
		r := replies[0]
		if r.IsError() {
			return nil, r.Err
		}
		return r, nil
	}
	return replies, nil
}

// Do enqueues one wire request via body, flushes it alone, and returns its
// single reply — the common case of WithReplies(false, ...) for exactly one
// command.
func (s *Session) Do(args [][]byte) (Reply, error) {
	v, err := s.WithReplies(false, func(s *Session) { s.Enqueue(args) })
	if err != nil {
		return Reply{}, err
	}
	if v == nil {
		return Reply{}, nil
	}
	return v.(Reply), nil
}

// Flush sends every currently-queued request as one pipeline and returns
// their replies as a vector, never unwrapping a single result and never
// raising on a per-element error.
func (s *Session) Flush() ([]Reply, error) {
	reqs := s.queue.swap()
	return s.flushRequests(reqs, true)
}

// flushRequests is the executor-facing half of flush: translate reqs to
// wire items, run them through the single-node or cluster
// executor, decode each wire reply back through its request's parser, and
// overlay synthetic (Return) replies without touching the connection for
// them.
func (s *Session) flushRequests(reqs []Request, wantReplies bool) ([]Reply, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	wireReplies, err := s.execute(reqs)
	if err != nil {
		return nil, err
	}
	if !wantReplies {
		return nil, nil
	}

	out := make([]Reply, len(reqs))
	for i, req := range reqs {
		if req.Kind == SyntheticRequest {
			dummy := Reply{}
			if req.Parser != nil && req.Parser.DummyReply != nil {
				dummy = *req.Parser.DummyReply
			}
			out[i] = req.Parser.apply(dummy)
			continue
		}
		decoded, err := decodeReply(wireReplies[i], req.Parser, s.freezer)
		if err != nil {
			return nil, err
		}
		out[i] = req.Parser.apply(decoded)
	}
	return out, nil
}

func (s *Session) execute(reqs []Request) ([]wire.Reply, error) {
	var (
		replies []wire.Reply
		err     error
	)
	if s.spec.Cluster != "" {
		replies, err = s.executeCluster(reqs)
	} else {
		replies, err = s.executeSingleNode(reqs)
	}
	metrics.ObserveFlush(len(reqs), err)
	if err != nil {
		logger.Errorf("carmine: flush of %d request(s) to %s failed: %v", len(reqs), s.spec.Addr, err)
	} else {
		logger.Debugf("carmine: flushed %d request(s) to %s", len(reqs), s.spec.Addr)
	}
	return replies, err
}

func (s *Session) executeSingleNode(reqs []Request) ([]wire.Reply, error) {
	conn, err := s.pool.Get(s.spec)
	if err != nil {
		return nil, err
	}
	items := make([]executor.Item, len(reqs))
	for i, r := range reqs {
		items[i] = executor.Item{Args: r.Args}
	}
	replies, err := executor.Execute(conn, items)
	s.pool.Put(conn, err)
	return replies, err
}

func (s *Session) executeCluster(reqs []Request) ([]wire.Reply, error) {
	items := make([]cluster.Item, len(reqs))
	for i, r := range reqs {
		items[i] = cluster.Item{Args: r.Args, ExpectedKeyslot: r.ExpectedKeyslot, Pos: i}
	}
	return cluster.Dispatch(s.pool, s.clusterCache, s.spec, items, cluster.Options{
		Timeout:    s.DispatchTimeout,
		MaxRetries: s.MaxRedirects,
	})
}

func replyPtr(r Reply) *Reply { return &r }
