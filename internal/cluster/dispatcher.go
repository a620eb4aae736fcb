package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bpoweski/carmine/internal/executor"
	"github.com/bpoweski/carmine/internal/logger"
	"github.com/bpoweski/carmine/internal/metrics"
	"github.com/bpoweski/carmine/internal/transport"
	"github.com/bpoweski/carmine/internal/wire"
)

// Item is one pipelined unit as seen by the dispatcher: wire arguments, the
// keyslot they're expected to hash to (nil for requests that aren't
// key-routed, which fall back to the default node), and their position in
// the caller's original request order.
type Item struct {
	Args            [][]byte
	ExpectedKeyslot *int
	Pos             int
}

// Options configures one Dispatch call.
type Options struct {
	// Timeout bounds each node's share of the pipeline. Zero uses
	// DefaultTimeout.
	Timeout time.Duration
	// MaxRetries bounds how many MOVED/ASK redirect rounds a pipeline will
	// chase before giving up. Zero uses DefaultMaxRetries.
	MaxRetries int
}

const (
	// DefaultMaxRetries is the redirect-round ceiling: the first round plus
	// up to this many redirect rounds. A request still redirected after the
	// last of them keeps its last error reply.
	DefaultMaxRetries = 14
	// DefaultTimeout is the per-node wall-clock budget for one round.
	DefaultTimeout = 5 * time.Second
)

// Dispatch groups items by the node that owns their keyslot, executes each
// node's share in parallel, and follows MOVED/ASK redirects until every
// item has a reply or MaxRetries is exhausted. The returned slice is in the
// same order as items; a request that could not be resolved keeps its last
// error reply in its original position rather than failing the whole
// pipeline.
func Dispatch(pool transport.Pool, cache *Cache, defaultSpec transport.Spec, items []Item, opts Options) ([]wire.Reply, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	out := make([]wire.Reply, len(items))
	pending := make([]int, len(items))
	for i := range items {
		pending[i] = i
	}
	askTarget := map[int]string{}

	for attempt := 0; attempt <= opts.MaxRetries && len(pending) > 0; attempt++ {
		groups := groupByNode(items, pending, cache, askTarget, defaultSpec.Addr)
		outcomes := dispatchRound(pool, defaultSpec, items, groups, askTarget, opts.Timeout)

		var next []int
		nextAsk := map[int]string{}
		for _, oc := range outcomes {
			for i, idx := range oc.indices {
				reply := oc.replies[i]
				out[idx] = reply
				if reply.Kind != wire.Err {
					continue
				}
				if addr, slot, ok := parseMoved(reply.Str); ok {
					cache.Learn(slot, addr)
					metrics.ObserveClusterRedirect("moved")
					logger.Debugf("cluster: slot %d moved to %s, retrying request %d", slot, addr, items[idx].Pos)
					next = append(next, idx)
					continue
				}
				if addr, ok := parseAsk(reply.Str); ok {
					metrics.ObserveClusterRedirect("ask")
					logger.Debugf("cluster: ask redirect to %s for request %d", addr, items[idx].Pos)
					next = append(next, idx)
					nextAsk[idx] = addr
				}
			}
		}
		pending = next
		askTarget = nextAsk
	}

	if len(pending) > 0 {
		metrics.ObserveClusterRoundsExhausted()
		logger.Warnf("cluster: %d request(s) still redirected after %d redirect rounds, returning their last error", len(pending), opts.MaxRetries)
	}
	return out, nil
}

func groupByNode(items []Item, pending []int, cache *Cache, askTarget map[int]string, defaultAddr string) map[string][]int {
	groups := map[string][]int{}
	for _, idx := range pending {
		addr := defaultAddr
		if slot := items[idx].ExpectedKeyslot; slot != nil {
			if cached := cache.Lookup(*slot); cached != "" {
				addr = cached
			}
		}
		if a, ok := askTarget[idx]; ok {
			addr = a
		}
		groups[addr] = append(groups[addr], idx)
	}
	return groups
}

type groupOutcome struct {
	indices []int
	replies []wire.Reply
}

// dispatchRound runs every node group concurrently and joins them, bounding
// each group by timeout. A group that fails or times out contributes one
// placeholder error reply per request instead of failing the round: the
// timeout cancels the wait, not the underlying I/O, and the leased
// connection is discarded once the straggling goroutine releases it with
// the failure attached.
func dispatchRound(pool transport.Pool, defaultSpec transport.Spec, items []Item, groups map[string][]int, askTarget map[int]string, timeout time.Duration) []groupOutcome {
	outcomes := make([]groupOutcome, len(groups))
	var g errgroup.Group
	i := 0
	for addr, indices := range groups {
		addr, indices, slot := addr, indices, i
		i++
		g.Go(func() error {
			spec := defaultSpec
			spec.Addr = addr

			type result struct {
				replies []wire.Reply
				err     error
			}
			done := make(chan result, 1)
			go func() {
				replies, err := dispatchGroup(pool, spec, items, indices, askTarget, timeout)
				done <- result{replies, err}
			}()

			select {
			case r := <-done:
				if r.err != nil {
					logger.Errorf("cluster: node %s: %v", addr, r.err)
					outcomes[slot] = errorOutcome(indices, fmt.Sprintf("ERR cluster node %s: %v", addr, r.err))
					return nil
				}
				outcomes[slot] = groupOutcome{indices: indices, replies: r.replies}
			case <-time.After(timeout):
				logger.Errorf("cluster: node %s: no reply within %v", addr, timeout)
				outcomes[slot] = errorOutcome(indices, fmt.Sprintf("TIMEOUT cluster node %s did not reply within %v", addr, timeout))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func errorOutcome(indices []int, msg string) groupOutcome {
	replies := make([]wire.Reply, len(indices))
	for i := range replies {
		replies[i] = wire.Reply{Kind: wire.Err, Str: msg}
	}
	return groupOutcome{indices: indices, replies: replies}
}

// dispatchGroup leases one connection to the group's node, prefixes an
// ASKING request for any item that was just redirected with -ASK (ASK
// targets are one-shot and never cached), and executes the whole group as
// a single flushed pipeline.
func dispatchGroup(pool transport.Pool, spec transport.Spec, items []Item, indices []int, askTarget map[int]string, timeout time.Duration) ([]wire.Reply, error) {
	conn, err := pool.Get(spec)
	if err != nil {
		return nil, err
	}
	if d, ok := conn.(transport.Deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(timeout))
	}

	execItems := make([]executor.Item, 0, len(indices)+1)
	askSlots := make([]bool, 0, len(indices)+1)
	for _, idx := range indices {
		if _, asking := askTarget[idx]; asking {
			execItems = append(execItems, executor.Item{Args: [][]byte{[]byte("ASKING")}})
			askSlots = append(askSlots, true)
		}
		execItems = append(execItems, executor.Item{Args: items[idx].Args})
		askSlots = append(askSlots, false)
	}

	replies, execErr := executor.Execute(conn, execItems)
	pool.Put(conn, execErr)
	if execErr != nil {
		return nil, execErr
	}

	out := make([]wire.Reply, 0, len(indices))
	j := 0
	for range indices {
		if askSlots[j] {
			j++ // discard the ASKING prelude's own reply
		}
		out = append(out, replies[j])
		j++
	}
	return out, nil
}

// parseMoved recognizes a "MOVED <slot> <addr>" error line.
func parseMoved(line string) (addr string, slot int, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "MOVED") {
		return "", 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, false
	}
	return fields[2], n, true
}

// parseAsk recognizes an "ASK <slot> <addr>" error line.
func parseAsk(line string) (addr string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "ASK") {
		return "", false
	}
	return fields[2], true
}
