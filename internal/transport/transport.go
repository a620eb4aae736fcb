// Package transport defines the connection and pool collaborators the
// session, executor and cluster packages share: a pool leases buffered
// connections for a Spec and takes them back with an optional failure
// signal, so a poisoned connection never returns to rotation.
//
// These types live below the root package rather than in it so internal
// packages can depend on them without importing the root package back; the
// root package re-exports Conn, Pool, Spec and DialPool as aliases.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Spec describes one node a Session can connect to. A non-empty Cluster
// marks it as cluster-routed: the session picks the single-node or cluster
// executor based on whether Cluster is set.
type Spec struct {
	Addr    string
	Cluster string
}

// Conn is the minimal surface the wire codec and executor need from a
// connection: a buffered writer, a buffered reader, and the spec it was
// leased for.
type Conn interface {
	Reader() *bufio.Reader
	Writer() *bufio.Writer
	Spec() Spec
	Close() error
}

// Pool leases and releases Conns for a Spec. Put's failure argument lets a
// pool discard a poisoned connection instead of returning it to rotation.
type Pool interface {
	Get(spec Spec) (Conn, error)
	Put(conn Conn, failure error)
}

// netConn is the default Conn, a thin buffered wrapper around a net.Conn
// that tracks bytes read and written.
type netConn struct {
	nc     net.Conn
	spec   Spec
	r      *bufio.Reader
	w      *bufio.Writer
	nRead  atomic.Int64
	nWrite atomic.Int64
}

func newNetConn(nc net.Conn, spec Spec) *netConn {
	c := &netConn{nc: nc, spec: spec}
	c.r = bufio.NewReader(countingReader{nc, &c.nRead})
	c.w = bufio.NewWriter(countingWriter{nc, &c.nWrite})
	return c
}

func (c *netConn) Reader() *bufio.Reader         { return c.r }
func (c *netConn) Writer() *bufio.Writer         { return c.w }
func (c *netConn) Spec() Spec                    { return c.spec }
func (c *netConn) Close() error                  { return c.nc.Close() }
func (c *netConn) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }

// Deadliner is an optional Conn capability: a cluster dispatcher checks for
// it to bound a node's share of a pipeline's wall-clock budget without
// needing a context-aware Pool/Conn API.
type Deadliner interface {
	SetDeadline(t time.Time) error
}

// ByteCounts returns cumulative bytes read and written over this
// connection's lifetime.
func (c *netConn) ByteCounts() (read, written int64) {
	return c.nRead.Load(), c.nWrite.Load()
}

type countingReader struct {
	net.Conn
	n *atomic.Int64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type countingWriter struct {
	net.Conn
	n *atomic.Int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// DialPool is a default Pool that dials a fresh net.Conn per Spec.Addr on
// first use and keeps a small per-address free list. Production deployments
// are expected to supply their own Pool; this one is enough to drive the
// dispatcher and this module's tests without an external pooling package.
type DialPool struct {
	DialTimeout time.Duration

	mu   sync.Mutex
	free map[string][]*netConn
}

// NewDialPool returns a DialPool with a 5s dial timeout.
func NewDialPool() *DialPool {
	return &DialPool{DialTimeout: 5 * time.Second, free: make(map[string][]*netConn)}
}

func (p *DialPool) Get(spec Spec) (Conn, error) {
	p.mu.Lock()
	if list := p.free[spec.Addr]; len(list) > 0 {
		c := list[len(list)-1]
		p.free[spec.Addr] = list[:len(list)-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	nc, err := net.DialTimeout("tcp", spec.Addr, p.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("carmine: dial %s: %w", spec.Addr, err)
	}
	return newNetConn(nc, spec), nil
}

func (p *DialPool) Put(conn Conn, failure error) {
	nc, ok := conn.(*netConn)
	if !ok {
		return
	}
	if failure != nil {
		_ = nc.Close()
		return
	}
	p.mu.Lock()
	p.free[nc.spec.Addr] = append(p.free[nc.spec.Addr], nc)
	p.mu.Unlock()
}
