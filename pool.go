package carmine

import "github.com/bpoweski/carmine/internal/transport"

// Conn, Pool, Spec and DialPool are re-exported as aliases of
// internal/transport so callers can wire their own Pool without reaching
// into an internal package, while the executor and cluster dispatcher stay
// free to depend on transport directly without importing this package back.
type (
	Conn = transport.Conn
	Pool = transport.Pool
	Spec = transport.Spec
)

// DialPool is the default Pool: it dials a fresh connection per address on
// first use and keeps a small per-address free list.
type DialPool = transport.DialPool

// NewDialPool returns a DialPool with a 5s dial timeout.
func NewDialPool() *DialPool { return transport.NewDialPool() }
