// Package tundra implements carmine's eviction/restore coordinator:
// ensure-ks and dirty protocols that use server-side DUMP/RESTORE plus an
// external blob datastore and an external reliable work queue to move cold
// keys off the server while preserving at-least-once durability.
//
// This package never imports the root carmine package. ensure-ks and dirty
// run inside an active session, emitting pipelined server commands;
// CommandRunner is the narrow slice of session behavior they need, defined
// here and satisfied by the root package's TundraRunner (tundra.go at the
// module root) — the same direction-of-dependency arrangement
// internal/transport uses for Conn/Pool.
package tundra

import (
	"context"
	"fmt"
	"strings"

	"github.com/bpoweski/carmine/internal/freeze"
	"github.com/bpoweski/carmine/internal/metrics"
)

// MinRedisTTL is the safety floor on Config.TTLMillis: a configured TTL
// must be zero (disabled) or at least this many milliseconds. It bounds how
// aggressively a caller can make the server forget a key relative to how
// long the worker might take to have mirrored it; it is not a correctness
// requirement.
const MinRedisTTL = 10 * 60 * 60 * 1000 // 10 hours, in milliseconds

// QueueName is the work queue tundra enqueues dirty keys onto.
const QueueName = "carmine.tundra"

// DefaultWorkerAttempts is how many times the worker will retry a message
// before surfacing it as a terminal error.
const DefaultWorkerAttempts = 3

// CommandRunner is the command surface ensure-ks, dirty, and the worker
// need from an active session.
type CommandRunner interface {
	// EnsureOrExtend runs the single atomic ensure-or-extend script over
	// keys and reports, for each key in the same order, whether it
	// existed on the server (having just extended its TTL when
	// ttlMillis > 0 and it already had a finite one).
	EnsureOrExtend(keys []string, ttlMillis int64) ([]bool, error)

	// DumpRaw returns a key's raw DUMP payload, or (nil, nil) if the key
	// does not exist.
	DumpRaw(key string) ([]byte, error)

	// Restore issues RESTORE key ttlMillis blob. A server reply of
	// "ERR Target key name is busy." must be treated as success by the
	// caller: a concurrent restore already completed.
	Restore(key string, ttlMillis int64, blob []byte) error
}

// Datastore is the external blob store tundra mirrors evicted keys into.
// The default binding is S3 (datastore.go); tests substitute an in-memory
// map.
type Datastore interface {
	Put(ctx context.Context, key string, blob []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// WorkQueue is the external reliable work queue tundra marks dirty keys
// onto. The default binding is a JetStream work-queue stream (queue.go).
type WorkQueue interface {
	// Enqueue is idempotent by mid while a message with that id is still
	// in flight: repeated marks of the same key dedupe until the prior
	// mark finishes.
	Enqueue(ctx context.Context, queue string, msg []byte, mid string) error
}

// Config configures a Coordinator.
type Config struct {
	// TTLMillis is the TTL ensure-ks/dirty's script extends existing
	// keys to (or restores missing keys with). Zero disables TTL
	// management entirely (RESTORE uses ttl=0, meaning no expiry).
	// Non-zero values below MinRedisTTL are rejected by New.
	TTLMillis int64
	// Freezer transforms blobs for the datastore's sake; nil means the
	// DUMP payload is stored and fetched verbatim. DUMP/RESTORE payloads
	// are already the server's native format, so freezing here only
	// wraps that payload for the datastore's benefit.
	Freezer freeze.Freezer
}

// Coordinator implements the ensure-ks and dirty protocols over a
// CommandRunner, Datastore, and (for Dirty) a WorkQueue.
type Coordinator struct {
	cmd   CommandRunner
	store Datastore
	cfg   Config
}

// New returns a Coordinator. It rejects a configured TTLMillis below
// MinRedisTTL, but not zero, which disables TTL management.
func New(cmd CommandRunner, store Datastore, cfg Config) (*Coordinator, error) {
	if cfg.TTLMillis != 0 && cfg.TTLMillis < MinRedisTTL {
		return nil, fmt.Errorf("tundra: redis-ttl-ms must be 0 or >= %d, got %d", MinRedisTTL, cfg.TTLMillis)
	}
	return &Coordinator{cmd: cmd, store: store, cfg: cfg}, nil
}

// KeyError is one key's failure inside an AggregateError.
type KeyError struct {
	Key string
	Err error
}

// AggregateError collects one or more KeyErrors raised by EnsureKeys or
// Dirty, preserving per-key causes.
type AggregateError struct {
	Op     string
	Errors []KeyError
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ke := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %v", ke.Key, ke.Err)
	}
	return fmt.Sprintf("tundra: %s failed for %d key(s): %s", e.Op, len(e.Errors), strings.Join(parts, "; "))
}

// busyReply is the server's reply to a RESTORE targeting a key that a
// concurrent restore already recreated.
const busyReply = "ERR Target key name is busy."

// EnsureKeys restores every key missing from the server from its datastore
// blob. Already-present keys only have their TTL extended (when
// configured) by the ensure-or-extend script; nothing else is done for
// them. Calling it twice on the same missing keys converges on the same
// post-condition: the second call's RESTOREs either find the key present
// (nothing restored) or collide with a concurrent restore's busy reply,
// which counts as success.
func (c *Coordinator) EnsureKeys(ctx context.Context, keys []string) error {
	err := c.ensureKeys(ctx, keys)
	if err != nil {
		metrics.ObserveTundraEnsure("error")
		return err
	}
	metrics.ObserveTundraEnsure("ok")
	return nil
}

func (c *Coordinator) ensureKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	exists, err := c.cmd.EnsureOrExtend(keys, c.cfg.TTLMillis)
	if err != nil {
		return fmt.Errorf("tundra: ensure-or-extend: %w", err)
	}

	var missing []string
	for i, k := range keys {
		if !exists[i] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var errs []KeyError
	for _, key := range missing {
		blob, err := c.fetchAndThaw(ctx, key)
		if err != nil {
			errs = append(errs, KeyError{Key: key, Err: err})
			continue
		}
		if err := c.restore(key, blob); err != nil {
			errs = append(errs, KeyError{Key: key, Err: err})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Op: "ensure-ks", Errors: errs}
	}
	return nil
}

func (c *Coordinator) fetchAndThaw(ctx context.Context, key string) ([]byte, error) {
	blob, err := c.store.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("datastore fetch: %w", err)
	}
	if c.cfg.Freezer == nil {
		return blob, nil
	}
	thawed, err := c.cfg.Freezer.Thaw(blob, freeze.ThawOptions{})
	if err != nil {
		return nil, fmt.Errorf("thaw: %w", err)
	}
	b, ok := thawed.([]byte)
	if !ok {
		return nil, fmt.Errorf("thaw: expected []byte, got %T", thawed)
	}
	return b, nil
}

func (c *Coordinator) restore(key string, blob []byte) error {
	err := c.cmd.Restore(key, c.cfg.TTLMillis, blob)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), busyReply) {
		return nil
	}
	return err
}

// Dirty enqueues every key that currently exists on the server onto the
// tundra work queue, keyed by its own name so repeated marks dedupe while
// a prior mark is in flight. Keys that don't exist are reported as an
// aggregate error; keys that do exist have already been queued by the time
// that error is returned (enqueuing is not rolled back).
func (c *Coordinator) Dirty(ctx context.Context, queue WorkQueue, keys []string) error {
	err := c.dirty(ctx, queue, keys)
	if err != nil {
		metrics.ObserveTundraDirty("error")
		return err
	}
	metrics.ObserveTundraDirty("ok")
	return nil
}

func (c *Coordinator) dirty(ctx context.Context, queue WorkQueue, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	exists, err := c.cmd.EnsureOrExtend(keys, c.cfg.TTLMillis)
	if err != nil {
		return fmt.Errorf("tundra: ensure-or-extend: %w", err)
	}

	var missing []KeyError
	for i, key := range keys {
		if !exists[i] {
			missing = append(missing, KeyError{Key: key, Err: fmt.Errorf("key does not exist")})
			continue
		}
		if err := queue.Enqueue(ctx, QueueName, []byte(key), key); err != nil {
			missing = append(missing, KeyError{Key: key, Err: fmt.Errorf("enqueue: %w", err)})
		}
	}
	if len(missing) > 0 {
		return &AggregateError{Op: "dirty", Errors: missing}
	}
	return nil
}
