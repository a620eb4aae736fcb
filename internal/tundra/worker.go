package tundra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/bpoweski/carmine/internal/logger"
	"github.com/bpoweski/carmine/internal/metrics"
)

// WorkerOutcome is the terminal result the tundra worker reports for one
// message delivery.
type WorkerOutcome int

const (
	OutcomeSuccess WorkerOutcome = iota
	OutcomeRetry
	OutcomeError
)

func (o WorkerOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// HandlerResult is what one delivery of a carmine.tundra message resolves
// to: ack (Success), redeliver after Backoff (Retry), or give up (Error).
type HandlerResult struct {
	Outcome WorkerOutcome
	Backoff time.Duration
	Err     error
}

// WorkerConfig configures Worker.HandleMessage's retry policy. Consumer
// concurrency, polling throttle, and end-of-queue backoff belong to the
// queue binding driving HandleMessage (see QueueWorker in queue.go), not
// to this retry policy.
type WorkerConfig struct {
	// MaxAttempts bounds how many deliveries of the same message this
	// worker will accept before reporting OutcomeError. Zero uses
	// DefaultWorkerAttempts.
	MaxAttempts int
	// Backoff computes the redelivery delay for a given attempt number
	// (1-indexed). Nil uses a jittered exponential default.
	Backoff func(attempt int) time.Duration
	// Monitor, if set, is called after every handled message with its
	// key and outcome. Terminal errors mean the key's blob was never
	// mirrored; with a TTL configured that is potential data loss, so
	// they are logged emphatically whether or not a Monitor is set.
	Monitor func(key string, outcome WorkerOutcome, err error)
}

// Worker processes carmine.tundra messages: it reads a key's DUMP payload,
// optionally freezes it, and puts it in the datastore.
type Worker struct {
	cmd   CommandRunner
	store Datastore
	cfg   Config
	wcfg  WorkerConfig

	mu       sync.Mutex
	attempts map[string]int
	backoffs map[string]*backoff.Backoff
}

// NewWorker returns a Worker sharing cmd/store/cfg with a Coordinator (they
// are typically constructed from the same session and datastore).
func NewWorker(cmd CommandRunner, store Datastore, cfg Config, wcfg WorkerConfig) *Worker {
	if wcfg.MaxAttempts <= 0 {
		wcfg.MaxAttempts = DefaultWorkerAttempts
	}
	return &Worker{
		cmd:      cmd,
		store:    store,
		cfg:      cfg,
		wcfg:     wcfg,
		attempts: make(map[string]int),
		backoffs: make(map[string]*backoff.Backoff),
	}
}

// HandleMessage processes one delivery of a carmine.tundra message whose
// body is the dirty key's name. It is safe to wire directly as a queue
// binding's per-message handler callback.
func (w *Worker) HandleMessage(ctx context.Context, msg []byte) HandlerResult {
	key := string(msg)

	dump, err := w.cmd.DumpRaw(key)
	if err != nil {
		return w.resultFor(key, fmt.Errorf("dump: %w", err))
	}
	if dump == nil {
		// The key was evicted between dirty's mark and this worker run.
		// Its absence is authoritative: there is nothing left to mirror,
		// and retrying can never change that, so this counts as success.
		w.forget(key)
		w.notify(key, OutcomeSuccess, nil)
		return HandlerResult{Outcome: OutcomeSuccess}
	}

	blob := dump
	if w.cfg.Freezer != nil {
		blob, err = w.cfg.Freezer.Freeze(dump)
		if err != nil {
			return w.resultFor(key, fmt.Errorf("freeze: %w", err))
		}
	}

	if err := w.store.Put(ctx, key, blob); err != nil {
		return w.resultFor(key, fmt.Errorf("datastore put: %w", err))
	}

	w.forget(key)
	w.notify(key, OutcomeSuccess, nil)
	return HandlerResult{Outcome: OutcomeSuccess}
}

// resultFor turns a handler-side error into a Retry or (after MaxAttempts)
// Error outcome, tracking the per-key attempt count and backoff state
// across deliveries.
func (w *Worker) resultFor(key string, err error) HandlerResult {
	w.mu.Lock()
	w.attempts[key]++
	attempt := w.attempts[key]
	b, ok := w.backoffs[key]
	if !ok {
		b = w.newBackoff()
		w.backoffs[key] = b
	}
	w.mu.Unlock()

	if attempt >= w.wcfg.MaxAttempts {
		w.forget(key)
		w.notify(key, OutcomeError, err)
		return HandlerResult{Outcome: OutcomeError, Err: err}
	}

	delay := b.Duration()
	if w.wcfg.Backoff != nil {
		delay = w.wcfg.Backoff(attempt)
	}
	w.notify(key, OutcomeRetry, err)
	return HandlerResult{Outcome: OutcomeRetry, Backoff: delay, Err: err}
}

func (w *Worker) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{Min: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}
}

func (w *Worker) forget(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	delete(w.backoffs, key)
	w.mu.Unlock()
}

func (w *Worker) notify(key string, outcome WorkerOutcome, err error) {
	metrics.ObserveTundraWorker(outcome.String())
	switch outcome {
	case OutcomeError:
		logger.Errorf("tundra: worker giving up on key %q: %v (blob not mirrored, data loss possible if a TTL is set)", key, err)
	case OutcomeRetry:
		logger.Warnf("tundra: worker retrying key %q: %v", key, err)
	default:
		logger.Debugf("tundra: worker mirrored key %q", key)
	}
	if w.wcfg.Monitor != nil {
		w.wcfg.Monitor(key, outcome, err)
	}
}
