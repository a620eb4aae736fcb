package tundra

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bpoweski/carmine/internal/logger"
)

// JetStreamQueue is the default WorkQueue binding: a NATS JetStream
// work-queue stream per queue name. Message-id deduplication gives the
// enqueue-by-mid idempotency Dirty relies on — a second mark of the same
// key inside the dedup window is dropped by the server.
type JetStreamQueue struct {
	js nats.JetStreamContext

	mu      sync.Mutex
	streams map[string]bool
}

// DedupWindow is how long JetStream suppresses a duplicate message id.
const DedupWindow = 2 * time.Minute

// NewJetStreamQueue wraps an established NATS connection. Streams are
// created lazily, one per queue name, on first Enqueue or StartWorker.
func NewJetStreamQueue(nc *nats.Conn) (*JetStreamQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &JetStreamQueue{js: js, streams: make(map[string]bool)}, nil
}

// streamName maps a queue name to a JetStream stream name, which may not
// contain dots.
func streamName(queue string) string {
	return strings.ReplaceAll(queue, ".", "-")
}

func (q *JetStreamQueue) ensureStream(queue string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.streams[queue] {
		return nil
	}
	name := streamName(queue)
	_, err := q.js.StreamInfo(name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = q.js.AddStream(&nats.StreamConfig{
			Name:       name,
			Subjects:   []string{queue},
			Retention:  nats.WorkQueuePolicy,
			Duplicates: DedupWindow,
		})
	}
	if err != nil {
		return err
	}
	q.streams[queue] = true
	return nil
}

// Enqueue publishes msg onto queue with mid as its message id. Re-enqueues
// of the same mid dedupe server-side while the prior message is within the
// dedup window.
func (q *JetStreamQueue) Enqueue(ctx context.Context, queue string, msg []byte, mid string) error {
	if err := q.ensureStream(queue); err != nil {
		return err
	}
	m := &nats.Msg{Subject: queue, Data: msg}
	_, err := q.js.PublishMsg(m, nats.MsgId(mid), nats.Context(ctx))
	return err
}

// QueueWorkerConfig tunes a StartWorker consumer group.
type QueueWorkerConfig struct {
	// Threads is the number of concurrent consumers. Zero means 1.
	Threads int
	// Throttle is an optional pause between handled messages per
	// consumer.
	Throttle time.Duration
	// EOQBackoff is how long each fetch waits when the queue is empty
	// before polling again. Zero means 2s.
	EOQBackoff time.Duration
}

// QueueWorker is a running consumer group started by StartWorker. Stop
// drains it.
type QueueWorker struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stop signals every consumer to finish its in-flight message and waits
// for them.
func (w *QueueWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// StartWorker spawns cfg.Threads consumers on queue, feeding each message
// to handler and translating its HandlerResult back into queue semantics:
// Success acks, Retry redelivers after the result's backoff, Error
// terminates the message so it is never redelivered.
func (q *JetStreamQueue) StartWorker(queue string, handler func(context.Context, []byte) HandlerResult, cfg QueueWorkerConfig) (*QueueWorker, error) {
	if err := q.ensureStream(queue); err != nil {
		return nil, err
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.EOQBackoff <= 0 {
		cfg.EOQBackoff = 2 * time.Second
	}

	sub, err := q.js.PullSubscribe(queue, streamName(queue)+"-worker")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &QueueWorker{cancel: cancel}
	for i := 0; i < cfg.Threads; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			q.consume(ctx, sub, handler, cfg)
		}()
	}
	return w, nil
}

func (q *JetStreamQueue) consume(ctx context.Context, sub *nats.Subscription, handler func(context.Context, []byte) HandlerResult, cfg QueueWorkerConfig) {
	for ctx.Err() == nil {
		msgs, err := sub.Fetch(1, nats.MaxWait(cfg.EOQBackoff))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Errorf("tundra: queue fetch: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(cfg.EOQBackoff):
			}
			continue
		}
		for _, msg := range msgs {
			res := handler(ctx, msg.Data)
			switch res.Outcome {
			case OutcomeSuccess:
				if err := msg.Ack(); err != nil {
					logger.Errorf("tundra: ack: %v", err)
				}
			case OutcomeRetry:
				if err := msg.NakWithDelay(res.Backoff); err != nil {
					logger.Errorf("tundra: nak: %v", err)
				}
			case OutcomeError:
				if err := msg.Term(); err != nil {
					logger.Errorf("tundra: term: %v", err)
				}
			}
		}
		if cfg.Throttle > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.Throttle):
			}
		}
	}
}
