package carmine

import (
	"fmt"

	"github.com/bpoweski/carmine/internal/tundra"
)

// Tundra names re-exported from internal/tundra, so callers assemble a
// coordinator or worker without importing an internal package.
type (
	TundraConfig       = tundra.Config
	TundraDatastore    = tundra.Datastore
	TundraWorkQueue    = tundra.WorkQueue
	TundraCoordinator  = tundra.Coordinator
	TundraWorker       = tundra.Worker
	TundraWorkerConfig = tundra.WorkerConfig
)

// ensureOrExtendScript is the single atomic server-side pass behind
// ensure-ks and dirty: for each key, extend an already-finite TTL when one
// is configured, else probe existence. Returns a parallel vector of 0/1.
const ensureOrExtendScript = `local out = {}
local ttl = tonumber(ARGV[1])
for i = 1, #KEYS do
  local k = KEYS[i]
  if ttl > 0 and redis.call('pttl', k) > 0 then
    redis.call('pexpire', k, ttl)
    out[i] = 1
  else
    out[i] = redis.call('exists', k)
  end
end
return out`

// TundraRunner adapts a Session to the command surface the tundra
// coordinator and worker need. Each method runs one round trip on the
// session it wraps.
type TundraRunner struct {
	sess *Session
}

// NewTundraRunner wraps sess for use as a tundra command runner.
func NewTundraRunner(sess *Session) *TundraRunner {
	return &TundraRunner{sess: sess}
}

// EnsureOrExtend evaluates the ensure-or-extend script over keys in one
// atomic server-side pass.
func (t *TundraRunner) EnsureOrExtend(keys []string, ttlMillis int64) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, 0, 3+len(keys))
	args = append(args, ensureOrExtendScript, len(keys))
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, ttlMillis)

	var cmdErr error
	v, err := t.sess.WithReplies(false, func(s *Session) {
		cmdErr = s.Command("EVAL", args...)
	})
	if cmdErr != nil {
		return nil, cmdErr
	}
	if err != nil {
		return nil, err
	}

	r, ok := v.(Reply)
	if !ok || r.Kind != KindArray || r.ArrayNull {
		return nil, fmt.Errorf("carmine: ensure-or-extend: expected array reply, got %T", v)
	}
	if len(r.Array) != len(keys) {
		return nil, fmt.Errorf("carmine: ensure-or-extend: %d keys but %d replies", len(keys), len(r.Array))
	}
	out := make([]bool, len(r.Array))
	for i, el := range r.Array {
		if el.Kind != KindInteger {
			return nil, fmt.Errorf("carmine: ensure-or-extend: reply %d is not an integer", i)
		}
		out[i] = el.Int == 1
	}
	return out, nil
}

// DumpRaw reads a key's DUMP payload verbatim, bypassing the in-bulk type
// markers — the payload is the server's own serialization format, not
// carmine's. A missing key yields (nil, nil).
func (t *TundraRunner) DumpRaw(key string) ([]byte, error) {
	restore := t.sess.SetParser(&Parser{RawBulk: true})
	defer restore()

	var cmdErr error
	v, err := t.sess.WithReplies(false, func(s *Session) {
		cmdErr = s.Dump(key)
	})
	if cmdErr != nil {
		return nil, cmdErr
	}
	if err != nil {
		return nil, err
	}
	r, ok := v.(Reply)
	if !ok || r.Kind != KindBulk {
		return nil, fmt.Errorf("carmine: dump: expected bulk reply, got %T", v)
	}
	if r.Bulk.Kind == BulkNil {
		return nil, nil
	}
	return r.Bulk.Bytes, nil
}

// Restore issues RESTORE key ttlMillis blob. A server error surfaces as
// the returned error, message intact, so the coordinator can recognize the
// busy-key reply.
func (t *TundraRunner) Restore(key string, ttlMillis int64, blob []byte) error {
	var cmdErr error
	_, err := t.sess.WithReplies(false, func(s *Session) {
		cmdErr = s.Restore(key, ttlMillis, blob, false)
	})
	if cmdErr != nil {
		return cmdErr
	}
	return err
}

// NewTundra assembles a tundra coordinator over sess and store.
func NewTundra(sess *Session, store TundraDatastore, cfg TundraConfig) (*TundraCoordinator, error) {
	return tundra.New(NewTundraRunner(sess), store, cfg)
}

// NewTundraWorker assembles a tundra worker over sess and store, sharing
// cfg with the coordinator that marks keys dirty.
func NewTundraWorker(sess *Session, store TundraDatastore, cfg TundraConfig, wcfg TundraWorkerConfig) *TundraWorker {
	return tundra.NewWorker(NewTundraRunner(sess), store, cfg, wcfg)
}
