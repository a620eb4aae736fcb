package tundra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bpoweski/carmine/internal/freeze"
	"github.com/stretchr/testify/require"
)

func TestWorkerMirrorsDumpToDatastore(t *testing.T) {
	runner := newFakeRunner()
	runner.dumps["k1"] = []byte("dump-bytes")
	store := newMapDatastore()
	w := NewWorker(runner, store, Config{}, WorkerConfig{})

	res := w.HandleMessage(context.Background(), []byte("k1"))
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, []byte("dump-bytes"), store.blobs["k1"])
}

func TestWorkerFreezesBeforePut(t *testing.T) {
	fz := freeze.GobFreezer{}
	runner := newFakeRunner()
	runner.dumps["k1"] = []byte("dump-bytes")
	store := newMapDatastore()
	w := NewWorker(runner, store, Config{Freezer: fz}, WorkerConfig{})

	res := w.HandleMessage(context.Background(), []byte("k1"))
	require.Equal(t, OutcomeSuccess, res.Outcome)

	thawed, err := fz.Thaw(store.blobs["k1"], freeze.ThawOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("dump-bytes"), thawed)
}

func TestWorkerNilDumpIsSuccess(t *testing.T) {
	runner := newFakeRunner()
	store := newMapDatastore()
	var outcomes []WorkerOutcome
	w := NewWorker(runner, store, Config{}, WorkerConfig{
		Monitor: func(_ string, outcome WorkerOutcome, _ error) { outcomes = append(outcomes, outcome) },
	})

	res := w.HandleMessage(context.Background(), []byte("evicted"))
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, []WorkerOutcome{OutcomeSuccess}, outcomes)
	require.Empty(t, store.blobs)
}

func TestWorkerRetriesThenErrors(t *testing.T) {
	runner := newFakeRunner()
	runner.dumps["k1"] = []byte("dump-bytes")
	store := newMapDatastore()
	store.putErr = errors.New("s3 down")
	var outcomes []WorkerOutcome
	w := NewWorker(runner, store, Config{}, WorkerConfig{
		MaxAttempts: 3,
		Monitor:     func(_ string, outcome WorkerOutcome, _ error) { outcomes = append(outcomes, outcome) },
	})

	msg := []byte("k1")
	r1 := w.HandleMessage(context.Background(), msg)
	require.Equal(t, OutcomeRetry, r1.Outcome)
	require.Positive(t, r1.Backoff)
	r2 := w.HandleMessage(context.Background(), msg)
	require.Equal(t, OutcomeRetry, r2.Outcome)
	r3 := w.HandleMessage(context.Background(), msg)
	require.Equal(t, OutcomeError, r3.Outcome)
	require.ErrorContains(t, r3.Err, "s3 down")
	require.Equal(t, []WorkerOutcome{OutcomeRetry, OutcomeRetry, OutcomeError}, outcomes)

	// Attempt tracking resets once the message goes terminal.
	r4 := w.HandleMessage(context.Background(), msg)
	require.Equal(t, OutcomeRetry, r4.Outcome)
}

func TestWorkerCustomBackoff(t *testing.T) {
	runner := newFakeRunner()
	runner.dumps["k1"] = []byte("dump-bytes")
	store := newMapDatastore()
	store.putErr = errors.New("s3 down")
	w := NewWorker(runner, store, Config{}, WorkerConfig{
		MaxAttempts: 5,
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
	})

	r1 := w.HandleMessage(context.Background(), []byte("k1"))
	require.Equal(t, time.Second, r1.Backoff)
	r2 := w.HandleMessage(context.Background(), []byte("k1"))
	require.Equal(t, 2*time.Second, r2.Backoff)
}
