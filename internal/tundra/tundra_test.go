package tundra

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bpoweski/carmine/internal/freeze"
	"github.com/stretchr/testify/require"
)

// fakeRunner is an in-memory stand-in for a session: a key set, canned
// DUMP payloads, and a record of every RESTORE issued.
type fakeRunner struct {
	exists     map[string]bool
	dumps      map[string][]byte
	restored   map[string][]byte
	restoreErr map[string]error
	extendTTL  []int64
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		exists:     map[string]bool{},
		dumps:      map[string][]byte{},
		restored:   map[string][]byte{},
		restoreErr: map[string]error{},
	}
}

func (f *fakeRunner) EnsureOrExtend(keys []string, ttlMillis int64) ([]bool, error) {
	f.extendTTL = append(f.extendTTL, ttlMillis)
	out := make([]bool, len(keys))
	for i, k := range keys {
		out[i] = f.exists[k]
	}
	return out, nil
}

func (f *fakeRunner) DumpRaw(key string) ([]byte, error) {
	return f.dumps[key], nil
}

func (f *fakeRunner) Restore(key string, ttlMillis int64, blob []byte) error {
	if err := f.restoreErr[key]; err != nil {
		return err
	}
	f.restored[key] = blob
	f.exists[key] = true
	return nil
}

// mapDatastore is a Datastore over a plain map.
type mapDatastore struct {
	blobs    map[string][]byte
	fetchErr map[string]error
	putErr   error
}

func newMapDatastore() *mapDatastore {
	return &mapDatastore{blobs: map[string][]byte{}, fetchErr: map[string]error{}}
}

func (d *mapDatastore) Put(_ context.Context, key string, blob []byte) error {
	if d.putErr != nil {
		return d.putErr
	}
	d.blobs[key] = blob
	return nil
}

func (d *mapDatastore) Fetch(_ context.Context, key string) ([]byte, error) {
	if err := d.fetchErr[key]; err != nil {
		return nil, err
	}
	blob, ok := d.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no blob for %q", key)
	}
	return blob, nil
}

type fakeQueue struct {
	enqueued map[string][]byte
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, queue string, msg []byte, mid string) error {
	if q.err != nil {
		return q.err
	}
	if q.enqueued == nil {
		q.enqueued = map[string][]byte{}
	}
	q.enqueued[mid] = msg
	return nil
}

func TestNewRejectsShortTTL(t *testing.T) {
	_, err := New(newFakeRunner(), newMapDatastore(), Config{TTLMillis: 1000})
	require.Error(t, err)

	_, err = New(newFakeRunner(), newMapDatastore(), Config{TTLMillis: 0})
	require.NoError(t, err)

	_, err = New(newFakeRunner(), newMapDatastore(), Config{TTLMillis: MinRedisTTL})
	require.NoError(t, err)
}

func TestEnsureKeysAllPresentTouchesNothing(t *testing.T) {
	runner := newFakeRunner()
	runner.exists["k1"] = true
	store := newMapDatastore()
	c, err := New(runner, store, Config{})
	require.NoError(t, err)

	require.NoError(t, c.EnsureKeys(context.Background(), []string{"k1"}))
	require.Empty(t, runner.restored)
}

func TestEnsureKeysRestoresMissing(t *testing.T) {
	runner := newFakeRunner()
	store := newMapDatastore()
	store.blobs["k1"] = []byte("dump-bytes")
	c, err := New(runner, store, Config{})
	require.NoError(t, err)

	require.NoError(t, c.EnsureKeys(context.Background(), []string{"k1"}))
	require.Equal(t, []byte("dump-bytes"), runner.restored["k1"])
}

func TestEnsureKeysThawsWithFreezer(t *testing.T) {
	fz := freeze.GobFreezer{}
	frozen, err := fz.Freeze([]byte("dump-bytes"))
	require.NoError(t, err)

	runner := newFakeRunner()
	store := newMapDatastore()
	store.blobs["k1"] = frozen
	c, err := New(runner, store, Config{Freezer: fz})
	require.NoError(t, err)

	require.NoError(t, c.EnsureKeys(context.Background(), []string{"k1"}))
	require.Equal(t, []byte("dump-bytes"), runner.restored["k1"])
}

func TestEnsureKeysBusyRestoreIsSuccess(t *testing.T) {
	runner := newFakeRunner()
	runner.restoreErr["k1"] = errors.New(busyReply)
	store := newMapDatastore()
	store.blobs["k1"] = []byte("dump-bytes")
	c, err := New(runner, store, Config{})
	require.NoError(t, err)

	require.NoError(t, c.EnsureKeys(context.Background(), []string{"k1"}))
}

func TestEnsureKeysAggregatesPerKeyErrors(t *testing.T) {
	runner := newFakeRunner()
	runner.exists["ok"] = true
	store := newMapDatastore()
	store.fetchErr["gone"] = errors.New("404")
	store.blobs["bad"] = []byte("dump-bytes")
	runner.restoreErr["bad"] = errors.New("ERR DUMP payload version or checksum are wrong")
	c, err := New(runner, store, Config{})
	require.NoError(t, err)

	err = c.EnsureKeys(context.Background(), []string{"ok", "gone", "bad"})
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Errors, 2)
	keys := []string{agg.Errors[0].Key, agg.Errors[1].Key}
	require.ElementsMatch(t, []string{"gone", "bad"}, keys)
}

func TestDirtyEnqueuesExistingAndReportsMissing(t *testing.T) {
	runner := newFakeRunner()
	runner.exists["present"] = true
	queue := &fakeQueue{}
	c, err := New(runner, newMapDatastore(), Config{})
	require.NoError(t, err)

	err = c.Dirty(context.Background(), queue, []string{"present", "absent"})
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Errors, 1)
	require.Equal(t, "absent", agg.Errors[0].Key)
	// The present key was queued before the error was raised.
	require.Equal(t, []byte("present"), queue.enqueued["present"])
}

func TestDirtyAllPresentSucceeds(t *testing.T) {
	runner := newFakeRunner()
	runner.exists["a"] = true
	runner.exists["b"] = true
	queue := &fakeQueue{}
	c, err := New(runner, newMapDatastore(), Config{TTLMillis: MinRedisTTL})
	require.NoError(t, err)

	require.NoError(t, c.Dirty(context.Background(), queue, []string{"a", "b"}))
	require.Len(t, queue.enqueued, 2)
	require.Equal(t, []int64{MinRedisTTL}, runner.extendTTL)
}
