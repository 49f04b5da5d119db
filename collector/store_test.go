package collector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/collector"
	"github.com/hookwire/hookwire/event"
)

func testRecord(pid uint32, msg string) event.Data {
	d := event.Data{
		Pid:        pid,
		UID:        1000,
		Provenance: event.ProvenanceKprobe,
	}
	copy(d.Comm[:], "bash")
	copy(d.Message[:], msg)
	return d
}

func TestStore(t *testing.T) {
	store, err := collector.OpenStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(testRecord(1, "first")))
	require.NoError(t, store.Insert(testRecord(2, "second")))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first.
	assert.Equal(t, uint32(2), recent[0].Pid)
	assert.Equal(t, "second", recent[0].Message)
	assert.Equal(t, "kprobe", recent[0].Provenance)
	assert.Equal(t, "bash", recent[0].Comm)
	assert.Equal(t, uint32(1), recent[1].Pid)

	recent, err = store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, uint32(2), recent[0].Pid)
}

func TestStoreEmpty(t *testing.T) {
	store, err := collector.OpenStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	recent, err := store.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
