package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestAdhocStoreLoadMissingReturnsEmptyCheckpoint(t *testing.T) {
	var store = NewAdhocStore(t.TempDir())
	doc, err := store.Load("job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", doc.JobID)
	require.Empty(t, doc.Files)
}

func TestAdhocStoreMarkDoneThenReload(t *testing.T) {
	var store = NewAdhocStore(t.TempDir())
	require.NoError(t, store.MarkDone("job-1", "/var/log/a.log", 1024))

	doc, err := store.Load("job-1")
	require.NoError(t, err)

	entry, ok := doc.Files["/var/log/a.log"]
	require.True(t, ok)
	require.Equal(t, protocol.JobDone, entry.Status)
	require.Equal(t, int64(1024), entry.Offset)
}

func TestAdhocStoreMarkLost(t *testing.T) {
	var store = NewAdhocStore(t.TempDir())
	require.NoError(t, store.MarkLost("job-1", "/var/log/gone.log"))

	doc, err := store.Load("job-1")
	require.NoError(t, err)
	require.Equal(t, protocol.JobLost, doc.Files["/var/log/gone.log"].Status)
}

func TestAdhocStoreRemoveDeletesDocument(t *testing.T) {
	var dir = t.TempDir()
	var store = NewAdhocStore(dir)
	require.NoError(t, store.MarkDone("job-1", "/a", 1))
	require.FileExists(t, filepath.Join(dir, "job-1.json"))

	require.NoError(t, store.Remove("job-1"))
	require.NoFileExists(t, filepath.Join(dir, "job-1.json"))
}
