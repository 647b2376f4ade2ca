package metastore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/go-journal/pkg/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreWatermarkDurableAfterFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.meta")

	s, err := metastore.OpenFileStore(path)
	require.NoError(t, err)
	assert.Zero(t, s.LoadLastFlushedIndex())

	require.NoError(t, s.StoreLastFlushedIndex(99))

	// not flushed yet
	reopened, err := metastore.OpenFileStore(path)
	require.NoError(t, err)
	assert.Zero(t, reopened.LoadLastFlushedIndex())

	require.NoError(t, s.Flush())
	reopened, err = metastore.OpenFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, int64(99), reopened.LoadLastFlushedIndex())
}

func TestFileStoreSetIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "raft.meta")

	s, err := metastore.OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetUint64([]byte("CurrentTerm"), 3))
	require.NoError(t, s.Set([]byte("LastVoteCand"), []byte("node-2")))

	reopened, err := metastore.OpenFileStore(path)
	require.NoError(t, err)

	term, err := reopened.GetUint64([]byte("CurrentTerm"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), term)

	cand, err := reopened.Get([]byte("LastVoteCand"))
	require.NoError(t, err)
	assert.Equal(t, []byte("node-2"), cand)
}

func TestFileStoreLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := metastore.OpenFileStore(filepath.Join(dir, "journal.meta"))
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.StoreLastFlushedIndex(i))
		require.NoError(t, s.Flush())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "journal.meta", entries[0].Name())
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.meta")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := metastore.OpenFileStore(path)
	assert.Error(t, err)
}
