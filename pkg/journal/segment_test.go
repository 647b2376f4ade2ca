package journal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/downfa11-org/go-journal/pkg/disk"
	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// room for exactly two records with a 3 byte payload
var twoRecordSegment = int32(currentDescriptorLength + 2*FrameLength(3))

func newTestSegment(t *testing.T, dir string, id, index int64, maxSize int32, sparse *SparseIndex) *Segment {
	t.Helper()
	s, err := createSegment(newSegmentFiles(dir, "test"), NewSegmentDescriptor(id, index, maxSize), sparse, disk.NoopAllocator, types.AsqnIgnore)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendN(t *testing.T, w *SegmentWriter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := w.Append(w.NextIndex(), types.AsqnIgnore, []byte("abc"))
		require.NoError(t, err)
	}
}

func TestSegmentWriterRejectsNonContiguousIndex(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, 4096, NewSparseIndex(1))
	w := s.Writer()

	appendN(t, w, 3)
	assert.Equal(t, int64(3), w.LastIndex())

	_, err := w.Append(5, types.AsqnIgnore, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = w.Append(3, types.AsqnIgnore, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidIndex)
	assert.Equal(t, int64(3), w.LastIndex())
}

func TestSegmentWriterRejectsNonIncreasingAsqn(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, 4096, NewSparseIndex(1))
	w := s.Writer()

	_, err := w.Append(1, 10, []byte("a"))
	require.NoError(t, err)
	_, err = w.Append(2, types.AsqnIgnore, []byte("b"))
	require.NoError(t, err)

	_, err = w.Append(3, 10, []byte("c"))
	assert.ErrorIs(t, err, ErrInvalidAsqn)
	_, err = w.Append(3, 9, []byte("c"))
	assert.ErrorIs(t, err, ErrInvalidAsqn)

	_, err = w.Append(3, 11, []byte("c"))
	assert.NoError(t, err)
}

func TestSegmentWriterFull(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, twoRecordSegment, NewSparseIndex(1))
	w := s.Writer()

	appendN(t, w, 2)
	_, err := w.Append(3, types.AsqnIgnore, []byte("abc"))
	assert.ErrorIs(t, err, ErrSegmentFull)
	assert.Equal(t, int(twoRecordSegment), w.Position())
}

func TestSegmentWriterAppendRecordVerifiesChecksum(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, 4096, NewSparseIndex(1))
	w := s.Writer()

	bad := types.JournalRecord{Index: 1, Asqn: 1, Checksum: 12345, Data: []byte("data")}
	_, err := w.AppendRecord(bad)
	assert.ErrorIs(t, err, ErrInvalidChecksum)
	assert.True(t, w.IsEmpty())
	assert.Equal(t, currentDescriptorLength, w.Position())

	good := bad
	good.Checksum = RecordChecksum(1, 1, []byte("data"))
	rec, err := w.AppendRecord(good)
	require.NoError(t, err)
	assert.Equal(t, good.Checksum, rec.Checksum)
	assert.Equal(t, int64(1), w.LastIndex())
}

func TestSegmentWriterTruncate(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, 4096, NewSparseIndex(2))
	w := s.Writer()
	appendN(t, w, 5)
	positionAfter3 := currentDescriptorLength + 3*FrameLength(3)

	require.NoError(t, w.Truncate(5))
	require.NoError(t, w.Truncate(9))
	assert.Equal(t, int64(5), w.LastIndex())

	require.NoError(t, w.Truncate(3))
	assert.Equal(t, int64(3), w.LastIndex())
	assert.Equal(t, positionAfter3, w.Position())

	require.NoError(t, w.Truncate(3))
	assert.Equal(t, int64(3), w.LastIndex())
	assert.Equal(t, positionAfter3, w.Position())

	_, err := w.Append(4, types.AsqnIgnore, []byte("new"))
	require.NoError(t, err)

	r, err := s.CreateReader()
	require.NoError(t, err)
	defer r.Close()
	var payloads []string
	for r.HasNext() {
		rec, err := r.Next()
		require.NoError(t, err)
		payloads = append(payloads, string(rec.Data))
	}
	assert.Equal(t, []string{"abc", "abc", "abc", "new"}, payloads)

	require.NoError(t, w.Truncate(0))
	assert.True(t, w.IsEmpty())
	assert.Equal(t, int64(0), w.LastIndex())
}

func TestSegmentWriterTruncateRestoresLastAsqn(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, 4096, NewSparseIndex(1))
	w := s.Writer()
	for i := int64(1); i <= 4; i++ {
		_, err := w.Append(i, i*10, []byte("x"))
		require.NoError(t, err)
	}

	require.NoError(t, w.Truncate(2))
	assert.Equal(t, int64(20), w.LastAsqn())

	_, err := w.Append(3, 25, []byte("y"))
	assert.NoError(t, err)
}

func TestSegmentWriterRecoversOnLoad(t *testing.T) {
	dir := t.TempDir()
	files := newSegmentFiles(dir, "test")
	s, err := createSegment(files, NewSegmentDescriptor(1, 10, 4096), NewSparseIndex(1), disk.NoopAllocator, types.AsqnIgnore)
	require.NoError(t, err)
	for i := int64(10); i < 13; i++ {
		_, err := s.Writer().Append(i, i, []byte("abc"))
		require.NoError(t, err)
	}
	position := s.Writer().Position()
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	loaded, err := loadSegment(files, files.segmentPath(1), NewSparseIndex(1), 12, types.AsqnIgnore)
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, int64(10), loaded.FirstIndex())
	assert.Equal(t, int64(12), loaded.LastIndex())
	assert.Equal(t, int64(12), loaded.LastAsqn())
	assert.Equal(t, position, loaded.Writer().Position())
}

func TestSegmentWriterPartialWriteOnLoad(t *testing.T) {
	dir := t.TempDir()
	files := newSegmentFiles(dir, "test")
	s, err := createSegment(files, NewSegmentDescriptor(1, 1, 4096), NewSparseIndex(1), disk.NoopAllocator, types.AsqnIgnore)
	require.NoError(t, err)
	appendN(t, s.Writer(), 3)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// flip the last payload byte of record 3
	path := files.segmentPath(1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[currentDescriptorLength+3*FrameLength(3)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Run("above watermark is discarded", func(t *testing.T) {
		loaded, err := loadSegment(files, path, NewSparseIndex(1), 2, types.AsqnIgnore)
		require.NoError(t, err)
		defer loaded.Close()

		assert.Equal(t, int64(2), loaded.LastIndex())
		_, err = loaded.Writer().Append(3, types.AsqnIgnore, []byte("xyz"))
		assert.NoError(t, err)
	})

	t.Run("at or below watermark is fatal", func(t *testing.T) {
		// the previous subtest rewrote record 3, corrupt it again
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[currentDescriptorLength+3*FrameLength(3)-1] ^= 0xff
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err = loadSegment(files, path, NewSparseIndex(1), 3, types.AsqnIgnore)
		assert.ErrorIs(t, err, ErrCorruptedLog)
	})
}

func TestSegmentReaderSeekEveryOffset(t *testing.T) {
	const density = 4
	sparse := NewSparseIndex(density)
	s := newTestSegment(t, t.TempDir(), 1, 1, 8192, sparse)
	appendN(t, s.Writer(), 25)

	r, err := s.CreateReader()
	require.NoError(t, err)
	defer r.Close()

	for k := int64(1); k <= 25; k++ {
		r.Seek(k)
		require.True(t, r.HasNext(), "seek %d (k mod %d = %d)", k, density, k%density)
		rec, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, k, rec.Index, "seek %d (k mod %d = %d)", k, density, k%density)
	}

	r.Seek(0)
	assert.Equal(t, int64(1), r.NextIndex())

	r.Seek(100)
	assert.Equal(t, int64(26), r.NextIndex())
	assert.False(t, r.HasNext())
}

func TestSegmentReaderOnlySeesCommittedRecords(t *testing.T) {
	s := newTestSegment(t, t.TempDir(), 1, 1, 4096, NewSparseIndex(1))
	r, err := s.CreateReader()
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.HasNext())
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrNoSuchRecord)

	appendN(t, s.Writer(), 1)
	require.True(t, r.HasNext())
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Index)
	assert.False(t, r.HasNext())
}

func deletedFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+deletedExtension))
	require.NoError(t, err)
	return matches
}

func TestSegmentDeferredDeletion(t *testing.T) {
	dir := t.TempDir()
	s := newTestSegment(t, dir, 1, 1, 4096, NewSparseIndex(1))
	appendN(t, s.Writer(), 2)
	original := s.Path()

	r, err := s.CreateReader()
	require.NoError(t, err)

	require.NoError(t, s.Delete())
	require.NoError(t, s.Delete())

	assert.NoFileExists(t, original)
	pending := deletedFiles(t, dir)
	require.Len(t, pending, 1)
	assert.FileExists(t, pending[0])
	assert.False(t, r.HasNext())

	_, err = s.CreateReader()
	assert.ErrorIs(t, err, ErrSegmentClosed)

	r.Close()
	assert.NoFileExists(t, pending[0])
	assert.Empty(t, deletedFiles(t, dir))

	// a second close must not touch the segment again
	r.Close()
	assert.Zero(t, s.readerCount())
}

func TestSegmentConcurrentReaderCloseDeletesOnce(t *testing.T) {
	dir := t.TempDir()
	s := newTestSegment(t, dir, 1, 1, 4096, NewSparseIndex(1))
	appendN(t, s.Writer(), 1)

	readers := make([]*SegmentReader, 16)
	for i := range readers {
		r, err := s.CreateReader()
		require.NoError(t, err)
		readers[i] = r
	}
	require.NoError(t, s.Delete())
	require.Len(t, deletedFiles(t, dir), 1)

	var wg sync.WaitGroup
	for _, r := range readers {
		wg.Add(1)
		go func(r *SegmentReader) {
			defer wg.Done()
			r.Close()
		}(r)
	}
	wg.Wait()

	assert.Equal(t, segmentDeleted, s.state.Load())
	assert.Empty(t, deletedFiles(t, dir))
}

func TestSegmentDeleteWithoutReadersIsImmediate(t *testing.T) {
	dir := t.TempDir()
	s := newTestSegment(t, dir, 1, 1, 4096, NewSparseIndex(1))
	original := s.Path()

	require.NoError(t, s.Delete())
	assert.NoFileExists(t, original)
	assert.Empty(t, deletedFiles(t, dir))
	assert.Equal(t, segmentDeleted, s.state.Load())
}
