package journal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/go-journal/pkg/disk"
	"github.com/downfa11-org/go-journal/util"
)

const (
	segmentOpen int32 = iota
	segmentMarkedForDeletion
	segmentDeleted
	segmentClosed
)

// Segment is one memory-mapped file of the journal with its writer and the
// readers currently attached to it.
//
// Deleting a segment happens in two steps. The file is first renamed so it no
// longer belongs to the journal; the mapping is released and the file removed
// once the last reader detaches.
type Segment struct {
	files      *segmentFiles
	file       *disk.MappedFile
	descriptor SegmentDescriptor
	index      *SparseIndex
	writer     *SegmentWriter

	state atomic.Int32

	mu      sync.Mutex
	readers map[*SegmentReader]struct{}
}

func newSegment(files *segmentFiles, file *disk.MappedFile, descriptor SegmentDescriptor, index *SparseIndex, lastWrittenIndex, baseAsqn int64) (*Segment, error) {
	s := &Segment{
		files:      files,
		file:       file,
		descriptor: descriptor,
		index:      index,
		readers:    make(map[*SegmentReader]struct{}),
	}
	w, err := newSegmentWriter(s, index, lastWrittenIndex, baseAsqn)
	if err != nil {
		return nil, err
	}
	s.writer = w
	return s, nil
}

// createSegment creates a new segment file, reserves its space and writes
// the descriptor.
func createSegment(files *segmentFiles, descriptor SegmentDescriptor, index *SparseIndex, allocator disk.SpaceAllocator, baseAsqn int64) (*Segment, error) {
	path := files.segmentPath(descriptor.ID)
	file, err := disk.CreateMappedFile(path, int64(descriptor.MaxSegmentSize), allocator)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", descriptor.ID, err)
	}

	written, err := descriptor.Encode(file.Bytes())
	if err == nil {
		err = file.Flush()
	}
	if err == nil {
		err = disk.SyncDir(files.dir)
	}
	if err != nil {
		_ = file.Remove()
		return nil, fmt.Errorf("write descriptor of segment %d: %w", descriptor.ID, err)
	}

	segment, err := newSegment(files, file, written, index, 0, baseAsqn)
	if err != nil {
		_ = file.Remove()
		return nil, err
	}
	return segment, nil
}

// loadSegment maps an existing segment file and recovers its writer.
func loadSegment(files *segmentFiles, path string, index *SparseIndex, lastWrittenIndex, baseAsqn int64) (*Segment, error) {
	descriptor, err := readDescriptor(path)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}
	if int(descriptor.MaxSegmentSize) < descriptor.EncodedLength() {
		return nil, fmt.Errorf("%w: segment %s: max segment size %d is smaller than its descriptor", ErrCorruptedLog, path, descriptor.MaxSegmentSize)
	}

	file, err := disk.OpenMappedFile(path, int64(descriptor.MaxSegmentSize))
	if err != nil {
		return nil, err
	}
	segment, err := newSegment(files, file, descriptor, index, lastWrittenIndex, baseAsqn)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return segment, nil
}

func readDescriptor(path string) (SegmentDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return SegmentDescriptor{}, err
	}
	defer f.Close()

	buf := make([]byte, currentDescriptorLength)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return SegmentDescriptor{}, err
	}
	return DecodeSegmentDescriptor(buf[:n])
}

func (s *Segment) ID() int64 {
	return s.descriptor.ID
}

func (s *Segment) Descriptor() SegmentDescriptor {
	return s.descriptor
}

func (s *Segment) FirstIndex() int64 {
	return s.descriptor.Index
}

func (s *Segment) LastIndex() int64 {
	if s.writer == nil {
		return s.descriptor.Index - 1
	}
	return s.writer.LastIndex()
}

func (s *Segment) LastAsqn() int64 {
	return s.writer.LastAsqn()
}

func (s *Segment) IsEmpty() bool {
	return s.LastIndex() < s.FirstIndex()
}

func (s *Segment) Path() string {
	return s.file.Path()
}

func (s *Segment) Writer() *SegmentWriter {
	return s.writer
}

func (s *Segment) isOpen() bool {
	return s.state.Load() == segmentOpen
}

// CreateReader attaches a new reader positioned at the first record.
func (s *Segment) CreateReader() (*SegmentReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen() {
		return nil, fmt.Errorf("%w: segment %d", ErrSegmentClosed, s.ID())
	}
	r := newSegmentReader(s, s.index)
	s.readers[r] = struct{}{}
	return r, nil
}

func (s *Segment) readerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readers)
}

// Flush forces the written frames to disk. A segment that is no longer open
// has nothing to flush.
func (s *Segment) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen() {
		return nil
	}
	if err := s.file.Flush(); err != nil {
		return fmt.Errorf("flush segment %d: %w", s.ID(), err)
	}
	return nil
}

// Delete marks the segment for deletion and renames its file. The mapping
// is released as soon as no reader uses it. Calling Delete again is a no-op.
func (s *Segment) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(segmentOpen, segmentMarkedForDeletion) {
		return nil
	}
	s.writer.close()

	var err error
	if renameErr := s.file.Rename(s.files.deletedPath(s.ID())); renameErr != nil {
		err = fmt.Errorf("rename segment %d for deletion: %w", s.ID(), renameErr)
		util.Warn("Failed to rename segment %d before deleting it: %v", s.ID(), renameErr)
	}
	s.safeDelete()
	return err
}

func (s *Segment) onReaderClosed(r *SegmentReader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.readers, r)
	if s.state.Load() == segmentMarkedForDeletion {
		s.safeDelete()
	}
}

// safeDelete releases the segment if it is marked and unused. Callers hold s.mu.
func (s *Segment) safeDelete() {
	if len(s.readers) > 0 {
		util.Debug("Segment %d has %d open readers, deferring its deletion", s.ID(), len(s.readers))
		return
	}
	if !s.state.CompareAndSwap(segmentMarkedForDeletion, segmentDeleted) {
		return
	}
	if err := s.file.Remove(); err != nil {
		util.Error("Failed to delete segment file %s: %v", s.file.Path(), err)
		return
	}
	util.Debug("Deleted segment %d", s.ID())
}

// Close releases the mapping without deleting the file. Readers still attached
// stop returning records.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Load() == segmentDeleted {
		return nil
	}
	s.state.Store(segmentClosed)
	s.writer.close()
	for r := range s.readers {
		r.closed.Store(true)
	}
	clear(s.readers)
	return s.file.Close()
}

func (s *Segment) String() string {
	return fmt.Sprintf("Segment{id=%d, firstIndex=%d, lastIndex=%d, path=%s}", s.ID(), s.FirstIndex(), s.LastIndex(), s.Path())
}
