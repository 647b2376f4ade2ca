package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-journal/pkg/disk"
	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
)

// SegmentsManager owns the ordered set of segments of a journal. Routing
// reads go through an immutable snapshot; every mutation happens under the
// journal's structural write lock.
type SegmentsManager struct {
	files            *segmentFiles
	maxSegmentSize   int32
	minFreeDiskSpace int64
	allocator        disk.SpaceAllocator
	index            *SparseIndex
	flusher          *SegmentsFlusher
	metrics          Metrics

	segments atomic.Pointer[[]*Segment]
}

func newSegmentsManager(opts Options, index *SparseIndex, flusher *SegmentsFlusher) *SegmentsManager {
	return &SegmentsManager{
		files:            newSegmentFiles(opts.Directory, opts.Name),
		maxSegmentSize:   opts.MaxSegmentSize,
		minFreeDiskSpace: opts.MinFreeDiskSpace,
		allocator:        opts.allocator(),
		index:            index,
		flusher:          flusher,
		metrics:          opts.metrics(),
	}
}

// Open loads the segments found on disk, or creates the first one.
func (m *SegmentsManager) Open() error {
	if err := os.MkdirAll(m.files.dir, disk.DirPerm); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	m.removeDeletedFiles()

	segments, err := m.loadSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		segment, err := m.createSegment(NewSegmentDescriptor(1, 1, m.maxSegmentSize), types.AsqnIgnore)
		if err != nil {
			return err
		}
		segments = []*Segment{segment}
	}

	last := segments[len(segments)-1].LastIndex()
	if flushed := m.flusher.LastFlushedIndex(); last < flushed {
		util.Error("Journal %s in %s ends at index %d but index %d was recorded as flushed; records %d to %d are lost",
			m.files.name, m.files.dir, last, flushed, last+1, flushed)
		if err := m.flusher.SetLastFlushedIndex(last); err != nil {
			return err
		}
	}
	m.publish(segments)
	return nil
}

// Segments returns the current snapshot ordered by first index.
func (m *SegmentsManager) Segments() []*Segment {
	if p := m.segments.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *SegmentsManager) publish(segments []*Segment) {
	m.segments.Store(&segments)
	m.metrics.SetSegmentCount(len(segments))
}

func (m *SegmentsManager) FirstSegment() *Segment {
	segments := m.Segments()
	if len(segments) == 0 {
		return nil
	}
	return segments[0]
}

func (m *SegmentsManager) LastSegment() *Segment {
	segments := m.Segments()
	if len(segments) == 0 {
		return nil
	}
	return segments[len(segments)-1]
}

// CurrentSegment is the segment being appended to.
func (m *SegmentsManager) CurrentSegment() *Segment {
	return m.LastSegment()
}

// SegmentFor returns the segment whose range contains index. Indexes below
// the first segment map to it and indexes above the last map to the last.
func (m *SegmentsManager) SegmentFor(index int64) *Segment {
	segments := m.Segments()
	if len(segments) == 0 {
		return nil
	}
	i := sort.Search(len(segments), func(i int) bool { return segments[i].FirstIndex() > index })
	if i == 0 {
		return segments[0]
	}
	return segments[i-1]
}

// SegmentAfter returns the segment following s, or nil.
func (m *SegmentsManager) SegmentAfter(s *Segment) *Segment {
	segments := m.Segments()
	for i, segment := range segments {
		if segment == s && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return nil
}

// DirtySegments returns the segments that may hold records at or above index.
func (m *SegmentsManager) DirtySegments(index int64) []*Segment {
	segments := m.Segments()
	i := sort.Search(len(segments), func(i int) bool { return segments[i].LastIndex() >= index })
	return segments[i:]
}

// NextSegment rolls over to a new segment that continues after the current one.
func (m *SegmentsManager) NextSegment() (*Segment, error) {
	if err := m.checkDiskSpace(); err != nil {
		return nil, err
	}

	last := m.LastSegment()
	descriptor := NewSegmentDescriptor(last.ID()+1, last.LastIndex()+1, m.maxSegmentSize)
	segment, err := m.createSegment(descriptor, last.LastAsqn())
	if err != nil {
		return nil, err
	}

	segments := append(append([]*Segment(nil), m.Segments()...), segment)
	m.publish(segments)
	util.Debug("Rolled over to segment %d starting at index %d", segment.ID(), segment.FirstIndex())
	return segment, nil
}

func (m *SegmentsManager) checkDiskSpace() error {
	free, err := disk.FreeSpace(m.files.dir)
	if err != nil {
		util.Warn("Failed to determine free disk space of %s: %v", m.files.dir, err)
		return nil
	}
	required := max(int64(m.maxSegmentSize), m.minFreeDiskSpace)
	if free < required {
		return fmt.Errorf("%w: %d bytes free in %s, %d required to create a new segment", ErrOutOfDiskSpace, free, m.files.dir, required)
	}
	return nil
}

func (m *SegmentsManager) createSegment(descriptor SegmentDescriptor, baseAsqn int64) (*Segment, error) {
	start := time.Now()
	segment, err := createSegment(m.files, descriptor, m.index, m.allocator, baseAsqn)
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveSegmentCreation(time.Since(start))
	return segment, nil
}

// DeleteUntil deletes every segment that only holds records below index. The
// segment containing index is kept. It reports whether anything was deleted.
func (m *SegmentsManager) DeleteUntil(index int64) bool {
	segments := m.Segments()
	keep := sort.Search(len(segments), func(i int) bool { return segments[i].FirstIndex() > index }) - 1
	if keep <= 0 {
		return false
	}

	for _, segment := range segments[:keep] {
		if err := segment.Delete(); err != nil {
			util.Warn("Failed to delete segment %d: %v", segment.ID(), err)
		}
	}
	m.publish(append([]*Segment(nil), segments[keep:]...))
	m.index.DeleteUntil(index)
	util.Debug("Deleted %d segments below index %d", keep, index)
	return true
}

// ResetSegments replaces every segment by a single empty one whose first
// record will be index. The new segment exists and the watermark points right
// before it before any old segment is removed, so a crash in between leaves
// the old segments as stale leftovers that are dropped on the next open.
func (m *SegmentsManager) ResetSegments(index int64) error {
	old := m.Segments()
	id := int64(1)
	if last := m.LastSegment(); last != nil {
		id = last.ID() + 1
	}

	segment, err := m.createSegment(NewSegmentDescriptor(id, index, m.maxSegmentSize), types.AsqnIgnore)
	if err != nil {
		return err
	}
	if err := m.flusher.SetLastFlushedIndex(index - 1); err != nil {
		_ = segment.Delete()
		return err
	}
	m.index.Clear()

	for _, s := range old {
		if err := s.Delete(); err != nil {
			util.Warn("Failed to delete segment %d during reset: %v", s.ID(), err)
		}
	}
	m.publish([]*Segment{segment})
	return nil
}

// RemoveSegment deletes a single segment. If it was the only one, a fresh
// segment starting at index 1 takes its place.
func (m *SegmentsManager) RemoveSegment(s *Segment) error {
	segments := make([]*Segment, 0, len(m.Segments()))
	for _, segment := range m.Segments() {
		if segment != s {
			segments = append(segments, segment)
		}
	}

	err := s.Delete()
	if len(segments) == 0 {
		fresh, createErr := m.createSegment(NewSegmentDescriptor(s.ID()+1, 1, m.maxSegmentSize), types.AsqnIgnore)
		if createErr != nil {
			return errors.Join(err, createErr)
		}
		segments = append(segments, fresh)
	}
	m.publish(segments)
	return err
}

func (m *SegmentsManager) Close() error {
	var errs []error
	for _, segment := range m.Segments() {
		if err := segment.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close segment %d: %w", segment.ID(), err))
		}
	}
	m.segments.Store(nil)
	return errors.Join(errs...)
}

func (m *SegmentsManager) removeDeletedFiles() {
	entries, err := os.ReadDir(m.files.dir)
	if err != nil {
		util.Warn("Failed to list %s: %v", m.files.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !m.files.isDeletedFile(entry.Name()) {
			continue
		}
		path := filepath.Join(m.files.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			util.Warn("Failed to remove leftover segment %s: %v", path, err)
			continue
		}
		util.Info("Removed leftover segment %s", path)
	}
}

func (m *SegmentsManager) listSegmentFiles() ([]SegmentFile, error) {
	return ListSegmentFiles(m.files.dir, m.files.name)
}

// loadSegments loads every segment file in id order. Damage that can only
// stem from writes after the durable watermark is repaired by dropping the
// affected segments; anything else is reported as ErrCorruptedLog.
func (m *SegmentsManager) loadSegments() ([]*Segment, error) {
	files, err := m.listSegmentFiles()
	if err != nil {
		return nil, err
	}

	lastFlushed := m.flusher.LastFlushedIndex()
	var segments []*Segment
	fail := func(err error) ([]*Segment, error) {
		for _, s := range segments {
			_ = s.Close()
		}
		return nil, err
	}

	for i, file := range files {
		baseAsqn := types.AsqnIgnore
		prevLast := int64(0)
		if n := len(segments); n > 0 {
			baseAsqn = segments[n-1].LastAsqn()
			prevLast = segments[n-1].LastIndex()
		}

		segment, err := loadSegment(m.files, file.Path, m.index, lastFlushed, baseAsqn)
		if err != nil {
			if errors.Is(err, ErrCorruptedLog) && prevLast >= lastFlushed {
				util.Warn("Segment %s is unreadable but holds only unflushed records, discarding it and %d later segments: %v", file.Path, len(files)-i-1, err)
				m.index.DeleteAfter(prevLast)
				m.removeFiles(files[i:])
				break
			}
			return fail(err)
		}
		if len(segments) == 0 {
			segments = append(segments, segment)
			continue
		}

		prev := segments[len(segments)-1]
		switch {
		case segment.FirstIndex() == prev.LastIndex()+1:
			segments = append(segments, segment)

		case segment.FirstIndex() > prev.LastIndex()+1 && prev.LastIndex() >= lastFlushed:
			util.Warn("Segment %s starts at %d but segment %d ends at %d; discarding unflushed segments from %s",
				file.Path, segment.FirstIndex(), prev.ID(), prev.LastIndex(), file.Path)
			_ = segment.Close()
			m.index.DeleteAfter(prev.LastIndex())
			m.removeFiles(files[i:])
			return segments, nil

		case segment.FirstIndex() > prev.LastIndex()+1 && segment.ID() == prev.ID()+1 && segment.FirstIndex() <= lastFlushed+1:
			util.Warn("Segments before %s end at %d, below the watermark %d; deleting them as stale leftovers of a reset",
				file.Path, prev.LastIndex(), lastFlushed)
			for _, stale := range segments {
				if err := stale.Delete(); err != nil {
					util.Warn("Failed to delete stale segment %d: %v", stale.ID(), err)
				}
			}
			m.index.Clear()
			if err := segment.writer.reset(0); err != nil {
				_ = segment.Close()
				return nil, err
			}
			segments = []*Segment{segment}

		default:
			_ = segment.Close()
			return fail(fmt.Errorf("%w: segment %s starts at index %d but the previous segment ends at %d",
				ErrCorruptedLog, file.Path, segment.FirstIndex(), prev.LastIndex()))
		}
	}
	return segments, nil
}

func (m *SegmentsManager) removeFiles(files []SegmentFile) {
	for _, file := range files {
		if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
			util.Error("Failed to remove segment file %s: %v", file.Path, err)
		}
	}
	if err := disk.SyncDir(m.files.dir); err != nil {
		util.Warn("Failed to sync %s: %v", m.files.dir, err)
	}
}
