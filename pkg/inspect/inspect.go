// Package inspect reads journal segment files without opening the journal.
// Files are mapped read-only and decoded one frame at a time, so it is safe
// to run against a live directory.
package inspect

import (
	"errors"
	"fmt"
	"io"

	"github.com/downfa11-org/go-journal/pkg/journal"
	"github.com/downfa11-org/go-journal/pkg/types"
	"golang.org/x/exp/mmap"
)

// RecordInfo describes one frame found in a segment.
type RecordInfo struct {
	Position int
	Index    int64
	Asqn     int64
	Length   int
	Checksum uint64
}

// SegmentReport summarizes a single segment file.
type SegmentReport struct {
	Path       string
	Descriptor journal.SegmentDescriptor
	Records    int
	FirstIndex int64
	LastIndex  int64
	LastAsqn   int64
	// End is the position right after the last readable frame.
	End      int
	Capacity int
	// Corruption is set when scanning stopped on an unreadable frame.
	Corruption error
}

func (r SegmentReport) String() string {
	status := "ok"
	if r.Corruption != nil {
		status = r.Corruption.Error()
	}
	return fmt.Sprintf("%s: id=%d version=%d records=%d range=[%d, %d] last_asqn=%d used=%d/%d status=%s",
		r.Path, r.Descriptor.ID, r.Descriptor.Version, r.Records, r.FirstIndex, r.LastIndex, r.LastAsqn, r.End, r.Capacity, status)
}

// InspectSegment scans the segment at path and calls visit for every
// readable record. A frame that fails to decode ends the scan and is
// reported in SegmentReport.Corruption rather than as an error.
func InspectSegment(path string, visit func(RecordInfo) error) (SegmentReport, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return SegmentReport{}, fmt.Errorf("mmap open failed: %w", err)
	}
	defer reader.Close()
	capacity := reader.Len()

	head, err := readAt(reader, 0, min(capacity, journal.DescriptorLength(journal.DescriptorVersionCurrent)))
	if err != nil {
		return SegmentReport{}, fmt.Errorf("read %s: %w", path, err)
	}
	descriptor, err := journal.DecodeSegmentDescriptor(head)
	if err != nil {
		return SegmentReport{}, fmt.Errorf("segment %s: %w", path, err)
	}

	report := SegmentReport{
		Path:       path,
		Descriptor: descriptor,
		FirstIndex: descriptor.Index,
		LastIndex:  descriptor.Index - 1,
		LastAsqn:   types.AsqnIgnore,
		End:        descriptor.EncodedLength(),
		Capacity:   capacity,
	}

	header := make([]byte, journal.FrameHeaderLength)
	var frame []byte
	position := report.End
	for position+journal.FrameHeaderLength <= capacity {
		if _, err := reader.ReadAt(header, int64(position)); err != nil {
			return report, fmt.Errorf("read %s: %w", path, err)
		}
		size, err := journal.FrameSize(header)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Corruption = fmt.Errorf("position %d: %w", position, err)
			break
		}
		if position+size > capacity {
			break
		}

		if cap(frame) < size {
			frame = make([]byte, size)
		}
		frame = frame[:size]
		if _, err := reader.ReadAt(frame, int64(position)); err != nil {
			return report, fmt.Errorf("read %s: %w", path, err)
		}
		rec, n, err := journal.DecodeFrame(frame, 0)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Corruption = fmt.Errorf("position %d: %w", position, err)
			break
		}
		if rec.Index != report.LastIndex+1 {
			report.Corruption = fmt.Errorf("%w: expected index %d at position %d, found %d",
				journal.ErrCorruptedLog, report.LastIndex+1, position, rec.Index)
			break
		}

		if visit != nil {
			info := RecordInfo{Position: position, Index: rec.Index, Asqn: rec.Asqn, Length: len(rec.Data), Checksum: rec.Checksum}
			if err := visit(info); err != nil {
				return report, err
			}
		}
		report.Records++
		report.LastIndex = rec.Index
		if rec.Asqn != types.AsqnIgnore {
			report.LastAsqn = rec.Asqn
		}
		position += n
		report.End = position
	}
	return report, nil
}

func readAt(r io.ReaderAt, offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// InspectJournal reports every segment of the named journal in dir, in id
// order.
func InspectJournal(dir, name string) ([]SegmentReport, error) {
	files, err := journal.ListSegmentFiles(dir, name)
	if err != nil {
		return nil, err
	}

	reports := make([]SegmentReport, 0, len(files))
	for _, file := range files {
		report, err := InspectSegment(file.Path, nil)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Verify checks that the reported segments form one contiguous, readable log.
func Verify(reports []SegmentReport) error {
	var errs []error
	for i, r := range reports {
		if r.Corruption != nil {
			errs = append(errs, fmt.Errorf("segment %d: %w", r.Descriptor.ID, r.Corruption))
		}
		if i == 0 {
			continue
		}
		prev := reports[i-1]
		if r.FirstIndex != prev.LastIndex+1 {
			errs = append(errs, fmt.Errorf("%w: segment %d starts at %d but segment %d ends at %d",
				journal.ErrCorruptedLog, r.Descriptor.ID, r.FirstIndex, prev.Descriptor.ID, prev.LastIndex))
		}
	}
	return errors.Join(errs...)
}
