package journal

import "errors"

var (
	// ErrOutOfDiskSpace is returned when a new segment cannot be created
	// because the filesystem is short on free space.
	ErrOutOfDiskSpace = errors.New("journal: out of disk space")

	ErrInvalidIndex    = errors.New("journal: invalid index")
	ErrInvalidAsqn     = errors.New("journal: invalid asqn")
	ErrInvalidChecksum = errors.New("journal: invalid checksum")

	// ErrSegmentFull means the record does not fit in the remaining space of
	// the segment; the caller rolls over to a new segment and retries.
	ErrSegmentFull = errors.New("journal: segment full")
	// ErrSegmentSizeTooSmall means a record does not even fit in an empty segment.
	ErrSegmentSizeTooSmall = errors.New("journal: segment size too small")

	ErrCorruptedLog = errors.New("journal: corrupted log")

	ErrJournalClosed = errors.New("journal: closed")
	ErrSegmentClosed = errors.New("journal: segment closed")
	ErrNoSuchRecord  = errors.New("journal: no next record")
)
