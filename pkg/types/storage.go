package types

// Journal is an append-only, segmented log of records.
//
// Append and AppendRecord are not safe for concurrent use with each other, but
// may run concurrently with any number of readers.
type Journal interface {
	// Append writes data as the next record. asqn may be AsqnIgnore.
	Append(asqn int64, data []byte) (JournalRecord, error)
	// AppendRecord writes a record produced elsewhere, validating its index and checksum.
	AppendRecord(record JournalRecord) error

	// DeleteAfter removes every record with an index greater than index.
	DeleteAfter(index int64) error
	// DeleteUntil removes whole segments holding only records below index.
	DeleteUntil(index int64) error
	// Reset drops every record; the next append gets nextIndex.
	Reset(nextIndex int64) error

	OpenReader() (JournalReader, error)

	FirstIndex() int64
	LastIndex() int64
	IsEmpty() bool

	Flush() error
	Close() error
	IsOpen() bool
}

// JournalReader iterates over records of a journal. A reader must not be
// shared between goroutines without external synchronization of its cursor.
type JournalReader interface {
	HasNext() bool
	// Next returns the next record. Data is a view over the mapped segment and
	// is only valid until the reader is closed.
	Next() (JournalRecord, error)

	// Seek positions the reader so the next record has the given index, or the
	// closest index present. It returns the index of the next record.
	Seek(index int64) int64
	SeekToFirst() int64
	SeekToLast() int64
	// SeekToAsqn positions the reader at the last record whose asqn is less
	// than or equal to asqn, or at the first record if there is none.
	SeekToAsqn(asqn int64) int64

	Close() error
}

// MetaStore durably persists journal metadata outside of the segments.
type MetaStore interface {
	// LoadLastFlushedIndex returns the stored watermark, or 0 when none is stored.
	LoadLastFlushedIndex() int64
	StoreLastFlushedIndex(index int64) error
	ResetLastFlushedIndex() error
	// Flush makes previously stored values durable.
	Flush() error
}
