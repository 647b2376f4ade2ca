package types

import "fmt"

// AsqnIgnore marks a record that carries no application sequence number.
const AsqnIgnore int64 = -1

// JournalRecord is a single persisted journal entry.
type JournalRecord struct {
	Index    int64
	Asqn     int64
	Checksum uint64
	Data     []byte
}

func (r JournalRecord) String() string {
	return fmt.Sprintf("JournalRecord{index=%d, asqn=%d, checksum=%d, length=%d}", r.Index, r.Asqn, r.Checksum, len(r.Data))
}
