package types

// IndexEntry points at the byte position of a record inside its segment.
type IndexEntry struct {
	Index    int64
	Position int
}

// AsqnEntry maps an application sequence number to the log index carrying it.
type AsqnEntry struct {
	Asqn  int64
	Index int64
}
