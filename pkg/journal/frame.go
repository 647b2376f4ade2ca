package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/downfa11-org/go-journal/pkg/types"
)

// A frame is [version][metadata block][record block]. The version byte is
// written last, so a zero byte means nothing was ever appended there.
const (
	frameVersion byte = 1
	frameIgnored byte = 0

	recordMetaBodyLength  = 8 + 4
	recordMetaLength      = blockHeaderLength + recordMetaBodyLength
	recordFixedBodyLength = 8 + 8 + 4
	recordFixedLength     = blockHeaderLength + recordFixedBodyLength

	frameOverhead = 1 + recordMetaLength + recordFixedLength
)

var (
	errNoFrame   = errors.New("no frame at position")
	errUnderflow = errors.New("frame extends past the end of the segment")
)

// FrameLength is the number of segment bytes a record with dataLength bytes
// of payload occupies.
func FrameLength(dataLength int) int {
	return frameOverhead + dataLength
}

// RecordChecksum computes the checksum a record with these fields gets when
// appended.
func RecordChecksum(index, asqn int64, data []byte) uint64 {
	var header [recordFixedLength]byte
	putRecordHeader(header[:], index, asqn, len(data))

	digest := xxhash.New()
	_, _ = digest.Write(header[:])
	_, _ = digest.Write(data)
	return digest.Sum64()
}

func putRecordHeader(buf []byte, index, asqn int64, dataLength int) {
	putBlockHeader(buf, recordDataTemplateID, recordFixedBodyLength)
	body := buf[blockHeaderLength:]
	binary.LittleEndian.PutUint64(body[0:], uint64(index))
	binary.LittleEndian.PutUint64(body[8:], uint64(asqn))
	binary.LittleEndian.PutUint32(body[16:], uint32(dataLength))
}

// putRecord serializes the record block and returns its length.
func putRecord(buf []byte, index, asqn int64, data []byte) int {
	putRecordHeader(buf, index, asqn, len(data))
	copy(buf[recordFixedLength:], data)
	return recordFixedLength + len(data)
}

func putRecordMeta(buf []byte, checksum uint64, recordLength int) {
	putBlockHeader(buf, recordMetaTemplateID, recordMetaBodyLength)
	binary.LittleEndian.PutUint64(buf[blockHeaderLength:], checksum)
	binary.LittleEndian.PutUint32(buf[blockHeaderLength+8:], uint32(recordLength))
}

// FrameHeaderLength is the length of the frame prefix FrameSize needs.
const FrameHeaderLength = 1 + recordMetaLength

// FrameSize returns the total length of the frame whose first
// FrameHeaderLength bytes are in header. It returns io.EOF where the written
// log ends.
func FrameSize(header []byte) (int, error) {
	if len(header) < FrameHeaderLength || header[0] == frameIgnored {
		return 0, io.EOF
	}
	if header[0] != frameVersion {
		return 0, fmt.Errorf("%w: unknown frame version %d", ErrCorruptedLog, header[0])
	}
	meta := header[1:FrameHeaderLength]
	if err := readBlockHeader(meta).expect(recordMetaTemplateID, recordMetaBodyLength); err != nil {
		return 0, err
	}
	length := int(binary.LittleEndian.Uint32(meta[blockHeaderLength+8:]))
	if length < recordFixedLength {
		return 0, fmt.Errorf("%w: record length %d", ErrCorruptedLog, length)
	}
	return FrameHeaderLength + length, nil
}

// DecodeFrame decodes the frame at position of a segment image. It returns
// io.EOF where the written log ends.
func DecodeFrame(buf []byte, position int) (types.JournalRecord, int, error) {
	rec, n, err := decodeFrame(buf, position)
	if errors.Is(err, errNoFrame) || errors.Is(err, errUnderflow) {
		return types.JournalRecord{}, 0, io.EOF
	}
	return rec, n, err
}

// decodeFrame reads the frame starting at position and returns the record
// with the total frame length. Record data aliases buf.
//
// errNoFrame and errUnderflow mark the end of the written log; any error
// wrapping ErrCorruptedLog means the frame is present but unreadable.
func decodeFrame(buf []byte, position int) (types.JournalRecord, int, error) {
	if position < 0 || position >= len(buf) || buf[position] == frameIgnored {
		return types.JournalRecord{}, 0, errNoFrame
	}
	if v := buf[position]; v != frameVersion {
		return types.JournalRecord{}, 0, fmt.Errorf("%w: unknown frame version %d at position %d", ErrCorruptedLog, v, position)
	}

	metaStart := position + 1
	recordStart := metaStart + recordMetaLength
	if recordStart > len(buf) {
		return types.JournalRecord{}, 0, errUnderflow
	}
	meta := buf[metaStart:recordStart]
	if err := readBlockHeader(meta).expect(recordMetaTemplateID, recordMetaBodyLength); err != nil {
		return types.JournalRecord{}, 0, err
	}
	checksum := binary.LittleEndian.Uint64(meta[blockHeaderLength:])
	length := int(binary.LittleEndian.Uint32(meta[blockHeaderLength+8:]))
	if length < recordFixedLength {
		return types.JournalRecord{}, 0, fmt.Errorf("%w: record length %d at position %d", ErrCorruptedLog, length, position)
	}
	if recordStart+length > len(buf) {
		return types.JournalRecord{}, 0, errUnderflow
	}

	record := buf[recordStart : recordStart+length]
	if actual := xxhash.Sum64(record); actual != checksum {
		return types.JournalRecord{}, 0, fmt.Errorf("%w: checksum %d at position %d does not match stored %d", ErrCorruptedLog, actual, position, checksum)
	}
	if err := readBlockHeader(record).expect(recordDataTemplateID, recordFixedBodyLength); err != nil {
		return types.JournalRecord{}, 0, err
	}

	body := record[blockHeaderLength:]
	dataLength := int(binary.LittleEndian.Uint32(body[16:]))
	if recordFixedLength+dataLength != length {
		return types.JournalRecord{}, 0, fmt.Errorf("%w: data length %d does not fit record length %d", ErrCorruptedLog, dataLength, length)
	}

	return types.JournalRecord{
		Index:    int64(binary.LittleEndian.Uint64(body[0:])),
		Asqn:     int64(binary.LittleEndian.Uint64(body[8:])),
		Checksum: checksum,
		Data:     record[recordFixedLength:length:length],
	}, 1 + recordMetaLength + length, nil
}
