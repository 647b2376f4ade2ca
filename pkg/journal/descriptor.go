package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// DescriptorVersionLegacy descriptors carry no checksum.
	DescriptorVersionLegacy byte = 1
	// DescriptorVersionCurrent is the version every new segment is written with.
	DescriptorVersionCurrent byte = 2

	descriptorBodyLength     = 8 + 8 + 4
	descriptorMetaBodyLength = 8 + 4
	descriptorBlockLength    = blockHeaderLength + descriptorBodyLength
	descriptorMetaLength     = blockHeaderLength + descriptorMetaBodyLength

	legacyDescriptorLength  = 1 + descriptorBlockLength
	currentDescriptorLength = 1 + descriptorMetaLength + descriptorBlockLength
)

// SegmentDescriptor is the header stored at the start of every segment file.
type SegmentDescriptor struct {
	Version        byte
	ID             int64
	Index          int64
	MaxSegmentSize int32
	Checksum       uint64
}

func NewSegmentDescriptor(id, index int64, maxSegmentSize int32) SegmentDescriptor {
	return SegmentDescriptor{
		Version:        DescriptorVersionCurrent,
		ID:             id,
		Index:          index,
		MaxSegmentSize: maxSegmentSize,
	}
}

// EncodedLength is the number of bytes the descriptor occupies on disk,
// which is also the position of the first record frame.
func (d SegmentDescriptor) EncodedLength() int {
	return DescriptorLength(d.Version)
}

func DescriptorLength(version byte) int {
	if version == DescriptorVersionLegacy {
		return legacyDescriptorLength
	}
	return currentDescriptorLength
}

func (d SegmentDescriptor) String() string {
	return fmt.Sprintf("SegmentDescriptor{version=%d, id=%d, index=%d, maxSegmentSize=%d}", d.Version, d.ID, d.Index, d.MaxSegmentSize)
}

// Encode writes d into buf using the current version and returns the
// descriptor as written, with Version and Checksum filled in.
func (d SegmentDescriptor) Encode(buf []byte) (SegmentDescriptor, error) {
	if len(buf) < currentDescriptorLength {
		return d, fmt.Errorf("descriptor needs %d bytes, buffer has %d", currentDescriptorLength, len(buf))
	}
	d.Version = DescriptorVersionCurrent

	block := buf[1+descriptorMetaLength : currentDescriptorLength]
	putDescriptorBlock(block, d)
	d.Checksum = xxhash.Sum64(block)

	meta := buf[1 : 1+descriptorMetaLength]
	putBlockHeader(meta, descriptorMetaTemplateID, descriptorMetaBodyLength)
	binary.LittleEndian.PutUint64(meta[blockHeaderLength:], d.Checksum)
	binary.LittleEndian.PutUint32(meta[blockHeaderLength+8:], uint32(len(block)))

	buf[0] = d.Version
	return d, nil
}

func putDescriptorBlock(block []byte, d SegmentDescriptor) {
	putBlockHeader(block, descriptorTemplateID, descriptorBodyLength)
	body := block[blockHeaderLength:]
	binary.LittleEndian.PutUint64(body[0:], uint64(d.ID))
	binary.LittleEndian.PutUint64(body[8:], uint64(d.Index))
	binary.LittleEndian.PutUint32(body[16:], uint32(d.MaxSegmentSize))
}

// DecodeSegmentDescriptor reads a descriptor of any known version from the
// start of buf.
func DecodeSegmentDescriptor(buf []byte) (SegmentDescriptor, error) {
	if len(buf) == 0 {
		return SegmentDescriptor{}, fmt.Errorf("%w: empty segment descriptor", ErrCorruptedLog)
	}

	switch version := buf[0]; version {
	case DescriptorVersionLegacy:
		return decodeLegacyDescriptor(buf)
	case DescriptorVersionCurrent:
		return decodeCurrentDescriptor(buf)
	default:
		return SegmentDescriptor{}, fmt.Errorf("%w: unknown descriptor version %d", ErrCorruptedLog, version)
	}
}

func decodeLegacyDescriptor(buf []byte) (SegmentDescriptor, error) {
	if len(buf) < legacyDescriptorLength {
		return SegmentDescriptor{}, fmt.Errorf("%w: descriptor truncated to %d bytes", ErrCorruptedLog, len(buf))
	}
	d, err := decodeDescriptorBlock(buf[1:legacyDescriptorLength])
	if err != nil {
		return SegmentDescriptor{}, err
	}
	d.Version = DescriptorVersionLegacy
	return d, nil
}

func decodeCurrentDescriptor(buf []byte) (SegmentDescriptor, error) {
	if len(buf) < currentDescriptorLength {
		return SegmentDescriptor{}, fmt.Errorf("%w: descriptor truncated to %d bytes", ErrCorruptedLog, len(buf))
	}

	meta := buf[1 : 1+descriptorMetaLength]
	if err := readBlockHeader(meta).expect(descriptorMetaTemplateID, descriptorMetaBodyLength); err != nil {
		return SegmentDescriptor{}, err
	}
	checksum := binary.LittleEndian.Uint64(meta[blockHeaderLength:])
	length := binary.LittleEndian.Uint32(meta[blockHeaderLength+8:])
	if length != descriptorBlockLength {
		return SegmentDescriptor{}, fmt.Errorf("%w: descriptor length %d, expected %d", ErrCorruptedLog, length, descriptorBlockLength)
	}

	block := buf[1+descriptorMetaLength : currentDescriptorLength]
	if actual := xxhash.Sum64(block); actual != checksum {
		return SegmentDescriptor{}, fmt.Errorf("%w: descriptor checksum %d does not match stored %d", ErrCorruptedLog, actual, checksum)
	}

	d, err := decodeDescriptorBlock(block)
	if err != nil {
		return SegmentDescriptor{}, err
	}
	d.Version = DescriptorVersionCurrent
	d.Checksum = checksum
	return d, nil
}

func decodeDescriptorBlock(block []byte) (SegmentDescriptor, error) {
	if err := readBlockHeader(block).expect(descriptorTemplateID, descriptorBodyLength); err != nil {
		return SegmentDescriptor{}, err
	}
	body := block[blockHeaderLength:]
	return SegmentDescriptor{
		ID:             int64(binary.LittleEndian.Uint64(body[0:])),
		Index:          int64(binary.LittleEndian.Uint64(body[8:])),
		MaxSegmentSize: int32(binary.LittleEndian.Uint32(body[16:])),
	}, nil
}
