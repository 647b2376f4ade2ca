package journal

import (
	"encoding/binary"
	"fmt"
)

// Every block on disk starts with a small self describing header so a
// mismatched format is detected before its body is interpreted.
const (
	schemaID uint16 = 0x4a4c

	descriptorMetaTemplateID uint16 = 1
	descriptorTemplateID     uint16 = 2
	recordMetaTemplateID     uint16 = 3
	recordDataTemplateID     uint16 = 4

	blockHeaderLength = 6
)

type blockHeader struct {
	schemaID    uint16
	templateID  uint16
	blockLength uint16
}

func putBlockHeader(buf []byte, templateID uint16, blockLength int) {
	binary.LittleEndian.PutUint16(buf[0:], schemaID)
	binary.LittleEndian.PutUint16(buf[2:], templateID)
	binary.LittleEndian.PutUint16(buf[4:], uint16(blockLength))
}

func readBlockHeader(buf []byte) blockHeader {
	return blockHeader{
		schemaID:    binary.LittleEndian.Uint16(buf[0:]),
		templateID:  binary.LittleEndian.Uint16(buf[2:]),
		blockLength: binary.LittleEndian.Uint16(buf[4:]),
	}
}

func (h blockHeader) expect(templateID uint16, blockLength int) error {
	if h.schemaID != schemaID {
		return fmt.Errorf("%w: expected schema id %d but got %d", ErrCorruptedLog, schemaID, h.schemaID)
	}
	if h.templateID != templateID {
		return fmt.Errorf("%w: expected template id %d but got %d", ErrCorruptedLog, templateID, h.templateID)
	}
	if int(h.blockLength) != blockLength {
		return fmt.Errorf("%w: template %d has block length %d, expected %d", ErrCorruptedLog, templateID, h.blockLength, blockLength)
	}
	return nil
}
