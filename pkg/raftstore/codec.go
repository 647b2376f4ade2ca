package raftstore

import (
	"bytes"
	"fmt"

	"github.com/downfa11-org/go-journal/util"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"
)

func encodeLog(log *raft.Log, compression string) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(log); err != nil {
		return nil, fmt.Errorf("encode raft log %d: %w", log.Index, err)
	}
	return util.CompressPayload(buf.Bytes(), compression)
}

func decodeLog(data []byte, compression string, log *raft.Log) error {
	raw, err := util.DecompressPayload(data, compression)
	if err != nil {
		return err
	}
	dec := codec.NewDecoderBytes(raw, &codec.MsgpackHandle{})
	return dec.Decode(log)
}
