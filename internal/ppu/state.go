package ppu

import (
	"bytes"
	"encoding/gob"
)

func encodeGob(v interface{}) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes()
}

func decodeGob(data []byte, v interface{}) bool {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v) == nil
}
