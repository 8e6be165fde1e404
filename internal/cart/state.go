package cart

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
)

func encodeGob(v interface{}) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes()
}

func decodeGob(data []byte, v interface{}) bool {
	if len(data) == 0 {
		return false
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v) == nil
}

// appendLenPrefixed appends trailer to base, ending with a 4-byte
// big-endian trailer length, so a reader can recover the split point
// without knowing base's length in advance.
func appendLenPrefixed(base, trailer []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(trailer)))
	out := make([]byte, 0, len(base)+len(trailer)+4)
	out = append(out, base...)
	out = append(out, trailer...)
	out = append(out, lenBuf[:]...)
	return out
}

// splitLenPrefixed reverses appendLenPrefixed, returning (base, trailer).
// If data is too short to contain a valid trailer, trailer is nil and
// base is the data unchanged.
func splitLenPrefixed(data []byte) ([]byte, []byte) {
	if len(data) < 4 {
		return data, nil
	}
	trailerLen := int(binary.BigEndian.Uint32(data[len(data)-4:]))
	if trailerLen < 0 || trailerLen > len(data)-4 {
		return data, nil
	}
	split := len(data) - 4 - trailerLen
	return data[:split], data[split : len(data)-4]
}
