package protocol

import "google.golang.org/protobuf/encoding/protowire"

// maxVarintBytes bounds every varint read through ConsumeVarint (frame
// length prefixes and message ids) to five LEB128 bytes (35 encodable
// bits, the fewest whole bytes that hold an unsigned 32-bit value).
// Such a varint that runs past five bytes is a protocol violation, not
// a large-but-legal value. Lengths inside a message body are read by
// protowire and are not bound by this limit.
const maxVarintBytes = 5

// AppendVarint appends v as unsigned LEB128, delegating the actual bit
// twiddling to protowire (the same encoder protobuf3 itself uses for
// varint-typed fields and lengths).
func AppendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// ConsumeVarint decodes a leading LEB128 varint from b, returning the
// value and the number of bytes consumed. It rejects encodings that
// run five bytes deep without a terminating byte with
// ErrVarintOverflow, and input that ends before a varint terminates
// with ErrMalformed.
func ConsumeVarint(b []byte) (uint64, int, error) {
	limit := b
	if len(limit) > maxVarintBytes {
		limit = limit[:maxVarintBytes]
	}
	for _, x := range limit {
		if x&0x80 == 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, 0, ErrMalformed
			}
			return v, n, nil
		}
	}
	if len(b) >= maxVarintBytes {
		return 0, 0, ErrVarintOverflow
	}
	return 0, 0, ErrMalformed
}
