package bridge

import (
	"encoding/binary"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
)

// Schema metadata crosses the boundary as a single binary blob:
//
//	[int32] number of key/value pairs
//	for each pair:
//		[int32] key byte count, [bytes] key
//		[int32] value byte count, [bytes] value
//
// Integers use native endianness, lengths exclude any terminator.

func encodeMetadata(md arrow.Metadata) []byte {
	if md.Len() == 0 {
		return nil
	}
	size := 4
	for i := 0; i < md.Len(); i++ {
		size += 8 + len(md.Keys()[i]) + len(md.Values()[i])
	}
	out := make([]byte, 0, size)
	out = binary.NativeEndian.AppendUint32(out, uint32(md.Len()))
	for i := 0; i < md.Len(); i++ {
		out = binary.NativeEndian.AppendUint32(out, uint32(len(md.Keys()[i])))
		out = append(out, md.Keys()[i]...)
		out = binary.NativeEndian.AppendUint32(out, uint32(len(md.Values()[i])))
		out = append(out, md.Values()[i]...)
	}
	return out
}

func decodeMetadata(p *byte) arrow.Metadata {
	if p == nil {
		return arrow.Metadata{}
	}

	// reference the foreign bytes directly, copy only the strings
	next := unsafe.Pointer(p)
	readInt32 := func() int32 {
		v := int32(binary.NativeEndian.Uint32(unsafe.Slice((*byte)(next), 4)))
		next = unsafe.Add(next, 4)
		return v
	}
	readString := func() string {
		n := readInt32()
		s := string(unsafe.Slice((*byte)(next), n))
		next = unsafe.Add(next, n)
		return s
	}

	npairs := readInt32()
	if npairs <= 0 {
		return arrow.Metadata{}
	}
	keys := make([]string, npairs)
	vals := make([]string, npairs)
	for i := int32(0); i < npairs; i++ {
		keys[i] = readString()
		vals[i] = readString()
	}
	return arrow.NewMetadata(keys, vals)
}
