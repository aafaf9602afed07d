package main

import (
	"encoding/binary"

	"github.com/cobaltmesh/ucg/pkg/host"
)

// sumHost is a minimal host.Host for synthetic load generation: every
// buffer is a little-endian int32 vector and the only operator is
// element-wise sum, the host-library contract spec section 6 leaves for the
// embedder to supply.
type sumHost struct {
	groupSize int
}

const int32Size = 4

func (sumHost) Reduce(_ host.Op, src, dst []byte, count int, _ host.Datatype) error {
	for i := 0; i < count; i++ {
		off := i * int32Size
		a := int32(binary.LittleEndian.Uint32(dst[off:]))
		b := int32(binary.LittleEndian.Uint32(src[off:]))
		binary.LittleEndian.PutUint32(dst[off:], uint32(a+b))
	}
	return nil
}

func (sumHost) OpIsCommutative(host.Op) bool            { return true }
func (sumHost) DatatypeIsPredefined(host.Datatype) bool { return true }

func (sumHost) DatatypeSpan(_ host.Datatype, count int) (span int, gap int) {
	return count * int32Size, 0
}

// RankDistance has no real topology to consult; every pair further than
// self is reported as a plain network hop so topology-aware selection still
// exercises its "not balanced/continuous" fallback path.
func (h sumHost) RankDistance(_ uint16, i, j int) host.Distance {
	if i == j {
		return host.DistSelf
	}
	return host.DistNet
}

// encodeInts packs vs as a little-endian int32 buffer.
func encodeInts(vs []int32) []byte {
	buf := make([]byte, len(vs)*int32Size)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*int32Size:], uint32(v))
	}
	return buf
}

// decodeInts unpacks a little-endian int32 buffer for display.
func decodeInts(buf []byte) []int32 {
	vs := make([]int32, len(buf)/int32Size)
	for i := range vs {
		vs[i] = int32(binary.LittleEndian.Uint32(buf[i*int32Size:]))
	}
	return vs
}

func sumOf(n int) int32 {
	// sum of rank values 0..n-1, the expected all-reduce result when every
	// rank seeds its buffer with its own rank index repeated across Count.
	var total int32
	for i := 0; i < n; i++ {
		total += int32(i)
	}
	return total
}
