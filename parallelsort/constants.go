package parallelsort

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"

	"github.com/gogpu/cauldron/gpu"
)

const (
	SortBitsPerPass   = 4
	SortBinCount      = 1 << SortBitsPerPass
	Iterations        = 32 / SortBitsPerPass
	ThreadgroupSize   = 128
	ElementsPerThread = 4
	BlockSize         = ThreadgroupSize * ElementsPerThread
	MaxThreadgroups   = 800
)

// constantsSize is the byte size of one pass constant buffer. Uniform
// bindings are padded to 16 bytes.
const constantsSize = 32

func ceilDiv[T constraints.Unsigned](a, b T) T {
	return (a + b - 1) / b
}

// Permutation selects a shader variant. The sort result does not depend
// on it.
type Permutation struct {
	// Wave64 reduces with 64-wide subgroups instead of 32-wide ones.
	Wave64 bool

	// FP16 packs two 16-bit block histograms into each 32-bit word.
	FP16 bool
}

// WaveSize returns the subgroup width the variant reduces with.
func (p Permutation) WaveSize() uint32 {
	if p.Wave64 {
		return 64
	}
	return 32
}

// String returns the variant name, e.g. "wave64_fp16".
func (p Permutation) String() string {
	s := "wave32"
	if p.Wave64 {
		s = "wave64"
	}
	if p.FP16 {
		s += "_fp16"
	}
	return s
}

// Permutations lists every shader variant.
func Permutations() []Permutation {
	return []Permutation{{}, {FP16: true}, {Wave64: true}, {Wave64: true, FP16: true}}
}

// SelectPermutation picks the variant best suited to a device.
func SelectPermutation(caps gpu.Capabilities) Permutation {
	return Permutation{Wave64: caps.Wave64, FP16: caps.FP16}
}

// dispatchInfo is the per-sort layout of keys over threadgroups. It is the
// content of the pass constant buffers.
type dispatchInfo struct {
	NumKeys         uint32
	BlocksPerGroup  uint32
	NumGroups       uint32
	GroupsWithExtra uint32
	ReducePerBin    uint32
	ScanValues      uint32
	Shift           uint32
}

func newDispatchInfo(numKeys uint32) dispatchInfo {
	blocks := ceilDiv(numKeys, BlockSize)
	groups := min(blocks, MaxThreadgroups)
	if groups == 0 {
		return dispatchInfo{}
	}
	perBin := ceilDiv(groups, BlockSize)
	return dispatchInfo{
		NumKeys:         numKeys,
		BlocksPerGroup:  blocks / groups,
		NumGroups:       groups,
		GroupsWithExtra: blocks % groups,
		ReducePerBin:    perBin,
		ScanValues:      perBin * SortBinCount,
	}
}

// blockRange returns the first block and block count of threadgroup g.
// Threadgroups take contiguous runs of blocks so the scatter stays stable.
func (d dispatchInfo) blockRange(g uint32) (first, count uint32) {
	first = d.BlocksPerGroup*g + min(g, d.GroupsWithExtra)
	count = d.BlocksPerGroup
	if g < d.GroupsWithExtra {
		count++
	}
	return first, count
}

func (d dispatchInfo) reduceGroups() uint32 { return d.ReducePerBin * SortBinCount }

func (d dispatchInfo) bytes() []byte {
	b := make([]byte, constantsSize)
	for i, v := range []uint32{d.NumKeys, d.BlocksPerGroup, d.NumGroups, d.GroupsWithExtra, d.ReducePerBin, d.ScanValues, d.Shift} {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func dispatchInfoFrom(words []uint32) dispatchInfo {
	return dispatchInfo{
		NumKeys:         words[0],
		BlocksPerGroup:  words[1],
		NumGroups:       words[2],
		GroupsWithExtra: words[3],
		ReducePerBin:    words[4],
		ScanValues:      words[5],
		Shift:           words[6],
	}
}

// scratchSizes returns the byte sizes of the histogram and reduced tables
// for a sort of up to maxEntries keys.
func scratchSizes(maxEntries uint32) (sum, reduced uint64) {
	groups := uint64(max(1, min(ceilDiv(maxEntries, BlockSize), MaxThreadgroups)))
	perBin := ceilDiv(groups, BlockSize)
	return 4 * SortBinCount * groups, 4 * SortBinCount * perBin
}
