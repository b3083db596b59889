package parallelsort

import "fmt"

// Host versions of the kernels in shaders/sort.wgsl. Each function runs one
// workgroup and keeps the shader's per-thread data layout, so the FP16 and
// wave variants are exercised the same way.

// counters holds per-digit counts, packed two per word in the FP16 variant.
type counters struct {
	fp16  bool
	words [SortBinCount]uint32
}

func (c *counters) word(d uint32) uint32 {
	if c.fp16 {
		return d >> 1
	}
	return d
}

func (c *counters) inc(d uint32) uint32 {
	if c.fp16 {
		return 1 << ((d & 1) * 16)
	}
	return 1
}

func (c *counters) get(word, d uint32) uint32 {
	if c.fp16 {
		return (word >> ((d & 1) * 16)) & 0xffff
	}
	return word
}

func (c *counters) add(d uint32) { c.words[c.word(d)] += c.inc(d) }

func (c *counters) count(d uint32) uint32 { return c.get(c.words[c.word(d)], d) }

func (c *counters) numWords() uint32 {
	if c.fp16 {
		return SortBinCount / 2
	}
	return SortBinCount
}

func digit(key, shift uint32) uint32 { return (key >> shift) & (SortBinCount - 1) }

type kernelArgs struct {
	info    dispatchInfo
	shift   uint32
	perm    Permutation
	payload bool

	srcKeys, dstKeys       []uint32
	srcPayload, dstPayload []uint32
	sumTable, reduced      []uint32
}

func countKernel(a *kernelArgs, g uint32) {
	first, n := a.info.blockRange(g)
	var total [SortBinCount]uint32
	for b := range n {
		hist := counters{fp16: a.perm.FP16}
		base := (first + b) * BlockSize
		for e := range uint32(ElementsPerThread) {
			for t := range uint32(ThreadgroupSize) {
				if i := base + e*ThreadgroupSize + t; i < a.info.NumKeys {
					hist.add(digit(a.srcKeys[i], a.shift))
				}
			}
		}
		for d := range uint32(SortBinCount) {
			total[d] += hist.count(d)
		}
	}
	for d := range uint32(SortBinCount) {
		a.sumTable[d*a.info.NumGroups+g] = total[d]
	}
}

func reduceKernel(a *kernelArgs, g uint32) {
	bin, rg := g/a.info.ReducePerBin, g%a.info.ReducePerBin
	base := rg * BlockSize

	var partial [ThreadgroupSize]uint32
	for t := range uint32(ThreadgroupSize) {
		for e := range uint32(ElementsPerThread) {
			if i := base + e*ThreadgroupSize + t; i < a.info.NumGroups {
				partial[t] += a.sumTable[bin*a.info.NumGroups+i]
			}
		}
	}

	wave := a.perm.WaveSize()
	var sum uint32
	for w := uint32(0); w < ThreadgroupSize; w += wave {
		var ws uint32
		for _, v := range partial[w : w+wave] {
			ws += v
		}
		sum += ws
	}
	a.reduced[bin*a.info.ReducePerBin+rg] = sum
}

func scanKernel(a *kernelArgs) {
	var running uint32
	for i := range a.info.ScanValues {
		v := a.reduced[i]
		a.reduced[i] = running
		running += v
	}
}

func scanAddKernel(a *kernelArgs, g uint32) {
	bin, rg := g/a.info.ReducePerBin, g%a.info.ReducePerBin
	running := a.reduced[bin*a.info.ReducePerBin+rg]
	start := rg * BlockSize
	end := min(start+BlockSize, a.info.NumGroups)
	row := a.sumTable[bin*a.info.NumGroups:]
	for i := start; i < end; i++ {
		v := row[i]
		row[i] = running
		running += v
	}
}

func scatterKernel(a *kernelArgs, g uint32) {
	var offsets [SortBinCount]uint32
	for d := range uint32(SortBinCount) {
		offsets[d] = a.sumTable[d*a.info.NumGroups+g]
	}

	first, n := a.info.blockRange(g)
	var threads [ThreadgroupSize]counters
	for b := range n {
		base := (first + b) * BlockSize

		// Per-thread digit counts, then an exclusive scan across threads.
		var block counters
		block.fp16 = a.perm.FP16
		for t := range uint32(ThreadgroupSize) {
			mine := counters{fp16: a.perm.FP16}
			for e := range uint32(ElementsPerThread) {
				if i := base + t*ElementsPerThread + e; i < a.info.NumKeys {
					mine.add(digit(a.srcKeys[i], a.shift))
				}
			}
			threads[t] = block
			for w := range block.numWords() {
				block.words[w] += mine.words[w]
			}
		}

		for t := range uint32(ThreadgroupSize) {
			var seen [SortBinCount]uint32
			for e := range uint32(ElementsPerThread) {
				i := base + t*ElementsPerThread + e
				if i >= a.info.NumKeys {
					continue
				}
				key := a.srcKeys[i]
				d := digit(key, a.shift)
				dst := offsets[d] + threads[t].count(d) + seen[d]
				seen[d]++
				a.dstKeys[dst] = key
				if a.payload {
					a.dstPayload[dst] = a.srcPayload[i]
				}
			}
		}

		for d := range uint32(SortBinCount) {
			offsets[d] += block.count(d)
		}
	}
}

// setupIndirectKernel fails with ErrScratchTooSmall when the key count
// exceeds maxEntries. The GPU kernel cannot fail and clamps instead.
func setupIndirectKernel(numKeys, maxEntries uint32) (info dispatchInfo, countArgs, reduceArgs [3]uint32, err error) {
	if numKeys > maxEntries {
		return info, countArgs, reduceArgs, fmt.Errorf("%w: %d keys in the count buffer, capacity %d", ErrScratchTooSmall, numKeys, maxEntries)
	}
	info = newDispatchInfo(numKeys)
	countArgs = [3]uint32{info.NumGroups, 1, 1}
	reduceArgs = [3]uint32{info.reduceGroups(), 1, 1}
	return info, countArgs, reduceArgs, nil
}
