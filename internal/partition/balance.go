package partition

// BalanceByBases assigns reads to at most n partitions so that each holds a
// similar number of bases. Reads stay in identifier order: partition p gets
// a contiguous run of identifiers, and a new partition starts once the bases
// placed so far reach its share of the total. lengths[id] is the length of
// read id; index 0 is ignored. The result is indexed the same way.
func BalanceByBases(lengths []uint32, n uint32) []uint32 {
	out := make([]uint32, len(lengths))
	if len(lengths) < 2 || n == 0 {
		return out
	}
	numReads := uint64(len(lengths) - 1)
	n = uint32(min(uint64(n), numReads))

	var total uint64
	for _, l := range lengths[1:] {
		total += uint64(l)
	}
	// Without any bases every read weighs the same.
	uniform := total == 0
	if uniform {
		total = numReads
	}
	weight := func(id int) uint64 {
		if uniform {
			return 1
		}
		return uint64(lengths[id])
	}

	var done uint64
	p := uint32(1)
	for id := 1; id < len(lengths); id++ {
		if p < n && done > 0 && done*uint64(n) >= uint64(p)*total {
			p++
		}
		out[id] = p
		done += weight(id)
	}
	return out
}
