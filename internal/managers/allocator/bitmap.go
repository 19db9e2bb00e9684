package allocator

import (
	"errors"
)

var errBitmapFull = errors.New("not enough free slices")

// bitmap tracks which physical slices are in use. Bit i covers physical slice i; the
// allocatable range is [lo, hi).
type bitmap struct {
	lo, hi uint64

	words         []uint64
	used          uint64
	lastAllocated uint64
}

func newBitmap(lo, hi uint64) *bitmap {
	if hi < lo {
		panic("invalid bitmap range")
	}
	return &bitmap{
		lo:    lo,
		hi:    hi,
		words: make([]uint64, (hi+63)/64),
	}
}

// free returns the number of clear bits in [lo, hi).
func (bm *bitmap) free() uint64 {
	return bm.hi - bm.lo - bm.used
}

// allocate finds count clear bits, searching first-fit from just past the last allocation
// and wrapping around, and sets them. Nothing is set if count bits are not available.
func (bm *bitmap) allocate(count uint64) ([]uint64, error) {
	if count > bm.free() {
		return nil, errBitmapFull
	}
	bits := make([]uint64, 0, count)
	start := bm.lastAllocated + 1
	if start < bm.lo || bm.hi <= start {
		start = bm.lo
	}
	scan := func(from, to uint64) {
		for i := from; i < to && uint64(len(bits)) < count; i++ {
			if !bm.get(i) {
				bm.set(i, true)
				bits = append(bits, i)
				bm.lastAllocated = i
			}
		}
	}
	scan(start, bm.hi)
	scan(bm.lo, start)
	return bits, nil
}

// get returns the status of bit i.
func (bm *bitmap) get(i uint64) bool {
	if i >= bm.hi {
		panic("bitmap get: index out of range")
	}
	return bm.words[i/64]&(1<<(i%64)) != 0
}

// set sets bit i to v, keeping the used count current.
func (bm *bitmap) set(i uint64, v bool) {
	if i >= bm.hi {
		panic("bitmap set: index out of range")
	}
	old := bm.get(i)
	if old == v {
		return
	}
	if v {
		bm.words[i/64] |= 1 << (i % 64)
		bm.used++
	} else {
		bm.words[i/64] &^= 1 << (i % 64)
		bm.used--
	}
}
