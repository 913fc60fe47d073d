// Package generator implements the receiver-side half of the delta engine:
// computing block signatures over the destination's existing file content
// (spec.md §4.7 "Generator (receiver side)", C8).
package generator

import (
	"math"

	ocrsync "github.com/oferchen/oc-rsync"
)

const (
	minBlockLength     = 700
	blockMaxLegacy     = 16384
	blockMaxExpanded   = 131072
)

// BlockLength computes B for a file of length L (spec.md §3 "Block
// signature", §4.7 "Numeric details"): ceil(sqrt(L)) rounded to the nearest
// multiple of 8, clamped to [700, BLOCK_MAX].
func BlockLength(length int64, forced int32, expandedMax bool) int32 {
	if forced > 0 {
		return forced
	}
	if length <= 0 {
		return minBlockLength
	}
	raw := int64(math.Ceil(math.Sqrt(float64(length))))
	rounded := ((raw + 4) / 8) * 8
	max := int64(blockMaxLegacy)
	if expandedMax {
		max = blockMaxExpanded
	}
	if rounded < minBlockLength {
		rounded = minBlockLength
	}
	if rounded > max {
		rounded = max
	}
	return int32(rounded)
}

// SumHeadFor builds the SumHead for a file of the given length using block
// length B, per spec.md §3 "Block signature".
func SumHeadFor(length int64, blockLen int32, strongLen int32) ocrsync.SumHead {
	if blockLen <= 0 {
		// B=0 means "whole file as literal" (spec.md §4.7: "For missing or
		// empty destinations, emit B=0").
		return ocrsync.SumHead{ChecksumCount: 0, BlockLength: 0, ChecksumLength: strongLen, RemainderLength: 0}
	}
	count := (length + int64(blockLen) - 1) / int64(blockLen)
	remainder := length % int64(blockLen)
	return ocrsync.SumHead{
		ChecksumCount:   int32(count),
		BlockLength:     blockLen,
		ChecksumLength:  strongLen,
		RemainderLength: int32(remainder),
	}
}
