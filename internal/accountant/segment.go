package accountant

import (
	"github.com/oxia-db/segaccount/internal/common"
)

// Segment tracks one segment's occupancy: which pages still have a
// live fragment there, the LSN stamped in its header, and whether it
// has already been released for reuse.
//
// PIDsLen freezes the "high water mark" denominator the first time
// PIDs shrinks after (re)allocation, so the occupancy ratio is
// computed against a stable baseline instead of oscillating a segment
// in and out of the cleaning set. See spec.md §3/§4.1.
type Segment struct {
	PIDs    map[common.PageID]struct{}
	PIDsLen int
	LSN     *common.Lsn
	Freed   bool
}

// NewSegment returns an empty, unassigned segment.
func NewSegment() *Segment {
	return &Segment{PIDs: make(map[common.PageID]struct{})}
}

// occupancyRatio returns |PIDs| / denominator, where the denominator
// falls back to the current |PIDs| when PIDsLen hasn't been measured
// yet (spec.md §3: "Zero means not yet measured; use current |pids|").
func occupancyRatio(seg *Segment) float64 {
	denom := seg.PIDsLen
	if denom == 0 {
		denom = len(seg.PIDs)
	}
	if denom == 0 {
		return 0
	}
	return float64(len(seg.PIDs)) / float64(denom)
}
