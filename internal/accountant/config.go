package accountant

// Config holds the tunables the accountant consumes (spec.md §6).
// Mirrors the shape of wal.Options/wal.DefaultOptions in spirit: a
// plain struct plus a constructor filling in sane defaults.
type Config struct {
	// SegmentSize is io_buf_size: the size in bytes of one segment.
	SegmentSize int64
	// IOBufs is the number of in-flight write buffers, which sets the
	// safe-reuse distance (spec.md §4.5).
	IOBufs int
	// SegmentCleanupThreshold is the occupancy ratio in (0,1] at or
	// below which a segment enters the cleaning set.
	SegmentCleanupThreshold float64
	// MinFreeSegments is the lower bound on free-list length: Clean
	// offers work only while the free list is at or below it.
	MinFreeSegments int
}

// DefaultConfig returns the accountant's default tunables.
func DefaultConfig() Config {
	return Config{
		SegmentSize:             20 << 20,
		IOBufs:                  4,
		SegmentCleanupThreshold: 0.2,
		MinFreeSegments:         4,
	}
}
