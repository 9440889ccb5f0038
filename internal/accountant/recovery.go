package accountant

import (
	"github.com/oxia-db/segaccount/internal/common"
	"github.com/oxia-db/segaccount/internal/segstore"
)

// scanSegmentLSNs rebuilds ordering and the recovered max LSN by
// walking the log linearly in segment-sized steps (spec.md §4.4). It
// runs once, only if the segments array is empty, and is a no-op on a
// brand-new log with nothing on disk.
func (a *Accountant) scanSegmentLSNs() {
	if a.IsRecovered() {
		return
	}

	cursor := common.LogID(0)
	for {
		reader, err := a.store.ReadSegment(cursor)
		if err != nil {
			break
		}
		hdr := reader.Header()
		a.recover(hdr.LSN, cursor)
		cursor += common.LogID(a.config.SegmentSize)
		a.tip = cursor

		if hdr.LSN > a.maxLSN {
			a.maxLSN = hdr.LSN
		}
	}

	maxCursor, ok := a.ordering.Get(a.maxLSN)
	if !ok {
		// Nothing was ever recovered; ordering stays empty.
		return
	}

	reader, err := a.store.ReadSegment(maxCursor)
	if err != nil {
		return
	}
	hdr := reader.Header()
	a.maxLSN += common.Lsn(hdr.ReadOffset)

	emptyTip := true
scan:
	for {
		rec, more := reader.Next()
		if !more {
			break
		}
		switch rec.Kind {
		case segstore.RecordZeroed:
			continue
		case segstore.RecordFlush:
			emptyTip = false
			tip := rec.LSN + common.Lsn(a.store.HeaderLen()) + common.Lsn(rec.Len)
			if tip > a.maxLSN {
				a.maxLSN = tip
			} else {
				break scan
			}
		case segstore.RecordCorrupted:
			break scan
		}
	}

	segmentOverhang := a.maxLSN % common.Lsn(a.config.SegmentSize)
	a.initialOffset = maxCursor + common.LogID(segmentOverhang)

	if emptyTip {
		a.freeList.PushBack(maxCursor)
	}

	a.log.Debug().
		Int64("initial-offset", int64(a.initialOffset)).
		Int64("max-lsn", int64(a.maxLSN)).
		Msg("recovered segment accountant state from log")
}

// recover installs a single (lsn, offset) pair discovered while
// scanning segment headers, extending the segments array as needed.
func (a *Accountant) recover(lsn common.Lsn, offset common.LogID) {
	idx := a.segmentIndex(offset)
	a.ensureSegments(idx)
	l := lsn
	a.segments[idx].LSN = &l
	a.ordering.Insert(lsn, offset)
}
