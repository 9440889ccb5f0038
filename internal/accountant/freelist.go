package accountant

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/oxia-db/segaccount/internal/common"
	"github.com/oxia-db/segaccount/internal/reclaim"
)

// freeList is the FIFO of segment base offsets available for the next
// allocation (spec.md §4.2). Newly minted tip extensions go to the
// front (so contiguous growth is preferred); segments that just
// emptied go to the back, and only after a reclaim.Domain confirms no
// reader could still be looking at their old contents.
type freeList struct {
	mu     sync.Mutex
	deque  []common.LogID
	domain *reclaim.Domain
	log    zerolog.Logger
}

func newFreeList(domain *reclaim.Domain, log zerolog.Logger) *freeList {
	return &freeList{domain: domain, log: log.With().Str("component", "segment-freelist").Logger()}
}

// PushFront enqueues offset as the next allocation candidate. Used
// when extending the tip.
func (f *freeList) PushFront(offset common.LogID) {
	f.mu.Lock()
	f.deque = append([]common.LogID{offset}, f.deque...)
	f.mu.Unlock()
}

// PushBack enqueues offset at the tail immediately, with no grace
// period. Used for bulk installs from a snapshot and for an empty tail
// found during recovery, where there are no in-flight readers to wait
// for, and by DeferredRelease once its grace period has passed.
func (f *freeList) PushBack(offset common.LogID) {
	f.mu.Lock()
	f.deque = append(f.deque, offset)
	f.mu.Unlock()
}

// DeferredRelease schedules offset to be pushed to the tail once the
// reclamation domain confirms every reader that could still observe
// its former identity has quiesced.
func (f *freeList) DeferredRelease(offset common.LogID) {
	f.domain.Defer(func() {
		f.PushBack(offset)
	})
}

// PopFront removes and returns the head of the free list, if any.
func (f *freeList) PopFront() (common.LogID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deque) == 0 {
		return 0, false
	}
	offset := f.deque[0]
	f.deque = f.deque[1:]
	return offset, true
}

// Len reports the current free-list length.
func (f *freeList) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deque)
}
