// Package reclaim implements the deferred-release grace period that
// the free list relies on: a segment offset freed by the accountant
// must not be handed back out until every reader that could still be
// holding a reference to its former contents has let go of it.
//
// This is the Go-idiomatic stand-in for the Rust original's
// coco::epoch pin/Owned/defer_drop scheme (see
// original_source/src/log/segment_accountant.rs, SegmentDropper). Go
// has no equivalent epoch-reclamation crate in this project's
// dependency stack, so the grace period is reimplemented directly
// with a guard-epoch map instead of borrowing a generic GC library.
package reclaim

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oxia-db/segaccount/internal/common"
)

// Guard represents a pinned reader. Any code that caches a raw segment
// offset before reading through it should Pin the domain first, and
// Unpin once the read is complete, so that deferred releases of that
// offset cannot run out from underneath it.
type Guard struct {
	domain *Domain
	id     uint64
}

// Unpin releases the guard, allowing deferred work registered while
// the guard was pinned to eventually run.
func (g *Guard) Unpin() {
	g.domain.mu.Lock()
	delete(g.domain.active, g.id)
	g.domain.mu.Unlock()
	g.domain.wake()
}

type pendingRelease struct {
	token string
	epoch uint64
	fn    func()
}

// Domain is the grace-period tracker shared between the accountant's
// free list and whatever threads the page cache uses to read raw
// segment offsets.
type Domain struct {
	mu      sync.Mutex
	nextID  uint64
	epoch   uint64
	active  map[uint64]uint64 // guard id -> epoch at pin time
	pending []pendingRelease

	wakeCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewDomain starts a background poller that drains deferred releases
// as soon as they become safe to run.
func NewDomain(log zerolog.Logger) *Domain {
	d := &Domain{
		active: make(map[uint64]uint64),
		wakeCh: make(chan struct{}, 1),
		log:    log.With().Str("component", "segment-reclaim").Logger(),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go common.DoWithLabels(map[string]string{"worker": "segment-reclaim"}, d.run)
	return d
}

// Close stops the background poller. Pending releases that were still
// gated by an active guard are dropped; callers should not rely on a
// closed domain to ever flush them.
func (d *Domain) Close() {
	d.cancel()
}

// Pin registers a new reader at the current epoch and returns a guard
// that must be unpinned when the reader is done.
func (d *Domain) Pin() *Guard {
	d.mu.Lock()
	d.epoch++
	e := d.epoch
	id := d.nextID
	d.nextID++
	d.active[id] = e
	d.mu.Unlock()
	return &Guard{domain: d, id: id}
}

// Defer registers fn to run once no guard pinned at or before the
// current epoch remains active. fn is expected to be idempotent-free
// and fast (it typically just appends an offset back to a free list).
func (d *Domain) Defer(fn func()) {
	d.mu.Lock()
	e := d.epoch
	d.pending = append(d.pending, pendingRelease{token: uuid.NewString(), epoch: e, fn: fn})
	d.mu.Unlock()
	d.wake()
}

func (d *Domain) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// run polls for work: it wakes immediately when Defer or Unpin signal
// there may be progress to make, and otherwise backs off exponentially
// so an idle domain doesn't spin.
func (d *Domain) run() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Microsecond
	b.MaxInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 0

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.wakeCh:
		case <-time.After(b.NextBackOff()):
		}
		if d.drain() > 0 {
			b.Reset()
		}
	}
}

// drain runs every pending release whose epoch is strictly below the
// epoch of every currently active guard, returning how many ran.
func (d *Domain) drain() int {
	d.mu.Lock()
	minActive, found := d.minActiveLocked()
	ready := d.pending[:0:0]
	var remaining []pendingRelease
	for _, p := range d.pending {
		if !found || p.epoch < minActive {
			ready = append(ready, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	d.pending = remaining
	d.mu.Unlock()

	for _, p := range ready {
		p.fn()
		d.log.Debug().Str("release-token", p.token).Msg("deferred release fired")
	}
	return len(ready)
}

func (d *Domain) minActiveLocked() (uint64, bool) {
	var min uint64
	found := false
	for _, e := range d.active {
		if !found || e < min {
			min = e
			found = true
		}
	}
	return min, found
}

// DrainSync forces a synchronous drain pass, used by tests that need a
// deterministic point at which all currently-safe releases have run.
func (d *Domain) DrainSync() {
	d.drain()
}
