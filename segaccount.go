// Package segaccount is the public surface of the segment accountant:
// the part of a log-structured page store that decides where the next
// segment write goes, which pages should be rewritten so their
// segment can be reclaimed, and when a segment is safe to recycle.
//
// The actual state machine lives in internal/accountant; this package
// just re-exports its public types the way tspannhw-oxia's root
// `oxia` client package wraps `oxia/internal`.
package segaccount

import (
	"github.com/rs/zerolog"

	"github.com/oxia-db/segaccount/internal/accountant"
	"github.com/oxia-db/segaccount/internal/common"
	"github.com/oxia-db/segaccount/internal/segstore"
)

type (
	// LogID is a byte offset into the log.
	LogID = common.LogID
	// Lsn is the monotonic logical sequence number of a log record or
	// segment header.
	Lsn = common.Lsn
	// PageID identifies a logical page whose fragments live in
	// segments.
	PageID = common.PageID

	// Config holds the tunables the accountant consumes.
	Config = accountant.Config

	// Segment is one segment's occupancy record.
	Segment = accountant.Segment

	// OrderingEntry is one (Lsn, LogID) pair yielded by a snapshot
	// iteration.
	OrderingEntry = accountant.OrderingEntry

	// Accountant is the segment accountant state machine.
	Accountant = accountant.Accountant

	// StoreOptions configures the segment store backing recovery.
	StoreOptions = segstore.Options
)

// DefaultConfig returns the accountant's default tunables.
func DefaultConfig() Config {
	return accountant.DefaultConfig()
}

// DefaultStoreOptions returns the segment store's default options.
func DefaultStoreOptions() StoreOptions {
	return segstore.DefaultOptions()
}

// NewSegment returns an empty, unassigned segment, for building a
// snapshot to pass to Accountant.InitializeFromSegments.
func NewSegment() *Segment {
	return accountant.NewSegment()
}

// Open opens the segment store at storeOpts and constructs an
// Accountant against it, running recovery. log may be the zero value
// (zerolog.Logger{}), which logs nothing.
func Open(config Config, storeOpts StoreOptions, log zerolog.Logger) (*Accountant, error) {
	store, err := segstore.NewFileStore(storeOpts)
	if err != nil {
		return nil, err
	}
	return accountant.New(config, store, log), nil
}
