// Package common holds the small set of shared types and goroutine
// helpers used across the segment accountant and its collaborators.
package common

// LogID is a byte offset into the log. It is segment-aligned when it
// denotes a segment base.
type LogID int64

// Lsn is the monotonic logical sequence number of a log record. It is
// segment-aligned when it denotes a segment header.
type Lsn int64

// PageID identifies a logical page whose fragments live in segments.
type PageID uint64
