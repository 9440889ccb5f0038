// Package segstore is the minimal segment I/O collaborator the
// accountant's recovery scanner reads through (spec.md §6: "segment
// I/O layer ... provided by configuration"). It is not itself part of
// the accountant's contract, but someone has to own reading/writing
// the on-disk segment format, and this package does it the way
// tspannhw-oxia's server/wal package does: afero for the filesystem,
// a small binary framing for records, and a header cache.
package segstore

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/tinylru"

	"github.com/oxia-db/segaccount/internal/common"
)

// HeaderLen is the number of bytes consumed by a segment header: an
// 8-byte LSN followed by a 4-byte CRC of that LSN.
const HeaderLen = 12

// Sentinel errors, mirroring the wal package's style of exported
// sentinel errors checked with errors.Is at call sites.
var (
	ErrNoSuchSegment = errors.New("segaccount: segment does not exist")
	ErrTornHeader    = errors.New("segaccount: segment header is torn")
	ErrCorruptRecord = errors.New("segaccount: record stream is corrupted")
)

// RecordKind distinguishes the three record shapes the recovery
// scanner understands.
type RecordKind int

const (
	RecordZeroed RecordKind = iota
	RecordFlush
	RecordCorrupted
)

// Record is one entry in a segment's record stream.
type Record struct {
	Kind RecordKind
	LSN  common.Lsn
	Len  int64
}

// Header is what ReadSegment returns about a segment's fixed header.
type Header struct {
	LSN common.Lsn
	// Position is the segment's own base offset.
	Position common.LogID
	// ReadOffset is how many header-relative bytes were consumed
	// reading the header itself; recovery seeds max_lsn with it.
	ReadOffset int64
}

// SegmentReader streams the records following a segment header.
type SegmentReader interface {
	Header() Header
	// Next returns the next record, or ok=false once the stream is
	// exhausted (clean end, not corruption).
	Next() (Record, bool)
}

// Store is the segment I/O contract the accountant's recovery scanner
// depends on.
type Store interface {
	ReadSegment(offset common.LogID) (SegmentReader, error)
	HeaderLen() int64
}

// Options configure a FileStore.
type Options struct {
	Dir         string
	SegmentSize int64
	InMemory    bool
	DirPerms    uint32
	FilePerms   uint32
}

// DefaultOptions mirrors wal.DefaultOptions: sane values for a
// production deployment, overridden by tests that want an in-memory
// filesystem.
func DefaultOptions() Options {
	return Options{
		Dir:         "segments",
		SegmentSize: 20 << 20,
		InMemory:    false,
		DirPerms:    0750,
		FilePerms:   0640,
	}
}

// FileStore is the production Store: segment files named by their
// base offset, cached headers via tinylru the way wal.Log caches
// recently-touched segments.
type FileStore struct {
	fs    afero.Fs
	dir   string
	opts  Options
	cache tinylru.LRU
}

// NewFileStore opens the segment directory backing a FileStore,
// creating it if it does not exist yet. Missing segments are simply absent; ReadSegment reports
// ErrNoSuchSegment for any offset with no backing file.
func NewFileStore(opts Options) (*FileStore, error) {
	if opts.DirPerms == 0 {
		opts.DirPerms = 0750
	}
	if opts.FilePerms == 0 {
		opts.FilePerms = 0640
	}
	fs := afero.NewOsFs()
	if opts.InMemory {
		fs = afero.NewMemMapFs()
	}
	if err := fs.MkdirAll(opts.Dir, os.FileMode(opts.DirPerms)); err != nil {
		return nil, errors.Wrap(err, "segaccount: creating segment directory")
	}
	fstore := &FileStore{
		fs:   fs,
		dir:  opts.Dir,
		opts: opts,
	}
	fstore.cache.Resize(64)
	return fstore, nil
}

func (s *FileStore) HeaderLen() int64 { return HeaderLen }

func (s *FileStore) segmentPath(offset common.LogID) string {
	return filepath.Join(s.dir, segmentName(offset))
}

// segmentFilenameLength matches wal.go's 20-digit zero-padded decimal
// naming scheme, which keeps segment files in lexical == numeric order.
const segmentFilenameLength = 20

func segmentName(offset common.LogID) string {
	return decimal20(int64(offset))
}

func decimal20(v int64) string {
	const digits = "0123456789"
	buf := make([]byte, segmentFilenameLength)
	for i := segmentFilenameLength - 1; i >= 0; i-- {
		buf[i] = digits[v%10]
		v /= 10
	}
	return string(buf)
}

// ReadSegment opens the segment file at offset and returns a reader
// positioned right after its header.
func (s *FileStore) ReadSegment(offset common.LogID) (SegmentReader, error) {
	path := s.segmentPath(offset)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, ErrNoSuchSegment
	}
	if int64(len(data)) < HeaderLen {
		return nil, ErrTornHeader
	}

	var hdr Header
	if cached, ok := s.cache.Get(offset); ok {
		hdr = cached.(Header)
	} else {
		lsn, ok := decodeHeader(data[:HeaderLen])
		if !ok {
			return nil, ErrTornHeader
		}
		hdr = Header{
			LSN:        lsn,
			Position:   offset,
			ReadOffset: HeaderLen,
		}
		s.cache.Set(offset, hdr)
	}
	return &fileSegmentReader{hdr: hdr, rest: data[HeaderLen:]}, nil
}

type fileSegmentReader struct {
	hdr  Header
	rest []byte
}

func (r *fileSegmentReader) Header() Header { return r.hdr }

func (r *fileSegmentReader) Next() (Record, bool) {
	if len(r.rest) == 0 {
		return Record{}, false
	}
	kind := r.rest[0]
	r.rest = r.rest[1:]
	switch kind {
	case byte(RecordZeroed):
		n, used, ok := readUvarint(r.rest)
		if !ok {
			r.rest = nil
			return Record{Kind: RecordCorrupted}, true
		}
		r.rest = r.rest[used:]
		if int64(len(r.rest)) < n {
			r.rest = nil
			return Record{Kind: RecordCorrupted}, true
		}
		r.rest = r.rest[n:]
		return Record{Kind: RecordZeroed, Len: n}, true
	case byte(RecordFlush):
		if len(r.rest) < 8 {
			r.rest = nil
			return Record{Kind: RecordCorrupted}, true
		}
		lsn := common.Lsn(binary.LittleEndian.Uint64(r.rest[:8]))
		r.rest = r.rest[8:]
		n, used, ok := readUvarint(r.rest)
		if !ok {
			r.rest = nil
			return Record{Kind: RecordCorrupted}, true
		}
		r.rest = r.rest[used:]
		if int64(len(r.rest)) < n {
			r.rest = nil
			return Record{Kind: RecordCorrupted}, true
		}
		r.rest = r.rest[n:]
		return Record{Kind: RecordFlush, LSN: lsn, Len: n}, true
	case byte(RecordCorrupted):
		r.rest = nil
		return Record{Kind: RecordCorrupted}, true
	default:
		r.rest = nil
		return Record{Kind: RecordCorrupted}, true
	}
}

func readUvarint(b []byte) (value int64, used int, ok bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, false
	}
	return int64(v), n, true
}

func decodeHeader(b []byte) (common.Lsn, bool) {
	lsn := binary.LittleEndian.Uint64(b[:8])
	crc := binary.LittleEndian.Uint32(b[8:12])
	if crc != headerCRC(lsn) {
		return 0, false
	}
	return common.Lsn(lsn), true
}

func encodeHeader(lsn common.Lsn) []byte {
	b := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint64(b[:8], uint64(lsn))
	binary.LittleEndian.PutUint32(b[8:12], headerCRC(uint64(lsn)))
	return b
}

// headerCRC is a deliberately simple checksum (not crc32) guarding the
// header against a torn write during fixture construction; production
// durability is the log writer's concern, out of scope here.
func headerCRC(lsn uint64) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < 8; i++ {
		h ^= uint32(lsn >> (8 * uint(i)) & 0xff)
		h *= 16777619
	}
	return h
}

// Writer builds segment files for tests and for the log writer
// collaborator (out of this component's scope, but something needs to
// emit the on-disk shape the recovery scanner reads back).
type Writer struct {
	fs   afero.Fs
	dir  string
	file afero.File
	buf  []byte
}

// CreateSegment writes a fresh header for offset/lsn and returns a
// Writer positioned to append records.
func (s *FileStore) CreateSegment(offset common.LogID, lsn common.Lsn) (*Writer, error) {
	f, err := s.fs.OpenFile(s.segmentPath(offset), os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(s.opts.FilePerms))
	if err != nil {
		return nil, errors.Wrap(err, "segaccount: creating segment file")
	}
	w := &Writer{fs: s.fs, dir: s.dir, file: f}
	w.buf = append(w.buf, encodeHeader(lsn)...)
	return w, nil
}

// AppendFlush appends a Flush(lsn, payload) record.
func (w *Writer) AppendFlush(lsn common.Lsn, payload []byte) {
	w.buf = append(w.buf, byte(RecordFlush))
	var lb [8]byte
	binary.LittleEndian.PutUint64(lb[:], uint64(lsn))
	w.buf = append(w.buf, lb[:]...)
	w.buf = appendUvarint(w.buf, uint64(len(payload)))
	w.buf = append(w.buf, payload...)
}

// AppendZeroed appends a Zeroed(len) gap record.
func (w *Writer) AppendZeroed(length int) {
	w.buf = append(w.buf, byte(RecordZeroed))
	w.buf = appendUvarint(w.buf, uint64(length))
	w.buf = append(w.buf, make([]byte, length)...)
}

// AppendCorrupted appends a record that the reader will report as
// Corrupted regardless of what follows.
func (w *Writer) AppendCorrupted() {
	w.buf = append(w.buf, byte(RecordCorrupted))
}

// Close flushes the buffered segment content to the filesystem.
func (w *Writer) Close() error {
	defer w.file.Close()
	if _, err := w.file.Write(w.buf); err != nil {
		return errors.Wrap(err, "segaccount: writing segment")
	}
	return nil
}

func appendUvarint(dst []byte, v uint64) []byte {
	var buf [10]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

var _ io.Closer = (*Writer)(nil)
