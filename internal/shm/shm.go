// Package shm implements the fixed-layout, process-shared array store
// described in spec §4.1: a word-aligned header (element count,
// version byte, page size) followed by a flat array of fixed-size
// records, memory-mapped by every cooperating process.
//
// Records are plain byte slices; callers (internal/fsa, internal/fra,
// internal/qb, internal/mdb, internal/jid) own the encode/decode of
// their specific record layout on top of this.
package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// HeaderSize is AFD_WORD_OFFSET: the fixed byte length of the header
// that precedes the record array, word-aligned.
const HeaderSize = 16

// ErrWrongVersion is returned by Attach when the on-disk version byte
// does not match the version the caller compiled against.
var ErrWrongVersion = errors.New("shm: wrong version of mapped file")

// Header is the decoded form of the HeaderSize-byte prefix:
//
//	offset 0: int32  element count
//	offset 4: byte   version
//	offset 5: byte   reserved
//	offset 6: byte   reserved
//	offset 7: byte   reserved
//	offset 8: int32  page size
//	offset 12..16: reserved
type Header struct {
	ElementCount int32
	Version      byte
	PageSize     int32
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.ElementCount))
	buf[4] = h.Version
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.PageSize))
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		ElementCount: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Version:      buf[4],
		PageSize:     int32(binary.LittleEndian.Uint32(buf[8:12])),
	}
}

// Map is an attached shared-state array: the header plus the full
// record region, memory mapped read/write.
type Map struct {
	path       string
	f          *os.File
	data       []byte // full mmap, header+records
	recordSize int
}

// Create initializes a new backing file with zero elements, the given
// version byte and the current process's page size. It is idempotent:
// calling it on an existing file with a matching version is a no-op.
func Create(path string, recordSize int, version byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("shm: create %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= HeaderSize {
		var hdr [HeaderSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err == nil {
			h := decodeHeader(hdr[:])
			if h.Version == version {
				return nil
			}
			return fmt.Errorf("shm: %s: %w (have %d, want %d)", path, ErrWrongVersion, h.Version, version)
		}
	}

	h := Header{ElementCount: 0, Version: version, PageSize: int32(unix.Getpagesize())}
	if err := f.Truncate(HeaderSize); err != nil {
		return err
	}
	if _, err := f.WriteAt(encodeHeader(h), 0); err != nil {
		return err
	}
	return nil
}

// Attach opens path, maps the whole file read/write, and verifies the
// version byte. recordSize is the fixed size of one record in bytes.
func Attach(path string, recordSize int, wantVersion byte) (*Map, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("shm: attach %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size < HeaderSize {
		f.Close()
		return nil, fmt.Errorf("shm: %s: truncated header", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	h := decodeHeader(data[:HeaderSize])
	if h.Version != wantVersion {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("shm: %s: %w (have %d, want %d)", path, ErrWrongVersion, h.Version, wantVersion)
	}

	return &Map{path: path, f: f, data: data, recordSize: recordSize}, nil
}

// Header returns the current decoded header. Safe to call without a
// lock; callers needing a consistent read under concurrent mutation
// should hold the relevant region lock (internal/region).
func (m *Map) Header() Header {
	return decodeHeader(m.data[:HeaderSize])
}

// NumElements returns the current element count. A count <= 0 means
// the map should be treated as stale by the caller.
func (m *Map) NumElements() int {
	return int(m.Header().ElementCount)
}

// setElementCount updates the header in place.
func (m *Map) setElementCount(n int) {
	binary.LittleEndian.PutUint32(m.data[0:4], uint32(n))
}

// Record returns a byte slice view onto record i's backing bytes.
// Mutations through the returned slice are visible to every other
// attached process immediately (it aliases the mmap).
func (m *Map) Record(i int) []byte {
	off := HeaderSize + i*m.recordSize
	return m.data[off : off+m.recordSize : off+m.recordSize]
}

// Cap returns the number of records the current physical mapping can
// hold, which may exceed NumElements when the logical count has been
// shrunk without releasing the backing capacity (compaction).
func (m *Map) Cap() int {
	return (len(m.data) - HeaderSize) / m.recordSize
}

// SetCount updates the logical element count without touching the
// physical mapping, used by compaction (remove_msg) to shrink the
// queue length in place.
func (m *Map) SetCount(n int) {
	m.setElementCount(n)
}

// Fd returns the backing file descriptor, for callers (internal/region)
// that need to take an advisory byte-range lock on the same file the
// mmap is attached to.
func (m *Map) Fd() int { return int(m.f.Fd()) }

// Detach unmaps the file and closes the descriptor.
func (m *Map) Detach() error {
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	return m.f.Close()
}

// Resize grows (or shrinks) the backing file to hold newCount records
// and remaps it, updating the header's element count. Per spec §4.1,
// growth happens by truncate-then-remap; the header-pointer and
// array-pointer are kept consistent by always deriving both from the
// single mmap base, so there is no window where one is stale relative
// to the other.
func (m *Map) Resize(newCount int) error {
	newSize := int64(HeaderSize + newCount*m.recordSize)
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	if err := m.f.Truncate(newSize); err != nil {
		return err
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: resize remap %s: %w", m.path, err)
	}
	m.data = data
	m.setElementCount(newCount)
	return nil
}

// Append grows the map by one bucket whenever the new element count
// crosses a bucketSize boundary, matching the QB's MSG_QUE_BUF_SIZE
// growth policy (grow-only; see DESIGN.md Open Question #1).
func (m *Map) Append(bucketSize int) (newIndex int, err error) {
	n := m.NumElements()
	if (n+1)%bucketSize == 0 || n == 0 {
		if err := m.Resize(roundUp(n+1, bucketSize)); err != nil {
			return 0, err
		}
	} else if HeaderSize+(n+1)*m.recordSize > len(m.data) {
		if err := m.Resize(roundUp(n+1, bucketSize)); err != nil {
			return 0, err
		}
	}
	m.setElementCount(n + 1)
	return n, nil
}

func roundUp(n, bucket int) int {
	if bucket <= 0 {
		return n
	}
	return ((n + bucket - 1) / bucket) * bucket
}

// AttachPos performs the windowed partial attach of §4.1: the header
// is mapped read-only, and only the OS page containing record index
// is mapped read/write. This lets a cooperating process mutate one
// entry of a potentially huge array without mapping the whole thing.
type PartialMap struct {
	f          *os.File
	headerOnly []byte
	page       []byte
	pageOffset int64 // byte offset of the mapped page within the file
	mapOffset  int   // byte offset of the record within the mapped page
	recordSize int
}

// AttachPos opens path and maps: (1) the header, read-only, and (2)
// the single page containing element index, read/write.
func AttachPos(path string, recordSize int, index int, wantVersion byte) (*PartialMap, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("shm: attach_pos %s: %w", path, err)
	}

	headerOnly, err := unix.Mmap(int(f.Fd()), 0, HeaderSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: attach_pos header %s: %w", path, err)
	}
	h := decodeHeader(headerOnly)
	if h.Version != wantVersion {
		unix.Munmap(headerOnly)
		f.Close()
		return nil, fmt.Errorf("shm: %s: %w (have %d, want %d)", path, ErrWrongVersion, h.Version, wantVersion)
	}

	pagesize := int(h.PageSize)
	if pagesize <= 0 {
		pagesize = unix.Getpagesize()
	}

	start := int64(HeaderSize + index*recordSize)
	pageOffset := (start / int64(pagesize)) * int64(pagesize)
	mapOffset := int(start - pageOffset)

	// Map enough pages to cover the whole record, in case it straddles
	// a page boundary.
	mapLen := roundUp(mapOffset+recordSize, pagesize)

	page, err := unix.Mmap(int(f.Fd()), pageOffset, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(headerOnly)
		f.Close()
		return nil, fmt.Errorf("shm: attach_pos page %s: %w", path, err)
	}

	return &PartialMap{
		f:          f,
		headerOnly: headerOnly,
		page:       page,
		pageOffset: pageOffset,
		mapOffset:  mapOffset,
		recordSize: recordSize,
	}, nil
}

// Record returns the byte slice for the single attached record.
func (p *PartialMap) Record() []byte {
	return p.page[p.mapOffset : p.mapOffset+p.recordSize]
}

// Header returns the read-only header snapshot.
func (p *PartialMap) Header() Header { return decodeHeader(p.headerOnly) }

// Detach unmaps both regions and closes the descriptor.
func (p *PartialMap) Detach() error {
	if err := unix.Munmap(p.page); err != nil {
		return err
	}
	if err := unix.Munmap(p.headerOnly); err != nil {
		return err
	}
	return p.f.Close()
}
