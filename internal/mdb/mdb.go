// Package mdb implements the Message Cache of spec §2.5/§3/§4.3:
// lifetime/retry data for a send job, keyed by the position QB's
// non-fetch items carry in their Pos field.
package mdb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holger24/AFD-sub018/internal/shm"
)

// Version is CURRENT_MSG_CACHE_VERSION.
const Version byte = 1

// Entry is one MDB slot (spec §3 "MessageCache").
type Entry struct {
	JobID         int64
	FSAPos        int32
	RetryInterval int32
	InCurrentFSA  byte
	_             [3]byte // padding to keep the record word-aligned
	CreationTime  int64
	LastRetryTime int64
}

// RecordSize is the fixed on-disk size of one Entry.
var RecordSize = binary.Size(Entry{})

func init() {
	if RecordSize <= 0 {
		panic("mdb: Entry is not a fixed-size record")
	}
}

// Encode serializes e into its fixed-size wire form.
func (e *Entry) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(RecordSize)
	if err := binary.Write(buf, binary.LittleEndian, e); err != nil {
		panic(fmt.Sprintf("mdb: encode: %v", err))
	}
	return buf.Bytes()
}

// Decode populates e from a RecordSize-length byte slice.
func (e *Entry) Decode(rec []byte) error {
	if len(rec) != RecordSize {
		return fmt.Errorf("mdb: decode: record is %d bytes, want %d", len(rec), RecordSize)
	}
	return binary.Read(bytes.NewReader(rec), binary.LittleEndian, e)
}

// Table is the attached MDB array.
type Table struct {
	m *shm.Map
}

// Open attaches the MDB backing file.
func Open(path string) (*Table, error) {
	m, err := shm.Attach(path, RecordSize, Version)
	if err != nil {
		return nil, err
	}
	return &Table{m: m}, nil
}

// Create initializes a new, empty MDB backing file.
func Create(path string) error {
	return shm.Create(path, RecordSize, Version)
}

// Close detaches the table.
func (t *Table) Close() error { return t.m.Detach() }

// Len returns the current element count.
func (t *Table) Len() int { return t.m.NumElements() }

// Get decodes entry i.
func (t *Table) Get(i int) (*Entry, error) {
	e := &Entry{}
	if err := e.Decode(t.m.Record(i)); err != nil {
		return nil, err
	}
	return e, nil
}

// Set encodes entry i in place.
func (t *Table) Set(i int, e *Entry) {
	copy(t.m.Record(i), e.Encode())
}

// Append adds a new cache entry, growing the array in MSG_QUE_BUF_SIZE
// style buckets (reuses qb's bucket size via the caller-supplied
// bucket parameter so the two arrays can grow in lockstep if desired).
func (t *Table) Append(e *Entry, bucketSize int) (int, error) {
	idx, err := t.m.Append(bucketSize)
	if err != nil {
		return 0, err
	}
	t.Set(idx, e)
	return idx, nil
}

// Resolve looks up the entry's fsa_pos against the live FSA host-count,
// reporting staleness per the spec invariant: "if fsa_pos stops
// resolving, the cache entry is stale."
func (e *Entry) Resolve(numHosts int) (ok bool) {
	return e.FSAPos >= 0 && int(e.FSAPos) < numHosts
}
