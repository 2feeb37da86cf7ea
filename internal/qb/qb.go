// Package qb implements the Queue Buffer of spec §2.6/§3/§4.3: the
// ordered list of runnable send and fetch jobs the dispatcher scans
// head to tail on every tick.
package qb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holger24/AFD-sub018/internal/shm"
)

// Version is CURRENT_QUEUE_BUF_VERSION.
const Version byte = 1

// MsgNameLen bounds "<creation_time_hex>_<unique_hex>_<split_hex>".
const MsgNameLen = 64

// MsgQueBufSize is MSG_QUE_BUF_SIZE: the QB grows in buckets of this
// many slots (spec §3, "Growth").
const MsgQueBufSize = 50

// SpecialFlag bits.
const (
	FetchJob       uint32 = 1 << iota // pos indexes FRA instead of MDB
	ResendJob
	HelperJob
	QueuedForBurst
)

// Item is one QB slot (spec §3 "QueueItem").
type Item struct {
	MsgName        [MsgNameLen]byte
	MsgNumber      int64
	CreationTime   int64
	Priority       int32
	Pos            int32
	SpecialFlag    uint32
	PID            int32
	FilesToSend    int32
	FileSizeToSend int64
	Retries        int32
	ConnectPos     int32
}

// RecordSize is the fixed on-disk size of one Item.
var RecordSize = binary.Size(Item{})

func init() {
	if RecordSize <= 0 {
		panic("qb: Item is not a fixed-size record")
	}
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func setCStr(b []byte, s string) {
	n := copy(b, s)
	if n < len(b) {
		b[n] = 0
	}
}

// Name returns msg_name as a string.
func (it *Item) Name() string { return cstr(it.MsgName[:]) }

// SetName sets msg_name, truncating to fit.
func (it *Item) SetName(s string) { setCStr(it.MsgName[:], s) }

// IsFetchJob reports whether Pos indexes FRA rather than MDB.
func (it *Item) IsFetchJob() bool { return it.SpecialFlag&FetchJob != 0 }

// Running reports whether a worker currently owns this item.
func (it *Item) Running() bool { return it.PID > 0 }

// Encode serializes it into its fixed-size wire form.
func (it *Item) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(RecordSize)
	if err := binary.Write(buf, binary.LittleEndian, it); err != nil {
		panic(fmt.Sprintf("qb: encode: %v", err))
	}
	return buf.Bytes()
}

// Decode populates it from a RecordSize-length byte slice.
func (it *Item) Decode(rec []byte) error {
	if len(rec) != RecordSize {
		return fmt.Errorf("qb: decode: record is %d bytes, want %d", len(rec), RecordSize)
	}
	return binary.Read(bytes.NewReader(rec), binary.LittleEndian, it)
}

// Less implements the QB ordering: (priority asc, msg_number asc).
func Less(a, b *Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.MsgNumber < b.MsgNumber
}

// Table is the attached QB array.
type Table struct {
	m *shm.Map
}

// Open attaches the QB backing file.
func Open(path string) (*Table, error) {
	m, err := shm.Attach(path, RecordSize, Version)
	if err != nil {
		return nil, err
	}
	return &Table{m: m}, nil
}

// Create initializes a new, empty QB backing file.
func Create(path string) error {
	return shm.Create(path, RecordSize, Version)
}

// Close detaches the table.
func (t *Table) Close() error { return t.m.Detach() }

// Len returns no_msg_queued.
func (t *Table) Len() int { return t.m.NumElements() }

// Get decodes item i.
func (t *Table) Get(i int) (*Item, error) {
	it := &Item{}
	if err := it.Decode(t.m.Record(i)); err != nil {
		return nil, err
	}
	return it, nil
}

// Set encodes item i in place.
func (t *Table) Set(i int, it *Item) {
	copy(t.m.Record(i), it.Encode())
}

// Insert inserts it in sorted order (priority asc, msg_number asc),
// growing the backing array in MsgQueBufSize buckets as needed and
// shifting the tail right to make room, mirroring the spec's
// insertion-shift algorithm. It returns the slot index it was placed
// at.
func (t *Table) Insert(it *Item) (int, error) {
	n := t.Len()
	if _, err := t.m.Append(MsgQueBufSize); err != nil {
		return 0, err
	}
	// Append already incremented the logical count; find the sorted
	// insertion point among the first n (pre-append) entries.
	pos := n
	for i := 0; i < n; i++ {
		cur, err := t.Get(i)
		if err != nil {
			return 0, err
		}
		if Less(it, cur) {
			pos = i
			break
		}
	}
	// Shift [pos, n) right by one.
	for i := n; i > pos; i-- {
		prev, err := t.Get(i - 1)
		if err != nil {
			return 0, err
		}
		t.Set(i, prev)
	}
	t.Set(pos, it)
	return pos, nil
}

// RemoveAt compacts the array by shifting [pos+1, len) one slot left
// and decrementing the logical count, per spec §4.3 step 3
// ("memmove of [qb_pos+1 .. no_msg_queued) one slot left"). FRA/MDB
// side effects (steps 1-2) are the caller's responsibility — see
// internal/dispatcher's removeCompletedMessage and
// internal/fifocmd.Remover.Remove, which compose this with that
// bookkeeping.
func (t *Table) RemoveAt(pos int) error {
	n := t.Len()
	if pos < 0 || pos >= n {
		return fmt.Errorf("qb: RemoveAt: pos %d out of range [0,%d)", pos, n)
	}
	for i := pos; i < n-1; i++ {
		next, err := t.Get(i + 1)
		if err != nil {
			return err
		}
		t.Set(i, next)
	}
	t.m.SetCount(n - 1)
	return nil
}

// Find returns the index of the item with the given msg_name, or -1.
func (t *Table) Find(msgName string) int {
	for i := 0; i < t.Len(); i++ {
		it, err := t.Get(i)
		if err != nil {
			continue
		}
		if it.Name() == msgName {
			return i
		}
	}
	return -1
}
