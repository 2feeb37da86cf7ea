// Package fra implements the Fileretrieve Status Area of spec §3: the
// per-watched-directory counterpart to the FSA, tracking queued-item
// counts, error state and the dir's check schedule.
package fra

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holger24/AFD-sub018/internal/shm"
)

// Version is CURRENT_FRA_VERSION.
const Version byte = 1

const (
	DirAliasLen   = 32
	HostAliasLen  = 32
	MaxTimeEntries = 8
)

// dir_flag bits, including DIR_ERROR_SET.
const (
	FlagErrorSet uint32 = 1 << iota // DIR_ERROR_SET
	FlagRetrieve                    // RETRIEVE_FLAG on the owning host's protocol, mirrored here for convenience
)

// TimeEntry is one schedule entry (te[]) controlling next_check_time.
type TimeEntry struct {
	Minute int32
	Hour   int32
	Day    int32
	Month  int32
	Weekday int32
}

// Dir is one FRA slot (spec §3 "Directory").
type Dir struct {
	DirID           uint32
	DirAlias        [DirAliasLen]byte
	HostAlias       [HostAliasLen]byte
	Protocol        uint32
	Queued          int32
	ErrorCounter    int32
	MaxErrors       int32
	DirFlag         uint32
	DirStatus       uint32
	NextCheckTime   int64
	NoOfTimeEntries int32
	TimeEntries     [MaxTimeEntries]TimeEntry
}

// RecordSize is the fixed on-disk size of one Dir record.
var RecordSize = binary.Size(Dir{})

func init() {
	if RecordSize <= 0 {
		panic("fra: Dir is not a fixed-size record")
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

// Alias returns dir_alias as a string.
func (d *Dir) Alias() string { return cstr(d.DirAlias[:]) }

// SetAlias sets dir_alias, truncating to fit.
func (d *Dir) SetAlias(s string) { setCStr(d.DirAlias[:], s) }

// HostAliasStr returns host_alias as a string.
func (d *Dir) HostAliasStr() string { return cstr(d.HostAlias[:]) }

// SetHostAlias sets host_alias, truncating to fit.
func (d *Dir) SetHostAlias(s string) { setCStr(d.HostAlias[:], s) }

// SyncDirErrorSet keeps the DIR_ERROR_SET flag consistent with
// error_counter >= max_errors, per the spec §3 invariant. It returns
// true if the flag's state changed (callers use this to decide
// whether to emit a "dir error start/end" event).
func (d *Dir) SyncDirErrorSet() (changed bool) {
	should := d.ErrorCounter >= d.MaxErrors && d.MaxErrors > 0
	is := d.DirFlag&FlagErrorSet != 0
	if should == is {
		return false
	}
	if should {
		d.DirFlag |= FlagErrorSet
	} else {
		d.DirFlag &^= FlagErrorSet
	}
	return true
}

// Encode serializes d into its fixed-size wire form.
func (d *Dir) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(RecordSize)
	if err := binary.Write(buf, binary.LittleEndian, d); err != nil {
		panic(fmt.Sprintf("fra: encode: %v", err))
	}
	return buf.Bytes()
}

// Decode populates d from a RecordSize-length byte slice.
func (d *Dir) Decode(rec []byte) error {
	if len(rec) != RecordSize {
		return fmt.Errorf("fra: decode: record is %d bytes, want %d", len(rec), RecordSize)
	}
	return binary.Read(bytes.NewReader(rec), binary.LittleEndian, d)
}

// Table is the attached FRA array.
type Table struct {
	m *shm.Map
}

// Open attaches the FRA backing file.
func Open(path string) (*Table, error) {
	m, err := shm.Attach(path, RecordSize, Version)
	if err != nil {
		return nil, err
	}
	return &Table{m: m}, nil
}

// Create initializes a new, empty FRA backing file.
func Create(path string) error {
	return shm.Create(path, RecordSize, Version)
}

// Close detaches the table.
func (t *Table) Close() error { return t.m.Detach() }

// Len returns the current number of directories (no_of_dirs).
func (t *Table) Len() int { return t.m.NumElements() }

// Get decodes dir i.
func (t *Table) Get(i int) (*Dir, error) {
	d := &Dir{}
	if err := d.Decode(t.m.Record(i)); err != nil {
		return nil, err
	}
	return d, nil
}

// Set encodes dir i in place.
func (t *Table) Set(i int, d *Dir) {
	copy(t.m.Record(i), d.Encode())
}

// Resize grows or shrinks the table to n directories.
func (t *Table) Resize(n int) error { return t.m.Resize(n) }

// IndexByDirID mirrors the dir-ID position resolver of spec §2.3.
func (t *Table) IndexByDirID(id uint32) (int, bool) {
	for i := 0; i < t.Len(); i++ {
		d, err := t.Get(i)
		if err != nil {
			continue
		}
		if d.DirID == id {
			return i, true
		}
	}
	return 0, false
}

// RecomputeNextCheckTime finds the earliest upcoming time in te[] after
// now and stores it, used by remove_msg (spec §4.3 step 2). A minimal,
// deterministic scheduler: the smallest absolute NextCheckTime-style
// value among enabled entries greater than now, or 0 if none qualify.
func (d *Dir) RecomputeNextCheckTime(now int64, occurrencesAfter func(te TimeEntry, now int64) int64) {
	var best int64
	for i := 0; i < int(d.NoOfTimeEntries) && i < MaxTimeEntries; i++ {
		next := occurrencesAfter(d.TimeEntries[i], now)
		if next <= 0 {
			continue
		}
		if best == 0 || next < best {
			best = next
		}
	}
	d.NextCheckTime = best
}
