// Package connection implements the Connection table of spec §3/§4.4:
// a fixed-size table of active outbound workers, exclusively owned and
// mutated by the dispatcher — workers never write it.
package connection

import "fmt"

// Slot is one active worker (spec §3 "Connection").
type Slot struct {
	PID      int
	HostID   uint32
	JobNo    int
	FSAPos   int
	FRAPos   int
	MsgName  string
	DirAlias string
	Hostname string
	Protocol string
	TempToggle bool
}

// Empty reports whether the slot is unowned.
func (s *Slot) Empty() bool { return s.PID == 0 }

// reset zeroes every field, matching the spec's exact reap contract:
// "pid=0, fsa_pos=-1, fra_pos=-1, job_no=-1, strings zeroed".
func (s *Slot) reset() {
	*s = Slot{FSAPos: -1, FRAPos: -1, JobNo: -1}
}

// Table is the dispatcher's fixed-size, exclusively-owned connection
// table (MaxConnections slots).
type Table struct {
	slots []Slot
}

// NewTable allocates a table capped at maxConnections slots, all idle.
func NewTable(maxConnections int) *Table {
	t := &Table{slots: make([]Slot, maxConnections)}
	for i := range t.slots {
		t.slots[i].reset()
	}
	return t
}

// Cap is the global max_connections cap (spec §4.4 step 4 "Honour a
// global cap on Connection slots").
func (t *Table) Cap() int { return len(t.slots) }

// InUse counts currently-owned slots.
func (t *Table) InUse() int {
	n := 0
	for i := range t.slots {
		if !t.slots[i].Empty() {
			n++
		}
	}
	return n
}

// Allocate finds the smallest free index and assigns slot, returning
// its index. Returns an error if the table is full.
func (t *Table) Allocate(slot Slot) (int, error) {
	for i := range t.slots {
		if t.slots[i].Empty() {
			t.slots[i] = slot
			return i, nil
		}
	}
	return 0, fmt.Errorf("connection: table full (cap %d)", len(t.slots))
}

// Get returns a copy of slot i.
func (t *Table) Get(i int) (Slot, error) {
	if i < 0 || i >= len(t.slots) {
		return Slot{}, fmt.Errorf("connection: index %d out of range", i)
	}
	return t.slots[i], nil
}

// Set overwrites slot i (e.g. to update FSAPos during resync).
func (t *Table) Set(i int, slot Slot) error {
	if i < 0 || i >= len(t.slots) {
		return fmt.Errorf("connection: index %d out of range", i)
	}
	t.slots[i] = slot
	return nil
}

// Release zeroes slot i, per the "on exit the slot is zeroed" lifecycle
// rule.
func (t *Table) Release(i int) error {
	if i < 0 || i >= len(t.slots) {
		return fmt.Errorf("connection: index %d out of range", i)
	}
	t.slots[i].reset()
	return nil
}

// FindByPID returns the index of the slot owning pid, or -1.
func (t *Table) FindByPID(pid int) int {
	for i := range t.slots {
		if t.slots[i].PID == pid {
			return i
		}
	}
	return -1
}

// Each calls fn for every occupied slot.
func (t *Table) Each(fn func(i int, s Slot)) {
	for i := range t.slots {
		if !t.slots[i].Empty() {
			fn(i, t.slots[i])
		}
	}
}
