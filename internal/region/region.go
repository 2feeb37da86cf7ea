// Package region implements the byte-range advisory writer locks of
// spec §4.2: every mutation of shared FSA/FRA/QB state happens under a
// named region lock, taken via fcntl/flock byte ranges on the backing
// file so that the lock is visible to every cooperating process, not
// just goroutines in this one.
//
// The designed lock order for a single host is LOCK_EC -> LOCK_TFC ->
// LOCK_HS; never reversed (spec §5). Stack.Enter asserts that at
// runtime for callers that pass a Stack to WithLock.
package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind names a region per spec §4.2.
type Kind int

const (
	CheckFSAEntries Kind = iota // LOCK_CHECK_FSA_ENTRIES: global FSA self-check
	EC                          // LOCK_EC: per-host error counter + toggle
	HS                          // LOCK_HS: host-status bits
	TFC                         // LOCK_TFC: per-host total-file-counter/size
	FRAErrorCounter             // FRA error_counter field
	CurrentMsgList              // offset 0 of the current-message-list file during handoff
)

// rank gives each Kind its position in the enforced outer->inner
// order. Locks of undefined relative order (CheckFSAEntries,
// FRAErrorCounter, CurrentMsgList) get rank 0 and are not checked
// against each other or against EC/TFC/HS.
var rank = map[Kind]int{
	EC:  1,
	TFC: 2,
	HS:  3,
}

// Locker is one named byte-range lock on a backing file.
type Locker struct {
	fd     int
	offset int64
	length int64
	kind   Kind
}

// New wraps an already-open file descriptor (owned by the caller; the
// caller is responsible for closing it, which also releases any lock
// held through kernel cleanup per spec §4.2).
func New(fd int, kind Kind, offset, length int64) *Locker {
	return &Locker{fd: fd, offset: offset, length: length, kind: kind}
}

// Stack is a tiny per-call-chain order tracker passed explicitly by
// callers that nest locks, avoiding any dependency on goroutine IDs.
type Stack struct {
	ranks []int
}

// Enter asserts that acquiring kind now does not violate the
// LOCK_EC -> LOCK_TFC -> LOCK_HS order given what is already held on
// this Stack, then records it.
func (s *Stack) Enter(kind Kind) error {
	r, ordered := rank[kind]
	if !ordered {
		return nil
	}
	if len(s.ranks) > 0 {
		top := s.ranks[len(s.ranks)-1]
		if r <= top {
			return fmt.Errorf("region: lock order violation: acquiring rank %d while holding rank %d (want strictly increasing EC<TFC<HS)", r, top)
		}
	}
	s.ranks = append(s.ranks, r)
	return nil
}

// Leave pops the most recently entered rank for kind.
func (s *Stack) Leave(kind Kind) {
	if _, ordered := rank[kind]; !ordered {
		return
	}
	if len(s.ranks) > 0 {
		s.ranks = s.ranks[:len(s.ranks)-1]
	}
}

// Lock blocks (F_SETLKW) until the writer lock on this byte range is
// acquired.
func (l *Locker) Lock() error {
	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0, // SEEK_SET
		Start:  l.offset,
		Len:    l.length,
	}
	return unix.FcntlFlock(uintptr(l.fd), unix.F_SETLKW, &flock)
}

// Unlock releases the writer lock on this byte range.
func (l *Locker) Unlock() error {
	flock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  l.offset,
		Len:    l.length,
	}
	return unix.FcntlFlock(uintptr(l.fd), unix.F_SETLK, &flock)
}

// WithLock runs fn while holding the region lock, enforcing the
// designed order via stack, and always releasing afterward.
func WithLock(l *Locker, stack *Stack, fn func() error) error {
	if stack != nil {
		if err := stack.Enter(l.kind); err != nil {
			return err
		}
		defer stack.Leave(l.kind)
	}
	if err := l.Lock(); err != nil {
		return fmt.Errorf("region: lock %v: %w", l.kind, err)
	}
	defer l.Unlock()
	return fn()
}

// ECOffset computes the byte offset of host i's LOCK_EC region:
// AFD_WORD_OFFSET + i*fsaRecordSize, per spec §4.2.
func ECOffset(headerSize, fsaRecordSize, hostIndex int) int64 {
	return int64(headerSize + hostIndex*fsaRecordSize)
}
