// Package filemask reads the per-directory filter-group binary format
// of spec §3/§6: int nfg, then nfg x {int fc, int fbl, bytes[fbl]}.
package filemask

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Group is one file-mask group: FilterCount filters, each held as its
// own pattern blob. On disk the group's filters are one NUL-separated
// blob whose total byte length is the group's fbl.
type Group struct {
	FilterCount int32
	Filters     [][]byte
}

// Read parses the whole file-mask file, read whole and used read-only
// per spec §3.
func Read(r io.Reader) ([]Group, error) {
	var nfg int32
	if err := binary.Read(r, binary.LittleEndian, &nfg); err != nil {
		return nil, fmt.Errorf("filemask: read nfg: %w", err)
	}
	if nfg < 0 {
		return nil, fmt.Errorf("filemask: negative group count %d", nfg)
	}

	groups := make([]Group, 0, nfg)
	for i := int32(0); i < nfg; i++ {
		var fc, fbl int32
		if err := binary.Read(r, binary.LittleEndian, &fc); err != nil {
			return nil, fmt.Errorf("filemask: group %d: read fc: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &fbl); err != nil {
			return nil, fmt.Errorf("filemask: group %d: read fbl: %w", i, err)
		}
		if fbl < 0 {
			return nil, fmt.Errorf("filemask: group %d: negative byte length %d", i, fbl)
		}
		buf := make([]byte, fbl)
		if fbl > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("filemask: group %d: read bytes: %w", i, err)
			}
		}
		groups = append(groups, Group{FilterCount: fc, Filters: splitNUL(buf, int(fc))})
	}
	return groups, nil
}

// Write serializes groups back into the on-disk format, for tests and
// for collaborators that regenerate a file-mask file.
func Write(w io.Writer, groups []Group) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(groups))); err != nil {
		return err
	}
	for _, g := range groups {
		buf := joinNUL(g.Filters)
		if err := binary.Write(w, binary.LittleEndian, g.FilterCount); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(buf))); err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// splitNUL splits a NUL-separated byte blob into n filters, tolerating
// a trailing NUL or none at all.
func splitNUL(buf []byte, n int) [][]byte {
	if n <= 0 {
		return nil
	}
	out := make([][]byte, 0, n)
	start := 0
	for i := 0; i < len(buf) && len(out) < n-1; i++ {
		if buf[i] == 0 {
			out = append(out, buf[start:i])
			start = i + 1
		}
	}
	end := len(buf)
	for end > start && buf[end-1] == 0 {
		end--
	}
	out = append(out, buf[start:end])
	return out
}

func joinNUL(filters [][]byte) []byte {
	var buf []byte
	for i, f := range filters {
		if i > 0 {
			buf = append(buf, 0)
		}
		buf = append(buf, f...)
	}
	return buf
}
