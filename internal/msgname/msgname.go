// Package msgname formats and parses the dispatcher's stable
// "<creation_time_hex>_<unique_hex>_<split_hex>" message-name
// convention (spec §6, property P7): the three hex fields must
// round-trip through format/parse unchanged.
package msgname

import (
	"fmt"
	"strconv"
	"strings"
)

// Name is the parsed form of a msg_name.
type Name struct {
	CreationTime uint32
	Unique       uint32
	Split        uint32
}

// Format renders n as "<creation_time_hex>_<unique_hex>_<split_hex>".
func Format(n Name) string {
	return fmt.Sprintf("%x_%x_%x", n.CreationTime, n.Unique, n.Split)
}

// Parse is the inverse of Format. It reports ok==false for anything
// that does not have exactly three hex components.
func Parse(msgName string) (Name, bool) {
	parts := strings.Split(msgName, "_")
	if len(parts) != 3 {
		return Name{}, false
	}
	var vals [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return Name{}, false
		}
		vals[i] = v
	}
	return Name{CreationTime: uint32(vals[0]), Unique: uint32(vals[1]), Split: uint32(vals[2])}, true
}

// CreationTime extracts just the first hex component of msgName,
// tolerating names that do not have the full three-field shape (the
// dir-ID resync convention of spec §4.6 step 3 only ever needs this
// one field, and some fake/legacy msg_names carry nothing else).
func CreationTime(msgName string) (uint32, bool) {
	parts := strings.SplitN(msgName, "_", 2)
	if len(parts) == 0 || parts[0] == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
