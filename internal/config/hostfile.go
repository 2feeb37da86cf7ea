package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
)

// HostSeed carries the settings a compiled host entry reduces to, the
// subset of fsa.Host the dispatcher cannot infer and must be told.
type HostSeed struct {
	Alias            string `config:"hl"`
	RealHostname1    string `config:"real_hostname_1"`
	RealHostname2    string `config:"real_hostname_2"`
	MaxErrors        int64  `config:"max_errors"`
	RetryInterval    int64  `config:"retry_interval"`
	TransferBlocksize int64 `config:"transfer_blocksize"`
	AllowedTransfers int64  `config:"allowed_transfers"`
	TransferRateLimit int64 `config:"transfer_rate_limit"`
	TransferTimeout  int64  `config:"transfer_timeout"`
	Protocol         uint64 `config:"protocol"`
	AutoToggle       bool   `config:"auto_toggle"`
}

// ApplyTo seeds a zero-valued fsa.Host with this entry's settings.
func (s HostSeed) ApplyTo(h *fsa.Host) {
	h.SetAlias(s.Alias)
	setCStr2(h.RealHostname[0][:], s.RealHostname1)
	setCStr2(h.RealHostname[1][:], s.RealHostname2)
	h.MaxErrors = int32(s.MaxErrors)
	h.RetryInterval = int32(s.RetryInterval)
	h.BlockSize = int32(s.TransferBlocksize)
	h.AllowedTransfers = int32(s.AllowedTransfers)
	h.TransferRateLimit = s.TransferRateLimit
	h.TransferTimeout = int32(s.TransferTimeout)
	h.Protocol = uint32(s.Protocol)
	h.HostToggle = fsa.HostOne
	if s.AutoToggle {
		h.AutoToggle = fsa.ToggleOn
	} else {
		h.AutoToggle = fsa.ToggleOff
	}
}

// DirSeed carries the settings a compiled directory entry reduces to.
type DirSeed struct {
	Alias     string `config:"dir_alias"`
	HostAlias string `config:"hl"`
	MaxErrors int64  `config:"max_errors"`
	Protocol  uint64 `config:"protocol"`
}

// ApplyTo seeds a zero-valued fra.Dir with this entry's settings.
func (s DirSeed) ApplyTo(d *fra.Dir) {
	d.SetAlias(s.Alias)
	d.SetHostAlias(s.HostAlias)
	d.MaxErrors = int32(s.MaxErrors)
	d.Protocol = uint32(s.Protocol)
}

func setCStr2(b []byte, s string) {
	n := copy(b, s)
	if n < len(b) {
		b[n] = 0
	}
}

// ReadHostSeeds reads one HostSeed per non-blank, non-comment line of
// r, each line a ParseLine-style "key=value,key=value" record.
func ReadHostSeeds(r io.Reader) ([]HostSeed, error) {
	var out []HostSeed
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		simple, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("config: host seed line %d: %w", lineNo, err)
		}
		var seed HostSeed
		if err := Decode(simple, &seed); err != nil {
			return nil, fmt.Errorf("config: host seed line %d: %w", lineNo, err)
		}
		out = append(out, seed)
	}
	return out, scanner.Err()
}

// ReadDirSeeds is the DirSeed analogue of ReadHostSeeds.
func ReadDirSeeds(r io.Reader) ([]DirSeed, error) {
	var out []DirSeed
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		simple, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("config: dir seed line %d: %w", lineNo, err)
		}
		var seed DirSeed
		if err := Decode(simple, &seed); err != nil {
			return nil, fmt.Errorf("config: dir seed line %d: %w", lineNo, err)
		}
		out = append(out, seed)
	}
	return out, scanner.Err()
}
