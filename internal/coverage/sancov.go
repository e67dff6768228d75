package coverage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Magic numbers heading a .sancov file. The low byte gives the PC width.
const (
	Magic64 uint64 = 0xC0BFFFFFFFFFFF64
	Magic32 uint64 = 0xC0BFFFFFFFFFFF32
)

var ErrBadSancov = errors.New("malformed sancov file")

// DecodeSancov returns the program counters stored in a .sancov file in
// file order.
func DecodeSancov(data []byte) ([]uint64, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadSancov, len(data))
	}

	var width int
	switch magic := binary.LittleEndian.Uint64(data[:8]); magic {
	case Magic64:
		width = 8
	case Magic32:
		width = 4
	default:
		return nil, fmt.Errorf("%w: unknown magic %#x", ErrBadSancov, magic)
	}

	body := data[8:]
	if len(body)%width != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadSancov, len(body)%width)
	}

	pcs := make([]uint64, 0, len(body)/width)
	for off := 0; off < len(body); off += width {
		if width == 8 {
			pcs = append(pcs, binary.LittleEndian.Uint64(body[off:]))
		} else {
			pcs = append(pcs, uint64(binary.LittleEndian.Uint32(body[off:])))
		}
	}
	return pcs, nil
}

// sancovModule extracts the module name from "<module>.<pid>.sancov".
func sancovModule(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), ".sancov")
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
