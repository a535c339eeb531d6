package boot

import (
	"encoding/binary"

	"github.com/axonos/axonos/internal/initfs"
)

// Multiboot2Magic re-exports initfs.Multiboot2Magic so callers building
// a Config never need to import internal/initfs directly.
const Multiboot2Magic = initfs.Multiboot2Magic

const (
	mbTagModule   = 3
	mbTagBasicMem = 4
	mbTagEnd      = 0
)

// BuildMultibootInfo constructs a Multiboot2 info blob carrying one
// module tag (type 3, named "initfs", spanning [0, len(archive)) —
// treating the archive's own byte buffer as the "physical memory"
// Module.Start/End index into) and one basic-meminfo tag (type 4),
// the inverse of initfs.ParseTags's wire format. It stands in for the
// bootloader step that would otherwise build this structure in real
// physical memory before jumping into the kernel.
func BuildMultibootInfo(archive []byte, lowerKB, upperKB uint32) []byte {
	moduleName := "initfs"
	// Module tag: type(4) + size(4) + mod_start(4) + mod_end(4) + name + NUL.
	moduleTagLen := 16 + len(moduleName) + 1
	moduleTagPadded := align8(uint32(moduleTagLen))

	// Basic meminfo tag: type(4) + size(4) + lower(4) + upper(4) = 16, already aligned.
	memTagLen := uint32(16)

	endTagLen := uint32(8)

	totalSize := 8 + moduleTagPadded + memTagLen + endTagLen
	buf := make([]byte, totalSize)
	binary.LittleEndian.PutUint32(buf[0:4], totalSize)
	// buf[4:8] reserved, left zero.

	off := uint32(8)

	binary.LittleEndian.PutUint32(buf[off:off+4], mbTagModule)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(moduleTagLen))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], 0)
	binary.LittleEndian.PutUint32(buf[off+12:off+16], uint32(len(archive)))
	copy(buf[off+16:], moduleName)
	off += moduleTagPadded

	binary.LittleEndian.PutUint32(buf[off:off+4], mbTagBasicMem)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], memTagLen)
	binary.LittleEndian.PutUint32(buf[off+8:off+12], lowerKB)
	binary.LittleEndian.PutUint32(buf[off+12:off+16], upperKB)
	off += memTagLen

	binary.LittleEndian.PutUint32(buf[off:off+4], mbTagEnd)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], endTagLen)

	return buf
}

func align8(n uint32) uint32 {
	if r := n % 8; r != 0 {
		n += 8 - r
	}
	return n
}
