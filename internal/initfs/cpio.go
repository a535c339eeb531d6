// Package initfs implements the cpio-newc initial-ramdisk unpacker
// from spec.md §4.8 and the Multiboot2 module-tag scan that locates the
// archive — grounded on
// _examples/original_source/core/initfs.c.
package initfs

import (
	"encoding/hex"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/axonos/axonos/internal/vfs"
	"github.com/axonos/axonos/internal/vfs/ramfs"
)

const (
	headerSize = 110
	trailer    = "TRAILER!!!"

	modeTypeMask = 0170000
	modeDir      = 0040000
	modeRegular  = 0100000
	modeSymlink  = 0120000
)

var (
	// ErrNoMagic means no cpio-newc magic appears anywhere in the
	// archive.
	ErrNoMagic = errors.New("initfs: no cpio-newc magic found")
	// ErrTruncated means a header or its payload runs past the end of
	// the archive.
	ErrTruncated = errors.New("initfs: archive truncated")
)

func isMagic(b []byte) bool {
	return len(b) >= 6 && (string(b[:6]) == "070701" || string(b[:6]) == "070702")
}

// header is one parsed cpio-newc header's fixed-width hex fields.
type header struct {
	mode     uint32
	namesize uint32
	filesize uint32
}

func parseHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, ErrTruncated
	}
	field := func(off int) (uint32, bool) {
		raw := b[off : off+8]
		v, err := hex.DecodeString(string(raw))
		if err != nil || len(v) != 4 {
			return 0, false
		}
		return uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3]), true
	}
	mode, ok := field(14)
	if !ok {
		return header{}, ErrTruncated
	}
	filesize, ok := field(54)
	if !ok {
		return header{}, ErrTruncated
	}
	namesize, ok := field(94)
	if !ok {
		return header{}, ErrTruncated
	}
	return header{mode: mode, namesize: namesize, filesize: filesize}, nil
}

func align4(n int) int {
	if r := n % 4; r != 0 {
		n += 4 - r
	}
	return n
}

// Extract walks a cpio-newc archive and recreates every entry in fs,
// per spec.md §8 testable property #10: directories map to Mkdir,
// regular files to Create+Write, and symlinks are materialized as
// plain files holding the link target string (the original's
// "not a real VFS symlink yet" compromise, carried forward as-is since
// spec.md doesn't add symlink support to ramfs).
func Extract(archive []byte, fs *ramfs.FS, log *zap.SugaredLogger) error {
	start := findMagic(archive)
	if start < 0 {
		return ErrNoMagic
	}

	offset := start
	for offset+headerSize <= len(archive) {
		if !isMagic(archive[offset:]) {
			next := findMagic(archive[offset+1:])
			if next < 0 {
				break
			}
			offset = offset + 1 + next
			continue
		}

		h, err := parseHeader(archive[offset:])
		if err != nil {
			return err
		}

		nameOff := offset + headerSize
		if nameOff+int(h.namesize) > len(archive) {
			return ErrTruncated
		}
		nameBytes := archive[nameOff : nameOff+int(h.namesize)]
		name := strings.TrimRight(string(nameBytes), "\x00")

		if name == trailer {
			break
		}

		dataOff := align4(nameOff + int(h.namesize))
		if dataOff+int(h.filesize) > len(archive) {
			return ErrTruncated
		}
		data := archive[dataOff : dataOff+int(h.filesize)]

		if name != "" && name != "." {
			if err := extractEntry(fs, name, h, data, log); err != nil && log != nil {
				log.Warnw("initfs: failed to materialize entry", "name", name, "error", err)
			}
		}

		offset = align4(dataOff + int(h.filesize))
	}
	return nil
}

func findMagic(b []byte) int {
	for i := 0; i+6 <= len(b); i++ {
		if isMagic(b[i:]) {
			return i
		}
	}
	return -1
}

func toAbsolute(name string) string {
	name = strings.TrimPrefix(name, "./")
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + name
}

// ensureParentDirs calls Mkdir on every prefix of path's directory
// component, ignoring already-exists errors, per
// initfs.c's ensure_parent_dirs.
func ensureParentDirs(fs *ramfs.FS, path string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) <= 1 {
		return
	}
	cur := ""
	for _, p := range parts[:len(parts)-1] {
		cur += "/" + p
		if err := fs.Mkdir(cur, 0755, 0, 0); err != nil && !errors.Is(err, vfs.ErrExists) {
			return
		}
	}
}

func extractEntry(fs *ramfs.FS, name string, h header, data []byte, log *zap.SugaredLogger) error {
	target := toAbsolute(name)
	target = strings.TrimSuffix(target, "/")
	if target == "" {
		target = "/"
	}

	typ := h.mode & modeTypeMask
	ensureParentDirs(fs, target)

	switch {
	case typ == modeDir:
		if err := fs.Mkdir(target, h.mode&0777, 0, 0); err != nil && !errors.Is(err, vfs.ErrExists) {
			return err
		}
		return nil
	case typ == modeRegular:
		return writeFile(fs, target, data)
	case typ == modeSymlink:
		linkTarget := data
		if n := len(linkTarget); n > 0 && linkTarget[n-1] == 0 {
			linkTarget = linkTarget[:n-1]
		}
		return writeFile(fs, target, linkTarget)
	default:
		if log != nil {
			log.Warnw("initfs: skipping special file", "name", target, "mode", h.mode)
		}
		return nil
	}
}

func writeFile(fs *ramfs.FS, path string, data []byte) error {
	f, err := fs.Create(path, 0, 0)
	if err != nil {
		return err
	}
	defer f.Release()
	_, err = f.Write(data, 0)
	return err
}
