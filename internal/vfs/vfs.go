// Package vfs implements the pluggable virtual filesystem layer from
// spec.md §4.7: driver registration, mount-prefix routing, reference-
// counted file handles, and the ext2-like directory entry encoding
// shared by every concrete driver.
package vfs

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// FileType is the type tag spec.md §3 assigns to a file handle.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDirectory
)

// Errors used throughout VFS and driver operations. spec.md §7:
// propagation is "-1 for failure, 0 or positive for success" in the
// original; the Go rewrite keeps that shape at driver boundaries via
// ErrNotHandled (≈ "-1, try the next driver") while using ordinary
// sentinel errors everywhere else.
var (
	// ErrNotHandled means this driver doesn't own the path; the VFS
	// core should try the next registered driver.
	ErrNotHandled = errors.New("vfs: not handled by this driver")
	ErrNotFound   = errors.New("vfs: no such file or directory")
	ErrExists     = errors.New("vfs: file exists")
	ErrPermission = errors.New("vfs: permission denied")
	ErrInvalid    = errors.New("vfs: invalid argument")
	ErrIsDir      = errors.New("vfs: is a directory")
	ErrNotDir     = errors.New("vfs: not a directory")
	ErrNoSpace    = errors.New("vfs: driver table or mount table full")
)

const (
	maxDrivers = 8
	maxMounts  = 8
)

// Stat is the POSIX-ish metadata returned by Stat.
type Stat struct {
	Mode  uint32
	Size  int64
	UID   uint32
	GID   uint32
	Inode uint64
}

// Driver is the operations table a concrete filesystem registers with
// the VFS core. Any method may treat a path outside its mount as
// ErrNotHandled so dispatch can continue to the next driver. Unlike the
// original's ops-table-matched-by-driver_data-pointer-identity pattern,
// Go dispatch uses ordinary interface satisfaction (spec.md §9 redesign
// note).
type Driver interface {
	// Name identifies the driver for diagnostics and for FillStat's
	// driver-kind fallback.
	Name() string
	// Create and Open take the caller's effective uid/gid so a driver
	// can enforce its own permission policy (spec.md §4.8: "only
	// effective uid 0 may write or remove; mkdir allowed for any
	// thread, with ownership inherited from the current thread").
	Create(path string, uid, gid uint32) (Handle, error)
	Open(path string, uid, gid uint32) (Handle, error)
	Mkdir(path string, mode uint32, uid, gid uint32) error
	Chmod(path string, mode uint32, uid uint32) error
	FillStat(path string, st *Stat) error
}

// Handle is a reference-counted open file. Drivers return a Handle from
// Create/Open; the VFS core manages the refcount and calls Release
// exactly once, when it transitions from 1 to 0, per spec.md §3.
type Handle interface {
	Read(buf []byte, offset int64) (int, error)
	Write(buf []byte, offset int64) (int, error)
	// ReadDir reads the next chunk of directory entries at pos and
	// returns the new pos alongside the encoded bytes, per spec.md
	// §4.7's readdir_next and the ext2-like encoding in spec.md §6.
	ReadDir(pos int64, buf []byte) (n int, newPos int64, err error)
	Size() int64
	Type() FileType
	Path() string
	Release() error
}

// refHandle wraps a driver Handle with the VFS-owned refcount, so
// drivers never need to implement reference counting themselves.
type refHandle struct {
	Handle
	mu  sync.Mutex
	ref int
}

// File is what callers of Open/Create receive: a dup-able, ref-counted
// view onto a driver Handle.
type File struct {
	vfs *VFS
	rh  *refHandle
	pos int64
}

func (f *File) Path() string     { return f.rh.Path() }
func (f *File) Type() FileType   { return f.rh.Type() }
func (f *File) Size() int64      { return f.rh.Size() }
func (f *File) Offset() int64    { return f.pos }
func (f *File) SetOffset(o int64) { f.pos = o }

// Read reads len(buf) bytes starting at the file's current offset,
// advancing it by the number of bytes read.
func (f *File) Read(buf []byte) (int, error) {
	n, err := f.rh.Read(buf, f.pos)
	f.pos += int64(n)
	return n, err
}

// Write writes buf at the file's current offset, advancing it.
func (f *File) Write(buf []byte) (int, error) {
	n, err := f.rh.Write(buf, f.pos)
	f.pos += int64(n)
	return n, err
}

// ReadDirNext reads the next chunk of directory entries and advances
// the file's position, per spec.md §4.7.
func (f *File) ReadDirNext(buf []byte) (int, error) {
	n, newPos, err := f.rh.ReadDir(f.pos, buf)
	f.pos = newPos
	return n, err
}

// Dup increments the handle's refcount and returns a new *File sharing
// the same underlying driver handle, modeling descriptor duplication
// (spec.md §9's "explicit dup operation").
func (f *File) Dup() *File {
	f.rh.mu.Lock()
	f.rh.ref++
	f.rh.mu.Unlock()
	return &File{vfs: f.vfs, rh: f.rh, pos: 0}
}

// Free decrements the handle's refcount; on reaching zero, the driver's
// Release is invoked, fulfilling spec.md §3's "reaches its driver's
// release callback exactly once" invariant.
func (f *File) Free() error {
	f.rh.mu.Lock()
	f.rh.ref--
	n := f.rh.ref
	f.rh.mu.Unlock()
	if n > 0 {
		return nil
	}
	return f.rh.Release()
}

type mount struct {
	prefix string
	driver Driver
}

// VFS is the core dispatcher: driver registry, mount table, and
// open/read/write/stat/chmod/readdir dispatch.
type VFS struct {
	mu      sync.Mutex
	drivers []Driver
	mounts  []mount
}

// New creates an empty VFS core.
func New() *VFS {
	return &VFS{}
}

// RegisterDriver adds a driver to the small registry (up to 8).
func (v *VFS) RegisterDriver(d Driver) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.drivers) >= maxDrivers {
		return ErrNoSpace
	}
	v.drivers = append(v.drivers, d)
	return nil
}

// Mount adds a mount-prefix entry (up to 8), routing paths under prefix
// to driver. prefix must not have a trailing slash except the root "/".
func (v *VFS) Mount(prefix string, d Driver) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.mounts) >= maxMounts {
		return ErrNoSpace
	}
	if prefix != "/" && strings.HasSuffix(prefix, "/") {
		return ErrInvalid
	}
	v.mounts = append(v.mounts, mount{prefix: prefix, driver: d})
	// Keep mounts sorted longest-prefix-first so resolveMount can take
	// the first match.
	sort.SliceStable(v.mounts, func(i, j int) bool {
		return len(v.mounts[i].prefix) > len(v.mounts[j].prefix)
	})
	return nil
}

// resolveMount picks the longest matching prefix whose next character
// in path is '/' or NUL, per spec.md §3's Mount entry invariant.
func (v *VFS) resolveMount(path string) Driver {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range v.mounts {
		if prefixMatches(m.prefix, path) {
			return m.driver
		}
	}
	return nil
}

func prefixMatches(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}

// candidateDrivers returns the resolved mount driver first (if any),
// followed by every other registered driver, for Open/Create's
// "iteration continues through remaining registered drivers" fallback.
func (v *VFS) candidateDrivers(path string) []Driver {
	primary := v.resolveMount(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Driver, 0, len(v.drivers)+1)
	if primary != nil {
		out = append(out, primary)
	}
	for _, d := range v.drivers {
		if d != primary {
			out = append(out, d)
		}
	}
	return out
}

func newFile(v *VFS, h Handle) *File {
	return &File{vfs: v, rh: &refHandle{Handle: h, ref: 1}}
}

// Open consults the mount table for the longest matching prefix and
// calls that driver's Open; if it returns ErrNotHandled, iteration
// continues through remaining registered drivers. uid/gid are the
// calling thread's effective identity, passed through for permission
// enforcement.
func (v *VFS) Open(path string, uid, gid uint32) (*File, error) {
	if path == "" {
		return nil, ErrInvalid
	}
	var lastErr error = ErrNotFound
	for _, d := range v.candidateDrivers(path) {
		h, err := d.Open(path, uid, gid)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return newFile(v, h), nil
	}
	return nil, lastErr
}

// Create dispatches through the same mount-then-fallback resolution as
// Open.
func (v *VFS) Create(path string, uid, gid uint32) (*File, error) {
	if path == "" {
		return nil, ErrInvalid
	}
	for _, d := range v.candidateDrivers(path) {
		h, err := d.Create(path, uid, gid)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return newFile(v, h), nil
	}
	return nil, ErrNotFound
}

// Mkdir dispatches to the owning driver.
func (v *VFS) Mkdir(path string, mode uint32, uid, gid uint32) error {
	for _, d := range v.candidateDrivers(path) {
		err := d.Mkdir(path, mode, uid, gid)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		return err
	}
	return ErrNotFound
}

// Chmod dispatches to the driver owning the mount; the driver enforces
// its own permission policy.
func (v *VFS) Chmod(path string, mode uint32, uid uint32) error {
	for _, d := range v.candidateDrivers(path) {
		err := d.Chmod(path, mode, uid)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		return err
	}
	return ErrNotFound
}

// Stat opens the path, fills Stat via the per-driver filler (falling
// back to mode = DIR|0755 or REG|0644 and size from the handle), then
// frees the handle, per spec.md §4.7.
func (v *VFS) Stat(path string) (*Stat, error) {
	f, err := v.Open(path, 0, 0)
	if err != nil {
		return nil, err
	}
	defer f.Free()

	st := &Stat{}
	driver := v.resolveMount(path)
	if driver != nil {
		if fillErr := driver.FillStat(path, st); fillErr == nil {
			return st, nil
		}
	}

	if f.Type() == TypeDirectory {
		st.Mode = 0040000 | 0755
	} else {
		st.Mode = 0100000 | 0644
	}
	st.Size = f.Size()
	return st, nil
}

// EncodeDirEntry writes one ext2-like directory entry (spec.md §6) into
// buf, returning the number of bytes written (rec_len, 4-byte aligned).
func EncodeDirEntry(buf []byte, inode uint32, name string, fileType uint8) int {
	recLen := align4(8 + len(name))
	if len(buf) < recLen {
		return 0
	}
	putUint32(buf[0:4], inode)
	putUint16(buf[4:6], uint16(recLen))
	buf[6] = byte(len(name))
	buf[7] = fileType
	copy(buf[8:8+len(name)], name)
	for i := 8 + len(name); i < recLen; i++ {
		buf[i] = 0
	}
	return recLen
}

// DirEntry is one decoded ext2-like directory entry.
type DirEntry struct {
	Inode    uint32
	RecLen   uint16
	Name     string
	FileType uint8
}

// DecodeDirEntry decodes a single entry starting at buf[0].
func DecodeDirEntry(buf []byte) (DirEntry, bool) {
	if len(buf) < 8 {
		return DirEntry{}, false
	}
	inode := getUint32(buf[0:4])
	recLen := getUint16(buf[4:6])
	nameLen := int(buf[6])
	fileType := buf[7]
	if int(recLen) > len(buf) || 8+nameLen > len(buf) {
		return DirEntry{}, false
	}
	name := string(buf[8 : 8+nameLen])
	return DirEntry{Inode: inode, RecLen: recLen, Name: name, FileType: fileType}, true
}

func align4(n int) int {
	if r := n % 4; r != 0 {
		n += 4 - r
	}
	return n
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

const (
	DirEntTypeUnknown = 0
	DirEntTypeRegular = 1
	DirEntTypeDir     = 2
)
