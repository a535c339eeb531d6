// Package sysfs implements the attribute-backed read/write node tree
// from spec.md §4.8: regular-file reads invoke an attribute's Show
// callback (re-evaluated every read, nothing is cached), writes invoke
// Store. All tree mutation is guarded by a single spinlock; Show/Store
// are invoked without holding it to avoid callback-into-lock recursion.
package sysfs

import (
	"fmt"
	"strings"

	"github.com/axonos/axonos/internal/spinlock"
	"github.com/axonos/axonos/internal/vfs"
)

// Attribute is a sysfs regular file's behavior: Show renders the
// current value, Store consumes a write. Either may be nil (read-only
// or write-only attribute). Priv is opaque state owned by whoever
// registers the attribute, per spec.md §3.
type Attribute struct {
	Show func(priv any) []byte
	Store func(priv any, data []byte)
	Priv  any
}

type node struct {
	name       string
	isDir      bool
	parent     *node
	next       *node
	firstChild *node
	attr       *Attribute
	inode      uint64
}

// FS is the sysfs driver.
type FS struct {
	lock     spinlock.Lock
	root     *node
	nextNode uint64
}

// New creates an empty sysfs tree rooted at "/sys".
func New() *FS {
	fs := &FS{}
	fs.root = fs.newNode("", true)
	return fs
}

func (fs *FS) newNode(name string, isDir bool) *node {
	fs.nextNode++
	return &node{name: name, isDir: isDir, inode: fs.nextNode}
}

func (fs *FS) Name() string { return "sysfs" }

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	// Paths routed by the VFS still carry the "/sys" mount prefix.
	if path == "sys" {
		return nil
	}
	path = strings.TrimPrefix(path, "sys/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (fs *FS) lookup(parts []string) *node {
	cur := fs.root
	for _, part := range parts {
		child := cur.firstChild
		var found *node
		for child != nil {
			if child.name == part {
				found = child
				break
			}
			child = child.next
		}
		if found == nil {
			return nil
		}
		cur = found
	}
	return cur
}

func (fs *FS) lookupParentAndLeaf(path string) (*node, string, *node) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fs.root
	}
	parent := fs.lookup(parts[:len(parts)-1])
	if parent == nil {
		return nil, "", nil
	}
	leaf := parent.firstChild
	for leaf != nil {
		if leaf.name == parts[len(parts)-1] {
			break
		}
		leaf = leaf.next
	}
	return parent, parts[len(parts)-1], leaf
}

// MkdirNode creates a plain directory node under the sysfs tree for
// grouping a logical object's attributes, e.g. "/kernel".
func (fs *FS) MkdirNode(path string) error {
	fs.lock.Acquire()
	defer fs.lock.Release()

	parent, name, existing := fs.lookupParentAndLeaf(path)
	if parent == nil {
		return vfs.ErrNotFound
	}
	if existing != nil {
		return vfs.ErrExists
	}
	n := fs.newNode(name, true)
	n.parent = parent
	n.next = parent.firstChild
	parent.firstChild = n
	return nil
}

// RegisterAttribute installs a regular-file attribute node at path.
func (fs *FS) RegisterAttribute(path string, attr *Attribute) error {
	fs.lock.Acquire()
	parent, name, existing := fs.lookupParentAndLeaf(path)
	fs.lock.Release()
	if parent == nil {
		return vfs.ErrNotFound
	}
	if existing != nil {
		return vfs.ErrExists
	}

	fs.lock.Acquire()
	n := fs.newNode(name, false)
	n.attr = attr
	n.parent = parent
	n.next = parent.firstChild
	parent.firstChild = n
	fs.lock.Release()
	return nil
}

// Mkdir satisfies vfs.Driver; sysfs directories are created only via
// MkdirNode by subsystem registration code, not by arbitrary VFS
// callers, so this always reports not-handled.
func (fs *FS) Mkdir(path string, mode uint32, uid, gid uint32) error {
	return vfs.ErrNotHandled
}

// Create is not supported: sysfs attribute files are registered by
// kernel subsystems via RegisterAttribute, never created by ordinary
// VFS callers.
func (fs *FS) Create(path string, uid, gid uint32) (vfs.Handle, error) {
	return nil, vfs.ErrNotHandled
}

// Open resolves an existing node for read/write.
func (fs *FS) Open(path string, uid, gid uint32) (vfs.Handle, error) {
	fs.lock.Acquire()
	n := fs.lookup(splitPath(path))
	fs.lock.Release()
	if n == nil {
		return nil, vfs.ErrNotHandled
	}
	return &handle{fs: fs, n: n, path: path}, nil
}

// Chmod is not modeled for sysfs: attribute permissions are fixed by
// the registering subsystem.
func (fs *FS) Chmod(path string, mode uint32, uid uint32) error {
	return vfs.ErrNotHandled
}

// FillStat estimates a regular attribute's size by invoking Show.
func (fs *FS) FillStat(path string, st *vfs.Stat) error {
	fs.lock.Acquire()
	n := fs.lookup(splitPath(path))
	fs.lock.Release()
	if n == nil {
		return vfs.ErrNotHandled
	}

	if n.isDir {
		st.Mode = 0040000 | 0755
		return nil
	}

	st.Mode = 0100000 | 0644
	st.Inode = n.inode
	if n.attr != nil && n.attr.Show != nil {
		st.Size = int64(len(n.attr.Show(n.attr.Priv)))
	}
	return nil
}

type handle struct {
	fs   *FS
	n    *node
	path string
}

// Read invokes Show and serves from the freshly rendered bytes — sysfs
// caches no content, per spec.md §4.8.
func (h *handle) Read(buf []byte, offset int64) (int, error) {
	if h.n.isDir {
		return 0, vfs.ErrIsDir
	}
	if h.n.attr == nil || h.n.attr.Show == nil {
		return 0, vfs.ErrPermission
	}
	rendered := h.n.attr.Show(h.n.attr.Priv)
	if offset >= int64(len(rendered)) {
		return 0, nil
	}
	return copy(buf, rendered[offset:]), nil
}

// Write invokes Store with the raw bytes written; sysfs performs no
// parsing of its own, per spec.md §6.
func (h *handle) Write(buf []byte, offset int64) (int, error) {
	if h.n.isDir {
		return 0, vfs.ErrIsDir
	}
	if h.n.attr == nil || h.n.attr.Store == nil {
		return 0, vfs.ErrPermission
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	h.n.attr.Store(h.n.attr.Priv, cp)
	return len(buf), nil
}

// ReadDir carries ino in each entry so tooling sees stable inodes, per
// spec.md §4.8.
func (h *handle) ReadDir(pos int64, buf []byte) (int, int64, error) {
	if !h.n.isDir {
		return 0, pos, vfs.ErrNotDir
	}

	h.fs.lock.Acquire()
	children := make([]*node, 0)
	c := h.n.firstChild
	for c != nil {
		children = append(children, c)
		c = c.next
	}
	h.fs.lock.Release()

	var written int
	idx := int(pos)
	for idx < len(children) {
		child := children[idx]
		ft := uint8(vfs.DirEntTypeRegular)
		if child.isDir {
			ft = vfs.DirEntTypeDir
		}
		n := vfs.EncodeDirEntry(buf[written:], uint32(child.inode), child.name, ft)
		if n == 0 {
			break
		}
		written += n
		idx++
	}
	return written, int64(idx), nil
}

func (h *handle) Size() int64 {
	if h.n.attr != nil && h.n.attr.Show != nil {
		return int64(len(h.n.attr.Show(h.n.attr.Priv)))
	}
	return 0
}

func (h *handle) Type() vfs.FileType {
	if h.n.isDir {
		return vfs.TypeDirectory
	}
	return vfs.TypeRegular
}
func (h *handle) Path() string    { return h.path }
func (h *handle) Release() error { return nil }

// KernelInfo supplies the values behind the /sys/kernel attribute
// group, per _examples/original_source/cpu/sysinfo.c's sys_ram_mb /
// sys_cpu_name / tick-derived uptime.
type KernelInfo struct {
	Version string
	Ticks   func() uint64
	HzRate  uint64
}

// RegisterKernelInfo installs the /sys/kernel/{uptime,version,ticks}
// attribute group described in spec.md's Scenario D pattern,
// generalized from cpu/sysinfo.c's exported globals.
func (fs *FS) RegisterKernelInfo(info KernelInfo) error {
	if err := fs.MkdirNode("/kernel"); err != nil {
		return err
	}
	if err := fs.RegisterAttribute("/kernel/version", &Attribute{
		Show: func(priv any) []byte {
			ki := priv.(KernelInfo)
			return []byte(ki.Version + "\n")
		},
		Priv: info,
	}); err != nil {
		return err
	}
	if err := fs.RegisterAttribute("/kernel/ticks", &Attribute{
		Show: func(priv any) []byte {
			ki := priv.(KernelInfo)
			return []byte(fmt.Sprintf("%d\n", ki.Ticks()))
		},
		Priv: info,
	}); err != nil {
		return err
	}
	return fs.RegisterAttribute("/kernel/uptime", &Attribute{
		Show: func(priv any) []byte {
			ki := priv.(KernelInfo)
			seconds := ki.Ticks() / ki.HzRate
			return []byte(fmt.Sprintf("%d\n", seconds))
		},
		Priv: info,
	})
}
