// Package devfs implements the character/block/tty device-node tree
// from spec.md §4.8: register_chr/register_blk/register_alias, the
// stable device paths, and the primary console's canonical-mode TTY
// node — grounded on _examples/original_source/fs/devfs.c.
package devfs

import (
	"io"

	"github.com/axonos/axonos/internal/tty"
	"github.com/axonos/axonos/internal/vfs"
)

// DevType tags a devfs leaf node's kind.
type DevType int

const (
	DevTypeNone DevType = iota
	DevTypeChar
	DevTypeBlock
	DevTypeTTY
)

// Ops is the read/write implementation behind a device node, mirroring
// struct devfs_ops.
type Ops struct {
	Read  func(buf []byte, offset int64) (int, error)
	Write func(buf []byte, offset int64) (int, error)
}

type node struct {
	name       string
	isDir      bool
	devType    DevType
	ops        *Ops
	parent     *node
	next       *node
	firstChild *node
	inode      uint64
}

// FS is the devfs driver.
type FS struct {
	root     *node
	nextNode uint64
}

// New creates a devfs tree with only "/dev" present.
func New() *FS {
	fs := &FS{}
	fs.root = fs.newNode("dev", true)
	return fs
}

func (fs *FS) newNode(name string, isDir bool) *node {
	fs.nextNode++
	return &node{name: name, isDir: isDir, inode: fs.nextNode}
}

func (fs *FS) Name() string { return "devfs" }

func splitRel(path string) []string {
	if path == "/dev" {
		return nil
	}
	rest := path[len("/dev/"):]
	if rest == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i <= len(rest); i++ {
		if i == len(rest) || rest[i] == '/' {
			if i > start {
				parts = append(parts, rest[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

func owns(path string) bool {
	return path == "/dev" || (len(path) > 5 && path[:5] == "/dev/")
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

func (fs *FS) ensureDir(parts []string) *node {
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
			found = fs.newNode(part, true)
			found.parent = cur
			found.next = cur.firstChild
			cur.firstChild = found
		}
		cur = found
	}
	return cur
}

func splitParentName(parts []string) ([]string, string) {
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

func (fs *FS) register(path string, devType DevType, ops *Ops) error {
	parts := splitRel(path)
	parentParts, name := splitParentName(parts)
	if name == "" {
		return vfs.ErrInvalid
	}
	parent := fs.ensureDir(parentParts)

	child := parent.firstChild
	for child != nil {
		if child.name == name {
			break
		}
		child = child.next
	}
	if child == nil {
		child = fs.newNode(name, false)
		child.parent = parent
		child.next = parent.firstChild
		parent.firstChild = child
	} else if child.isDir {
		return vfs.ErrExists
	}
	child.devType = devType
	child.ops = ops
	return nil
}

// RegisterChr installs a character device node.
func (fs *FS) RegisterChr(path string, ops *Ops) error { return fs.register(path, DevTypeChar, ops) }

// RegisterBlk installs a block device node.
func (fs *FS) RegisterBlk(path string, ops *Ops) error { return fs.register(path, DevTypeBlock, ops) }

// RegisterTTY installs a tty device node backed by ops built from a
// *tty.TTY's CanonicalRead/Write pair.
func (fs *FS) RegisterTTY(path string, term *tty.TTY) error {
	return fs.register(path, DevTypeTTY, &Ops{
		Read: func(buf []byte, offset int64) (int, error) {
			return term.CanonicalRead(buf)
		},
		Write: func(buf []byte, offset int64) (int, error) {
			return term.Write(buf)
		},
	})
}

// RegisterAlias points a new path at an existing leaf's ops, per
// devfs_register_alias — the target must already exist and not be a
// directory.
func (fs *FS) RegisterAlias(aliasPath, targetPath string) error {
	target := fs.lookup(splitRel(targetPath))
	if target == nil || target.isDir {
		return vfs.ErrNotFound
	}

	parts := splitRel(aliasPath)
	parentParts, name := splitParentName(parts)
	if name == "" {
		return vfs.ErrInvalid
	}
	parent := fs.ensureDir(parentParts)

	child := parent.firstChild
	for child != nil {
		if child.name == name {
			break
		}
		child = child.next
	}
	if child == nil {
		child = fs.newNode(name, false)
		child.parent = parent
		child.next = parent.firstChild
		parent.firstChild = child
	} else if child.isDir {
		return vfs.ErrExists
	}
	child.devType = target.devType
	child.ops = target.ops
	return nil
}

// Mkdir is not supported: devfs directories are created implicitly by
// device registration, never by ordinary VFS callers.
func (fs *FS) Mkdir(path string, mode uint32, uid, gid uint32) error {
	if !owns(path) {
		return vfs.ErrNotHandled
	}
	return vfs.ErrPermission
}

// Create is not supported: device nodes are created only via the
// Register* APIs.
func (fs *FS) Create(path string, uid, gid uint32) (vfs.Handle, error) {
	if !owns(path) {
		return nil, vfs.ErrNotHandled
	}
	return nil, vfs.ErrPermission
}

// Open resolves an existing devfs node.
func (fs *FS) Open(path string, uid, gid uint32) (vfs.Handle, error) {
	if !owns(path) {
		return nil, vfs.ErrNotHandled
	}
	n := fs.lookup(splitRel(path))
	if n == nil {
		return nil, vfs.ErrNotFound
	}
	return &handle{n: n, path: path}, nil
}

// Chmod is not modeled for devfs: device permissions are fixed.
func (fs *FS) Chmod(path string, mode uint32, uid uint32) error {
	if !owns(path) {
		return vfs.ErrNotHandled
	}
	return vfs.ErrPermission
}

// FillStat reports directory vs. device-node modes.
func (fs *FS) FillStat(path string, st *vfs.Stat) error {
	if !owns(path) {
		return vfs.ErrNotHandled
	}
	n := fs.lookup(splitRel(path))
	if n == nil {
		return vfs.ErrNotFound
	}
	if n.isDir {
		st.Mode = 0040000 | 0755
		return nil
	}
	st.Mode = 0020000 | 0644
	if n.devType == DevTypeBlock {
		st.Mode = 0060000 | 0644
	}
	st.Inode = n.inode
	return nil
}

type handle struct {
	n    *node
	path string
}

func (h *handle) Read(buf []byte, offset int64) (int, error) {
	if h.n.isDir {
		return 0, vfs.ErrIsDir
	}
	if h.n.ops == nil || h.n.ops.Read == nil {
		return 0, nil
	}
	return h.n.ops.Read(buf, offset)
}

func (h *handle) Write(buf []byte, offset int64) (int, error) {
	if h.n.isDir {
		return 0, vfs.ErrIsDir
	}
	if h.n.ops == nil || h.n.ops.Write == nil {
		return 0, vfs.ErrPermission
	}
	return h.n.ops.Write(buf, offset)
}

// ReadDir lists a directory's children as ext2-like entries, matching
// devfs_read's directory branch.
func (h *handle) ReadDir(pos int64, buf []byte) (int, int64, error) {
	if !h.n.isDir {
		return 0, pos, vfs.ErrNotDir
	}
	children := make([]*node, 0)
	c := h.n.firstChild
	for c != nil {
		children = append(children, c)
		c = c.next
	}

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

func (h *handle) Size() int64 { return 0 }
func (h *handle) Type() vfs.FileType {
	if h.n.isDir {
		return vfs.TypeDirectory
	}
	return vfs.TypeRegular
}
func (h *handle) Path() string   { return h.path }
func (h *handle) Release() error { return nil }

// NullOps implements /dev/null: reads report EOF, writes discard.
func NullOps() *Ops {
	return &Ops{
		Read: func(buf []byte, offset int64) (int, error) { return 0, nil },
		Write: func(buf []byte, offset int64) (int, error) {
			return len(buf), nil
		},
	}
}

// ZeroOps implements /dev/zero: reads fill with zero bytes, writes
// discard.
func ZeroOps() *Ops {
	return &Ops{
		Read: func(buf []byte, offset int64) (int, error) {
			for i := range buf {
				buf[i] = 0
			}
			return len(buf), nil
		},
		Write: func(buf []byte, offset int64) (int, error) {
			return len(buf), nil
		},
	}
}

// Fd0Ops implements the /dev/fd0 stub: always EOF on read, rejects
// writes, matching the original's "no real floppy yet" placeholder.
func Fd0Ops() *Ops {
	return &Ops{
		Read:  func(buf []byte, offset int64) (int, error) { return 0, nil },
		Write: func(buf []byte, offset int64) (int, error) { return 0, vfs.ErrPermission },
	}
}

// RegisterBuiltins installs /dev/null, /dev/zero, /dev/fd0, the TTY
// manager's ttyN nodes, and the console/tty aliases onto /dev/tty0 —
// the devfs_create_builtin_nodes equivalent.
func RegisterBuiltins(fs *FS, ttys *tty.Manager) error {
	if err := fs.RegisterChr("/dev/null", NullOps()); err != nil {
		return err
	}
	if err := fs.RegisterChr("/dev/zero", ZeroOps()); err != nil {
		return err
	}
	if err := fs.RegisterBlk("/dev/fd0", Fd0Ops()); err != nil {
		return err
	}
	for i := 0; i < tty.Count; i++ {
		t := ttys.TTY(i)
		if t == nil {
			continue
		}
		path := ttyPath(i)
		if err := fs.RegisterTTY(path, t); err != nil {
			return err
		}
	}
	if err := fs.RegisterAlias("/dev/console", "/dev/tty0"); err != nil {
		return err
	}
	return fs.RegisterAlias("/dev/tty", "/dev/tty0")
}

func ttyPath(i int) string {
	digits := "0123456789"
	return "/dev/tty" + string(digits[i])
}

var _ io.Writer = (*tty.TTY)(nil)
