// Package ramfs implements the in-memory tree filesystem driver from
// spec.md §4.8: directories synthesized from a children list, regular
// files backed by a grow-on-write byte buffer, and uid-0-only write
// permission.
package ramfs

import (
	"strings"
	"sync"

	"github.com/axonos/axonos/internal/vfs"
)

// node is the ramfs tree node: name, is-dir flag, parent/sibling/child
// pointers, raw byte buffer for regular files, and POSIX metadata —
// spec.md §3's ramfs node entity, typed rather than void*-linked.
type node struct {
	name       string
	isDir      bool
	parent     *node
	next       *node // next sibling
	firstChild *node

	data []byte

	mode  uint32
	uid   uint32
	gid   uint32
	nlink uint32
	inode uint64
}

// FS is the ramfs driver: a single root node plus a monotonic inode
// counter.
type FS struct {
	mu       sync.Mutex
	root     *node
	nextNode uint64
}

// New creates an empty ramfs rooted at "/".
func New() *FS {
	fs := &FS{}
	fs.root = fs.newNode("", true, 0755, 0, 0)
	return fs
}

func (fs *FS) newNode(name string, isDir bool, mode, uid, gid uint32) *node {
	fs.nextNode++
	return &node{
		name: name, isDir: isDir, mode: mode, uid: uid, gid: gid,
		nlink: 1, inode: fs.nextNode,
	}
}

func (fs *FS) Name() string { return "ramfs" }

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// lookup walks from root following parts; returns nil if any component
// is missing. Caller must hold fs.mu.
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

// Mkdir creates a directory; allowed for any thread, ownership inherited
// from the caller, per spec.md §4.8.
func (fs *FS) Mkdir(path string, mode, uid, gid uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, existing := fs.lookupParentAndLeaf(path)
	if parent == nil {
		return vfs.ErrNotFound
	}
	if existing != nil {
		return vfs.ErrExists
	}
	if name == "" {
		return vfs.ErrInvalid
	}

	n := fs.newNode(name, true, mode, uid, gid)
	n.parent = parent
	n.next = parent.firstChild
	parent.firstChild = n
	return nil
}

// Create makes a new empty regular file, or reopens an existing one.
// Only effective uid 0 may write (enforced on the returned handle's
// Write, matching the original's permission point), per spec.md §4.8.
func (fs *FS) Create(path string, uid, gid uint32) (vfs.Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, existing := fs.lookupParentAndLeaf(path)
	if parent == nil {
		return nil, vfs.ErrNotFound
	}
	if name == "" {
		return nil, vfs.ErrInvalid
	}
	if existing == nil {
		n := fs.newNode(name, false, 0644, uid, gid)
		n.parent = parent
		n.next = parent.firstChild
		parent.firstChild = n
		existing = n
	}
	if existing.isDir {
		return nil, vfs.ErrIsDir
	}
	return &handle{fs: fs, n: existing, path: path, callerUID: uid}, nil
}

// Open opens an existing node for read or write.
func (fs *FS) Open(path string, uid, gid uint32) (vfs.Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts := splitPath(path)
	n := fs.lookup(parts)
	if n == nil {
		return nil, vfs.ErrNotFound
	}
	return &handle{fs: fs, n: n, path: path, callerUID: uid}, nil
}

// Chmod updates a node's mode bits. Only uid 0 (root) may chmod, same
// policy as write access.
func (fs *FS) Chmod(path string, mode uint32, uid uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if uid != 0 {
		return vfs.ErrPermission
	}
	parts := splitPath(path)
	n := fs.lookup(parts)
	if n == nil {
		return vfs.ErrNotFound
	}
	n.mode = mode
	return nil
}

// FillStat populates st from the node's metadata.
func (fs *FS) FillStat(path string, st *vfs.Stat) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parts := splitPath(path)
	n := fs.lookup(parts)
	if n == nil {
		return vfs.ErrNotFound
	}
	mode := n.mode
	if n.isDir {
		mode |= 0040000
	} else {
		mode |= 0100000
	}
	st.Mode = mode
	st.Size = int64(len(n.data))
	st.UID = n.uid
	st.GID = n.gid
	st.Inode = n.inode
	return nil
}

// Remove deletes a leaf node. Only effective uid 0 may remove. Removing
// a non-empty directory fails (spec.md Scenario C).
func (fs *FS) Remove(path string, uid uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if uid != 0 {
		return vfs.ErrPermission
	}

	parent, name, leaf := fs.lookupParentAndLeaf(path)
	if parent == nil || leaf == nil {
		return vfs.ErrNotFound
	}
	if leaf.isDir && leaf.firstChild != nil {
		return vfs.ErrInvalid
	}

	var prev *node
	cur := parent.firstChild
	for cur != nil {
		if cur.name == name {
			if prev == nil {
				parent.firstChild = cur.next
			} else {
				prev.next = cur.next
			}
			return nil
		}
		prev = cur
		cur = cur.next
	}
	return vfs.ErrNotFound
}

// handle is the ramfs-backed vfs.Handle.
type handle struct {
	fs        *FS
	n         *node
	path      string
	pos       int64
	callerUID uint32
}

func (h *handle) Read(buf []byte, offset int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.n.isDir {
		return 0, vfs.ErrIsDir
	}
	if offset >= int64(len(h.n.data)) {
		return 0, nil
	}
	return copy(buf, h.n.data[offset:]), nil
}

func (h *handle) Write(buf []byte, offset int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.n.isDir {
		return 0, vfs.ErrIsDir
	}
	if h.callerUID != 0 {
		return 0, vfs.ErrPermission
	}
	need := int(offset) + len(buf)
	if need > len(h.n.data) {
		grown := make([]byte, need)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	n := copy(h.n.data[offset:], buf)
	return n, nil
}

func (h *handle) ReadDir(pos int64, buf []byte) (int, int64, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
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

func (h *handle) Size() int64 { return int64(len(h.n.data)) }
func (h *handle) Type() vfs.FileType {
	if h.n.isDir {
		return vfs.TypeDirectory
	}
	return vfs.TypeRegular
}
func (h *handle) Path() string { return h.path }
func (h *handle) Release() error {
	return nil
}
