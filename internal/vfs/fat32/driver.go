package fat32

import (
	"strings"

	"github.com/axonos/axonos/internal/vfs"
)

// Driver adapts a mounted FAT32 volume to vfs.Driver. It supports only
// direct children of the root directory, matching
// _examples/original_source/fs/fat32.c's scope (no nested directory
// path resolution beyond root).
type Driver struct {
	m *Mount
}

// NewDriver wraps an already-mounted volume.
func NewDriver(m *Mount) *Driver {
	return &Driver{m: m}
}

func (d *Driver) Name() string { return "fat32" }

func basename(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func isRoot(name string) bool {
	return name == "" || name == "/"
}

// handle is the open-file state fat32 hands back to the VFS core.
type handle struct {
	d    *Driver
	path string
	typ  vfs.FileType

	// regular file state
	entry dirent
	// directory iteration cache
	entries []dirent
}

func (d *Driver) Create(path string, uid, gid uint32) (vfs.Handle, error) {
	name := basename(path)
	if isRoot(name) {
		return nil, vfs.ErrInvalid
	}
	if _, exists, err := d.m.findByName(d.m.rootCluster, name); err != nil {
		return nil, err
	} else if exists {
		return nil, vfs.ErrExists
	}

	if err := d.m.createEntry(d.m.rootCluster, name, false, 0); err != nil {
		return nil, err
	}
	return &handle{d: d, path: path, typ: vfs.TypeRegular, entry: dirent{Name: name}}, nil
}

func (d *Driver) Open(path string, uid, gid uint32) (vfs.Handle, error) {
	name := basename(path)
	if isRoot(name) {
		return &handle{d: d, path: path, typ: vfs.TypeDirectory, entry: dirent{StartCluster: d.m.rootCluster}}, nil
	}

	e, ok, err := d.m.findByName(d.m.rootCluster, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vfs.ErrNotFound
	}
	typ := vfs.TypeRegular
	if e.IsDir {
		typ = vfs.TypeDirectory
	}
	return &handle{d: d, path: path, typ: typ, entry: e}, nil
}

func (d *Driver) Mkdir(path string, mode uint32, uid, gid uint32) error {
	name := basename(path)
	if isRoot(name) {
		return vfs.ErrInvalid
	}
	if _, exists, err := d.m.findByName(d.m.rootCluster, name); err != nil {
		return err
	} else if exists {
		return vfs.ErrExists
	}

	newCluster, err := d.m.allocClusters(1)
	if err != nil {
		return err
	}
	if err := d.m.initDirCluster(newCluster, d.m.rootCluster); err != nil {
		return err
	}
	return d.m.createEntry(d.m.rootCluster, name, true, newCluster)
}

func (d *Driver) Chmod(path string, mode uint32, uid uint32) error {
	return vfs.ErrNotHandled
}

func (d *Driver) FillStat(path string, st *vfs.Stat) error {
	name := basename(path)
	if isRoot(name) {
		st.Mode = 0040000 | 0755
		return nil
	}
	e, ok, err := d.m.findByName(d.m.rootCluster, name)
	if err != nil {
		return err
	}
	if !ok {
		return vfs.ErrNotFound
	}
	if e.IsDir {
		st.Mode = 0040000 | 0755
	} else {
		st.Mode = 0100000 | 0644
		st.Size = int64(e.Size)
	}
	return nil
}

func (h *handle) Read(buf []byte, offset int64) (int, error) {
	if h.typ != vfs.TypeRegular {
		return 0, vfs.ErrIsDir
	}
	return h.d.m.readFileData(h.entry.StartCluster, h.entry.Size, offset, buf)
}

func (h *handle) Write(buf []byte, offset int64) (int, error) {
	if h.typ != vfs.TypeRegular {
		return 0, vfs.ErrIsDir
	}
	newStart, newSize, n, err := h.d.m.writeFileData(h.entry.StartCluster, h.entry.Size, offset, buf)
	if err != nil {
		return n, err
	}

	firstWrite := h.entry.StartCluster == 0
	h.entry.StartCluster = newStart
	h.entry.Size = newSize

	if firstWrite {
		// the directory entry was created with start-cluster 0; look
		// it back up now that clusters exist, to get its location for
		// the update below.
		e, ok, lookErr := h.d.m.findByName(h.d.m.rootCluster, h.entry.Name)
		if lookErr != nil {
			return n, lookErr
		}
		if !ok {
			return n, vfs.ErrNotFound
		}
		h.entry.cluster = e.cluster
		h.entry.shortOff = e.shortOff
	}
	if err := h.d.m.updateEntry(h.entry, newStart, newSize); err != nil {
		return n, err
	}
	return n, nil
}

func (h *handle) ReadDir(pos int64, buf []byte) (int, int64, error) {
	if h.typ != vfs.TypeDirectory {
		return 0, pos, vfs.ErrNotDir
	}
	if h.entries == nil {
		entries, err := h.d.m.walkDir(h.entry.StartCluster)
		if err != nil {
			return 0, pos, err
		}
		h.entries = entries
	}

	idx := int(pos)
	written := 0
	for idx < len(h.entries) {
		e := h.entries[idx]
		ft := uint8(vfs.DirEntTypeRegular)
		if e.IsDir {
			ft = vfs.DirEntTypeDir
		}
		n := vfs.EncodeDirEntry(buf[written:], uint32(idx)+1, e.Name, ft)
		if n == 0 {
			break
		}
		written += n
		idx++
	}
	return written, int64(idx), nil
}

func (h *handle) Size() int64        { return int64(h.entry.Size) }
func (h *handle) Type() vfs.FileType { return h.typ }
func (h *handle) Path() string       { return h.path }
func (h *handle) Release() error     { return nil }
