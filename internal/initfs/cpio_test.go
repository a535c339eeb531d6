package initfs

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonos/axonos/internal/vfs/ramfs"
)

// buildEntry appends one cpio-newc header+name+data record to buf,
// mirroring the original's header layout and 4-byte alignment rules.
func buildEntry(buf *bytes.Buffer, name string, mode uint32, data []byte) {
	nameWithNUL := append([]byte(name), 0)

	fmt.Fprintf(buf, "070701")
	fmt.Fprintf(buf, "%08X", 0)                   // ino
	fmt.Fprintf(buf, "%08X", mode)                // mode
	fmt.Fprintf(buf, "%08X", 0)                   // uid
	fmt.Fprintf(buf, "%08X", 0)                   // gid
	fmt.Fprintf(buf, "%08X", 1)                   // nlink
	fmt.Fprintf(buf, "%08X", 0)                   // mtime
	fmt.Fprintf(buf, "%08X", len(data))           // filesize
	fmt.Fprintf(buf, "%08X", 0)                   // devmajor
	fmt.Fprintf(buf, "%08X", 0)                   // devminor
	fmt.Fprintf(buf, "%08X", 0)                   // rdevmajor
	fmt.Fprintf(buf, "%08X", 0)                   // rdevminor
	fmt.Fprintf(buf, "%08X", len(nameWithNUL))    // namesize
	fmt.Fprintf(buf, "%08X", 0)                   // check

	buf.Write(nameWithNUL)
	padTo4(buf)
	buf.Write(data)
	padTo4(buf)
}

func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func buildArchive(entries func(buf *bytes.Buffer)) []byte {
	var buf bytes.Buffer
	entries(&buf)
	buildEntry(&buf, "TRAILER!!!", 0, nil)
	return buf.Bytes()
}

func readAll(t *testing.T, fs *ramfs.FS, path string) []byte {
	t.Helper()
	f, err := fs.Open(path, 0, 0)
	require.NoError(t, err)
	defer f.Release()
	var out []byte
	buf := make([]byte, 64)
	var off int64
	for {
		n, err := f.Read(buf, off)
		out = append(out, buf[:n]...)
		off += int64(n)
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			require.NoError(t, err)
		}
	}
	return out
}

func TestExtractRegularFileAndDirectory(t *testing.T) {
	archive := buildArchive(func(buf *bytes.Buffer) {
		buildEntry(buf, "bin", 0040755, nil)
		buildEntry(buf, "bin/hello.txt", 0100644, []byte("hello world"))
	})

	fs := ramfs.New()
	err := Extract(archive, fs, nil)
	require.NoError(t, err)

	content := readAll(t, fs, "/bin/hello.txt")
	assert.Equal(t, "hello world", string(content))
}

func TestExtractCreatesImplicitParentDirs(t *testing.T) {
	archive := buildArchive(func(buf *bytes.Buffer) {
		buildEntry(buf, "usr/local/share/motd", 0100644, []byte("welcome"))
	})

	fs := ramfs.New()
	err := Extract(archive, fs, nil)
	require.NoError(t, err)

	content := readAll(t, fs, "/usr/local/share/motd")
	assert.Equal(t, "welcome", string(content))
}

func TestExtractSymlinkMaterializesAsFile(t *testing.T) {
	archive := buildArchive(func(buf *bytes.Buffer) {
		buildEntry(buf, "bin/sh", 0120000, []byte("busybox\x00"))
	})

	fs := ramfs.New()
	err := Extract(archive, fs, nil)
	require.NoError(t, err)

	content := readAll(t, fs, "/bin/sh")
	assert.Equal(t, "busybox", string(content))
}

func TestExtractNoMagicReturnsError(t *testing.T) {
	fs := ramfs.New()
	err := Extract([]byte("not a cpio archive at all"), fs, nil)
	assert.ErrorIs(t, err, ErrNoMagic)
}

// TestExtractFullArchiveMatchesExpectedTree exercises spec.md §8
// testable property #10 across an entire archive at once: after
// extraction, every path's content matches what was packed in, diffed
// structurally rather than field-by-field.
func TestExtractFullArchiveMatchesExpectedTree(t *testing.T) {
	archive := buildArchive(func(buf *bytes.Buffer) {
		buildEntry(buf, "etc", 0040755, nil)
		buildEntry(buf, "etc/hostname", 0100644, []byte("axonos"))
		buildEntry(buf, "bin", 0040755, nil)
		buildEntry(buf, "bin/init", 0100755, []byte("#!/bin/init\n"))
	})

	fs := ramfs.New()
	require.NoError(t, Extract(archive, fs, nil))

	want := map[string]string{
		"/etc/hostname": "axonos",
		"/bin/init":     "#!/bin/init\n",
	}
	got := map[string]string{
		"/etc/hostname": string(readAll(t, fs, "/etc/hostname")),
		"/bin/init":     string(readAll(t, fs, "/bin/init")),
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("extracted tree mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractStopsAtTrailer(t *testing.T) {
	var buf bytes.Buffer
	buildEntry(&buf, "a.txt", 0100644, []byte("A"))
	buildEntry(&buf, "TRAILER!!!", 0, nil)
	buildEntry(&buf, "b.txt", 0100644, []byte("B"))

	fs := ramfs.New()
	err := Extract(buf.Bytes(), fs, nil)
	require.NoError(t, err)

	assert.Equal(t, "A", string(readAll(t, fs, "/a.txt")))
	_, err = fs.Open("/b.txt", 0, 0)
	assert.Error(t, err)
}
