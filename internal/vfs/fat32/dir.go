package fat32

import (
	"strings"
	"unicode/utf16"
)

// dirent is one LFN-named file discovered while walking a directory's
// cluster chain, carrying enough location info to write its short
// entry back (size/start-cluster updates on write).
type dirent struct {
	Name         string
	IsDir        bool
	StartCluster uint32
	Size         uint32

	cluster   uint32 // directory cluster holding the short entry
	shortOff  int    // byte offset of the short entry within that cluster
}

// walkDir reads every LFN-named entry across dirCluster's chain,
// skipping legacy 8.3-only entries per spec.md §4.8's "deliberate
// simplification" (Open Question #1).
func (m *Mount) walkDir(dirCluster uint32) ([]dirent, error) {
	var out []dirent
	cluster := dirCluster

	for {
		buf, err := m.readCluster(cluster)
		if err != nil {
			return nil, err
		}

		var lfnParts [][]uint16
		lfnCount := 0

		for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
			first := buf[off]
			if first == 0x00 {
				return out, nil
			}
			if first == 0xE5 {
				lfnParts, lfnCount = nil, 0
				continue
			}
			attr := buf[off+11]
			if attr == lfnAttr {
				seq := first & 0x1F
				if seq == 0 || seq > 20 {
					lfnParts, lfnCount = nil, 0
					continue
				}
				for len(lfnParts) < int(seq) {
					lfnParts = append(lfnParts, nil)
				}
				var part []uint16
				readLFNChunk(buf[off:], 1, 5, &part)
				readLFNChunk(buf[off:], 14, 6, &part)
				readLFNChunk(buf[off:], 28, 2, &part)
				lfnParts[seq-1] = part
				if first&0x40 != 0 {
					lfnCount = int(seq)
				}
				continue
			}

			if lfnCount == 0 {
				// no LFN precedes this short entry: this driver only
				// surfaces LFN-named files, per spec.md §9 Open
				// Question #1.
				continue
			}
			var units []uint16
			for si := lfnCount - 1; si >= 0; si-- {
				units = append(units, lfnParts[si]...)
			}
			name := string(utf16.Decode(units))

			startHigh := getUint16(buf[off+20 : off+22])
			startLow := getUint16(buf[off+26 : off+28])
			start := uint32(startHigh)<<16 | uint32(startLow)
			size := getUint32(buf[off+28 : off+32])

			out = append(out, dirent{
				Name:         name,
				IsDir:        attr&dirAttr != 0,
				StartCluster: start,
				Size:         size,
				cluster:      cluster,
				shortOff:     off,
			})
			lfnParts, lfnCount = nil, 0
		}

		next, err := m.readFATEntry(cluster)
		if err != nil {
			return nil, err
		}
		if isEndOfChain(next) || next == 0 {
			return out, nil
		}
		cluster = next
	}
}

// findByName is a case-insensitive lookup within a directory, per
// spec.md §4.8's "Name-exists check ... case-insensitive compare".
func (m *Mount) findByName(dirCluster uint32, name string) (dirent, bool, error) {
	entries, err := m.walkDir(dirCluster)
	if err != nil {
		return dirent{}, false, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e, true, nil
		}
	}
	return dirent{}, false, nil
}

// createEntry scans dirCluster's chain for a contiguous run of free
// slots (erased 0xE5 or end-of-list 0x00) long enough for the LFN
// entries plus the short entry and writes them, with startCluster and a
// size of 0 in the short entry; a later file write updates the
// start-cluster/size via updateEntry. It returns ErrNoSpace when the
// directory's cluster chain has no such run.
func (m *Mount) createEntry(dirCluster uint32, name string, isDir bool, startCluster uint32) error {
	shortName := makeShortName(name)
	lfnEntries := lfnEntriesNeeded(name)
	need := lfnEntries + 1

	cluster := dirCluster
	for {
		buf, err := m.readCluster(cluster)
		if err != nil {
			return err
		}

		contiguous := 0
		foundOff := -1
		for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
			first := buf[off]
			if first == 0x00 || first == 0xE5 {
				if contiguous == 0 {
					foundOff = off
				}
				contiguous++
				if contiguous >= need {
					break
				}
			} else {
				contiguous = 0
			}
		}

		if contiguous >= need {
			checksum := shortnameChecksum(shortName)
			u16 := utf16.Encode([]rune(name))
			writeLFNEntriesToBuf(buf, foundOff, u16, lfnEntries, checksum)

			shortOff := foundOff + lfnEntries*dirEntrySize
			copy(buf[shortOff:shortOff+11], shortName[:])
			attr := byte(0x20)
			if isDir {
				attr = dirAttr
			}
			buf[shortOff+11] = attr
			putUint16(buf[shortOff+20:shortOff+22], uint16(startCluster>>16))
			putUint16(buf[shortOff+26:shortOff+28], uint16(startCluster))
			putUint32(buf[shortOff+28:shortOff+32], 0)

			return m.writeCluster(cluster, buf)
		}

		next, err := m.readFATEntry(cluster)
		if err != nil {
			return err
		}
		if isEndOfChain(next) || next == 0 {
			return ErrNoSpace
		}
		cluster = next
	}
}

// updateEntry rewrites the short entry's start-cluster/size fields
// in place, per fat32_write's directory-entry update step.
func (m *Mount) updateEntry(e dirent, startCluster, size uint32) error {
	buf, err := m.readCluster(e.cluster)
	if err != nil {
		return err
	}
	off := e.shortOff
	putUint16(buf[off+20:off+22], uint16(startCluster>>16))
	putUint16(buf[off+26:off+28], uint16(startCluster))
	putUint32(buf[off+28:off+32], size)
	return m.writeCluster(e.cluster, buf)
}

// initDirCluster writes '.' and '..' short entries into a freshly
// allocated directory cluster, per fat32_mkdir's inline initialization.
func (m *Mount) initDirCluster(newCluster, parentCluster uint32) error {
	buf := make([]byte, m.bytesPerCluster())

	buf[0] = '.'
	for i := 1; i < 11; i++ {
		buf[i] = ' '
	}
	buf[11] = dirAttr
	putUint16(buf[20:22], uint16(newCluster>>16))
	putUint16(buf[26:28], uint16(newCluster))

	buf[32] = '.'
	buf[33] = '.'
	for i := 34; i < 44; i++ {
		buf[i] = ' '
	}
	buf[44] = dirAttr
	putUint16(buf[52:54], uint16(parentCluster>>16))
	putUint16(buf[58:60], uint16(parentCluster))

	return m.writeCluster(newCluster, buf)
}
