package fat32

// readFileData reads up to len(buf) bytes starting at offset from the
// cluster chain beginning at startCluster, per spec.md §4.8's file-read
// walk (skip whole clusters, then read/copy within each).
func (m *Mount) readFileData(startCluster uint32, size uint32, offset int64, buf []byte) (int, error) {
	if offset >= int64(size) {
		return 0, nil
	}
	want := len(buf)
	if offset+int64(want) > int64(size) {
		want = int(int64(size) - offset)
	}

	bpc := m.bytesPerCluster()
	seekClusters := int(offset) / bpc
	offInCluster := int(offset) % bpc

	cluster := startCluster
	for i := 0; i < seekClusters; i++ {
		next, err := m.readFATEntry(cluster)
		if err != nil {
			return 0, err
		}
		if isEndOfChain(next) {
			return 0, nil
		}
		cluster = next
	}

	written := 0
	for written < want {
		data, err := m.readCluster(cluster)
		if err != nil {
			return written, err
		}
		can := bpc - offInCluster
		now := want - written
		if now > can {
			now = can
		}
		copy(buf[written:written+now], data[offInCluster:offInCluster+now])
		written += now
		offInCluster = 0
		if written >= want {
			break
		}
		next, err := m.readFATEntry(cluster)
		if err != nil {
			return written, err
		}
		if isEndOfChain(next) {
			break
		}
		cluster = next
	}
	return written, nil
}

// writeFileData writes buf at offset into the chain beginning at
// startCluster, allocating a first cluster (if startCluster is 0) or
// extending the chain as it runs out, per spec.md §4.8's file-write
// step. It returns the (possibly unchanged) start cluster, the new
// total size, and the byte count written.
func (m *Mount) writeFileData(startCluster uint32, currentSize uint32, offset int64, buf []byte) (uint32, uint32, int, error) {
	bpc := m.bytesPerCluster()
	endPos := uint32(offset) + uint32(len(buf))

	if startCluster == 0 {
		needClusters := (int(endPos) + bpc - 1) / bpc
		first, err := m.allocClusters(needClusters)
		if err != nil {
			return 0, currentSize, 0, err
		}
		startCluster = first
	}

	skipClusters := int(offset) / bpc
	offInCluster := int(offset) % bpc

	cluster := startCluster
	for i := 0; i < skipClusters; i++ {
		next, err := m.readFATEntry(cluster)
		if err != nil {
			return startCluster, currentSize, 0, err
		}
		if isEndOfChain(next) {
			return startCluster, currentSize, 0, ErrOutOfRange
		}
		cluster = next
	}

	remaining := len(buf)
	written := 0
	for remaining > 0 {
		data, err := m.readCluster(cluster)
		if err != nil {
			return startCluster, currentSize, written, err
		}
		can := bpc - offInCluster
		now := remaining
		if now > can {
			now = can
		}
		copy(data[offInCluster:offInCluster+now], buf[written:written+now])
		if err := m.writeCluster(cluster, data); err != nil {
			return startCluster, currentSize, written, err
		}
		written += now
		remaining -= now
		offInCluster = 0
		if remaining == 0 {
			break
		}
		next, err := m.readFATEntry(cluster)
		if err != nil {
			return startCluster, currentSize, written, err
		}
		if isEndOfChain(next) {
			newCluster, err := m.allocClusters(1)
			if err != nil {
				return startCluster, currentSize, written, err
			}
			if err := m.writeFATEntry(cluster, newCluster); err != nil {
				return startCluster, currentSize, written, err
			}
			cluster = newCluster
		} else {
			cluster = next
		}
	}

	newSize := currentSize
	if endPos > newSize {
		newSize = endPos
	}
	return startCluster, newSize, written, nil
}
