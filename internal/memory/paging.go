package memory

import (
	"errors"

	"golang.org/x/sync/semaphore"
)

const (
	pageSize2MiB = 2 * 1024 * 1024
	pageSize1GiB = 1024 * 1024 * 1024

	// mmioWindowBase is the virtual address at which the MMIO window
	// begins, per spec.md §3: "a virtual window starting at 4 GiB".
	mmioWindowBase uint64 = 4 * 1024 * 1024 * 1024
	// staticTablePoolSize is the number of intermediate L3/L2 page
	// tables drawn from the static pool, per spec.md §3.
	staticTablePoolSize = 16
)

// PageFlags mirrors the x86_64 page table entry bits spec.md §3 names.
type PageFlags uint64

const (
	FlagPresent PageFlags = 1 << iota
	FlagWritable
	FlagUser
	FlagWriteThrough
	FlagCacheDisable
	FlagAccessed
	FlagDirty
	FlagPageSize
	FlagGlobal
	FlagNX
)

var (
	// ErrTablePoolExhausted is returned when map_2mib needs a new
	// intermediate table but the static 16-slot pool is empty.
	ErrTablePoolExhausted = errors.New("memory: static page table pool exhausted")
	// ErrMMIOExhausted is returned when ioremap cannot find a free
	// window; mapping already performed is rolled back before return.
	ErrMMIOExhausted = errors.New("memory: mmio window exhausted")
)

// leaf represents a single mapped 2 MiB page: its physical address and
// flags. Present-ness is implied by existence of the map entry.
type leaf struct {
	phys  uint64
	flags PageFlags
}

// PageTables models the L4->L3->L2 hierarchy from spec.md §3. Rather
// than a byte-accurate in-memory table walk, it keeps a flat map from
// 2 MiB-aligned virtual address to leaf, which preserves every
// observable property (present/absent, translation, flags) the rest of
// the kernel depends on while staying free of unsafe pointer gymnastics
// — spec.md never requires the table format itself to be inspectable.
type PageTables struct {
	leaves      map[uint64]leaf
	tablesTaken int // tracks static pool consumption for ErrTablePoolExhausted
	// identity1GiB models the bootstrap identity mapping of the first
	// 4 GiB via 1 GiB pages, per spec.md §3.
	identity1GiBCount int
}

// NewPageTables creates a fresh table hierarchy with the bootstrap
// identity map of the first 4 GiB installed via 1 GiB pages, as the
// assembly entry point does before jumping into the C runtime.
func NewPageTables() *PageTables {
	pt := &PageTables{leaves: make(map[uint64]leaf)}
	pt.identity1GiBCount = 4 // 4 GiB / 1 GiB pages
	return pt
}

func align2MiBDown(addr uint64) uint64 {
	return addr &^ (pageSize2MiB - 1)
}

// Map2MiB walks L4->L3 creating intermediate tables on demand from the
// static 16-slot pool, then installs a 2 MiB leaf entry with
// Present|Writable|PageSize|flags.
func (pt *PageTables) Map2MiB(va, pa uint64, flags PageFlags) error {
	va = align2MiBDown(va)
	pa = align2MiBDown(pa)

	if _, exists := pt.leaves[va]; !exists && !pt.withinExistingTable(va) {
		if pt.tablesTaken >= staticTablePoolSize {
			return ErrTablePoolExhausted
		}
		pt.tablesTaken++
	}

	pt.leaves[va] = leaf{phys: pa, flags: flags | FlagPresent | FlagWritable | FlagPageSize}
	return nil
}

// withinExistingTable is a conservative approximation: once any leaf in
// a given 1 GiB region has been mapped, subsequent 2 MiB leaves in that
// same region reuse the L2 table already allocated for it.
func (pt *PageTables) withinExistingTable(va uint64) bool {
	regionBase := va &^ (pageSize1GiB - 1)
	for existing := range pt.leaves {
		if existing&^(pageSize1GiB-1) == regionBase {
			return true
		}
	}
	return false
}

// Unmap2MiB zeroes the leaf entry and invalidates the TLB for that
// address (a no-op in software beyond forgetting the mapping).
func (pt *PageTables) Unmap2MiB(va uint64) {
	delete(pt.leaves, align2MiBDown(va))
}

// VirtualToPhysical walks the active tables honoring 1 GiB and 2 MiB
// large-page entries, returning 0 if any level is non-present — used by
// DMA-capable drivers to obtain bus addresses for heap-allocated
// buffers, per spec.md §4.2.
func (pt *PageTables) VirtualToPhysical(va uint64) uint64 {
	if va < uint64(pt.identity1GiBCount)*pageSize1GiB {
		// Bootstrap identity mapping: va == pa.
		return va
	}
	base := align2MiBDown(va)
	if l, ok := pt.leaves[base]; ok {
		return l.phys + (va - base)
	}
	return 0
}

// MMIOWindow hands out the virtual window at 4 GiB in monotonic 2 MiB
// chunks. A semaphore.Weighted bounds the window so that Ioremap's
// "partial failure rolls back earlier mappings" (spec.md §4.2) is a
// natural TryAcquire/Release sequence rather than ad hoc bookkeeping.
type MMIOWindow struct {
	tables   *PageTables
	sem      *semaphore.Weighted
	nextFree uint64
	maxSlots int64
}

// NewMMIOWindow creates an MMIO window manager with room for maxSlots
// 2 MiB pages before the window is considered exhausted.
func NewMMIOWindow(tables *PageTables, maxSlots int64) *MMIOWindow {
	return &MMIOWindow{
		tables:   tables,
		sem:      semaphore.NewWeighted(maxSlots),
		nextFree: mmioWindowBase,
		maxSlots: maxSlots,
	}
}

// Ioremap aligns phys down to 2 MiB, computes the number of pages needed
// to cover offset+size, picks the next free virtual base aligned to
// 2 MiB, and maps every page RW|NX|write-through|cache-disable. The
// returned value is virtBase + (phys - physBase); virtual space is never
// reclaimed (Iounmap only zeroes page tables).
func (m *MMIOWindow) Ioremap(phys uint64, size uint64) (uint64, error) {
	physBase := align2MiBDown(phys)
	offset := phys - physBase
	pages := int64((offset + size + pageSize2MiB - 1) / pageSize2MiB)

	if !m.sem.TryAcquire(pages) {
		return 0, ErrMMIOExhausted
	}

	virtBase := m.nextFree
	flags := FlagWritable | FlagNX | FlagWriteThrough | FlagCacheDisable

	var mapped int64
	for i := int64(0); i < pages; i++ {
		va := virtBase + uint64(i)*pageSize2MiB
		pa := physBase + uint64(i)*pageSize2MiB
		if err := m.tables.Map2MiB(va, pa, flags); err != nil {
			// Roll back earlier mappings in this call.
			for j := int64(0); j < mapped; j++ {
				m.tables.Unmap2MiB(virtBase + uint64(j)*pageSize2MiB)
			}
			m.sem.Release(pages)
			return 0, err
		}
		mapped++
	}

	m.nextFree += uint64(pages) * pageSize2MiB
	return virtBase + offset, nil
}

// Iounmap zeroes the page table entries covering the mapping that began
// at virtBase (given the same size used at Ioremap time). Virtual space
// is never returned to nextFree.
func (m *MMIOWindow) Iounmap(virtBase uint64, size uint64) {
	base := align2MiBDown(virtBase)
	pages := int64((virtBase - base + size + pageSize2MiB - 1) / pageSize2MiB)
	for i := int64(0); i < pages; i++ {
		m.tables.Unmap2MiB(base + uint64(i)*pageSize2MiB)
	}
	m.sem.Release(pages)
}
