// Package paging models the kernel's single address-space-at-a-time page
// directory: a 1024-entry directory of either 4 MiB huge-page mappings or
// pointers to 4 KiB page tables, backed by a fixed pool of free tables and a
// bitmap of free huge-page physical frames.
//
// There is no real MMU underneath this tree (see internal/arch), so "loading
// CR3" is modeled as a counter (Generation) the arch boundary would use to
// decide whether a TLB flush is due, the same way the original kernel called
// _load_page_dir after every structural edit.
package paging

import (
	"fmt"

	"protokernel/internal/bitfield"
)

const (
	// DirEntries is the number of page directory entries (1024, 10-bit index).
	DirEntries = 1024

	// TableEntries is the number of entries per 4 KiB page table.
	TableEntries = 1024

	// NumTables is the size of the free page table pool, mirroring the
	// original kernel's fixed free_page_tables[NUM_TABLES][...] array.
	NumTables = 16

	// NumHugePages is the number of 4 MiB physical frames tracked by the
	// huge-page bitmap allocator.
	NumHugePages = 64

	// PageSize is the small-page size in bytes (4 KiB).
	PageSize = 4096

	// HugePageSize is the huge-page size in bytes (4 MiB).
	HugePageSize = 4 * 1024 * 1024
)

// DirIndex extracts the top-level directory index (bits 31:22) from a
// virtual address.
func DirIndex(virt uint32) uint32 { return (virt >> 22) & 0x3FF }

// PageIndex extracts the page-table index (bits 21:12) from a virtual address.
func PageIndex(virt uint32) uint32 { return (virt >> 12) & 0x3FF }

// DirEntry is one page directory slot: either a pointer (TableID) into the
// table pool, or a huge-page physical frame number, distinguished by Flags.Huge.
type DirEntry struct {
	Flags    bitfield.DirEntryFlags
	TableID  int    // index into Directory.tables, valid when Flags.Present && !Flags.Huge
	PhysAddr uint32 // huge-page physical base (Flags.Huge) or unused
}

// TableEntry is one 4 KiB page table slot.
type TableEntry struct {
	Flags    bitfield.TableEntryFlags
	PhysAddr uint32
}

// Table is one page table's worth of entries.
type Table [TableEntries]TableEntry

// Directory is the full address-space-at-a-time mapping structure used by a
// single running process. The original kernel keeps exactly one of these
// (page_dir) and swaps process huge pages in and out of it on every context
// switch; kernel.Kernel likewise keeps a single shared one, with Generation
// standing in for the fact that an arch.MMU would need a CR3 reload whenever
// a Directory becomes the active one.
type Directory struct {
	Entries    [DirEntries]DirEntry
	tables     [NumTables]Table
	tableInUse [NumTables]bool
	Generation uint64
}

// NewDirectory returns an empty, all-not-present directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// allocTable finds a free table in the pool. Mirrors alloc_page_table's
// linear scan of free_page_tables_in_use.
func (d *Directory) allocTable() (int, bool) {
	for i := 0; i < NumTables; i++ {
		if !d.tableInUse[i] {
			d.tableInUse[i] = true
			d.tables[i] = Table{}
			return i, true
		}
	}
	return 0, false
}

func (d *Directory) freeTable(id int) {
	if id < 0 || id >= NumTables {
		return
	}
	d.tableInUse[id] = false
	d.tables[id] = Table{}
}

// MapPage maps a single 4 KiB page, allocating a page table from the pool if
// the covering directory entry is not yet present. Returns an error if the
// slot is already a huge page, or if the table pool is exhausted.
func (d *Directory) MapPage(virt, phys uint32, user, writable bool) error {
	dirIdx := DirIndex(virt)
	pageIdx := PageIndex(virt)
	virt = AlignDown(virt, PageSize)
	phys = AlignDown(phys, PageSize)

	entry := &d.Entries[dirIdx]
	if !entry.Flags.Present {
		tableID, ok := d.allocTable()
		if !ok {
			return fmt.Errorf("paging: no free page tables")
		}
		entry.TableID = tableID
		entry.Flags = bitfield.DirEntryFlags{Present: true, Huge: false, User: user, Writable: writable}
	} else if entry.Flags.Huge {
		return fmt.Errorf("paging: directory entry %d is a huge page", dirIdx)
	}

	table := &d.tables[entry.TableID]
	table[pageIdx] = TableEntry{
		Flags:    bitfield.TableEntryFlags{Present: true, User: user, Writable: writable},
		PhysAddr: phys,
	}
	d.Generation++
	_ = virt
	return nil
}

// MapHugePage installs a 4 MiB mapping directly in the directory entry,
// mirroring map_huge_page.
func (d *Directory) MapHugePage(virt, phys uint32, user, writable bool) error {
	dirIdx := DirIndex(virt)
	d.Entries[dirIdx] = DirEntry{
		Flags:    bitfield.DirEntryFlags{Present: true, Huge: true, User: user, Writable: writable},
		PhysAddr: AlignDown(phys, HugePageSize),
	}
	d.Generation++
	return nil
}

// UnmapHugePage reverts a directory entry to a safe, non-present,
// non-writable kernel slot, mirroring unmap_huge_page.
func (d *Directory) UnmapHugePage(virt uint32) {
	dirIdx := DirIndex(virt)
	d.Entries[dirIdx] = DirEntry{Flags: bitfield.DirEntryFlags{Huge: true}}
	d.Generation++
}

// ReserveHugeSlot marks a directory entry as reserved-but-unbacked (the OS
// "available" bit doubling as an allocation marker), matching
// alloc_huge_page_virt's scan for !present && !avail.
func (d *Directory) ReserveHugeSlot() (uint32, error) {
	for i := 0; i < DirEntries; i++ {
		e := &d.Entries[i]
		if !e.Flags.Present && !e.Flags.Avail {
			e.Flags.Avail = true
			return uint32(i) << 22, nil
		}
	}
	return 0, fmt.Errorf("paging: no free virtual huge-page slot")
}

// ReleaseHugeSlot clears the reservation marker set by ReserveHugeSlot.
func (d *Directory) ReleaseHugeSlot(virt uint32) {
	dirIdx := DirIndex(virt)
	d.Entries[dirIdx].Flags.Avail = false
}

// DumpEntry renders the raw packed bit pattern of directory entry idx, the
// way a debugger inspecting the real PDE word would see it. Present-but-table
// entries pack only their flag bits (the table pointer is a pool index, not
// a physical address, in this host-side model); huge-page entries pack the
// flags into the low bits with PhysAddr left for the caller to OR in.
func (d *Directory) DumpEntry(idx uint32) uint32 {
	if idx >= DirEntries {
		return 0
	}
	return d.Entries[idx].Flags.Raw()
}

// AlignDown rounds addr down to the nearest multiple of size.
func AlignDown(addr, size uint32) uint32 {
	return addr &^ (size - 1)
}

// FreeTable releases the page table backing the given directory entry, if
// any, and clears the entry. Used when unmapping a process address space.
func (d *Directory) FreeTable(virt uint32) {
	dirIdx := DirIndex(virt)
	e := &d.Entries[dirIdx]
	if e.Flags.Present && !e.Flags.Huge {
		d.freeTable(e.TableID)
	}
	*e = DirEntry{}
}

// HugePageAllocator is the physical-frame bitmap allocator for 4 MiB pages,
// mirroring alloc_huge_page/free_huge_page's free_huge_pages_in_use bitmap.
type HugePageAllocator struct {
	inUse    [NumHugePages]bool
	baseAddr uint32
}

// NewHugePageAllocator returns an allocator for NumHugePages frames starting
// at base (analogous to FIRST_FREE_HUGE_PAGE).
func NewHugePageAllocator(base uint32) *HugePageAllocator {
	return &HugePageAllocator{baseAddr: base}
}

// Alloc returns the physical base address of a free huge page, or an error
// if the pool is exhausted.
func (a *HugePageAllocator) Alloc() (uint32, error) {
	for i := 0; i < NumHugePages; i++ {
		if !a.inUse[i] {
			a.inUse[i] = true
			return a.baseAddr + uint32(i)*HugePageSize, nil
		}
	}
	return 0, fmt.Errorf("paging: huge page pool exhausted")
}

// Free releases a huge page previously returned by Alloc. Addresses outside
// the pool's range are silently ignored, mirroring free_huge_page's bounds
// check on pg_idx.
func (a *HugePageAllocator) Free(phys uint32) {
	if phys < a.baseAddr {
		return
	}
	idx := (phys - a.baseAddr) / HugePageSize
	if idx < NumHugePages {
		a.inUse[idx] = false
	}
}
