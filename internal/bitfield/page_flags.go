package bitfield

// DirEntryFlags represents the low bits of a page directory entry: either a
// pointer to a page table (4 KiB entries) or, when Huge is set, a 4 MiB
// identity-style mapping. Fields are packed the same way the original
// per-page Allocated/KernelPage/Reserved bitfield packed ARM64 page metadata;
// here they track the x86 PDE bits this kernel actually consults.
type DirEntryFlags struct {
	// Present indicates the entry points at a valid page table or huge page.
	Present bool `bitfield:",1"`

	// Writable allows ring-3 and ring-0 writes through this mapping.
	Writable bool `bitfield:",1"`

	// User allows ring-3 access; clear means kernel-only.
	User bool `bitfield:",1"`

	// Huge marks this as a 4 MiB page (PSE) rather than a page-table pointer.
	Huge bool `bitfield:",1"`

	// Avail is the OS-available bit used here as the "allocated" marker scanned
	// by the huge-page allocator (an entry with !Present && Avail is in use as
	// a virtual address reservation but has no backing table yet).
	Avail bool `bitfield:",1"`

	// Reserved bits for future use.
	Reserved uint32 `bitfield:",27"`
}

// Raw packs f into the low bits of a directory-entry word in field order
// (Present at bit 0 through Avail at bit 4, not the x86 PDE bit positions),
// via the generic reflection-based Pack in
// bitfield.go. Used by internal/paging to render a diagnostic dump of the
// directory without hand-rolling a second encoder.
func (f DirEntryFlags) Raw() uint32 {
	packed, err := Pack(f, &Config{NumBits: 32})
	if err != nil {
		return 0
	}
	return uint32(packed)
}

// TableEntryFlags represents the low bits of a 4 KiB page table entry.
type TableEntryFlags struct {
	// Present indicates the entry maps a valid physical page.
	Present bool `bitfield:",1"`

	// Writable allows writes through this mapping.
	Writable bool `bitfield:",1"`

	// User allows ring-3 access.
	User bool `bitfield:",1"`

	// Reserved bits for future use.
	Reserved uint32 `bitfield:",29"`
}

// Raw packs f via Pack, mirroring DirEntryFlags.Raw for page-table entries.
func (f TableEntryFlags) Raw() uint32 {
	packed, err := Pack(f, &Config{NumBits: 32})
	if err != nil {
		return 0
	}
	return uint32(packed)
}
