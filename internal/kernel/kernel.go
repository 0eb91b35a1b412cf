// Package kernel is the central owner the source's mutually-referencing PCB
// table / mount table / page directory graph is re-architected into (spec
// §9, "Cyclic / aliased ownership"). Every cross-structure reference is a
// small ID (PcbId, MountId, FdId) resolved back through this struct; there
// are no raw pointers between subsystems. Tests instantiate independent
// Kernels.
package kernel

import (
	"fmt"

	"github.com/go-logr/logr"

	"protokernel/internal/arch"
	"protokernel/internal/paging"
	"protokernel/internal/user"
)

const (
	// AddrProc is the fixed user virtual base for a process's image huge
	// page (spec §3: "conventionally 0x08048000-aligned to 4 MiB").
	AddrProc uint32 = 0x08000000

	// AddrMmap is the fixed user virtual base for a process's optional
	// mmap huge page, immediately following the image region.
	AddrMmap uint32 = AddrProc + paging.HugePageSize

	// UserStackBase is the user stack's base address (spec §6).
	UserStackBase uint32 = AddrProc + 0x200000

	// elfMagicMask keeps only the first three image bytes (the low three
	// bytes of the little-endian first word) for the lax ELF magic
	// comparison; the fourth byte is the set-uid header byte.
	elfMagicMask uint32 = 0x00FFFFFF

	// elfOrdinaryByte is the fourth header byte value meaning "ordinary
	// ELF, no set-uid directive".
	elfOrdinaryByte = 0x7F

	// entryOffset is the byte offset of the 32-bit entry point in an image
	// (spec §6: "offset 24, the sixth 32-bit word").
	entryOffset = 24
)

// Killed is the exit code a scheduler-initiated termination reports through
// Sysret (spec §7).
const Killed int32 = -8

// Metrics is the observability seam kmetrics.Registry satisfies; a Kernel
// with a nil Metrics simply does not record anything, so unit tests that
// don't care about metrics can skip wiring one in.
type Metrics interface {
	ContextSwitch()
	Syscall(num int32)
	PageFault(mode string)
	FDExhausted()
	PCBExhausted()
	HugePageExhausted()
}

// Config is the boot-time policy loaded from /etc/kernel.toml by
// internal/kconfig (spec §9: sandbox UID/whitelist and the set-uid header
// extension are configuration, not hard-coded policy).
type Config struct {
	// TicksPerQuantum is carried from the config file; Tick does not read
	// it and reschedules on every call.
	TicksPerQuantum int
	// SandboxLevel is 0 (off), 1 (SandboxWhitelist is the only syscall
	// surface allowed), or 2 (SandboxDenylist is forbidden, everything
	// else allowed) for a caller whose UID equals SandboxUID.
	SandboxLevel        int
	SandboxUID          int
	SandboxWhitelist    map[int32]bool
	SandboxDenylist     map[int32]bool
	SetUIDHeaderEnabled bool
	// ShareMmapWithSandbox resolves the §9 open question about the
	// mmap-at-context-switch exception: when false (the default), a
	// departing process's mmap region is always unmapped regardless of
	// UID; when true, a process whose UID equals SandboxUID keeps its
	// mmap region mapped across a switch away from it, reproducing the
	// source's literal (but exploit-motivated) behavior.
	ShareMmapWithSandbox bool
}

// DefaultConfig reproduces the source's hard-coded baseline, except that
// ShareMmapWithSandbox is false (see that field), and is what a missing
// /etc/kernel.toml falls back to.
func DefaultConfig() Config {
	return Config{
		TicksPerQuantum:     1,
		SandboxLevel:        0,
		SandboxUID:          0,
		SandboxWhitelist:    map[int32]bool{SYSRET: true, OPEN: true, CLOSE: true, READ: true, WRITE: true, ENVCONFIG: true},
		SandboxDenylist:     map[int32]bool{SWITCHUSER: true, GETUSER: true, REMOTESWITCHUSER: true, MMAP: true},
		SetUIDHeaderEnabled: true,
		ShareMmapWithSandbox: false,
	}
}

// Kernel owns every subsystem arena: the process table, the mount table,
// the single shared page directory, the huge-page allocator, and the user
// table. There is exactly one Directory (spec §5: "Page directory is
// process-global") — process switches remap a PCB's huge page(s) in and out
// of it rather than each PCB owning its own directory.
type Kernel struct {
	procs  procTable
	mounts MountTable
	dir    *paging.Directory
	huge   *paging.HugePageAllocator
	users  *user.Table

	current PcbId
	cfg     Config
	log     logr.Logger
	metrics Metrics
	stdio   Mount

	// programs maps a decoded image entry-point word (spec §6: offset 24,
	// the sixth 32-bit word) to the simulated behavior that address stands
	// in for, since this tree never runs real x86 instructions. Execute
	// resolves a launched child's UserProgram by looking up its PCB's
	// EntryPoint here, the same way a real CPU would treat the word as a
	// jump target rather than trusting whatever the caller hands it.
	programs map[uint32]arch.UserProgram

	// halted records a fatal kernel-mode fault (spec §7: "Fatal... page
	// fault in kernel mode... panic"). Once set, the scheduler stops
	// selecting new work; there is no recovery from this state, mirroring
	// a real panic halting the machine rather than killing one process.
	halted bool

	lastRetval int32
}

// SetStdio installs the mount every PCB's FD 0 is bound to at creation
// (spec §4.4: "Any FD index 0 of any PCB is bound here at PCB creation").
// Unlike every other mount, stdio is never reached through OpenCommon's
// path-based dispatch and is not registered in the mount table.
func (k *Kernel) SetStdio(m Mount) { k.stdio = m }

// RegisterProgram binds a simulated user program to the entry-point word a
// launched image's header encodes (spec §6), so Execute can resolve which
// behavior a given binary runs without a test or caller handing Execute the
// program directly out of band. Re-registering the same entry overwrites
// the previous binding.
func (k *Kernel) RegisterProgram(entry uint32, prog arch.UserProgram) {
	if k.programs == nil {
		k.programs = make(map[uint32]arch.UserProgram)
	}
	k.programs[entry] = prog
}

// Halted reports whether the kernel has taken a fatal kernel-mode fault and
// stopped scheduling new work (spec §7).
func (k *Kernel) Halted() bool { return k.halted }

// ProcessInfo is the read-only view of a PCB the process-FS mount (spec
// §4.4) serialises; it exposes nothing a /proc/all reader couldn't already
// see by construction of the on-disk format spec.md describes.
type ProcessInfo struct {
	ID         PcbId
	Name       string
	UID        int
	KernelProc bool
}

// Processes returns a ProcessInfo for every in-use PCB, in table order,
// for the process-FS pseudo mount to serialise.
func (k *Kernel) Processes() []ProcessInfo {
	out := make([]ProcessInfo, 0, MaxProcesses)
	for i := range k.procs.pcbs {
		p := &k.procs.pcbs[i]
		if p.InUse {
			out = append(out, ProcessInfo{ID: p.ID, Name: p.Name, UID: p.UID, KernelProc: p.KernelProc})
		}
	}
	return out
}

// New constructs a Kernel with an empty process/mount table, a fresh page
// directory, and the given configuration, user table, logger, and (optional)
// metrics recorder.
func New(cfg Config, users *user.Table, log logr.Logger, metrics Metrics) *Kernel {
	return &Kernel{
		dir:     paging.NewDirectory(),
		huge:    paging.NewHugePageAllocator(0x01000000),
		users:   users,
		current: NoPCB,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// Mount registers a filesystem backend, in table order. Mounts are created
// at boot and never destroyed (spec §3).
func (k *Kernel) Mount(path string, m Mount) bool {
	return k.mounts.Mount(path, m)
}

// Current returns the currently scheduled PCB, or nil if none.
func (k *Kernel) Current() *PCB {
	if k.current == NoPCB {
		return nil
	}
	return k.procs.get(k.current)
}

// PCB returns the PCB for id, or nil if it does not name a live process.
func (k *Kernel) PCB(id PcbId) *PCB {
	p := k.procs.get(id)
	if p == nil || !p.InUse {
		return nil
	}
	return p
}

// Directory exposes the shared page directory for tests that want to assert
// on mapping state directly.
func (k *Kernel) Directory() *paging.Directory { return k.dir }

// checkELFHeader validates the lax ELF magic (the first three image bytes,
// 0x7F 'E' 'L') and decodes the fourth byte's set-uid directive, per spec §4.6/§6.
// Returns ok=false if the magic does not match.
func checkELFHeader(image []byte) (ok bool, setUIDEnabled, setUIDBlocking bool, setUIDVal int) {
	if len(image) < 4 {
		return false, false, false, 0
	}
	word := uint32(image[0]) | uint32(image[1])<<8 | uint32(image[2])<<16 | uint32(image[3])<<24
	if word&elfMagicMask != elfMagic&elfMagicMask {
		return false, false, false, 0
	}
	b := image[3]
	if b == elfOrdinaryByte {
		return true, false, false, 0
	}
	blocking := b&0x80 == 0
	uid := int(b & 0x7F)
	return true, true, blocking, uid
}

// elfMagic is a standard-looking ELF magic word (0x7F 'E' 'L' 'F'); only its
// first three bytes (0x7F 'E' 'L') are compared, per checkELFHeader.
const elfMagic uint32 = 0x464C457F

// entryPoint extracts the 32-bit little-endian entry-point word at
// entryOffset.
func entryPoint(image []byte) uint32 {
	if len(image) < entryOffset+4 {
		return 0
	}
	return uint32(image[entryOffset]) | uint32(image[entryOffset+1])<<8 |
		uint32(image[entryOffset+2])<<16 | uint32(image[entryOffset+3])<<24
}

// ImageReader resolves a path in the boot image to its raw bytes; imagefs
// satisfies this for process_create's user-image lookup.
type ImageReader interface {
	ReadFile(path string) ([]byte, bool)
}

// processCreate implements spec §4.6. The kernel-mode case allocates a bare
// PCB bound to stdio; the user-mode case resolves the path, validates the
// image header (freeing the PCB if it is invalid), then allocates a huge
// page for the image. Mapping that page is left to processSwitch, and no
// image bytes are copied.
func (k *Kernel) processCreate(img ImageReader, file string, uid int, isKernel bool, name string) (*PCB, int32) {
	id, ok := k.procs.alloc()
	if !ok {
		if k.metrics != nil {
			k.metrics.PCBExhausted()
		}
		return nil, ErrNoFreeResource
	}
	p := k.procs.get(id)
	p.UID = uid
	p.Name = truncateName(name)
	p.KernelProc = isKernel
	if k.stdio != nil {
		p.fds[StdioFD] = FD{InUse: true, Mount: k.stdio}
	}

	if isKernel {
		return p, 0
	}

	image, found := img.ReadFile(file)
	if !found {
		k.procs.free(id)
		return nil, ErrNotFound
	}

	ok, setEnabled, setBlocking, setVal := checkELFHeader(image)
	if !ok {
		k.procs.free(id)
		return nil, ErrNotFound
	}

	phys, err := k.huge.Alloc()
	if err != nil {
		k.procs.free(id)
		if k.metrics != nil {
			k.metrics.HugePageExhausted()
		}
		return nil, ErrNoFreeResource
	}

	p.PhysProc = phys
	p.SetUIDEnabled = setEnabled && k.cfg.SetUIDHeaderEnabled
	p.SetUIDBlocking = setBlocking
	p.SetUIDVal = setVal
	p.EntryPoint = entryPoint(image)
	return p, 0
}

func truncateName(name string) string {
	if len(name) > FSNameLen-1 {
		return name[:FSNameLen-1]
	}
	return name
}

// processSwitch installs the given PCB as current: maps its image huge page
// at AddrProc, maps or unmaps its mmap region at AddrMmap per the §3/§9
// policy, and records the switch for metrics.
func (k *Kernel) processSwitch(p *PCB) {
	prev := k.Current()
	if prev != nil && prev.ID != p.ID {
		k.dir.UnmapHugePage(AddrProc)
		if !(k.cfg.ShareMmapWithSandbox && prev.UID == k.cfg.SandboxUID) {
			k.dir.UnmapHugePage(AddrMmap)
		}
	}
	if !p.KernelProc {
		k.dir.MapHugePage(AddrProc, p.PhysProc, true, true)
		if p.HasMmap {
			k.dir.MapHugePage(AddrMmap, p.PhysMmap, true, true)
		}
	}
	k.current = p.ID
	if k.metrics != nil {
		k.metrics.ContextSwitch()
	}
}

// processDestroy frees a PCB's owned huge pages and clears it from the
// table, clearing Current if it was current.
func (k *Kernel) processDestroy(p *PCB) {
	if p.PhysProc != 0 {
		k.huge.Free(p.PhysProc)
	}
	if p.HasMmap {
		k.huge.Free(p.PhysMmap)
	}
	wasCurrent := k.current == p.ID
	k.procs.free(p.ID)
	if wasCurrent {
		k.current = NoPCB
	}
}

// IsUserPointer validates that virt lies within the current process's image
// or mmap region, per spec §4.10's pointer-safety check (top-level
// directory index equality) generalized to also accept the mmap region,
// which spec §8 invariant 2 requires.
func (k *Kernel) IsUserPointer(virt uint32) bool {
	idx := paging.DirIndex(virt)
	return idx == paging.DirIndex(AddrProc) || idx == paging.DirIndex(AddrMmap)
}

// String is used by procfs and diagnostics.
func (k *Kernel) String() string {
	return fmt.Sprintf("Kernel{current=%d}", k.current)
}
