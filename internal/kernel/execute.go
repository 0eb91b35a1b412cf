package kernel

// Execute and Sysret replace the source's manual stack-splicing pair
// (execute()/sysret(), which swap SP/BP directly) with ordinary synchronous
// Go calls, per the "Manual stack splicing" redesign note in spec §9: a
// blocking child's entry function is called directly from Execute and
// Execute does not return until that call does, which is exactly the
// contract the source achieves by overwriting the parent's saved frame
// pointer. A non-blocking kernel-mode child instead registers a StepFunc
// that the scheduler calls once per tick (see scheduler.go) — our
// replacement for the source's "child runs independently until it yields or
// exits" without requiring real preemption.
//
// Execute launches file as a new process. parent may be nil only during
// boot. kernelEntry is consulted when isKernel is true. For a user-mode
// launch, the behavior that actually runs is resolved from the kernel's
// program registry by the image's decoded entry-point word (spec §6) —
// see RegisterProgram — rather than being handed to Execute directly, the
// same way a real CPU would treat that word as a jump target instead of
// trusting whatever the caller claims the binary does. Returns the child's
// exit value for a blocking launch (EXEC syscalls are always blocking per
// spec's syscall table), or 0 immediately for a non-blocking launch (the
// parent is never notified of the child's eventual exit value, per spec's
// glossary entry for "Non-blocking execute").
func (k *Kernel) Execute(parent *PCB, img ImageReader, file string, uid int, nonblocking, isKernel bool,
	kernelEntry KernelEntryFunc) int32 {

	name := file
	// Copy the (possibly user-supplied) name into kernel memory before
	// process_create can alter page tables, per spec §4.6 — in this tree
	// that's just capturing the Go string by value, which already happens
	// above since Go strings are immutable values, not pointers into the
	// caller's mapped memory.

	child, code := k.processCreate(img, file, uid, isKernel, name)
	if code != 0 {
		if parent != nil {
			k.processSwitch(parent)
		}
		return code
	}

	if child.SetUIDEnabled {
		nonblocking = !child.SetUIDBlocking
		uid = child.SetUIDVal
		child.UID = uid
	}

	child.Nonblocking = nonblocking
	child.ParentID = NoPCB
	if parent != nil {
		child.ParentID = parent.ID
		parent.BlockingExecute = !nonblocking
	}

	k.processSwitch(child)

	if isKernel {
		if nonblocking {
			if kernelEntry != nil {
				// A non-blocking kernel process must be expressed as a
				// StepFunc so the scheduler can resume it across ticks;
				// callers that only have a KernelEntryFunc get a trivial
				// one-shot adapter.
				child.StepFunc = oneShotStep(kernelEntry)
			}
		} else if kernelEntry != nil {
			kernelEntry(k, child.ID)
		}
	} else if prog := k.programs[child.EntryPoint]; prog != nil {
		prog(&syscallBridge{k: k, self: child.ID, img: img}, int(child.ID))
	}

	if parent != nil {
		parent.BlockingExecute = false
		k.processSwitch(parent)
	}

	if nonblocking {
		return 0
	}
	return k.lastRetval
}

// ExecuteKernelStep launches a non-blocking kernel-mode process driven
// directly by a KernelStepFunc, for processes meant to run across many
// scheduler ticks (spec §8 scenario S5) rather than to completion in one
// call. There is no image to resolve for a kernel process, so this
// bypasses processCreate's ELF path entirely.
func (k *Kernel) ExecuteKernelStep(parent *PCB, name string, step KernelStepFunc) (*PCB, int32) {
	child, code := k.processCreate(nil, "", 0, true, name)
	if code != 0 {
		if parent != nil {
			k.processSwitch(parent)
		}
		return nil, code
	}
	child.Nonblocking = true
	child.ParentID = NoPCB
	if parent != nil {
		child.ParentID = parent.ID
	}
	child.StepFunc = step
	k.processSwitch(child)
	if parent != nil {
		k.processSwitch(parent)
	}
	return child, 0
}

// oneShotStep adapts a KernelEntryFunc (which must call Sysret itself) into
// a KernelStepFunc that runs it to completion on its very first tick. It
// exists only to give non-blocking launch sites a uniform call surface; real
// multi-tick cooperative processes (spec §8 scenario S5) supply their own
// KernelStepFunc directly instead of going through Execute's kernelEntry
// parameter.
func oneShotStep(entry KernelEntryFunc) KernelStepFunc {
	return func(k *Kernel, self PcbId) (bool, int32) {
		entry(k, self)
		return true, k.lastRetval
	}
}

// Sysret is the sole process-exit path (spec §4.7): it unmaps the mmap
// region if owned, destroys the PCB, and records retval as the last exit
// value; it does not consult the PCB's Nonblocking flag. The caller — either Execute's synchronous
// call for a blocking launch, or the scheduler's tick loop for a
// non-blocking one — is responsible for reacting to the recorded exit value.
func (k *Kernel) Sysret(self PcbId, retval int32) {
	p := k.procs.get(self)
	if p == nil || !p.InUse {
		return
	}
	if p.HasMmap {
		k.dir.UnmapHugePage(AddrMmap)
	}
	k.processDestroy(p)
	k.lastRetval = retval
}

// Mmap grants at most one additional 4 MiB region per process, mapped
// user/read-write at AddrMmap. Idempotent: a second call while one is
// already held returns the existing address without allocating again
// (spec §4.9, tested by invariant 7).
func (k *Kernel) Mmap(p *PCB) (uint32, int32) {
	if p.HasMmap {
		return AddrMmap, 0
	}
	phys, err := k.huge.Alloc()
	if err != nil {
		if k.metrics != nil {
			k.metrics.HugePageExhausted()
		}
		return 0, ErrNoFreeResource
	}
	p.PhysMmap = phys
	p.HasMmap = true
	if k.current == p.ID {
		k.dir.MapHugePage(AddrMmap, phys, true, true)
	}
	return AddrMmap, 0
}

// syscallBridge adapts the kernel's internal Dispatch entry point to the
// small arch.Syscalls surface a simulated user program is written against,
// standing in for software interrupt 0x80. Every method routes through
// Dispatch rather than calling OpenCommon/SysRead/etc. directly, so a
// running program is subject to exactly the same sandbox overlay, metrics,
// and (for Exec) image resolution that a real trap through Dispatch would
// enforce — there is only one path into the kernel from user code, not two.
type syscallBridge struct {
	k    *Kernel
	self PcbId
	img  ImageReader // the image FS Exec resolves child binaries against
}

func (b *syscallBridge) dispatch(a SyscallArgs) SyscallResult {
	p := b.k.PCB(b.self)
	if p == nil {
		return SyscallResult{Value: ErrNotFound}
	}
	return b.k.Dispatch(p, a)
}

func (b *syscallBridge) Sysret(retval int32) {
	b.dispatch(SyscallArgs{Num: SYSRET, Retval: retval})
}

func (b *syscallBridge) Open(path string) int32 {
	return b.dispatch(SyscallArgs{Num: OPEN, Path: path, PathValid: true}).Value
}

func (b *syscallBridge) Close(fd int32) int32 {
	return b.dispatch(SyscallArgs{Num: CLOSE, FD: FdId(fd)}).Value
}

func (b *syscallBridge) Read(fd int32, max int) ([]byte, int32) {
	res := b.dispatch(SyscallArgs{Num: READ, FD: FdId(fd), ReadMax: max, BufValid: true})
	if res.Value < 0 {
		return nil, res.Value
	}
	return res.Read, res.Value
}

func (b *syscallBridge) Write(fd int32, data []byte) int32 {
	return b.dispatch(SyscallArgs{Num: WRITE, FD: FdId(fd), WriteBuf: data, BufValid: true}).Value
}

func (b *syscallBridge) Exec(path string) int32 {
	return b.dispatch(SyscallArgs{Num: EXEC, Path: path, PathValid: true, Img: b.img}).Value
}

func (b *syscallBridge) Mmap() int32 {
	return b.dispatch(SyscallArgs{Num: MMAP}).Value
}

func (b *syscallBridge) SwitchUser(name, password string) int32 {
	return b.dispatch(SyscallArgs{Num: SWITCHUSER, Name: name, Password: password, NameValid: true, PasswordValid: true}).Value
}

func (b *syscallBridge) GetUser() (string, int32) {
	res := b.dispatch(SyscallArgs{Num: GETUSER, NameValid: true})
	return string(res.Read), res.Value
}

func (b *syscallBridge) RemoteSwitchUser(targetPID int32) int32 {
	return b.dispatch(SyscallArgs{Num: REMOTESWITCHUSER, TargetPID: PcbId(targetPID)}).Value
}

func (b *syscallBridge) Alert(message string) {
	b.dispatch(SyscallArgs{Num: ALERT, Path: message, PathValid: true})
}
