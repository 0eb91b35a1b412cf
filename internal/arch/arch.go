// Package arch is the thin boundary standing in for everything a real x86
// bring-up would need from assembly and the linker: loading CR3, splicing a
// saved stack pointer/frame pointer pair back onto the CPU, IRET into ring 3,
// and talking to the PIC/PIT/keyboard controller. None of that exists on a
// host running `go test`, so this package only carries the contracts the
// rest of the tree is written against — the same separation the teacher
// draws between its kernel logic and its framebuffer/UART/PCI device
// drivers (external collaborators, consumed through small interfaces).
package arch

// InteractiveSink is the "current typeable" collaborator: keyboard input and
// line-mode text output. STDIO reads/writes go through this.
type InteractiveSink interface {
	PutChar(c byte)
	Clear()
	// ReadLine blocks until a full line (or max bytes) is available and
	// returns the bytes read, not including any line terminator.
	ReadLine(max int) []byte
	OnEnter()
	OnBreak()
}

// GraphicsSink is the panic-screen/alert-modal collaborator.
type GraphicsSink interface {
	PanicScreen(reason string, code uint32)
	AlertModal(message string)
}

// UserProgram is the behavior a simulated user-mode image executes once
// launched. Because this tree never runs real x86 instructions, a "process
// image" loaded from the image FS does not contain executable machine code;
// instead its entry-point word (spec: offset 24, the sixth 32-bit word) is a
// key into the Kernel's program registry (see kernel.Kernel.RegisterProgram),
// exactly as a real entry point would be a jump target. This is the one
// deliberate simulation seam in the tree — there is no x86 interpreter here,
// only the kernel logic that would surround one.
type UserProgram func(sys Syscalls, self int) int32

// Syscalls is the full syscall table (spec §4.10) a UserProgram may invoke,
// standing in for the software-interrupt 0x80 ABI a real binary would use.
// Every method is routed through the kernel's single Dispatch entry point by
// the caller's implementation, so a running program is bound by the same
// sandbox overlay and privilege checks any other trap would be.
type Syscalls interface {
	Sysret(retval int32)
	Open(path string) int32
	Close(fd int32) int32
	Read(fd int32, max int) ([]byte, int32)
	Write(fd int32, data []byte) int32
	Exec(path string) int32
	Mmap() int32
	SwitchUser(name, password string) int32
	GetUser() (name string, uid int32)
	RemoteSwitchUser(targetPID int32) int32
	Alert(message string)
}
