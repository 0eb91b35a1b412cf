package kernel

import (
	"protokernel/internal/arch"
	"protokernel/internal/user"
)

// Syscall numbers, spec §4.10.
const (
	SYSRET           int32 = 0
	EXEC             int32 = 1
	OPEN             int32 = 2
	CLOSE            int32 = 3
	READ             int32 = 4
	WRITE            int32 = 5
	ALERT            int32 = 6
	ENVCONFIG        int32 = 7
	REBOOT           int32 = 8
	SHUTDOWN         int32 = 9
	SWITCHUSER       int32 = 10
	GETUSER          int32 = 11
	REMOTESWITCHUSER int32 = 12
	MMAP             int32 = 13
	SANDBOXEXIT      int32 = 14
)

// PrivilegeDenied is returned when a privilege check fails (spec §7).
const PrivilegeDenied int32 = -5

// SyscallArgs is everything a dispatched syscall might need. Because this
// tree has no byte-addressable simulated RAM, "pointer" arguments are
// carried as already-decoded Go values (a path string, a byte buffer) plus
// a *Valid flag the caller sets according to whether the corresponding
// address would have passed IsUserPointer — this is the harness's stand-in
// for the real pointer-validation check of spec §4.10, which this struct's
// caller (a simulated syscall trap) is expected to have already run via
// IsUserPointer before populating these fields.
type SyscallArgs struct {
	Num int32

	FD FdId

	Path      string
	PathValid bool

	WriteBuf   []byte
	ReadMax    int
	BufValid   bool

	Name          string
	Password      string
	NameValid     bool
	PasswordValid bool

	TargetPID PcbId

	Env1, Env2 uint32

	// Retval is SYSRET's exit value (spec §4.10, "sysret(arg1)").
	Retval int32

	Img ImageReader
	Gfx arch.GraphicsSink
}

// SyscallResult bundles a return value with any bytes a READ produced.
type SyscallResult struct {
	Value int32
	Read  []byte
}

// sandboxAllows applies the §9 sandbox overlay to a caller bound by UID,
// independent of the normal resource/privilege checks below.
func (k *Kernel) sandboxAllows(uid int, num int32) bool {
	if k.cfg.SandboxLevel == 0 || uid != k.cfg.SandboxUID {
		return true
	}
	switch k.cfg.SandboxLevel {
	case 1:
		return k.cfg.SandboxWhitelist[num]
	case 2:
		return !k.cfg.SandboxDenylist[num]
	default:
		return true
	}
}

// Dispatch routes one syscall trap to its handler, enforcing the sandbox
// overlay, pointer validity, and privilege checks of spec §4.10 before
// calling through.
func (k *Kernel) Dispatch(p *PCB, a SyscallArgs) SyscallResult {
	if k.halted {
		return SyscallResult{}
	}

	if k.metrics != nil {
		k.metrics.Syscall(a.Num)
	}

	if !k.sandboxAllows(p.UID, a.Num) {
		return SyscallResult{Value: PrivilegeDenied}
	}

	switch a.Num {
	case SYSRET:
		k.Sysret(p.ID, a.Retval)
		return SyscallResult{Value: a.Retval}

	case EXEC:
		if !a.PathValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		rv := k.Execute(p, a.Img, a.Path, p.UID, false, false, nil)
		return SyscallResult{Value: rv}

	case OPEN:
		if !a.PathValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		fd, code := k.OpenCommon(p, a.Path)
		if code != 0 {
			return SyscallResult{Value: code}
		}
		return SyscallResult{Value: int32(fd)}

	case CLOSE:
		return SyscallResult{Value: k.SysClose(p, a.FD)}

	case READ:
		if !a.BufValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		buf := make([]byte, a.ReadMax)
		n := k.SysRead(p, a.FD, buf)
		if n < 0 {
			return SyscallResult{Value: n}
		}
		return SyscallResult{Value: n, Read: buf[:n]}

	case WRITE:
		if !a.BufValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		return SyscallResult{Value: k.SysWrite(p, a.FD, a.WriteBuf)}

	case ALERT:
		if !a.PathValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		if a.Gfx != nil {
			a.Gfx.AlertModal(a.Path)
		}
		return SyscallResult{}

	case ENVCONFIG:
		// Forwarded to the interactive collaborator; out of core scope.
		return SyscallResult{}

	case REBOOT, SHUTDOWN:
		if !k.checkSystemPrivilege(p.UID) {
			return SyscallResult{Value: PrivilegeDenied}
		}
		return SyscallResult{}

	case SWITCHUSER:
		if !a.NameValid || !a.PasswordValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		return SyscallResult{Value: k.SwitchUser(p, a.Name, a.Password)}

	case GETUSER:
		if !a.NameValid {
			k.killMisbehaving(p, a)
			return SyscallResult{}
		}
		name, uid := k.GetUser(p)
		return SyscallResult{Value: int32(uid), Read: []byte(name)}

	case REMOTESWITCHUSER:
		return SyscallResult{Value: k.RemoteSwitchUser(p, a.TargetPID)}

	case MMAP:
		addr, code := k.Mmap(p)
		if code != 0 {
			return SyscallResult{Value: code}
		}
		return SyscallResult{Value: int32(addr)}

	case SANDBOXEXIT:
		// Configurable sandbox transition; out of core proper per spec.
		return SyscallResult{}

	default:
		return SyscallResult{Value: ErrNotFound}
	}
}

// killMisbehaving implements the invalid-pointer path of spec §4.10/§7: a
// diagnostic write through the kernel's logger, then either an immediate,
// unconditional Sysret(0) for a user-mode caller, or — since a bad pointer
// taken while the current PCB is a kernel process is the "page fault in
// kernel mode" fatal case — a graphics-collaborator panic screen and a halt
// instead of a sysret, per spec §7's "Fatal... panic (halt with a legible
// reason on the graphics collaborator)".
func (k *Kernel) killMisbehaving(p *PCB, a SyscallArgs) {
	mode := "user"
	if p.KernelProc {
		mode = "kernel"
	}
	if k.metrics != nil {
		k.metrics.PageFault(mode)
	}

	if p.KernelProc {
		k.log.Error(nil, "kernel-mode pointer fault, halting", "pcb", int(p.ID), "syscall", a.Num)
		if a.Gfx != nil {
			a.Gfx.PanicScreen("kernel-mode pointer fault", uint32(a.Num))
		}
		k.halted = true
		return
	}

	k.log.Info("invalid pointer argument, killing process", "pcb", int(p.ID), "syscall", a.Num)
	k.Sysret(p.ID, 0)
}

// checkSystemPrivilege implements the REBOOT/SHUTDOWN privilege check
// against the kernel's global system_resource (spec §4.5).
func (k *Kernel) checkSystemPrivilege(uid int) bool {
	return user.AccessOK(uid, user.SystemResource)
}
