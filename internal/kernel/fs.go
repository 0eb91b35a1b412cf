package kernel

import (
	"protokernel/internal/user"
)

// FD is a file-descriptor slot: which mount owns it, the resource it was
// opened against (for protected mounts), a byte cursor, and opaque
// per-mount state (e.g. an image-FS tree position).
type FD struct {
	InUse    bool
	Mount    Mount
	MountID  MountId
	Resource user.Resource
	Cursor   int
	State    interface{}
}

// Mount is the capability set a filesystem backend exposes to the registry,
// mirroring the source's mount_t operations table.
type Mount interface {
	// Open attempts to claim path, initializing fd's State/Cursor on
	// success. Returns false if the mount does not have this path.
	Open(fd *FD, path string) bool
	Close(fd *FD)
	Read(fd *FD, out []byte) int
	Write(fd *FD, in []byte) int
}

// PermChecker is the optional check_perm capability: a mount that guards
// some or all of its paths implements this in addition to Mount.
type PermChecker interface {
	// CheckPerm fills in the resource a given path is guarded by. The
	// caller primes res as (uid=0, PUBLIC) before calling.
	CheckPerm(path string, res *user.Resource)
}

// mountEntry is one slot of the mount table.
type mountEntry struct {
	inUse bool
	path  string
	mount Mount
}

// MountTable is the fixed-capacity, boot-time-populated registry of
// filesystem backends, consulted in declared order by OpenCommon.
type MountTable struct {
	entries [MaxFilesystems]mountEntry
	count   int
}

// Mount registers a new filesystem backend at path, in table order. Returns
// false if the table is full.
func (t *MountTable) Mount(path string, m Mount) bool {
	if t.count >= MaxFilesystems {
		return false
	}
	t.entries[t.count] = mountEntry{inUse: true, path: path, mount: m}
	t.count++
	return true
}

// Open-common error codes (spec §4.2, §7).
const (
	ErrNotFound         int32 = -1
	ErrPermissionDenied int32 = -2
	ErrNoFreeResource   int32 = -3
)

// OpenCommon implements the ordering contract of spec §4.2: allocate a free
// FD, then try each mount in table order, consulting CheckPerm where
// present; the first mount that both grants permission and claims the path
// wins. If no mount claims the path, report permission-denied if any mount
// denied it, else not-found.
func (k *Kernel) OpenCommon(p *PCB, path string) (FdId, int32) {
	fdIdx, ok := p.allocFD()
	if !ok {
		if k.metrics != nil {
			k.metrics.FDExhausted()
		}
		return 0, ErrNoFreeResource
	}
	fd := &p.fds[fdIdx]

	deniedAny := false
	for i := 0; i < k.mounts.count; i++ {
		e := &k.mounts.entries[i]
		if !e.inUse {
			continue
		}
		res := user.Resource{OwnerUID: user.Root, Kind: user.Public}
		if pc, ok := e.mount.(PermChecker); ok {
			pc.CheckPerm(path, &res)
		}
		if !user.AccessOK(p.UID, res) {
			deniedAny = true
			continue
		}
		if e.mount.Open(fd, path) {
			fd.InUse = true
			fd.Mount = e.mount
			fd.MountID = MountId(i)
			fd.Resource = res
			fd.Cursor = 0
			return fdIdx, 0
		}
	}

	p.freeFD(fdIdx)
	if deniedAny {
		return 0, ErrPermissionDenied
	}
	return 0, ErrNotFound
}

// SysClose closes an FD. FD 0 (stdio) cannot be closed.
func (k *Kernel) SysClose(p *PCB, fd FdId) int32 {
	if fd == StdioFD {
		return 0
	}
	if !p.validFD(fd) {
		return ErrNotFound
	}
	slot := &p.fds[fd]
	if slot.Mount != nil {
		slot.Mount.Close(slot)
	}
	p.freeFD(fd)
	return 0
}

// SysRead reads at most len(buf) bytes through fd.
func (k *Kernel) SysRead(p *PCB, fd FdId, buf []byte) int32 {
	if !p.validFD(fd) {
		return ErrNotFound
	}
	slot := &p.fds[fd]
	if slot.Mount == nil {
		return ErrNotFound
	}
	return int32(slot.Mount.Read(slot, buf))
}

// SysWrite writes buf through fd.
func (k *Kernel) SysWrite(p *PCB, fd FdId, buf []byte) int32 {
	if !p.validFD(fd) {
		return ErrNotFound
	}
	slot := &p.fds[fd]
	if slot.Mount == nil {
		return ErrNotFound
	}
	return int32(slot.Mount.Write(slot, buf))
}
