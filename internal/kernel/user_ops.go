package kernel

// SwitchUser replaces p's UID on successful login, per spec §4.5.
func (k *Kernel) SwitchUser(p *PCB, name, password string) int32 {
	code := k.users.Login(name, password)
	if code < 0 {
		return int32(code)
	}
	p.UID = code
	return 0
}

// GetUser returns the caller's username and UID, per the GETUSER syscall.
func (k *Kernel) GetUser(p *PCB) (string, int) {
	return k.users.Name(p.UID), p.UID
}

// RemoteSwitchUser raises target's UID to caller's UID, allowed only when
// target is strictly less privileged than caller (spec §4.5: a higher
// numeric UID is lower privilege, so target.uid > caller.uid is required).
func (k *Kernel) RemoteSwitchUser(caller *PCB, target PcbId) int32 {
	t := k.procs.get(target)
	if t == nil || !t.InUse {
		return ErrNotFound
	}
	if t.UID <= caller.UID {
		return ErrPermissionDenied
	}
	t.UID = caller.UID
	return 0
}

// Login authenticates against the kernel's user table directly (used by
// boot-time login flows that have no PCB yet).
func (k *Kernel) Login(name, password string) int {
	return k.users.Login(name, password)
}

// LoadUsers parses /prot/passwd content into the kernel's user table.
func (k *Kernel) LoadUsers(text string) (int, error) {
	return k.users.Load(text)
}
