package kernel

// Tick implements the round-robin scheduler of spec §4.8. It is meant to be
// invoked by a boot-time timer-tick collaborator (out of scope here; tests
// and cmd/ksim call it directly). Only non-blocking, cooperatively-ticked
// kernel processes (those with a non-nil StepFunc) are actually resumable
// across ticks in this tree — see execute.go's doc comment for why blocking
// launches and user programs instead run to completion synchronously inside
// Execute, which models the source's immediate context switch on launch.
//
// Algorithm: starting at (current.id+1) mod MaxProcesses, find the first
// in_use, non-blocking-execute, non-sleeping PCB. If it should die, it exits
// through Sysret(Killed) instead of being stepped. Otherwise it gets one
// quantum via StepFunc; Tick performs the Sysret bookkeeping itself when a
// step reports completion, since that process has no parent waiting
// synchronously on its call stack to do so.
func (k *Kernel) Tick() {
	if k.halted {
		return
	}

	startIdx := 0
	if k.current != NoPCB {
		startIdx = int(k.current) + 1
	}

	for i := 0; i < MaxProcesses; i++ {
		idx := PcbId((startIdx + i) % MaxProcesses)
		p := k.procs.get(idx)
		if p == nil || !p.InUse || p.BlockingExecute || p.Sleeping {
			continue
		}

		if p.ShouldDie {
			k.processSwitch(p)
			k.Sysret(p.ID, Killed)
			return
		}

		if p.StepFunc == nil {
			// Runnable but not a cooperatively-ticked process (e.g. a
			// parent that is between syscalls); nothing to step, but it
			// still becomes current so the next tick's ring search starts
			// past it instead of finding it again forever.
			k.processSwitch(p)
			return
		}

		k.processSwitch(p)
		done, retval := p.StepFunc(k, p.ID)
		if done {
			k.Sysret(p.ID, retval)
		}
		return
	}
}

// Sleep marks p as sleeping for ticks scheduler ticks, making it invisible
// to Tick until SleepTick has decremented it to zero.
func (k *Kernel) Sleep(p *PCB, ticks int) {
	p.Sleeping = true
	p.TicksRemaining = ticks
}

// SleepTick advances every sleeping PCB's countdown by one tick, waking
// those that reach zero. Called once per timer tick alongside Tick.
func (k *Kernel) SleepTick() {
	for i := range k.procs.pcbs {
		p := &k.procs.pcbs[i]
		if p.InUse && p.Sleeping {
			p.TicksRemaining--
			if p.TicksRemaining <= 0 {
				p.Sleeping = false
			}
		}
	}
}

// Kill arranges for p to terminate the next time the scheduler selects it
// (spec §5, "Cancellation").
func (k *Kernel) Kill(p *PCB) {
	p.ShouldDie = true
}
