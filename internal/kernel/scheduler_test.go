package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protokernel/internal/kernel"
)

func TestTickRoundRobinsAcrossRunnableProcesses(t *testing.T) {
	k := newTestKernel()

	counts := make(map[kernel.PcbId]int)
	for i := 0; i < 3; i++ {
		c, code := k.ExecuteKernelStep(nil, "worker", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
			counts[self]++
			return false, 0
		})
		require.Equal(t, int32(0), code)
		_ = c
	}

	for i := 0; i < 3*kernel.MaxProcesses; i++ {
		k.Tick()
	}

	require.Len(t, counts, 3)
	for id, n := range counts {
		assert.GreaterOrEqual(t, n, 3, "process %d should have been scheduled multiple times", id)
	}
}

func TestTickSkipsBlockingExecuteAndSleeping(t *testing.T) {
	k := newTestKernel()

	ran := false
	child, code := k.ExecuteKernelStep(nil, "sleeper", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
		ran = true
		return false, 0
	})
	require.Equal(t, int32(0), code)

	child.BlockingExecute = true
	k.Tick()
	assert.False(t, ran, "a process blocked on a child's execute must not be scheduled")
	child.BlockingExecute = false

	k.Sleep(child, 5)
	for i := 0; i < 3; i++ {
		k.Tick()
	}
	assert.False(t, ran, "a sleeping process must not be scheduled")

	for i := 0; i < 10; i++ {
		k.SleepTick()
	}
	k.Tick()
	assert.True(t, ran, "a process must resume once its sleep countdown elapses")
}

func TestKillTerminatesOnNextSchedule(t *testing.T) {
	k := newTestKernel()
	child, code := k.ExecuteKernelStep(nil, "victim", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
		return false, 0
	})
	require.Equal(t, int32(0), code)

	k.Kill(child)
	k.Tick()

	assert.Nil(t, k.PCB(child.ID), "a killed process must be gone after its next scheduled tick")
}

func TestTickCompletesAndDestroysStepFuncProcess(t *testing.T) {
	k := newTestKernel()
	child, code := k.ExecuteKernelStep(nil, "onceAndDone", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
		return true, 42
	})
	require.Equal(t, int32(0), code)

	k.Tick()
	assert.Nil(t, k.PCB(child.ID), "a step reporting done=true must be destroyed by Tick")
}
