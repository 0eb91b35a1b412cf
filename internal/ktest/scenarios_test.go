package ktest_test

import (
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"protokernel/internal/arch"
	"protokernel/internal/ktest"
	"protokernel/internal/kernel"
	"protokernel/internal/user"
)

// ordinaryImage returns a header that passes checkELFHeader as an ordinary,
// non-set-uid binary: top three magic bytes plus the literal 0x7F fourth
// byte, padded out past the entry-point word every image lookup reads.
func ordinaryImage(padding int) []byte {
	b := make([]byte, 28+padding)
	b[0], b[1], b[2], b[3] = 0x7F, 'E', 'L', 0x7F
	return b
}

var _ = ginkgo.Describe("Launch and exit (S1)", func() {
	ginkgo.It("returns the child's sysret value and delivers its stdio output", func() {
		builder := ktest.NewImageBuilder()
		builder.AddFile("/bin/hello", ordinaryImage(0))
		sink := &ktest.BufferSink{}
		k, fs := ktest.Kernel(builder.Build(), user.NewTable(), sink)

		before := len(k.Processes())

		k.RegisterProgram(0, func(sys arch.Syscalls, self int) int32 {
			sys.Write(int32(kernel.StdioFD), []byte("hi\n"))
			sys.Sysret(7)
			return 0
		})

		rv := k.Execute(nil, fs, "/bin/hello", 1, false, false, nil)

		gomega.Expect(rv).To(gomega.Equal(int32(7)))
		gomega.Expect(len(k.Processes())).To(gomega.Equal(before))
		gomega.Expect(sink.Output()).To(gomega.Equal("hi\n"))
	})
})

var _ = ginkgo.Describe("Missing binary (S2)", func() {
	ginkgo.It("reports not-found without touching the PCB table", func() {
		builder := ktest.NewImageBuilder()
		sink := &ktest.BufferSink{}
		k, fs := ktest.Kernel(builder.Build(), user.NewTable(), sink)

		before := len(k.Processes())
		rv := k.Execute(nil, fs, "/nope", 1, false, false, nil)

		gomega.Expect(rv).To(gomega.Equal(kernel.ErrNotFound))
		gomega.Expect(len(k.Processes())).To(gomega.Equal(before))
	})
})

var _ = ginkgo.Describe("Permission denied open (S3)", func() {
	ginkgo.It("denies a non-root caller reading a protected path", func() {
		builder := ktest.NewImageBuilder()
		builder.AddFile("/prot/passwd", []byte("alice\nswordfish\n"))
		sink := &ktest.BufferSink{}
		k, _ := ktest.Kernel(builder.Build(), user.NewTable(), sink)

		child, code := k.ExecuteKernelStep(nil, "probe", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
			return false, 0
		})
		gomega.Expect(code).To(gomega.Equal(int32(0)))
		child.UID = 1

		_, openCode := k.OpenCommon(child, "/prot/passwd")
		gomega.Expect(openCode).To(gomega.Equal(kernel.ErrPermissionDenied))
	})

	ginkgo.It("grants root the same read", func() {
		builder := ktest.NewImageBuilder()
		builder.AddFile("/prot/passwd", []byte("alice\nswordfish\n"))
		sink := &ktest.BufferSink{}
		k, _ := ktest.Kernel(builder.Build(), user.NewTable(), sink)

		child, _ := k.ExecuteKernelStep(nil, "root-probe", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
			return false, 0
		})
		child.UID = 0

		_, openCode := k.OpenCommon(child, "/prot/passwd")
		gomega.Expect(openCode).To(gomega.Equal(int32(0)))
	})
})

var _ = ginkgo.Describe("Directory read (S4)", func() {
	ginkgo.It("lists root's children in declared order, NUL-terminated", func() {
		builder := ktest.NewImageBuilder()
		builder.AddFile("/bin/hello", ordinaryImage(0))
		builder.AddFile("/prot/passwd", []byte("x"))
		builder.AddFile("/proc/placeholder", []byte("x"))
		sink := &ktest.BufferSink{}
		k, _ := ktest.Kernel(builder.Build(), user.NewTable(), sink)

		child, _ := k.ExecuteKernelStep(nil, "reader", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
			return false, 0
		})

		fd, code := k.OpenCommon(child, "/")
		gomega.Expect(code).To(gomega.Equal(int32(0)))

		buf := make([]byte, 4096)
		n := k.SysRead(child, fd, buf)
		gomega.Expect(n).To(gomega.Equal(int32(13)))
		gomega.Expect(string(buf[:n+1])).To(gomega.Equal("bin\nprot\nproc\x00"))
	})
})

var _ = ginkgo.Describe("Non-blocking execute and fairness (S5)", func() {
	ginkgo.It("schedules every launched child at least three times in 3N ticks", func() {
		sink := &ktest.BufferSink{}
		k, _ := ktest.Kernel(ktest.NewImageBuilder().Build(), user.NewTable(), sink)

		counts := map[kernel.PcbId]*schedCounter{}

		for _, name := range []string{"A", "B", "C"} {
			c := &schedCounter{}
			child, code := k.ExecuteKernelStep(nil, name, func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
				c.N++
				return false, 0
			})
			gomega.Expect(code).To(gomega.Equal(int32(0)))
			counts[child.ID] = c
		}

		for i := 0; i < 3*kernel.MaxProcesses; i++ {
			k.Tick()
		}

		verifyFairness(counts)
	})
})

var _ = ginkgo.Describe("Bad pointer (S6)", func() {
	ginkgo.It("kills the caller via a forced sysret(0) instead of trusting the pointer", func() {
		sink := &ktest.BufferSink{}
		k, _ := ktest.Kernel(ktest.NewImageBuilder().Build(), user.NewTable(), sink)

		child, _ := k.ExecuteKernelStep(nil, "offender", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
			return false, 0
		})
		child.KernelProc = false // a user-mode pointer fault is killed, not panicked (spec §7)

		res := k.Dispatch(child, kernel.SyscallArgs{
			Num: kernel.READ, FD: kernel.StdioFD, ReadMax: 10, BufValid: false,
		})

		gomega.Expect(res.Value).To(gomega.Equal(int32(0)))
		gomega.Expect(k.PCB(child.ID)).To(gomega.BeNil())
	})
})
