// Command ksim boots an in-process Kernel over a built-in scratch image (it
// does not load an image file from disk) and runs one of the named
// end-to-end scenarios from the kernel specification
// §8, printing the observed return codes and bytes for manual verification.
// This is developer tooling only: spec §6 states plainly that the kernel
// itself has no CLI surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"protokernel/internal/arch"
	"protokernel/internal/fsimage"
	"protokernel/internal/kernel"
	"protokernel/internal/ktest"
	"protokernel/internal/user"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ksim:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ksim",
		Short: "Drive the kernel's core logic through named end-to-end scenarios",
	}
	root.AddCommand(newScenarioCmd())
	return root
}

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "scenario <name>",
		Short:     "Run one of spec §8's S1..S6 scenarios and print the observed results",
		ValidArgs: []string{"S1", "S2", "S3", "S4", "S5", "S6"},
		Args:      cobra.ExactValidArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, ok := scenarios[args[0]]
			if !ok {
				return fmt.Errorf("unknown scenario %q", args[0])
			}
			return fn(cmd.OutOrStdout())
		},
	}
}

var scenarios = map[string]func(out interface{ Write([]byte) (int, error) }) error{
	"S1": scenarioS1,
	"S2": scenarioS2,
	"S3": scenarioS3,
	"S4": scenarioS4,
	"S5": scenarioS5,
	"S6": scenarioS6,
}

// newScratchImage returns a minimal image FS: root -> {bin/, prot/} with
// bin/hello a dummy ELF-prefixed image and prot/passwd one user "alice".
func newScratchImage() (*fsimage.Image, *user.Table) {
	b := ktest.NewImageBuilder()
	hello := make([]byte, 28)
	// 0x7F 'E' 'L' 0x7F: lax magic (first three bytes only) plus the ordinary,
	// non-set-uid image-header byte (spec §4.6/§6) rather than a literal
	// ELF version byte, which this kernel's header overload would instead
	// read as a set-uid directive.
	copy(hello, []byte{0x7F, 'E', 'L', 0x7F})
	b.AddFile("/bin/hello", hello)
	b.AddFile("/prot/passwd", []byte("alice\nswordfish\n"))
	users := user.NewTable()
	users.Load("alice\nswordfish\n")
	return b.Build(), users
}

func scenarioS1(out interface{ Write([]byte) (int, error) }) error {
	img, users := newScratchImage()
	sink := &ktest.BufferSink{}
	k, fs := ktest.Kernel(img, users, sink)

	k.RegisterProgram(0, func(sys arch.Syscalls, self int) int32 {
		sys.Write(0, []byte("hi\n"))
		sys.Sysret(7)
		return 7
	})

	rv := k.Execute(nil, fs, "/bin/hello", 1, false, false, nil)
	fmt.Fprintf(out, "S1: execute returned %d; stdio observed %q\n", rv, sink.Output())
	return nil
}

func scenarioS2(out interface{ Write([]byte) (int, error) }) error {
	img, users := newScratchImage()
	sink := &ktest.BufferSink{}
	k, fs := ktest.Kernel(img, users, sink)
	rv := k.Execute(nil, fs, "/nope", 1, false, false, nil)
	fmt.Fprintf(out, "S2: execute(\"/nope\") returned %d\n", rv)
	return nil
}

func scenarioS3(out interface{ Write([]byte) (int, error) }) error {
	img, users := newScratchImage()
	sink := &ktest.BufferSink{}
	k, _ := ktest.Kernel(img, users, sink)
	child, code := k.ExecuteKernelStep(nil, "probe", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) { return true, 0 })
	if code != 0 {
		return fmt.Errorf("setup failed: %d", code)
	}
	child.UID = 1
	_, openCode := k.OpenCommon(child, "/prot/passwd")
	fmt.Fprintf(out, "S3: open(\"/prot/passwd\") as uid=1 returned %d\n", openCode)
	return nil
}

func scenarioS4(out interface{ Write([]byte) (int, error) }) error {
	img, users := newScratchImage()
	sink := &ktest.BufferSink{}
	k, _ := ktest.Kernel(img, users, sink)
	child, code := k.ExecuteKernelStep(nil, "probe", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) { return true, 0 })
	if code != 0 {
		return fmt.Errorf("setup failed: %d", code)
	}
	fd, openCode := k.OpenCommon(child, "/")
	if openCode != 0 {
		return fmt.Errorf("open(\"/\") failed: %d", openCode)
	}
	buf := make([]byte, 4096)
	n := k.SysRead(child, fd, buf)
	fmt.Fprintf(out, "S4: read returned %d bytes: %q\n", n, buf[:n])
	return nil
}

func scenarioS5(out interface{ Write([]byte) (int, error) }) error {
	img, users := newScratchImage()
	sink := &ktest.BufferSink{}
	k, _ := ktest.Kernel(img, users, sink)

	const N = kernel.MaxProcesses
	counts := make([]int, 3)
	for i := 0; i < 3; i++ {
		idx := i
		k.ExecuteKernelStep(nil, fmt.Sprintf("child-%d", i), func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) {
			counts[idx]++
			return false, 0
		})
	}
	for t := 0; t < 3*N; t++ {
		k.Tick()
	}
	fmt.Fprintf(out, "S5: after %d ticks, scheduled counts = %v (each >= 3: %v)\n", 3*N, counts, counts[0] >= 3 && counts[1] >= 3 && counts[2] >= 3)
	return nil
}

func scenarioS6(out interface{ Write([]byte) (int, error) }) error {
	img, users := newScratchImage()
	sink := &ktest.BufferSink{}
	k, _ := ktest.Kernel(img, users, sink)
	child, code := k.ExecuteKernelStep(nil, "probe", func(k *kernel.Kernel, self kernel.PcbId) (bool, int32) { return true, 0 })
	if code != 0 {
		return fmt.Errorf("setup failed: %d", code)
	}
	child.KernelProc = false // a user-mode pointer fault is killed, not panicked (spec §7)
	res := k.Dispatch(child, kernel.SyscallArgs{Num: kernel.READ, FD: 0, ReadMax: 10, BufValid: false})
	fmt.Fprintf(out, "S6: bad-pointer READ returned %d; stdio observed %q\n", res.Value, sink.Output())
	return nil
}
