// Package stdiofs implements the STDIO mount of spec §4.4: a singleton
// backend bound directly to FD 0 of every PCB at creation (kernel.Kernel's
// processCreate does the binding; this mount is never reached through
// OpenCommon's path-based dispatch and is never registered in the mount
// table). Grounded in the teacher's UART collaborator (uart_qemu.go,
// uart_rpi.go), which plays the same "current interactive sink" role for a
// freestanding kernel's console.
package stdiofs

import "protokernel/internal/kernel"

// Sink is the "current typeable" collaborator of spec §6: keyboard input
// and line-mode text output, named arch.InteractiveSink at the arch
// boundary. Declared locally rather than imported from internal/arch so
// this package can be satisfied by any console-shaped type without an
// import-cycle risk as internal/arch grows.
type Sink interface {
	PutChar(c byte)
	Clear()
	ReadLine(max int) []byte
	OnEnter()
	OnBreak()
}

// FS is the STDIO mount: read delivers a line from the current sink,
// blocking until the terminator arrives (modeled here as Sink.ReadLine
// returning once a full line is available — the actual blocking/suspension
// happens in the sink implementation, out of this package's scope per
// spec §6); write forwards bytes to it.
type FS struct {
	sink Sink
}

// New wraps sink as a mountable STDIO backend.
func New(sink Sink) *FS {
	return &FS{sink: sink}
}

// Open never claims a path: stdio is bound directly to FD 0 at PCB
// creation, not resolved through the mount table.
func (fs *FS) Open(fd *kernel.FD, path string) bool { return false }

// Close is a no-op; FD 0 cannot be closed (spec §4.2), so this is never
// reached in practice, but satisfies the Mount interface.
func (fs *FS) Close(fd *kernel.FD) {}

// Read delivers at most len(out) bytes of one line from the sink. Per the
// original stdio_read (spec.md §4.4 is silent on the framing detail; the
// original is the source of truth here, see SPEC_FULL.md §4.4), a NUL
// terminator is always written into out immediately after the returned
// bytes; if the line fills out exactly, the last byte is sacrificed to make
// room for the terminator and is not counted in the returned byte count.
func (fs *FS) Read(fd *kernel.FD, out []byte) int {
	if len(out) == 0 {
		return 0
	}
	line := fs.sink.ReadLine(len(out))
	n := copy(out, line)
	if n == len(out) {
		n--
	}
	out[n] = 0
	return n
}

// Write forwards in to the sink one byte at a time, mirroring the
// original's character-at-a-time console output.
func (fs *FS) Write(fd *kernel.FD, in []byte) int {
	for _, c := range in {
		fs.sink.PutChar(c)
	}
	return len(in)
}
