package kernel_test

import (
	"protokernel/internal/kernel"
)

// fakeImage is a minimal kernel.ImageReader backed by an in-memory map, for
// tests that need Execute to resolve a user-mode program's bytes without a
// real image FS.
type fakeImage struct {
	files map[string][]byte
}

func newFakeImage() *fakeImage { return &fakeImage{files: map[string][]byte{}} }

func (f *fakeImage) put(path string, data []byte) { f.files[path] = data }

func (f *fakeImage) ReadFile(path string) ([]byte, bool) {
	b, ok := f.files[path]
	return b, ok
}

// ordinaryELF returns a minimal image whose header passes the lax ELF magic
// check and carries the "ordinary, no set-uid" byte in position 3. A real
// ELF's fourth magic byte ('F', 0x46) would instead be read as a set-uid
// directive by this kernel's header overload, so every fixture that wants
// "no set-uid" must use this literal 0x7F byte, not a real ELF magic word.
func ordinaryELF(size int) []byte {
	b := make([]byte, size)
	b[0], b[1], b[2], b[3] = 0x7F, 'E', 'L', 0x7F
	return b
}

// setUIDELF returns a minimal image whose header requests a set-uid
// directive: blocking iff the high bit of the fourth byte is clear, target
// uid in the low 7 bits.
func setUIDELF(size int, blocking bool, uid int) []byte {
	b := make([]byte, size)
	b[0], b[1], b[2] = 0x7F, 'E', 'L'
	v := byte(uid & 0x7F)
	if !blocking {
		v |= 0x80
	}
	b[3] = v
	return b
}

// fakeMount is a minimal kernel.Mount that claims exactly one path and
// serves fixed content.
type fakeMount struct {
	path    string
	content []byte
	opened  int
	closed  int
}

func (m *fakeMount) Open(fd *kernel.FD, path string) bool {
	if path != m.path {
		return false
	}
	m.opened++
	fd.State = 0
	return true
}

func (m *fakeMount) Close(fd *kernel.FD) { m.closed++ }

func (m *fakeMount) Read(fd *kernel.FD, out []byte) int {
	cursor, _ := fd.State.(int)
	if cursor >= len(m.content) {
		return 0
	}
	n := copy(out, m.content[cursor:])
	fd.State = cursor + n
	return n
}

func (m *fakeMount) Write(fd *kernel.FD, in []byte) int { return len(in) }

// fakeGfx is a minimal arch.GraphicsSink recording the last panic screen and
// every alert modal, for asserting on kernel-mode fault handling directly.
type fakeGfx struct {
	panics int
	reason string
	code   uint32
	alerts []string
}

func (g *fakeGfx) PanicScreen(reason string, code uint32) {
	g.panics++
	g.reason, g.code = reason, code
}

func (g *fakeGfx) AlertModal(message string) { g.alerts = append(g.alerts, message) }
