// Package ktest provides the test-harness collaborators the core kernel
// needs but spec §1 places out of scope (the interactive sink, the
// graphics sink) and a small in-memory image-FS builder, so unit tests and
// cmd/ksim can assemble a fully wired Kernel without a real host directory
// tree or a real UART/framebuffer. Grounded in how the teacher itself keeps
// device drivers behind small interfaces (arch.InteractiveSink,
// arch.GraphicsSink) so the kernel logic proper never talks to hardware
// directly.
package ktest

import (
	"bytes"
	"sync"

	"protokernel/internal/fsimage"
	"protokernel/internal/imagefs"
	"protokernel/internal/kconfig"
	"protokernel/internal/kernel"
	"protokernel/internal/klog"
	"protokernel/internal/kmetrics"
	"protokernel/internal/procfs"
	"protokernel/internal/stdiofs"
	"protokernel/internal/user"
)

// BufferSink is an in-memory stdiofs.Sink: writes accumulate in Output(),
// reads are served from a queue of pre-loaded lines.
type BufferSink struct {
	mu    sync.Mutex
	out   bytes.Buffer
	lines [][]byte
}

// QueueLine enqueues one line for a future ReadLine call, standing in for
// the interactive collaborator's "blocking until the line terminator
// arrives" (spec §4.4): a queued line is already terminated, so ReadLine
// never actually blocks in this harness.
func (s *BufferSink) QueueLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, []byte(line))
}

func (s *BufferSink) PutChar(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.WriteByte(c)
}

// Write makes BufferSink usable as a klog.Console, so log lines land in the
// same buffer PutChar writes accumulate in.
func (s *BufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *BufferSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Reset()
}

func (s *BufferSink) ReadLine(max int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return nil
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	if len(line) > max {
		line = line[:max]
	}
	return line
}

func (s *BufferSink) OnEnter() {}
func (s *BufferSink) OnBreak() {}

// Output returns everything written through PutChar/Write so far.
func (s *BufferSink) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

// PanicRecorder is an in-memory arch.GraphicsSink: it records the last
// panic screen and every alert modal instead of rendering anything.
type PanicRecorder struct {
	mu     sync.Mutex
	Reason string
	Code   uint32
	Panics int
	Alerts []string
}

func (p *PanicRecorder) PanicScreen(reason string, code uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reason, p.Code = reason, code
	p.Panics++
}

func (p *PanicRecorder) AlertModal(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Alerts = append(p.Alerts, message)
}

// ImageBuilder assembles an in-memory fsimage.Image directly from path/
// content pairs, without touching a host filesystem — the test-only
// counterpart to cmd/mkimage's directory walk.
type ImageBuilder struct {
	dirs  map[string][]string // dir path -> child names, root is ""
	files map[string][]byte   // file path -> content
}

// NewImageBuilder returns an empty builder with just the root directory.
func NewImageBuilder() *ImageBuilder {
	return &ImageBuilder{dirs: map[string][]string{"": nil}, files: map[string][]byte{}}
}

// AddFile registers a file at an absolute path (e.g. "/prot/passwd"),
// creating any missing intermediate directories.
func (b *ImageBuilder) AddFile(path string, content []byte) {
	path = trimSlashes(path)
	dir, name := splitLast(path)
	b.ensureDir(dir)
	b.dirs[dir] = append(b.dirs[dir], name)
	b.files[path] = content
}

func (b *ImageBuilder) ensureDir(dir string) {
	if _, ok := b.dirs[dir]; ok {
		return
	}
	parent, name := splitLast(dir)
	b.ensureDir(parent)
	b.dirs[parent] = append(b.dirs[parent], name)
	b.dirs[dir] = nil
}

func splitLast(path string) (dir, name string) {
	i := lastSlash(path)
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func trimSlashes(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Build encodes the accumulated tree into an fsimage.Image with the root
// directory at block 0.
func (b *ImageBuilder) Build() *fsimage.Image {
	img := &fsimage.Image{}
	idx := map[string]uint32{}

	var encodeDir func(path string) uint32
	encodeDir = func(path string) uint32 {
		var children []uint32
		for _, name := range b.dirs[path] {
			child := joinPath(path, name)
			if _, isDir := b.dirs[child]; isDir {
				children = append(children, encodeDir(child))
			} else {
				children = append(children, encodeFile(img, child, b.files[child]))
			}
		}
		blk := fsimage.EncodeListBlock(fsimage.MagicDir, lastComponent(path), children)
		i := img.Append(blk)
		idx[path] = i
		return i
	}

	rootIdx := encodeDir("")
	if rootIdx != 0 {
		img.Blocks[0], img.Blocks[rootIdx] = img.Blocks[rootIdx], img.Blocks[0]
	}
	return img
}

func encodeFile(img *fsimage.Image, path string, content []byte) uint32 {
	var dataIdx []uint32
	for _, blk := range fsimage.EncodeDataBlocks(content) {
		dataIdx = append(dataIdx, img.Append(blk))
	}
	entry := fsimage.EncodeListBlock(fsimage.MagicFile, lastComponent(path), dataIdx)
	return img.Append(entry)
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func lastComponent(path string) string {
	_, name := splitLast(path)
	return name
}

// Kernel wires up a Kernel with the image FS, process-FS, and stdio mounts
// every boot-time kernel in spec §2's overview carries, for scenario tests
// to launch processes against. Single-block mount composition mirrors the
// way a real boot entry point would call Mount for each backend in order.
// The returned *imagefs.FS is also the kernel.ImageReader Execute needs to
// resolve a user binary's path, since the built-in image FS is the only
// mount that ever holds one.
//
// Configuration, logging, and metrics are wired the way a real boot entry
// point would assemble them: the image FS is consulted for /etc/kernel.toml
// before anything else mounts (kconfig.Parse falls back to
// kernel.DefaultConfig when the file is absent, so callers that never add
// one see unchanged behavior), log lines go through klog.New into sink so a
// test can assert on them the same way it asserts on stdio, and a fresh
// kmetrics.Registry is both handed to kernel.New and installed on the
// process-FS mount so /proc/metrics is always live.
func Kernel(img *fsimage.Image, users *user.Table, sink *BufferSink) (*kernel.Kernel, *imagefs.FS) {
	fs := imagefs.New(img)

	cfg := kernel.DefaultConfig()
	if text, ok := fs.ReadFile("/etc/kernel.toml"); ok {
		if parsed, err := kconfig.Parse(text); err == nil {
			cfg = parsed
		}
	}

	metrics := kmetrics.New()
	log := klog.New(sink, "kernel")

	k := kernel.New(cfg, users, log, metrics)
	k.Mount("/", fs)
	pfs := procfs.New(k)
	pfs.SetMetrics(metrics)
	k.Mount("/proc", pfs)
	k.SetStdio(stdiofs.New(sink))
	return k, fs
}
