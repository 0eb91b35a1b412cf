// Package procfs implements the process-FS pseudo mount of spec §4.4
// (the single synthetic file /proc/all) and its SPEC_FULL.md-additive
// sibling /proc/metrics, which serves internal/kmetrics's registry in
// Prometheus text exposition format. Both are ordinary mounts resolved
// through the mount table like any other filesystem (spec §4.2); neither
// changes FS ordering semantics or supports writes or seeks.
package procfs

import (
	"fmt"
	"strings"

	"protokernel/internal/kernel"
)

// Gatherer is the capability internal/kmetrics.Registry satisfies; /proc/metrics
// is omitted from the mount (its Open simply never claims the path) when no
// Gatherer has been installed, so a kernel built without metrics still boots.
type Gatherer interface {
	Gather() ([]byte, error)
}

// FS is the process-FS mount.
type FS struct {
	k       *kernel.Kernel
	metrics Gatherer
}

// New wraps k as a mountable process-table/metrics backend.
func New(k *kernel.Kernel) *FS {
	return &FS{k: k}
}

// SetMetrics installs the metrics gatherer /proc/metrics serves; nil (the
// default) means /proc/metrics claims nothing.
func (fs *FS) SetMetrics(g Gatherer) { fs.metrics = g }

func normalize(path string) string {
	return strings.Trim(path, "/")
}

// state is the precomputed payload snapshotted at Open time; like the
// image FS's directory listings, there is no live re-read mid-stream.
type state struct {
	payload []byte
}

// Open claims exactly "proc/all" (spec §4.4) and, if a Gatherer is
// installed, "proc/metrics" (SPEC_FULL.md §4.1).
func (fs *FS) Open(fd *kernel.FD, path string) bool {
	switch normalize(path) {
	case "proc/all":
		fd.State = &state{payload: fs.serializeAll()}
		return true
	case "proc/metrics":
		if fs.metrics == nil {
			return false
		}
		b, err := fs.metrics.Gather()
		if err != nil {
			return false
		}
		fd.State = &state{payload: b}
		return true
	default:
		return false
	}
}

func (fs *FS) Close(fd *kernel.FD) { fd.State = nil }

// Read returns the full snapshotted payload on the first read; a subsequent
// read at a nonzero cursor returns 0 bytes, matching spec §4.4's "no seek
// support".
func (fs *FS) Read(fd *kernel.FD, out []byte) int {
	st, ok := fd.State.(*state)
	if !ok || st == nil {
		return 0
	}
	if fd.Cursor != 0 {
		return 0
	}
	n := copy(out, st.payload)
	fd.Cursor += n
	return n
}

// Write is unsupported; returns 0, not an error, consistent with the
// built-in image FS (spec §4.3).
func (fs *FS) Write(fd *kernel.FD, in []byte) int { return 0 }

// serializeAll formats one line per in-use PCB: "<hex id>: <name> [KERNEL]"
// for kernel procs, "<hex id>: <name> (UID = <hex uid>)" otherwise (spec
// §4.4), joined by newlines in table order.
func (fs *FS) serializeAll() []byte {
	procs := fs.k.Processes()
	lines := make([]string, 0, len(procs))
	for _, p := range procs {
		if p.KernelProc {
			lines = append(lines, fmt.Sprintf("%x: %s [KERNEL]", int(p.ID), p.Name))
		} else {
			lines = append(lines, fmt.Sprintf("%x: %s (UID = %x)", int(p.ID), p.Name, p.UID))
		}
	}
	return []byte(strings.Join(lines, "\n"))
}
