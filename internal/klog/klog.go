// Package klog is the kernel's logging facade: github.com/go-logr/logr
// backed by github.com/go-logr/stdr, writing through the kernel's own
// Console abstraction (an io.Writer over the stdio/graphics collaborators of
// spec §6) rather than os.Stderr directly. Kernel-internal diagnostic
// writes — panic reasons, page-fault reports, syscall rejects — go through
// a logr.Logger obtained here, the same facade
// github.com/ffromani/dra-driver-memory wires logr+stdr through its driver.
package klog

import (
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Console is the minimal sink klog writes diagnostic lines to. The boot
// entry point binds this to whatever interactive/graphics collaborator is
// current; tests bind it to a bytes.Buffer.
type Console interface {
	Write(p []byte) (int, error)
}

// New returns a logr.Logger backed by stdr, writing through console.
func New(console Console, name string) logr.Logger {
	std := log.New(console, "", 0)
	l := stdr.New(std)
	return l.WithName(name)
}
