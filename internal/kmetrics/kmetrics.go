// Package kmetrics wires a small github.com/prometheus/client_golang
// registry into the kernel: counters for the events spec.md's error table
// and invariants already name (context switches, syscalls by number, page
// faults, and the three exhaustion conditions), exposed in Prometheus text
// exposition format through the /proc/metrics pseudo-mount (internal/procfs).
package kmetrics

import (
	"bytes"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry is the kernel's metrics recorder. It satisfies kernel.Metrics by
// duck typing (no import of the kernel package is needed here, keeping this
// package dependency-free of kernel internals).
type Registry struct {
	reg *prometheus.Registry

	contextSwitches    prometheus.Counter
	syscalls           *prometheus.CounterVec
	pageFaults         *prometheus.CounterVec
	fdExhaustion       prometheus.Counter
	pcbExhaustion      prometheus.Counter
	hugePageExhaustion prometheus.Counter
}

// New constructs and registers all counters.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		contextSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "context_switches_total",
			Help: "Total number of process_switch calls.",
		}),
		syscalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syscalls_total",
			Help: "Total syscalls dispatched, by syscall number.",
		}, []string{"num"}),
		pageFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "page_faults_total",
			Help: "Total page/pointer faults observed, by mode.",
		}, []string{"mode"}),
		fdExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fd_exhaustion_total",
			Help: "Total OPEN calls that failed due to no free file descriptor.",
		}),
		pcbExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcb_exhaustion_total",
			Help: "Total execute() calls that failed due to no free PCB.",
		}),
		hugePageExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huge_page_exhaustion_total",
			Help: "Total allocations that failed due to no free huge page.",
		}),
	}
	r.reg.MustRegister(r.contextSwitches, r.syscalls, r.pageFaults, r.fdExhaustion, r.pcbExhaustion, r.hugePageExhaustion)
	return r
}

// ContextSwitch increments the context-switch counter.
func (r *Registry) ContextSwitch() { r.contextSwitches.Inc() }

// Syscall increments the per-number syscall counter.
func (r *Registry) Syscall(num int32) {
	r.syscalls.WithLabelValues(strconv.Itoa(int(num))).Inc()
}

// PageFault increments the page-fault counter for the given mode
// ("user" or "kernel").
func (r *Registry) PageFault(mode string) { r.pageFaults.WithLabelValues(mode).Inc() }

// FDExhausted increments the FD-exhaustion counter.
func (r *Registry) FDExhausted() { r.fdExhaustion.Inc() }

// PCBExhausted increments the PCB-exhaustion counter.
func (r *Registry) PCBExhausted() { r.pcbExhaustion.Inc() }

// HugePageExhausted increments the huge-page-exhaustion counter.
func (r *Registry) HugePageExhausted() { r.hugePageExhaustion.Inc() }

// Gather renders the registry in Prometheus text exposition format, the
// content /proc/metrics serves on read.
func (r *Registry) Gather() ([]byte, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
