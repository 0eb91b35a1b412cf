package kernel

// PcbId, MountId, and FdId are small integer handles into the kernel's
// arenas. Per the redesign note in the original spec (the PCB table, mount
// table, and page directory form a mutually referencing graph via raw
// pointers in the source), every cross-structure reference in this tree is
// one of these IDs rather than a pointer, and the "current process" is a
// PcbId (NoPCB meaning none), not a raw reference.
type PcbId int

// NoPCB is the sentinel meaning "no process", used before the first
// execute() and as the Kernel's idle current-process state.
const NoPCB PcbId = -1

// MountId indexes the mount table.
type MountId int

// FdId indexes a PCB's file-descriptor table.
type FdId int

const (
	// MaxProcesses bounds the PCB table.
	MaxProcesses = 32

	// NumFDs bounds each PCB's file-descriptor table; index 0 is reserved
	// for stdio.
	NumFDs = 32

	// MaxFilesystems bounds the mount table.
	MaxFilesystems = 8

	// FSNameLen bounds a PCB's name field.
	FSNameLen = 64

	// StdioFD is the reserved stdio descriptor index.
	StdioFD FdId = 0
)
