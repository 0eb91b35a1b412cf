// Package kconfig loads the boot-time TOML configuration document
// (/etc/kernel.toml, resolved through the ordinary image FS like any other
// file) with github.com/pelletier/go-toml/v2, covering exactly the items
// spec §9 calls out as configuration rather than hard-coded policy: the
// sandbox UID and its syscall whitelist/denylist, the ELF-header set-uid
// extension's on/off switch, and the scheduler's timer-tick divisor.
package kconfig

import (
	"github.com/pelletier/go-toml/v2"

	"protokernel/internal/kernel"
)

type schedulerSection struct {
	TicksPerQuantum int `toml:"ticks_per_quantum"`
}

type sandboxSection struct {
	Enabled         bool    `toml:"enabled"`
	SandboxUID      int     `toml:"sandbox_uid"`
	Level1Whitelist []int32 `toml:"level1_whitelist"`
	Level2Denylist  []int32 `toml:"level2_denylist"`
}

type imageSection struct {
	SetUIDHeaderEnabled *bool `toml:"set_uid_header_enabled"`
}

type document struct {
	Scheduler schedulerSection `toml:"scheduler"`
	Sandbox   sandboxSection   `toml:"sandbox"`
	Image     imageSection     `toml:"image"`
}

// Parse decodes text into a kernel.Config, starting from kernel.DefaultConfig
// so a missing or partial document reproduces the hard-coded baseline
// exactly (every field in document is optional).
func Parse(text []byte) (kernel.Config, error) {
	cfg := kernel.DefaultConfig()
	if len(text) == 0 {
		return cfg, nil
	}

	var doc document
	if err := toml.Unmarshal(text, &doc); err != nil {
		return kernel.Config{}, err
	}

	if doc.Scheduler.TicksPerQuantum > 0 {
		cfg.TicksPerQuantum = doc.Scheduler.TicksPerQuantum
	}
	if doc.Sandbox.Enabled {
		cfg.SandboxLevel = 1
		cfg.SandboxUID = doc.Sandbox.SandboxUID
		if len(doc.Sandbox.Level1Whitelist) > 0 {
			cfg.SandboxWhitelist = toSet(doc.Sandbox.Level1Whitelist)
		}
		if len(doc.Sandbox.Level2Denylist) > 0 {
			cfg.SandboxDenylist = toSet(doc.Sandbox.Level2Denylist)
			if len(doc.Sandbox.Level1Whitelist) == 0 {
				cfg.SandboxLevel = 2
			}
		}
	}
	if doc.Image.SetUIDHeaderEnabled != nil {
		cfg.SetUIDHeaderEnabled = *doc.Image.SetUIDHeaderEnabled
	}

	return cfg, nil
}

func toSet(nums []int32) map[int32]bool {
	m := make(map[int32]bool, len(nums))
	for _, n := range nums {
		m[n] = true
	}
	return m
}
