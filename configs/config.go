// Package configs provides library defaults loaded from an embedded YAML file.
// All hardcoded values live in defaults.yaml.
package configs

import (
	_ "embed"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults holds all library default values (loaded from defaults.yaml at startup).
var Defaults LibDefaults

func init() {
	if err := yaml.Unmarshal(defaultsYAML, &Defaults); err != nil {
		panic("vmware-vm-lifecycle: invalid defaults.yaml: " + err.Error())
	}
}

// LibDefaults holds all configurable library defaults.
type LibDefaults struct {
	VCenter VCenterDefaults `yaml:"vcenter"`
	VM      VMDefaults      `yaml:"vm"`
	Task    TaskDefaults    `yaml:"task"`
	Policy  PolicyDefaults  `yaml:"policy"`
}

// VCenterDefaults holds vCenter connection defaults.
type VCenterDefaults struct {
	Port int `yaml:"port"`
}

// VMDefaults holds VM hardware defaults used when a create config
// leaves the corresponding field empty.
type VMDefaults struct {
	MemoryMB        int    `yaml:"memory_mb"`
	NumCPUs         int    `yaml:"num_cpus"`
	GuestOS         string `yaml:"guest_os"`
	HardwareVersion string `yaml:"hardware_version"`
}

// TaskDefaults holds task polling defaults.
type TaskDefaults struct {
	PollSeconds    int `yaml:"poll_seconds"`
	TimeoutMinutes int `yaml:"timeout_minutes"`
}

// PolicyDefaults holds lifecycle policy defaults.
type PolicyDefaults struct {
	// PowerOffBeforeDelete opts delete into power-off-then-destroy.
	// The default (false) refuses to delete a powered-on VM.
	PowerOffBeforeDelete bool `yaml:"power_off_before_delete"`
}

// As time.Duration convenience methods.

func (t TaskDefaults) Poll() time.Duration {
	return time.Duration(t.PollSeconds) * time.Second
}
func (t TaskDefaults) Timeout() time.Duration {
	return time.Duration(t.TimeoutMinutes) * time.Minute
}
