// Package lifecycle implements the six VM lifecycle operations:
// create, clone, power-on, power-off, reset and delete. Each operation
// resolves every named dependency before submitting any mutating task,
// so configuration mistakes surface before the inventory is touched.
package lifecycle

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Bibi40k/vmware-vm-lifecycle/configs"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/device"
)

// DiskConfig describes one virtual disk to create.
type DiskConfig struct {
	Label      string `yaml:"label"`
	CapacityKB int64  `yaml:"capacity_kb"` // kilobytes, passed through unchanged
}

// CDRomConfig describes one CD-ROM drive. An empty ISO path attaches a
// client pass-through drive; otherwise the path must have the form
// "[<datastore>] <filename>".
type CDRomConfig struct {
	ISO       string `yaml:"iso"`
	Connected bool   `yaml:"connected"` // connect at power-on
}

// NICConfig describes one network interface to create.
type NICConfig struct {
	Network    string `yaml:"network"`
	MACMode    string `yaml:"mac_mode"` // "assigned" (default) or "manual"
	MACAddress string `yaml:"mac_address"`
	Connected  bool   `yaml:"connected"`
	Summary    string `yaml:"summary"`
}

// NICUpdate describes a post-clone edit of an existing interface,
// addressed by its hardware name (e.g. "Network adapter 1").
type NICUpdate struct {
	Device     string `yaml:"device"`
	MACAddress string `yaml:"mac_address"` // optional: new manual MAC
	Network    string `yaml:"network"`     // optional: new network label
	Connected  *bool  `yaml:"connected"`   // optional: new connect state
}

// CreateConfig is the declarative description of a VM to create.
type CreateConfig struct {
	Name            string `yaml:"name"`
	Datacenter      string `yaml:"datacenter"`
	Datastore       string `yaml:"datastore"`
	ResourcePool    string `yaml:"resource_pool"`
	Folder          string `yaml:"folder"`
	MemoryMB        int    `yaml:"memory_mb"`
	NumCPUs         int    `yaml:"num_cpus"`
	GuestOSID       string `yaml:"guest_os_id"`
	HardwareVersion string `yaml:"hardware_version"`
	Annotation      string `yaml:"annotation"`
	PowerOn         bool   `yaml:"power_on"`

	Disks  []DiskConfig  `yaml:"disks"`
	CDRoms []CDRomConfig `yaml:"cdroms"`
	NICs   []NICConfig   `yaml:"nics"`
}

// SetDefaults fills hardware defaults from configs/defaults.yaml.
func (cfg *CreateConfig) SetDefaults() {
	d := configs.Defaults.VM
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = d.MemoryMB
	}
	if cfg.NumCPUs == 0 {
		cfg.NumCPUs = d.NumCPUs
	}
	if cfg.GuestOSID == "" {
		cfg.GuestOSID = d.GuestOS
	}
	if cfg.HardwareVersion == "" {
		cfg.HardwareVersion = d.HardwareVersion
	}
}

// Validate checks the configuration before any remote call is made.
func (cfg *CreateConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Datastore == "" {
		return fmt.Errorf("datastore is required")
	}
	if cfg.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be > 0 (got %d)", cfg.MemoryMB)
	}
	if cfg.NumCPUs <= 0 {
		return fmt.Errorf("num_cpus must be > 0 (got %d)", cfg.NumCPUs)
	}
	for i, disk := range cfg.Disks {
		if disk.Label == "" {
			return fmt.Errorf("disks[%d]: label is required", i)
		}
		if disk.CapacityKB <= 0 {
			return fmt.Errorf("disks[%d] %q: capacity_kb must be > 0 (got %d)", i, disk.Label, disk.CapacityKB)
		}
	}
	for i, cd := range cfg.CDRoms {
		if cd.ISO != "" {
			if err := device.ValidateImagePath(cd.ISO); err != nil {
				return fmt.Errorf("cdroms[%d]: %w", i, err)
			}
		}
	}
	for i, nic := range cfg.NICs {
		if nic.Network == "" {
			return fmt.Errorf("nics[%d]: network is required", i)
		}
		switch nic.MACMode {
		case "", string(device.MACAssigned):
		case string(device.MACManual):
			if err := validateMAC(nic.MACAddress); err != nil {
				return fmt.Errorf("nics[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("nics[%d]: mac_mode must be %q or %q (got %q)",
				i, device.MACAssigned, device.MACManual, nic.MACMode)
		}
	}
	return nil
}

// CloneConfig is the declarative description of a clone-from-template
// operation.
type CloneConfig struct {
	Name         string `yaml:"name"`
	Template     string `yaml:"template"`
	Datacenter   string `yaml:"datacenter"`
	Datastore    string `yaml:"datastore"`
	ResourcePool string `yaml:"resource_pool"`
	Folder       string `yaml:"folder"`
	PowerOn      bool   `yaml:"power_on"`

	NICUpdates []NICUpdate `yaml:"nic_updates"`
}

// Validate checks the configuration before any remote call is made.
func (cfg *CloneConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Template == "" {
		return fmt.Errorf("template is required")
	}
	if cfg.Datastore == "" {
		return fmt.Errorf("datastore is required")
	}
	for i, u := range cfg.NICUpdates {
		if u.Device == "" {
			return fmt.Errorf("nic_updates[%d]: device is required", i)
		}
		if u.MACAddress == "" && u.Network == "" && u.Connected == nil {
			return fmt.Errorf("nic_updates[%d] %q: nothing to update", i, u.Device)
		}
		if u.MACAddress != "" {
			if err := validateMAC(u.MACAddress); err != nil {
				return fmt.Errorf("nic_updates[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func validateMAC(mac string) error {
	if mac == "" {
		return fmt.Errorf("manual MAC mode requires mac_address")
	}
	if _, err := net.ParseMAC(mac); err != nil {
		return fmt.Errorf("malformed MAC address %q", mac)
	}
	return nil
}

// LoadCreateConfig reads and validates a create configuration file.
func LoadCreateConfig(path string) (*CreateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg CreateConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadCloneConfig reads and validates a clone configuration file.
func LoadCloneConfig(path string) (*CloneConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg CloneConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
