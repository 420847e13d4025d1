// Package device composes virtual hardware change-sets for create and
// reconfigure operations. The builder owns device key allocation: keys
// handed to "add" descriptors are unique and strictly above the highest
// key observed on the target VM at build time, so a change-set can
// never collide with hardware that already exists.
package device

import (
	"context"
	"fmt"
	"net"
	"regexp"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
)

// MACMode selects how a network interface gets its MAC address.
type MACMode string

const (
	// MACAssigned lets the platform assign the address.
	MACAssigned MACMode = "assigned"
	// MACManual uses an explicitly provided address.
	MACManual MACMode = "manual"
)

// datastorePathRe matches the bracketed-datastore image path form,
// e.g. "[ISOs] ubuntu-24.04.iso" or "[DS1] isos/netboot.iso".
var datastorePathRe = regexp.MustCompile(`^\[[^\[\]]+\] \S.*$`)

// ValidateImagePath checks the bracketed-datastore image path form.
func ValidateImagePath(path string) error {
	if !datastorePathRe.MatchString(path) {
		return fmt.Errorf("image path %q must have the form \"[<datastore>] <filename>\"", path)
	}
	return nil
}

// NIC describes a network interface to add.
type NIC struct {
	Label      string // network label, e.g. "VM Network"
	MACMode    MACMode
	MACAddress string // required for MACManual
	Connected  bool
	Summary    string
	// Backing resolved from the network reference; when nil a standard
	// network backing named after Label is used.
	Backing types.BaseVirtualDeviceBackingInfo
}

// Builder accumulates device change descriptors for one VM.
// A fresh builder (New) targets a VM that does not exist yet; a seeded
// builder (FromDevices/ForVM) targets an existing VM and allocates keys
// above the current inventory's maximum.
type Builder struct {
	vmName    string
	datastore string

	nextKey  int32
	scsiKey  int32
	hasSCSI  bool
	diskUnit int32

	existing object.VirtualDeviceList
	changes  []*types.VirtualDeviceConfigSpec

	// ideSlots tracks how many devices each IDE controller carries,
	// including pending adds, keyed by controller key.
	ideSlots map[int32]int
}

// New returns a builder for a VM that does not exist yet.
func New(vmName, datastore string) *Builder {
	return FromDevices(vmName, datastore, nil)
}

// FromDevices returns a builder seeded from the target VM's current
// device inventory. The key allocator starts above the highest key
// observed so added devices cannot collide with existing hardware.
func FromDevices(vmName, datastore string, existing object.VirtualDeviceList) *Builder {
	b := &Builder{
		vmName:    vmName,
		datastore: datastore,
		nextKey:   1,
		existing:  existing,
		ideSlots:  make(map[int32]int),
	}

	for _, dev := range existing {
		d := dev.GetVirtualDevice()
		if d.Key >= b.nextKey {
			b.nextKey = d.Key + 1
		}
		switch c := dev.(type) {
		case types.BaseVirtualSCSIController:
			if !b.hasSCSI {
				b.scsiKey = c.GetVirtualSCSIController().Key
				b.hasSCSI = true
			}
		case *types.VirtualIDEController:
			b.ideSlots[c.Key] = len(c.Device)
		}
	}

	// Seed the disk unit allocator from disks already on the bus.
	for _, dev := range existing {
		if disk, ok := dev.(*types.VirtualDisk); ok && disk.UnitNumber != nil {
			if *disk.UnitNumber >= b.diskUnit {
				b.diskUnit = *disk.UnitNumber + 1
			}
		}
	}

	return b
}

// ForVM reads the VM's live device inventory and returns a seeded builder.
func ForVM(ctx context.Context, vm *object.VirtualMachine, datastore string) (*Builder, error) {
	devices, err := vm.Device(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read device inventory of %q: %w", vm.Name(), err)
	}
	return FromDevices(vm.Name(), datastore, devices), nil
}

func (b *Builder) allocateKey() int32 {
	key := b.nextKey
	b.nextKey++
	return key
}

// ensureSCSIController returns the key of the controller disks attach
// to, adding an LsiLogic controller descriptor when the VM has none.
func (b *Builder) ensureSCSIController() int32 {
	if b.hasSCSI {
		return b.scsiKey
	}

	key := b.allocateKey()
	ctrl := &types.VirtualLsiLogicController{
		VirtualSCSIController: types.VirtualSCSIController{
			SharedBus: types.VirtualSCSISharingNoSharing,
			VirtualController: types.VirtualController{
				BusNumber: 0,
				VirtualDevice: types.VirtualDevice{
					Key: key,
				},
			},
		},
	}
	b.changes = append(b.changes, &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationAdd,
		Device:    ctrl,
	})

	b.scsiKey = key
	b.hasSCSI = true
	return key
}

// nextDiskUnit allocates the next SCSI unit number, skipping unit 7
// which is reserved for the controller itself.
func (b *Builder) nextDiskUnit() int32 {
	unit := b.diskUnit
	if unit == 7 {
		unit++
	}
	b.diskUnit = unit + 1
	return unit
}

// AddDisk appends an add descriptor for a thin-provisioned disk backed
// by "[datastore] vmName/vmName-label.vmdk". Capacity is in kilobytes
// and passed through unchanged.
func (b *Builder) AddDisk(label string, capacityKB int64) (*types.VirtualDeviceConfigSpec, error) {
	if capacityKB <= 0 {
		return nil, fmt.Errorf("disk %q: capacity must be > 0 KB (got %d)", label, capacityKB)
	}

	ctrlKey := b.ensureSCSIController()
	unit := b.nextDiskUnit()

	disk := &types.VirtualDisk{
		VirtualDevice: types.VirtualDevice{
			Key:           b.allocateKey(),
			ControllerKey: ctrlKey,
			UnitNumber:    &unit,
			Backing: &types.VirtualDiskFlatVer2BackingInfo{
				DiskMode:        string(types.VirtualDiskModePersistent),
				ThinProvisioned: types.NewBool(true),
				VirtualDeviceFileBackingInfo: types.VirtualDeviceFileBackingInfo{
					FileName: fmt.Sprintf("[%s] %s/%s-%s.vmdk", b.datastore, b.vmName, b.vmName, label),
				},
			},
		},
		CapacityInKB: capacityKB,
	}

	spec := &types.VirtualDeviceConfigSpec{
		Operation:     types.VirtualDeviceConfigSpecOperationAdd,
		FileOperation: types.VirtualDeviceConfigSpecFileOperationCreate,
		Device:        disk,
	}
	b.changes = append(b.changes, spec)
	return spec, nil
}

// freeIDEController returns the key of an IDE controller with a free
// slot, accounting for drives this builder has already attached.
func (b *Builder) freeIDEController() (int32, error) {
	for _, dev := range b.existing {
		if ide, ok := dev.(*types.VirtualIDEController); ok {
			if b.ideSlots[ide.Key] < 2 {
				b.ideSlots[ide.Key]++
				return ide.Key, nil
			}
		}
	}
	return 0, fmt.Errorf("no IDE controller with a free slot on %q", b.vmName)
}

// AddCDRom appends an add descriptor for a CD-ROM drive. An empty
// imagePath uses client pass-through backing; otherwise imagePath must
// be a datastore image path of the form "[<datastore>] <filename>".
func (b *Builder) AddCDRom(imagePath string, startConnected bool) (*types.VirtualDeviceConfigSpec, error) {
	var backing types.BaseVirtualDeviceBackingInfo
	if imagePath != "" {
		if err := ValidateImagePath(imagePath); err != nil {
			return nil, fault.Wrap(fault.InvalidReference, "add cdrom", b.vmName, err)
		}
		backing = &types.VirtualCdromIsoBackingInfo{
			VirtualDeviceFileBackingInfo: types.VirtualDeviceFileBackingInfo{
				FileName: imagePath,
			},
		}
	} else {
		backing = &types.VirtualCdromRemotePassthroughBackingInfo{}
	}

	ctrlKey, err := b.freeIDEController()
	if err != nil {
		return nil, err
	}

	cdrom := &types.VirtualCdrom{
		VirtualDevice: types.VirtualDevice{
			Key:           b.allocateKey(),
			ControllerKey: ctrlKey,
			Backing:       backing,
			Connectable: &types.VirtualDeviceConnectInfo{
				AllowGuestControl: true,
				StartConnected:    startConnected,
			},
		},
	}

	spec := &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationAdd,
		Device:    cdrom,
	}
	b.changes = append(b.changes, spec)
	return spec, nil
}

// AddNetworkInterface appends an add descriptor for an E1000 adapter.
// MACManual requires a well-formed address; MACAssigned lets the
// platform pick one.
func (b *Builder) AddNetworkInterface(nic NIC) (*types.VirtualDeviceConfigSpec, error) {
	backing := nic.Backing
	if backing == nil {
		backing = &types.VirtualEthernetCardNetworkBackingInfo{
			VirtualDeviceDeviceBackingInfo: types.VirtualDeviceDeviceBackingInfo{
				DeviceName:    nic.Label,
				UseAutoDetect: types.NewBool(false),
			},
		}
	}

	card := &types.VirtualE1000{
		VirtualEthernetCard: types.VirtualEthernetCard{
			VirtualDevice: types.VirtualDevice{
				Key: b.allocateKey(),
				DeviceInfo: &types.Description{
					Label:   nic.Label,
					Summary: nic.Summary,
				},
				Backing: backing,
				Connectable: &types.VirtualDeviceConnectInfo{
					StartConnected:    true,
					AllowGuestControl: true,
					Connected:         nic.Connected,
					Status:            string(types.VirtualDeviceConnectInfoStatusUntried),
				},
			},
			WakeOnLanEnabled: types.NewBool(true),
		},
	}

	switch nic.MACMode {
	case MACManual:
		if err := validateMAC(nic.MACAddress); err != nil {
			return nil, fault.Wrap(fault.InvalidReference, "add nic", b.vmName, err)
		}
		card.AddressType = string(types.VirtualEthernetCardMacTypeManual)
		card.MacAddress = nic.MACAddress
	default:
		card.AddressType = string(types.VirtualEthernetCardMacTypeAssigned)
	}

	spec := &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationAdd,
		Device:    card,
	}
	b.changes = append(b.changes, spec)
	return spec, nil
}

func validateMAC(mac string) error {
	if mac == "" {
		return fmt.Errorf("manual MAC mode requires an address")
	}
	if _, err := net.ParseMAC(mac); err != nil {
		return fmt.Errorf("malformed MAC address %q", mac)
	}
	return nil
}

// findNIC locates an ethernet card by its hardware name ("Network
// adapter 1"), searching the VM's existing inventory first and then
// descriptors added in this session. An edit against a pending add
// mutates that descriptor in place, so the added and edited device are
// one and the same.
func (b *Builder) findNIC(name string) (types.BaseVirtualEthernetCard, bool, error) {
	for _, dev := range b.existing {
		if card, ok := dev.(types.BaseVirtualEthernetCard); ok {
			c := card.GetVirtualEthernetCard()
			if c.DeviceInfo != nil && c.DeviceInfo.GetDescription().Label == name {
				return card, true, nil
			}
		}
	}
	for _, spec := range b.changes {
		if card, ok := spec.Device.(types.BaseVirtualEthernetCard); ok {
			c := card.GetVirtualEthernetCard()
			if c.DeviceInfo != nil && c.DeviceInfo.GetDescription().Label == name {
				return card, false, nil
			}
		}
	}
	return nil, false, fault.New(fault.DeviceNotFound, "edit nic", b.vmName,
		"no network interface named %q", name)
}

// editSpec appends an edit descriptor for an existing device. The
// concrete card type is submitted so the endpoint sees the device as
// it exists, with only the mutated fields changed.
func (b *Builder) editSpec(card types.BaseVirtualEthernetCard) {
	dev := card.(types.BaseVirtualDevice)
	for _, spec := range b.changes {
		if spec.Operation == types.VirtualDeviceConfigSpecOperationEdit && spec.Device == dev {
			return // already queued; the shared device carries the new state
		}
	}
	b.changes = append(b.changes, &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationEdit,
		Device:    dev,
	})
}

// UpdateMACAddress switches the named interface to a manual MAC address.
func (b *Builder) UpdateMACAddress(nicName, mac string) error {
	if err := validateMAC(mac); err != nil {
		return fault.Wrap(fault.InvalidReference, "edit nic", b.vmName, err)
	}
	card, onVM, err := b.findNIC(nicName)
	if err != nil {
		return err
	}
	c := card.GetVirtualEthernetCard()
	c.AddressType = string(types.VirtualEthernetCardMacTypeManual)
	c.MacAddress = mac
	if onVM {
		b.editSpec(card)
	}
	return nil
}

// UpdateNetworkLabel repoints the named interface at another network.
func (b *Builder) UpdateNetworkLabel(nicName, newLabel string) error {
	card, onVM, err := b.findNIC(nicName)
	if err != nil {
		return err
	}
	c := card.GetVirtualEthernetCard()
	if backing, ok := c.Backing.(*types.VirtualEthernetCardNetworkBackingInfo); ok {
		backing.DeviceName = newLabel
	} else {
		c.Backing = &types.VirtualEthernetCardNetworkBackingInfo{
			VirtualDeviceDeviceBackingInfo: types.VirtualDeviceDeviceBackingInfo{
				DeviceName: newLabel,
			},
		}
	}
	if onVM {
		b.editSpec(card)
	}
	return nil
}

// UpdateNICState connects or disconnects the named interface.
func (b *Builder) UpdateNICState(nicName string, connected bool) error {
	card, onVM, err := b.findNIC(nicName)
	if err != nil {
		return err
	}
	card.GetVirtualEthernetCard().Connectable = &types.VirtualDeviceConnectInfo{
		Connected:         connected,
		StartConnected:    connected,
		AllowGuestControl: true,
	}
	if onVM {
		b.editSpec(card)
	}
	return nil
}

// Empty reports whether the builder holds no change descriptors.
func (b *Builder) Empty() bool {
	return len(b.changes) == 0
}

// Build produces the change-set for submission. The returned slice is
// a copy; descriptors appended afterwards do not alter it.
func (b *Builder) Build() []types.BaseVirtualDeviceConfigSpec {
	out := make([]types.BaseVirtualDeviceConfigSpec, len(b.changes))
	for i, spec := range b.changes {
		out[i] = spec
	}
	return out
}
