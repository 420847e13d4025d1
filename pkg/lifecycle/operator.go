package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/device"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/task"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/vcenter"
)

// Operator runs lifecycle operations against one vCenter session.
type Operator struct {
	client  vcenter.ClientInterface
	awaiter *task.Awaiter
	logger  *slog.Logger
}

// NewOperator returns an operator using the library default awaiter.
func NewOperator(client vcenter.ClientInterface, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{
		client:  client,
		awaiter: task.NewAwaiter(logger),
		logger:  logger,
	}
}

// NewOperatorWithAwaiter returns an operator with a caller-supplied
// awaiter (custom poll interval or timeout).
func NewOperatorWithAwaiter(client vcenter.ClientInterface, awaiter *task.Awaiter, logger *slog.Logger) *Operator {
	op := NewOperator(client, logger)
	op.awaiter = awaiter
	return op
}

// Create builds a new VM from the declarative configuration. All name
// resolution and change-set building happens before the create task is
// submitted; a VM whose name is already taken is a precondition
// failure, never an overwrite.
func (o *Operator) Create(ctx context.Context, cfg *CreateConfig) error {
	const action = "create"

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid create config: %w", err)
	}

	o.logger.Info("Creating virtual machine",
		"name", cfg.Name,
		"memory_mb", cfg.MemoryMB,
		"num_cpus", cfg.NumCPUs,
		"guest_os", cfg.GuestOSID,
	)

	existing, err := o.client.FindVM(cfg.Datacenter, cfg.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fault.New(fault.PreconditionFailed, action, cfg.Name, "virtual machine already exists")
	}

	placement, err := o.client.ResolvePlacement(vcenter.PlacementConfig{
		Datacenter:   cfg.Datacenter,
		Datastore:    cfg.Datastore,
		ResourcePool: cfg.ResourcePool,
		Folder:       cfg.Folder,
	})
	if err != nil {
		return err
	}

	// Resolve every NIC network before building so a bad name fails the
	// run without touching the inventory.
	backings := make([]types.BaseVirtualDeviceBackingInfo, len(cfg.NICs))
	for i, nic := range cfg.NICs {
		net, err := o.client.FindNetwork(cfg.Datacenter, nic.Network)
		if err != nil {
			return err
		}
		backing, err := net.EthernetCardBackingInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to get backing for network %q: %w", nic.Network, err)
		}
		backings[i] = backing
	}

	datastoreName := placement.Datastore.Name()
	builder := device.New(cfg.Name, datastoreName)
	for _, disk := range cfg.Disks {
		if _, err := builder.AddDisk(disk.Label, disk.CapacityKB); err != nil {
			return err
		}
	}
	for i, nic := range cfg.NICs {
		mode := device.MACMode(nic.MACMode)
		if mode == "" {
			mode = device.MACAssigned
		}
		summary := nic.Summary
		if summary == "" {
			summary = nic.Network
		}
		_, err := builder.AddNetworkInterface(device.NIC{
			Label:      nic.Network,
			MACMode:    mode,
			MACAddress: nic.MACAddress,
			Connected:  nic.Connected,
			Summary:    summary,
			Backing:    backings[i],
		})
		if err != nil {
			return err
		}
	}

	spec := types.VirtualMachineConfigSpec{
		Name:       cfg.Name,
		Annotation: cfg.Annotation,
		MemoryMB:   int64(cfg.MemoryMB),
		NumCPUs:    int32(cfg.NumCPUs),
		GuestId:    cfg.GuestOSID,
		Version:    cfg.HardwareVersion,
		Files: &types.VirtualMachineFileInfo{
			VmPathName: fmt.Sprintf("[%s] %s/%s.vmx", datastoreName, cfg.Name, cfg.Name),
		},
		DeviceChange: builder.Build(),
	}

	createTask, err := placement.Folder.CreateVM(ctx, spec, placement.ResourcePool, nil)
	if err != nil {
		return fmt.Errorf("failed to submit create task: %w", err)
	}
	info, err := o.awaiter.Await(ctx, createTask, action, cfg.Name)
	if err != nil {
		return err
	}

	vm := object.NewVirtualMachine(placement.Folder.Client(), info.Result.(types.ManagedObjectReference))

	// CD-ROM drives attach to a free IDE controller, which only exists
	// once the VM does; they go in via a follow-up reconfigure seeded
	// from the live device inventory.
	if len(cfg.CDRoms) > 0 {
		if err := o.attachCDRoms(ctx, vm, cfg, datastoreName); err != nil {
			return err
		}
	}

	if cfg.PowerOn {
		if err := o.powerOnVM(ctx, vm, cfg.Name); err != nil {
			return err
		}
	}

	o.logger.Info("Virtual machine created", "name", cfg.Name)
	return nil
}

func (o *Operator) attachCDRoms(ctx context.Context, vm *object.VirtualMachine, cfg *CreateConfig, datastoreName string) error {
	builder, err := device.ForVM(ctx, vm, datastoreName)
	if err != nil {
		return err
	}
	for _, cd := range cfg.CDRoms {
		if _, err := builder.AddCDRom(cd.ISO, cd.Connected); err != nil {
			return err
		}
		o.logger.Info("Adding CD-ROM drive", "name", cfg.Name, "iso", cd.ISO, "connected", cd.Connected)
	}
	return o.reconfigure(ctx, vm, cfg.Name, builder)
}

// reconfigure submits the builder's change-set as a reconfigure task
// and awaits it.
func (o *Operator) reconfigure(ctx context.Context, vm *object.VirtualMachine, name string, builder *device.Builder) error {
	reconfTask, err := vm.Reconfigure(ctx, types.VirtualMachineConfigSpec{
		DeviceChange: builder.Build(),
	})
	if err != nil {
		return fmt.Errorf("failed to submit reconfigure task: %w", err)
	}
	_, err = o.awaiter.Await(ctx, reconfTask, "reconfigure", name)
	return err
}

// Clone creates a VM from a template and applies the configured NIC
// edits to the result.
func (o *Operator) Clone(ctx context.Context, cfg *CloneConfig) error {
	const action = "clone"

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid clone config: %w", err)
	}

	o.logger.Info("Cloning virtual machine", "name", cfg.Name, "template", cfg.Template)

	existing, err := o.client.FindVM(cfg.Datacenter, cfg.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fault.New(fault.PreconditionFailed, action, cfg.Name, "virtual machine already exists")
	}

	placement, err := o.client.ResolvePlacement(vcenter.PlacementConfig{
		Datacenter:   cfg.Datacenter,
		Datastore:    cfg.Datastore,
		ResourcePool: cfg.ResourcePool,
		Folder:       cfg.Folder,
	})
	if err != nil {
		return err
	}

	template, err := o.client.FindTemplate(cfg.Datacenter, cfg.Template)
	if err != nil {
		return err
	}

	// Validate target networks of NIC edits before cloning.
	for _, u := range cfg.NICUpdates {
		if u.Network != "" {
			if _, err := o.client.FindNetwork(cfg.Datacenter, u.Network); err != nil {
				return err
			}
		}
	}

	poolRef := placement.ResourcePool.Reference()
	dsRef := placement.Datastore.Reference()
	cloneSpec := types.VirtualMachineCloneSpec{
		PowerOn:  false,
		Template: false,
		Location: types.VirtualMachineRelocateSpec{
			Pool:      &poolRef,
			Datastore: &dsRef,
		},
	}

	cloneTask, err := template.Clone(ctx, placement.Folder, cfg.Name, cloneSpec)
	if err != nil {
		return fmt.Errorf("failed to submit clone task: %w", err)
	}
	info, err := o.awaiter.Await(ctx, cloneTask, action, cfg.Name)
	if err != nil {
		return err
	}

	vm := object.NewVirtualMachine(placement.Folder.Client(), info.Result.(types.ManagedObjectReference))

	if len(cfg.NICUpdates) > 0 {
		if err := o.applyNICUpdates(ctx, vm, cfg, placement.Datastore.Name()); err != nil {
			return err
		}
	}

	if cfg.PowerOn {
		if err := o.powerOnVM(ctx, vm, cfg.Name); err != nil {
			return err
		}
	}

	o.logger.Info("Virtual machine cloned", "name", cfg.Name, "template", cfg.Template)
	return nil
}

// applyNICUpdates edits existing adapters on the cloned VM, addressed
// by hardware name. The builder reads the clone's device inventory
// first; a missing adapter is a device-not-found failure before any
// reconfigure is submitted.
func (o *Operator) applyNICUpdates(ctx context.Context, vm *object.VirtualMachine, cfg *CloneConfig, datastoreName string) error {
	builder, err := device.ForVM(ctx, vm, datastoreName)
	if err != nil {
		return err
	}
	for _, u := range cfg.NICUpdates {
		if u.MACAddress != "" {
			if err := builder.UpdateMACAddress(u.Device, u.MACAddress); err != nil {
				return err
			}
			o.logger.Info("Updating MAC address", "name", cfg.Name, "device", u.Device, "mac", u.MACAddress)
		}
		if u.Network != "" {
			if err := builder.UpdateNetworkLabel(u.Device, u.Network); err != nil {
				return err
			}
			o.logger.Info("Updating network label", "name", cfg.Name, "device", u.Device, "network", u.Network)
		}
		if u.Connected != nil {
			if err := builder.UpdateNICState(u.Device, *u.Connected); err != nil {
				return err
			}
			o.logger.Info("Updating NIC state", "name", cfg.Name, "device", u.Device, "connected", *u.Connected)
		}
	}
	if builder.Empty() {
		return nil
	}
	return o.reconfigure(ctx, vm, cfg.Name, builder)
}
