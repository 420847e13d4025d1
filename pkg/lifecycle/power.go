package lifecycle

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
)

// Power transition policy: an operation whose target state already
// holds is treated as a no-op success, not an error. The remote
// endpoint would reject the redundant transition; checking the state
// first keeps that protocol detail out of the caller's way.

// resolveVM looks up the VM by name, turning absence into a
// not-found fault.
func (o *Operator) resolveVM(action, datacenter, name string) (*object.VirtualMachine, error) {
	vm, err := o.client.FindVM(datacenter, name)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, fault.New(fault.NotFound, action, name, "virtual machine not found")
	}
	return vm, nil
}

// PowerOn powers on the named VM. Already powered on is a no-op success.
func (o *Operator) PowerOn(ctx context.Context, datacenter, name string) error {
	const action = "power-on"

	vm, err := o.resolveVM(action, datacenter, name)
	if err != nil {
		return err
	}

	state, err := vm.PowerState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read power state of %q: %w", name, err)
	}
	if state == types.VirtualMachinePowerStatePoweredOn {
		o.logger.Info("Virtual machine already powered on", "name", name)
		return nil
	}

	return o.powerOnVM(ctx, vm, name)
}

func (o *Operator) powerOnVM(ctx context.Context, vm *object.VirtualMachine, name string) error {
	o.logger.Info("Powering on virtual machine", "name", name)
	powerTask, err := vm.PowerOn(ctx)
	if err != nil {
		return fmt.Errorf("failed to submit power-on task: %w", err)
	}
	_, err = o.awaiter.Await(ctx, powerTask, "power-on", name)
	return err
}

// PowerOff powers off the named VM. Already powered off is a no-op
// success.
func (o *Operator) PowerOff(ctx context.Context, datacenter, name string) error {
	const action = "power-off"

	vm, err := o.resolveVM(action, datacenter, name)
	if err != nil {
		return err
	}

	state, err := vm.PowerState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read power state of %q: %w", name, err)
	}
	if state == types.VirtualMachinePowerStatePoweredOff {
		o.logger.Info("Virtual machine already powered off", "name", name)
		return nil
	}

	return o.powerOffVM(ctx, vm, name)
}

func (o *Operator) powerOffVM(ctx context.Context, vm *object.VirtualMachine, name string) error {
	o.logger.Info("Powering off virtual machine", "name", name)
	powerTask, err := vm.PowerOff(ctx)
	if err != nil {
		return fmt.Errorf("failed to submit power-off task: %w", err)
	}
	_, err = o.awaiter.Await(ctx, powerTask, "power-off", name)
	return err
}

// Reset hard-resets the named VM. A reset only makes sense on a
// running VM; anything else is a precondition failure.
func (o *Operator) Reset(ctx context.Context, datacenter, name string) error {
	const action = "reset"

	vm, err := o.resolveVM(action, datacenter, name)
	if err != nil {
		return err
	}

	state, err := vm.PowerState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read power state of %q: %w", name, err)
	}
	if state != types.VirtualMachinePowerStatePoweredOn {
		return fault.New(fault.PreconditionFailed, action, name,
			"virtual machine is %s; reset requires a powered-on VM", state)
	}

	o.logger.Info("Resetting virtual machine", "name", name)
	resetTask, err := vm.Reset(ctx)
	if err != nil {
		return fmt.Errorf("failed to submit reset task: %w", err)
	}
	_, err = o.awaiter.Await(ctx, resetTask, action, name)
	return err
}

// Delete destroys the named VM. By default a powered-on VM is refused
// with a precondition failure telling the caller to power off first;
// powerOffFirst opts into power-off-then-destroy instead.
func (o *Operator) Delete(ctx context.Context, datacenter, name string, powerOffFirst bool) error {
	const action = "delete"

	vm, err := o.resolveVM(action, datacenter, name)
	if err != nil {
		return err
	}

	state, err := vm.PowerState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read power state of %q: %w", name, err)
	}
	if state == types.VirtualMachinePowerStatePoweredOn {
		if !powerOffFirst {
			return fault.New(fault.PreconditionFailed, action, name,
				"virtual machine is powered on; power it off first or pass --power-off")
		}
		if err := o.powerOffVM(ctx, vm, name); err != nil {
			return err
		}
	}

	o.logger.Info("Deleting virtual machine", "name", name)
	destroyTask, err := vm.Destroy(ctx)
	if err != nil {
		return fmt.Errorf("failed to submit destroy task: %w", err)
	}
	_, err = o.awaiter.Await(ctx, destroyTask, action, name)
	return err
}
