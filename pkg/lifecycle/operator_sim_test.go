package lifecycle

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/task"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/vcenter"
)

type simFixture struct {
	ctx       context.Context
	client    *vcenter.Client
	op        *Operator
	dcName    string
	dsName    string
	vmNames   []string
	networkNm string
}

func newSimFixture(t *testing.T) *simFixture {
	model := simulator.VPX()
	model.Datacenter = 1
	model.Cluster = 1
	model.Host = 1
	model.Pool = 1
	model.Machine = 2

	require.NoError(t, model.Create())
	model.Service.TLS = new(tls.Config)
	s := model.Service.NewServer()

	ctx := context.Background()

	client, err := vcenter.NewClient(ctx, &vcenter.Config{
		Host:     s.URL.String(),
		Username: simulator.DefaultLogin.Username(),
		Password: func() string { p, _ := simulator.DefaultLogin.Password(); return p }(),
		Insecure: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Disconnect()
		s.Close()
		model.Remove()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	awaiter := &task.Awaiter{Poll: 10 * time.Millisecond, Timeout: 30 * time.Second, Logger: logger}
	op := NewOperatorWithAwaiter(client, awaiter, logger)

	finder := find.NewFinder(client.Vim25(), true)
	dc, err := finder.DefaultDatacenter(ctx)
	require.NoError(t, err)
	finder.SetDatacenter(dc)

	ds, err := finder.DefaultDatastore(ctx)
	require.NoError(t, err)

	vms, err := finder.VirtualMachineList(ctx, "*")
	require.NoError(t, err)
	require.NotEmpty(t, vms)
	names := make([]string, 0, len(vms))
	for _, vm := range vms {
		names = append(names, vm.Name())
	}

	return &simFixture{
		ctx:       ctx,
		client:    client,
		op:        op,
		dcName:    dc.Name(),
		dsName:    ds.Name(),
		vmNames:   names,
		networkNm: "VM Network",
	}
}

func (f *simFixture) createConfig(name string) *CreateConfig {
	return &CreateConfig{
		Name:       name,
		Datacenter: f.dcName,
		Datastore:  f.dsName,
		Disks:      []DiskConfig{{Label: "disk0", CapacityKB: 40000000}},
		NICs:       []NICConfig{{Network: f.networkNm, Connected: true}},
	}
}

func (f *simFixture) mustFindVM(t *testing.T, name string) *object.VirtualMachine {
	t.Helper()
	vm, err := f.client.FindVM(f.dcName, name)
	require.NoError(t, err)
	require.NotNil(t, vm, "expected VM %q to exist", name)
	return vm
}

func (f *simFixture) powerState(t *testing.T, vm *object.VirtualMachine) types.VirtualMachinePowerState {
	t.Helper()
	state, err := vm.PowerState(f.ctx)
	require.NoError(t, err)
	return state
}

func ethernetCards(t *testing.T, ctx context.Context, vm *object.VirtualMachine) []types.BaseVirtualEthernetCard {
	t.Helper()
	devices, err := vm.Device(ctx)
	require.NoError(t, err)

	var cards []types.BaseVirtualEthernetCard
	for _, dev := range devices.SelectByType((*types.VirtualEthernetCard)(nil)) {
		cards = append(cards, dev.(types.BaseVirtualEthernetCard))
	}
	return cards
}

func TestCreate_FullConfig(t *testing.T) {
	f := newSimFixture(t)

	cfg := f.createConfig("lifecycle-create-01")
	cfg.Annotation = "created by test"
	cfg.NICs[0].MACMode = "manual"
	cfg.NICs[0].MACAddress = "00:50:56:aa:bb:01"
	cfg.CDRoms = []CDRomConfig{{ISO: "[" + f.dsName + "] isos/boot.iso", Connected: true}}
	cfg.PowerOn = true

	require.NoError(t, f.op.Create(f.ctx, cfg))

	vm := f.mustFindVM(t, cfg.Name)
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))

	devices, err := vm.Device(f.ctx)
	require.NoError(t, err)

	// Disk capacity passes through in kilobytes, unconverted.
	disks := devices.SelectByType((*types.VirtualDisk)(nil))
	require.Len(t, disks, 1)
	require.Equal(t, int64(40000000), disks[0].(*types.VirtualDisk).CapacityInKB)

	cards := ethernetCards(t, f.ctx, vm)
	require.Len(t, cards, 1)
	card := cards[0].GetVirtualEthernetCard()
	require.Equal(t, "00:50:56:aa:bb:01", card.MacAddress)
	require.Equal(t, string(types.VirtualEthernetCardMacTypeManual), card.AddressType)

	cdroms := devices.SelectByType((*types.VirtualCdrom)(nil))
	require.Len(t, cdroms, 1)
	backing, ok := cdroms[0].(*types.VirtualCdrom).Backing.(*types.VirtualCdromIsoBackingInfo)
	require.True(t, ok)
	require.Equal(t, "["+f.dsName+"] isos/boot.iso", backing.FileName)
}

func TestCreate_ExistingNameRefused(t *testing.T) {
	f := newSimFixture(t)

	cfg := f.createConfig(f.vmNames[0])
	err := f.op.Create(f.ctx, cfg)
	require.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
}

func TestCreate_UnknownNetworkLeavesNoVM(t *testing.T) {
	f := newSimFixture(t)

	cfg := f.createConfig("lifecycle-create-02")
	cfg.NICs[0].Network = "no-such-network"

	err := f.op.Create(f.ctx, cfg)
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	vm, err := f.client.FindVM(f.dcName, cfg.Name)
	require.NoError(t, err)
	require.Nil(t, vm, "failed resolution must not leave a VM behind")
}

func TestCreate_UnknownDatastoreLeavesNoVM(t *testing.T) {
	f := newSimFixture(t)

	cfg := f.createConfig("lifecycle-create-03")
	cfg.Datastore = "no-such-datastore"

	err := f.op.Create(f.ctx, cfg)
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	vm, err := f.client.FindVM(f.dcName, cfg.Name)
	require.NoError(t, err)
	require.Nil(t, vm)
}

// makeTemplate powers off an inventory VM and marks it as a template,
// returning the hardware name of its first network adapter.
func (f *simFixture) makeTemplate(t *testing.T, name string) string {
	t.Helper()

	vm := f.mustFindVM(t, name)
	if f.powerState(t, vm) != types.VirtualMachinePowerStatePoweredOff {
		offTask, err := vm.PowerOff(f.ctx)
		require.NoError(t, err)
		require.NoError(t, offTask.Wait(f.ctx))
	}
	require.NoError(t, vm.MarkAsTemplate(f.ctx))

	cards := ethernetCards(t, f.ctx, vm)
	require.NotEmpty(t, cards, "template needs at least one adapter for the update tests")
	return cards[0].GetVirtualEthernetCard().DeviceInfo.GetDescription().Label
}

func TestClone_WithNICUpdates(t *testing.T) {
	f := newSimFixture(t)

	deviceLabel := f.makeTemplate(t, f.vmNames[0])
	connected := true

	cfg := &CloneConfig{
		Name:       "lifecycle-clone-01",
		Template:   f.vmNames[0],
		Datacenter: f.dcName,
		Datastore:  f.dsName,
		PowerOn:    true,
		NICUpdates: []NICUpdate{
			{Device: deviceLabel, MACAddress: "00:50:56:aa:bb:02", Connected: &connected},
		},
	}

	require.NoError(t, f.op.Clone(f.ctx, cfg))

	vm := f.mustFindVM(t, cfg.Name)
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))

	cards := ethernetCards(t, f.ctx, vm)
	require.NotEmpty(t, cards)

	var card *types.VirtualEthernetCard
	for _, c := range cards {
		if c.GetVirtualEthernetCard().DeviceInfo.GetDescription().Label == deviceLabel {
			card = c.GetVirtualEthernetCard()
		}
	}
	require.NotNil(t, card, "updated adapter %q not found on clone", deviceLabel)
	require.Equal(t, "00:50:56:aa:bb:02", card.MacAddress)
	require.Equal(t, string(types.VirtualEthernetCardMacTypeManual), card.AddressType)
	require.NotNil(t, card.Connectable)
	require.True(t, card.Connectable.StartConnected)

	// The template itself is untouched.
	tmpl, err := f.client.FindTemplate(f.dcName, f.vmNames[0])
	require.NoError(t, err)
	require.NotNil(t, tmpl)
}

func TestClone_SourceMustBeTemplate(t *testing.T) {
	f := newSimFixture(t)

	cfg := &CloneConfig{
		Name:       "lifecycle-clone-02",
		Template:   f.vmNames[0], // plain VM, never marked
		Datacenter: f.dcName,
		Datastore:  f.dsName,
	}

	err := f.op.Clone(f.ctx, cfg)
	require.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestClone_ExistingNameRefused(t *testing.T) {
	f := newSimFixture(t)

	f.makeTemplate(t, f.vmNames[0])

	cfg := &CloneConfig{
		Name:       f.vmNames[1], // already in the inventory
		Template:   f.vmNames[0],
		Datacenter: f.dcName,
		Datastore:  f.dsName,
	}

	err := f.op.Clone(f.ctx, cfg)
	require.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
}

func TestPowerCycle(t *testing.T) {
	f := newSimFixture(t)
	name := f.vmNames[0]
	vm := f.mustFindVM(t, name)

	// Inventory VMs start powered on; powering on again is a no-op.
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))
	require.NoError(t, f.op.PowerOn(f.ctx, f.dcName, name))

	require.NoError(t, f.op.PowerOff(f.ctx, f.dcName, name))
	require.Equal(t, types.VirtualMachinePowerStatePoweredOff, f.powerState(t, vm))

	// Redundant power-off is also a no-op success.
	require.NoError(t, f.op.PowerOff(f.ctx, f.dcName, name))

	require.NoError(t, f.op.PowerOn(f.ctx, f.dcName, name))
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))
}

func TestPowerOps_MissingVM(t *testing.T) {
	f := newSimFixture(t)

	require.Equal(t, fault.NotFound, fault.KindOf(f.op.PowerOn(f.ctx, f.dcName, "ghost")))
	require.Equal(t, fault.NotFound, fault.KindOf(f.op.PowerOff(f.ctx, f.dcName, "ghost")))
	require.Equal(t, fault.NotFound, fault.KindOf(f.op.Reset(f.ctx, f.dcName, "ghost")))
	require.Equal(t, fault.NotFound, fault.KindOf(f.op.Delete(f.ctx, f.dcName, "ghost", false)))
}

func TestReset(t *testing.T) {
	f := newSimFixture(t)
	name := f.vmNames[0]
	vm := f.mustFindVM(t, name)

	require.NoError(t, f.op.Reset(f.ctx, f.dcName, name))
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))

	require.NoError(t, f.op.PowerOff(f.ctx, f.dcName, name))

	err := f.op.Reset(f.ctx, f.dcName, name)
	require.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
}

func TestDelete_RefusesPoweredOn(t *testing.T) {
	f := newSimFixture(t)
	name := f.vmNames[0]
	vm := f.mustFindVM(t, name)
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))

	err := f.op.Delete(f.ctx, f.dcName, name, false)
	require.Equal(t, fault.PreconditionFailed, fault.KindOf(err))

	// The refusal leaves the VM exactly as it was.
	vm = f.mustFindVM(t, name)
	require.Equal(t, types.VirtualMachinePowerStatePoweredOn, f.powerState(t, vm))
}

func TestDelete_PowerOffFirst(t *testing.T) {
	f := newSimFixture(t)
	name := f.vmNames[0]

	require.NoError(t, f.op.Delete(f.ctx, f.dcName, name, true))

	vm, err := f.client.FindVM(f.dcName, name)
	require.NoError(t, err)
	require.Nil(t, vm)
}

func TestDelete_PoweredOff(t *testing.T) {
	f := newSimFixture(t)
	name := f.vmNames[0]

	require.NoError(t, f.op.PowerOff(f.ctx, f.dcName, name))
	require.NoError(t, f.op.Delete(f.ctx, f.dcName, name, false))

	vm, err := f.client.FindVM(f.dcName, name)
	require.NoError(t, err)
	require.Nil(t, vm)
}
