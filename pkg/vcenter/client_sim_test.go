package vcenter

import (
	"context"
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
)

func newSimClient(t *testing.T) (*Client, context.Context, func()) {
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

	client, err := NewClient(ctx, &Config{
		Host:     s.URL.String(),
		Username: simulator.DefaultLogin.Username(),
		Password: func() string { p, _ := simulator.DefaultLogin.Password(); return p }(),
		Insecure: true,
	})
	require.NoError(t, err)

	cleanup := func() {
		_ = client.Disconnect()
		s.Close()
		model.Remove()
	}

	return client, ctx, cleanup
}

func getDatacenterName(t *testing.T, client *Client) string {
	t.Helper()

	dcs, err := client.finder.DatacenterList(client.ctx, "*")
	require.NoError(t, err)
	require.NotEmpty(t, dcs)
	return dcs[0].Name()
}

func getDatastoreName(t *testing.T, client *Client) string {
	t.Helper()

	dss, err := client.finder.DatastoreList(client.ctx, "*")
	require.NoError(t, err)
	require.NotEmpty(t, dss)
	return dss[0].Name()
}

func getVMNames(t *testing.T, client *Client) []string {
	t.Helper()

	vms, err := client.finder.VirtualMachineList(client.ctx, "*")
	require.NoError(t, err)
	require.NotEmpty(t, vms)
	names := make([]string, 0, len(vms))
	for _, vm := range vms {
		names = append(names, vm.Name())
	}
	return names
}

func TestNewClient_WithURLScheme(t *testing.T) {
	client, _, cleanup := newSimClient(t)
	defer cleanup()

	require.NotNil(t, client)
	require.NotNil(t, client.Client())
	require.NotNil(t, client.Vim25())
}

func TestNewClient_HTTPHostFails(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{
		Host:     "http://example.com/sdk",
		Username: "user",
		Password: "pass",
		Insecure: true,
	})
	require.Error(t, err)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{
		Host:     "http://bad::url",
		Username: "user",
		Password: "pass",
		Insecure: true,
	})
	require.Error(t, err)
}

func TestNewClient_InvalidLogin(t *testing.T) {
	model := simulator.VPX()
	require.NoError(t, model.Create())
	model.Service.TLS = new(tls.Config)
	s := model.Service.NewServer()
	defer s.Close()
	defer model.Remove()

	// The simulator rejects empty credentials with an InvalidLogin
	// fault, the same fault a real vCenter raises for a bad password.
	_, err := NewClient(context.Background(), &Config{
		Host:     s.URL.String(),
		Username: "",
		Password: "",
		Insecure: true,
	})
	require.Error(t, err)
	require.Equal(t, fault.AuthenticationFailure, fault.KindOf(err))
}

func TestClient_DisconnectNil(t *testing.T) {
	c := &Client{}
	require.NoError(t, c.Disconnect())
}

func TestClient_Find(t *testing.T) {
	client, _, cleanup := newSimClient(t)
	defer cleanup()

	dcName := getDatacenterName(t, client)
	dsName := getDatastoreName(t, client)

	// Empty datacenter name selects the sole datacenter.
	dc, err := client.FindDatacenter("")
	require.NoError(t, err)
	require.Equal(t, dcName, dc.Name())

	_, err = client.FindDatastore(dcName, dsName)
	require.NoError(t, err)

	_, err = client.FindNetwork(dcName, "VM Network")
	require.NoError(t, err)

	folder, err := client.FindFolder(dcName, "")
	require.NoError(t, err)
	require.NotNil(t, folder)

	_, err = client.FindFolder(dcName, "/"+dcName+"/vm")
	require.NoError(t, err)

	_, err = client.FindResourcePool(dcName, "")
	require.NoError(t, err)

	vmNames := getVMNames(t, client)
	vm, err := client.FindVM(dcName, vmNames[0])
	require.NoError(t, err)
	require.NotNil(t, vm)

	missing, err := client.FindVM(dcName, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestClient_FindErrors(t *testing.T) {
	client, _, cleanup := newSimClient(t)
	defer cleanup()

	dcName := getDatacenterName(t, client)

	_, err := client.FindDatacenter("does-not-exist")
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	_, err = client.FindDatastore(dcName, "missing-datastore")
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	_, err = client.FindNetwork(dcName, "missing-network")
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	_, err = client.FindFolder(dcName, "missing-folder")
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	_, err = client.FindResourcePool(dcName, "missing-pool")
	require.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestClient_FindAmbiguous(t *testing.T) {
	client, ctx, cleanup := newSimClient(t)
	defer cleanup()

	dcName := getDatacenterName(t, client)

	// A glob matching both pre-created VMs must report ambiguity, not
	// pick one arbitrarily.
	vms, err := client.finder.VirtualMachineList(ctx, "*")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(vms), 2)

	_, err = client.FindVM(dcName, "*")
	require.Equal(t, fault.Ambiguous, fault.KindOf(err))
}

func TestClient_FindTemplate(t *testing.T) {
	client, ctx, cleanup := newSimClient(t)
	defer cleanup()

	dcName := getDatacenterName(t, client)
	vmNames := getVMNames(t, client)

	// A VM that exists but is not marked as a template is not-found.
	_, err := client.FindTemplate(dcName, vmNames[0])
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	// Nor is a name with no VM behind it.
	_, err = client.FindTemplate(dcName, "no-such-template")
	require.Equal(t, fault.NotFound, fault.KindOf(err))

	// Mark one of the simulator VMs as a template and resolve it.
	vm, err := client.FindVM(dcName, vmNames[0])
	require.NoError(t, err)
	powerOffSimVM(t, ctx, vm)
	require.NoError(t, vm.MarkAsTemplate(ctx))

	tmpl, err := client.FindTemplate(dcName, vmNames[0])
	require.NoError(t, err)
	require.Equal(t, vm.Reference(), tmpl.Reference())
}

func powerOffSimVM(t *testing.T, ctx context.Context, vm *object.VirtualMachine) {
	t.Helper()

	state, err := vm.PowerState(ctx)
	require.NoError(t, err)
	if state == types.VirtualMachinePowerStatePoweredOff {
		return
	}
	task, err := vm.PowerOff(ctx)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))
}

func TestClient_ResolvePlacement(t *testing.T) {
	client, _, cleanup := newSimClient(t)
	defer cleanup()

	dsName := getDatastoreName(t, client)

	placement, err := client.ResolvePlacement(PlacementConfig{
		Datastore: dsName,
	})
	require.NoError(t, err)
	require.NotNil(t, placement.Datacenter)
	require.NotNil(t, placement.Datastore)
	require.NotNil(t, placement.ResourcePool)
	require.NotNil(t, placement.Folder)
	require.Equal(t, dsName, placement.Datastore.Name())

	_, err = client.ResolvePlacement(PlacementConfig{
		Datastore: "missing-datastore",
	})
	require.Equal(t, fault.NotFound, fault.KindOf(err))
}
