package vcenter

import (
	"github.com/vmware/govmomi/object"
)

// ClientInterface abstracts vCenter resolution operations.
// The real implementation uses govmomi; tests inject a mock.
type ClientInterface interface {
	FindDatacenter(name string) (*object.Datacenter, error)
	FindDatastore(datacenter, name string) (*object.Datastore, error)
	FindNetwork(datacenter, name string) (object.NetworkReference, error)
	FindFolder(datacenter, path string) (*object.Folder, error)
	FindResourcePool(datacenter, path string) (*object.ResourcePool, error)
	FindVM(datacenter, name string) (*object.VirtualMachine, error)
	FindTemplate(datacenter, name string) (*object.VirtualMachine, error)
	ResolvePlacement(cfg PlacementConfig) (*Placement, error)
	Disconnect() error
}

// compile-time interface compliance check
var _ ClientInterface = (*Client)(nil)
