package vcenter

import (
	"github.com/vmware/govmomi/object"
)

// PlacementConfig names the inventory entities a create or clone
// operation must be placed into.
type PlacementConfig struct {
	Datacenter   string // optional: default datacenter when empty
	Datastore    string
	ResourcePool string // optional: default pool when empty
	Folder       string // optional: datacenter VM folder when empty
}

// Placement holds the resolved placement references. Fields are set
// exactly once by ResolvePlacement and never re-resolved afterwards.
type Placement struct {
	Datacenter   *object.Datacenter
	Datastore    *object.Datastore
	ResourcePool *object.ResourcePool
	Folder       *object.Folder
}

// ResolvePlacement resolves every placement entity before any mutating
// call is made. The four lookups are independent of each other; the
// first failure aborts resolution.
func (c *Client) ResolvePlacement(cfg PlacementConfig) (*Placement, error) {
	dc, err := c.FindDatacenter(cfg.Datacenter)
	if err != nil {
		return nil, err
	}

	ds, err := c.FindDatastore(cfg.Datacenter, cfg.Datastore)
	if err != nil {
		return nil, err
	}

	pool, err := c.FindResourcePool(cfg.Datacenter, cfg.ResourcePool)
	if err != nil {
		return nil, err
	}

	folder, err := c.FindFolder(cfg.Datacenter, cfg.Folder)
	if err != nil {
		return nil, err
	}

	return &Placement{
		Datacenter:   dc,
		Datastore:    ds,
		ResourcePool: pool,
		Folder:       folder,
	}, nil
}
