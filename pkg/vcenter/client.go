// Package vcenter provides a wrapper around the govmomi library for vCenter
// session handling and inventory name resolution.
package vcenter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/configs"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
)

// Client wraps govmomi client and provides name-to-reference resolution.
// It is the single long-lived session of a run; callers must Disconnect
// on every exit path.
type Client struct {
	conn   *govmomi.Client
	finder *find.Finder
	ctx    context.Context
}

// Config holds vCenter connection parameters.
type Config struct {
	Host     string // vCenter hostname or IP
	Username string // vCenter username
	Password string // vCenter password
	Port     int    // vCenter port (default: 443)
	Insecure bool   // Skip TLS verification (not recommended for production)
}

// NewClient creates a new vCenter client and connects to the vCenter server.
// A rejected login is reported as an authentication-failure fault.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = configs.Defaults.VCenter.Port
	}

	var vcURL *url.URL
	if strings.Contains(cfg.Host, "://") {
		parsed, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid vCenter URL %q: %w", cfg.Host, err)
		}
		if parsed.Scheme == "" {
			parsed.Scheme = "https"
		}
		if parsed.Scheme != "https" {
			return nil, fmt.Errorf("unsupported vCenter URL scheme %q (https required)", parsed.Scheme)
		}
		if parsed.Path == "" {
			parsed.Path = "/sdk"
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid vCenter URL (missing host): %q", cfg.Host)
		}
		if parsed.Port() == "" && cfg.Port != 0 {
			parsed.Host = fmt.Sprintf("%s:%d", parsed.Hostname(), cfg.Port)
		}
		vcURL = parsed
	} else {
		// Build vCenter URL from host + port
		vcURL = &url.URL{
			Scheme: "https",
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:   "/sdk",
		}
	}
	vcURL.User = url.UserPassword(cfg.Username, cfg.Password)

	client, err := govmomi.NewClient(ctx, vcURL, cfg.Insecure)
	if err != nil {
		if isInvalidLogin(err) {
			return nil, fault.Wrap(fault.AuthenticationFailure, "connect", cfg.Host, err)
		}
		return nil, fmt.Errorf("failed to connect to vCenter: %w", err)
	}

	finder := find.NewFinder(client.Client, true)

	return &Client{
		conn:   client,
		finder: finder,
		ctx:    ctx,
	}, nil
}

// isInvalidLogin reports whether err is a vSphere InvalidLogin fault.
func isInvalidLogin(err error) bool {
	if soap.IsSoapFault(err) {
		_, ok := soap.ToSoapFault(err).VimFault().(types.InvalidLogin)
		return ok
	}
	return false
}

// Disconnect closes the vCenter session.
func (c *Client) Disconnect() error {
	if c.conn != nil {
		return c.conn.Logout(c.ctx)
	}
	return nil
}

// classifyFind maps govmomi finder errors onto the fault taxonomy:
// zero matches is not-found, multiple matches is ambiguous.
func classifyFind(kind, name string, err error) error {
	var notFound *find.NotFoundError
	if errors.As(err, &notFound) {
		return fault.Wrap(fault.NotFound, "resolve "+kind, name, err)
	}
	var multiple *find.MultipleFoundError
	if errors.As(err, &multiple) {
		return fault.Wrap(fault.Ambiguous, "resolve "+kind, name, err)
	}
	return fmt.Errorf("failed to resolve %s %q: %w", kind, name, err)
}

// FindDatacenter locates a datacenter by name. An empty name selects
// the default datacenter when the inventory has exactly one.
func (c *Client) FindDatacenter(name string) (*object.Datacenter, error) {
	dc, err := c.finder.DatacenterOrDefault(c.ctx, name)
	if err != nil {
		return nil, classifyFind("datacenter", name, err)
	}
	return dc, nil
}

// FindDatastore locates a datastore by name within a datacenter.
func (c *Client) FindDatastore(datacenter, name string) (*object.Datastore, error) {
	dc, err := c.FindDatacenter(datacenter)
	if err != nil {
		return nil, err
	}

	c.finder.SetDatacenter(dc)
	ds, err := c.finder.Datastore(c.ctx, name)
	if err != nil {
		return nil, classifyFind("datastore", name, err)
	}
	return ds, nil
}

// FindNetwork locates a network by name within a datacenter.
func (c *Client) FindNetwork(datacenter, name string) (object.NetworkReference, error) {
	dc, err := c.FindDatacenter(datacenter)
	if err != nil {
		return nil, err
	}

	c.finder.SetDatacenter(dc)
	net, err := c.finder.Network(c.ctx, name)
	if err != nil {
		return nil, classifyFind("network", name, err)
	}
	return net, nil
}

// FindFolder locates a VM folder by path within a datacenter. An empty
// path selects the datacenter's root VM folder.
func (c *Client) FindFolder(datacenter, path string) (*object.Folder, error) {
	dc, err := c.FindDatacenter(datacenter)
	if err != nil {
		return nil, err
	}

	if path == "" {
		folders, err := dc.Folders(c.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read datacenter folders: %w", err)
		}
		return folders.VmFolder, nil
	}

	c.finder.SetDatacenter(dc)
	folder, err := c.finder.Folder(c.ctx, path)
	if err != nil {
		return nil, classifyFind("folder", path, err)
	}
	return folder, nil
}

// FindResourcePool locates a resource pool by path within a datacenter.
// An empty path selects the default pool when the inventory has
// exactly one.
func (c *Client) FindResourcePool(datacenter, path string) (*object.ResourcePool, error) {
	dc, err := c.FindDatacenter(datacenter)
	if err != nil {
		return nil, err
	}

	c.finder.SetDatacenter(dc)
	pool, err := c.finder.ResourcePoolOrDefault(c.ctx, path)
	if err != nil {
		return nil, classifyFind("resource pool", path, err)
	}
	return pool, nil
}

// FindVM locates a virtual machine by name within a datacenter.
// Returns nil if the VM doesn't exist (no error) so callers can do
// existence checks without unwrapping faults.
func (c *Client) FindVM(datacenter, name string) (*object.VirtualMachine, error) {
	dc, err := c.FindDatacenter(datacenter)
	if err != nil {
		return nil, err
	}

	c.finder.SetDatacenter(dc)
	vm, err := c.finder.VirtualMachine(c.ctx, name)
	if err != nil {
		var notFound *find.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, classifyFind("virtual machine", name, err)
	}
	return vm, nil
}

// FindTemplate locates a VM template by name within a datacenter.
// A VM that exists but is not marked as a template is reported as
// not-found, matching how the inventory presents templates.
func (c *Client) FindTemplate(datacenter, name string) (*object.VirtualMachine, error) {
	vm, err := c.FindVM(datacenter, name)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, fault.New(fault.NotFound, "resolve template", name, "template not found")
	}

	var props mo.VirtualMachine
	if err := vm.Properties(c.ctx, vm.Reference(), []string{"config.template"}, &props); err != nil {
		return nil, fmt.Errorf("failed to read template properties for %q: %w", name, err)
	}
	if props.Config == nil || !props.Config.Template {
		return nil, fault.New(fault.NotFound, "resolve template", name, "%q exists but is not a template", name)
	}
	return vm, nil
}

// Client returns the underlying govmomi client for advanced operations.
func (c *Client) Client() *govmomi.Client {
	return c.conn
}

// Vim25 returns the underlying vim25 client used for property reads.
func (c *Client) Vim25() *vim25.Client {
	return c.conn.Client
}
