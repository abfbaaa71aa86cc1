package vsphere

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/object"
	vim "github.com/vmware/govmomi/vim25/types"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// HostClient is the production Client: a govmomi session against the local
// hostd. Reconnect replaces the whole session, so callers retrying after a
// session-expiry fault must re-resolve their VM handles.
type HostClient struct {
	mu     sync.Mutex
	url    *url.URL
	client *govmomi.Client
}

// Dial connects to hostd at the given URL. Close must be called to log the
// session out.
func Dial(ctx context.Context, u *url.URL) (*HostClient, error) {
	client, err := govmomi.NewClient(ctx, u, true)
	if err != nil {
		return nil, errdefs.Infrastructure("failed to connect to hostd at %s: %v", u.Host, err)
	}
	return &HostClient{url: u, client: client}, nil
}

// Close logs out and releases the session.
func (c *HostClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.Logout(ctx)
}

func (c *HostClient) session() *govmomi.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// FindVM resolves a VM by instance uuid via the host's search index.
func (c *HostClient) FindVM(ctx context.Context, uuid string) (VM, error) {
	client := c.session()
	idx := object.NewSearchIndex(client.Client)
	ref, err := idx.FindByUuid(ctx, nil, uuid, true, nil)
	if err != nil {
		return nil, &Fault{Msg: err.Error(), NotAuthenticated: isNotAuthenticatedFault(err)}
	}
	if ref == nil {
		return nil, errdefs.NotFound("no VM with uuid %s", uuid)
	}
	vm, ok := ref.(*object.VirtualMachine)
	if !ok {
		return nil, errdefs.Infrastructure("uuid %s resolved to a %T, not a VM", uuid, ref)
	}
	name, err := vm.ObjectName(ctx)
	if err != nil {
		return nil, &Fault{Msg: err.Error(), NotAuthenticated: isNotAuthenticatedFault(err)}
	}
	return &hostVM{vm: vm, uuid: uuid, name: name}, nil
}

// Reconfigure submits the device changes as one reconfiguration task.
func (c *HostClient) Reconfigure(ctx context.Context, vm VM, changes []DeviceChange) (Task, error) {
	hv, ok := vm.(*hostVM)
	if !ok {
		return nil, errdefs.Infrastructure("VM handle %T does not belong to this client", vm)
	}

	var spec vim.VirtualMachineConfigSpec
	for _, change := range changes {
		devSpec, err := hv.deviceSpec(ctx, change)
		if err != nil {
			return nil, err
		}
		spec.DeviceChange = append(spec.DeviceChange, devSpec)
	}

	task, err := hv.vm.Reconfigure(ctx, spec)
	if err != nil {
		return nil, &Fault{Msg: err.Error(), NotAuthenticated: isNotAuthenticatedFault(err)}
	}
	return hostTask{task: task}, nil
}

// Reconnect replaces the hostd session.
func (c *HostClient) Reconnect(ctx context.Context) error {
	client, err := govmomi.NewClient(ctx, c.url, true)
	if err != nil {
		return errdefs.Infrastructure("failed to reconnect to hostd at %s: %v", c.url.Host, err)
	}
	c.mu.Lock()
	old := c.client
	c.client = client
	c.mu.Unlock()
	// best effort; the session may already be invalid
	_ = old.Logout(ctx)
	return nil
}

type hostVM struct {
	vm   *object.VirtualMachine
	uuid string
	name string
}

func (v *hostVM) UUID() string { return v.uuid }
func (v *hostVM) Name() string { return v.name }

// Devices snapshots the VM's SCSI controllers and disks.
func (v *hostVM) Devices(ctx context.Context) (types.DeviceSnapshot, error) {
	devices, err := v.vm.Device(ctx)
	if err != nil {
		return types.DeviceSnapshot{}, &Fault{Msg: err.Error(), NotAuthenticated: isNotAuthenticatedFault(err)}
	}

	var snap types.DeviceSnapshot
	for _, dev := range devices {
		switch d := dev.(type) {
		case *vim.ParaVirtualSCSIController:
			snap.Controllers = append(snap.Controllers, types.Controller{
				Kind: types.ControllerParavirtual,
				Key:  int(d.Key),
				Bus:  int(d.BusNumber),
			})
		case *vim.VirtualLsiLogicController:
			snap.Controllers = append(snap.Controllers, types.Controller{
				Kind: types.ControllerLSILogic,
				Key:  int(d.Key),
				Bus:  int(d.BusNumber),
			})
		case *vim.VirtualBusLogicController:
			snap.Controllers = append(snap.Controllers, types.Controller{
				Kind: types.ControllerBusLogic,
				Key:  int(d.Key),
				Bus:  int(d.BusNumber),
			})
		case *vim.VirtualDisk:
			backing, ok := d.Backing.(*vim.VirtualDiskFlatVer2BackingInfo)
			if !ok {
				continue
			}
			unit := 0
			if d.UnitNumber != nil {
				unit = int(*d.UnitNumber)
			}
			snap.Disks = append(snap.Disks, types.Disk{
				ControllerKey: int(d.ControllerKey),
				Unit:          unit,
				BackingPath:   backingKey(backing.FileName),
			})
		}
	}
	return snap, nil
}

func (v *hostVM) deviceSpec(ctx context.Context, change DeviceChange) (vim.BaseVirtualDeviceConfigSpec, error) {
	switch ch := change.(type) {
	case AddController:
		return &vim.VirtualDeviceConfigSpec{
			Operation: vim.VirtualDeviceConfigSpecOperationAdd,
			Device: &vim.ParaVirtualSCSIController{
				VirtualSCSIController: vim.VirtualSCSIController{
					SharedBus: vim.VirtualSCSISharingNoSharing,
					VirtualController: vim.VirtualController{
						BusNumber:     int32(ch.Bus),
						VirtualDevice: vim.VirtualDevice{Key: int32(ch.Key)},
					},
				},
			},
		}, nil

	case AddDisk:
		unit := int32(ch.Unit)
		return &vim.VirtualDeviceConfigSpec{
			Operation: vim.VirtualDeviceConfigSpecOperationAdd,
			Device: &vim.VirtualDisk{
				VirtualDevice: vim.VirtualDevice{
					Key:           -1,
					ControllerKey: int32(ch.ControllerKey),
					UnitNumber:    &unit,
					Backing: &vim.VirtualDiskFlatVer2BackingInfo{
						DiskMode: string(vim.VirtualDiskModeIndependent_persistent),
						VirtualDeviceFileBackingInfo: vim.VirtualDeviceFileBackingInfo{
							FileName: ch.Path,
						},
					},
				},
			},
		}, nil

	case RemoveDisk:
		device, err := v.findDevice(ctx, ch.Disk)
		if err != nil {
			return nil, err
		}
		return &vim.VirtualDeviceConfigSpec{
			Operation: vim.VirtualDeviceConfigSpecOperationRemove,
			Device:    device,
		}, nil

	default:
		return nil, errdefs.Infrastructure("unhandled device change %T", change)
	}
}

// findDevice maps a snapshot disk back onto the live device it came from.
func (v *hostVM) findDevice(ctx context.Context, disk types.Disk) (*vim.VirtualDisk, error) {
	devices, err := v.vm.Device(ctx)
	if err != nil {
		return nil, &Fault{Msg: err.Error(), NotAuthenticated: isNotAuthenticatedFault(err)}
	}
	for _, dev := range devices {
		d, ok := dev.(*vim.VirtualDisk)
		if !ok {
			continue
		}
		backing, ok := d.Backing.(*vim.VirtualDiskFlatVer2BackingInfo)
		if !ok {
			continue
		}
		if int(d.ControllerKey) == disk.ControllerKey &&
			d.UnitNumber != nil && int(*d.UnitNumber) == disk.Unit &&
			backingKey(backing.FileName) == disk.BackingPath {
			return d, nil
		}
	}
	return nil, errdefs.NotFound("disk %s is no longer a device of VM %s", disk.BackingPath, v.name)
}

type hostTask struct {
	task *object.Task
}

func (t hostTask) Wait(ctx context.Context) error {
	if err := t.task.Wait(ctx); err != nil {
		return &Fault{Msg: err.Error(), NotAuthenticated: isNotAuthenticatedFault(err)}
	}
	return nil
}

func isNotAuthenticatedFault(err error) bool {
	f, ok := err.(vim.HasFault)
	if !ok {
		return false
	}
	_, notAuth := f.Fault().(*vim.NotAuthenticated)
	return notAuth
}

// backingKey normalizes a disk backing file name to the volume-directory
// relative form used as the placement key. Hostd reports backings either as
// "[datastore] dir/file.vmdk" or as an absolute /vmfs/volumes path; both
// reduce to "dir/file.vmdk".
func backingKey(fileName string) string {
	p := fileName
	if strings.HasPrefix(p, "[") {
		if i := strings.Index(p, "] "); i >= 0 {
			p = p[i+2:]
		}
	}
	return filepath.Join(filepath.Base(filepath.Dir(p)), filepath.Base(p))
}
