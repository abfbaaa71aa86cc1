package ops

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lipingxue/docker-volume-vsphere/pkg/datastore"
	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/kvstore"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/metrics"
	"github.com/lipingxue/docker-volume-vsphere/pkg/placement"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
	"github.com/lipingxue/docker-volume-vsphere/pkg/validate"
	"github.com/lipingxue/docker-volume-vsphere/pkg/vsphere"
)

// DiskTools is the slice of disk tooling the manager drives. The production
// implementation shells out to the host utilities; tests supply fakes.
type DiskTools interface {
	CreateDisk(ctx context.Context, path string, opts types.CreateOptions, policyPath string) error
	DeleteDisk(ctx context.Context, path string) error
	MakeFilesystem(ctx context.Context, label, device string) error
	ResolveBacking(ctx context.Context, path string) (string, error)
}

// Metadata is the persistence surface for volume records.
type Metadata interface {
	Create(vmdkPath string, meta *types.VolumeMetadata) error
	Get(vmdkPath string) (*types.VolumeMetadata, error)
	Delete(vmdkPath string) error
	SetAttached(vmdkPath string, vm types.VM) error
	SetDetached(vmdkPath string) error
	GetAttached(vmdkPath string) (bool, string)
}

// Manager implements the volume lifecycle: create, remove, get, list,
// attach and detach. It composes the metadata store, the hypervisor client
// and the disk tooling; all host-state decisions live here.
type Manager struct {
	kv       Metadata
	client   vsphere.Client
	tools    DiskTools
	policies validate.PolicyResolver
}

// NewManager creates a lifecycle manager.
func NewManager(kv Metadata, client vsphere.Client, tools DiskTools, policies validate.PolicyResolver) *Manager {
	return &Manager{kv: kv, client: client, tools: tools, policies: policies}
}

// Create makes a new volume at vmdkPath: the disk image, its metadata
// record, and an ext4 filesystem labeled with the volume name. Partial
// failures roll the earlier steps back so no half-created volume remains.
func (m *Manager) Create(ctx context.Context, vmdkPath, name string, vm types.VM, opts map[string]string) error {
	if _, err := os.Stat(vmdkPath); err == nil {
		return errdefs.Conflict("volume %s already exists", name)
	}

	createOpts, err := validate.CreateOptions(opts, vmdkPath, m.policies)
	if err != nil {
		return err
	}

	policyPath := ""
	if createOpts.VSANPolicyName != "" {
		policyPath = m.policies.PolicyPath(createOpts.VSANPolicyName)
	}

	logger := log.WithVolume(vmdkPath)
	logger.Info().Str("size", createOpts.Size).Str("format", string(createOpts.DiskFormat)).Msg("creating volume")

	if err := m.tools.CreateDisk(ctx, vmdkPath, createOpts, policyPath); err != nil {
		return err
	}

	meta := &types.VolumeMetadata{
		Status:    types.VolumeDetached,
		Created:   time.Now().UTC(),
		CreatedBy: vm.Name,
		VolOpts:   volOpts(createOpts),
	}
	if err := m.kv.Create(vmdkPath, meta); err != nil {
		if cleanupErr := m.tools.DeleteDisk(ctx, vmdkPath); cleanupErr != nil {
			return fmt.Errorf("%w (cleanup also failed: %v)", err, cleanupErr)
		}
		return err
	}

	if err := m.makeFilesystem(ctx, vmdkPath, name); err != nil {
		if cleanupErr := m.cleanupVolume(ctx, vmdkPath); cleanupErr != nil {
			return fmt.Errorf("%w (cleanup also failed: %v)", err, cleanupErr)
		}
		return err
	}

	metrics.VolumesCreated.Inc()
	return nil
}

func (m *Manager) makeFilesystem(ctx context.Context, vmdkPath, name string) error {
	device, err := m.tools.ResolveBacking(ctx, vmdkPath)
	if err != nil {
		return err
	}
	return m.tools.MakeFilesystem(ctx, name, device)
}

func (m *Manager) cleanupVolume(ctx context.Context, vmdkPath string) error {
	if err := m.kv.Delete(vmdkPath); err != nil {
		return err
	}
	return m.tools.DeleteDisk(ctx, vmdkPath)
}

// Remove deletes a volume. A volume attached to a VM is never removed; the
// attach state is re-read here rather than trusted from the caller, so a
// racing attach still gets a clean refusal.
func (m *Manager) Remove(ctx context.Context, vmdkPath, name string) error {
	if _, err := os.Stat(vmdkPath); err != nil {
		return errdefs.NotFound("volume %s does not exist", name)
	}

	meta, err := m.kv.Get(vmdkPath)
	if err == nil && meta.Status == types.VolumeAttached {
		return errdefs.Conflict("volume %s is in use by VM %s, detach it first", name, meta.AttachedVMName)
	}
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}

	logger := log.WithVolume(vmdkPath)
	logger.Info().Msg("removing volume")

	if err := m.kv.Delete(vmdkPath); err != nil {
		return err
	}
	if err := m.tools.DeleteDisk(ctx, vmdkPath); err != nil {
		return err
	}

	metrics.VolumesRemoved.Inc()
	return nil
}

// Get returns the recorded attributes of a volume.
func (m *Manager) Get(vmdkPath, name string) (types.VolumeInfo, error) {
	if _, err := os.Stat(vmdkPath); err != nil {
		return types.VolumeInfo{}, errdefs.NotFound("volume %s does not exist", name)
	}

	meta, err := m.kv.Get(vmdkPath)
	if err != nil {
		return types.VolumeInfo{}, err
	}

	attrs := map[string]string{
		"status":     string(meta.Status),
		"created":    meta.Created.UTC().Format(time.RFC3339),
		"created-by": meta.CreatedBy,
	}
	for k, v := range meta.VolOpts {
		attrs[k] = v
	}
	if meta.Status == types.VolumeAttached {
		attrs["attached-to"] = meta.AttachedVMName
	}

	return types.VolumeInfo{Name: name, Attributes: attrs}, nil
}

// List enumerates all volumes across known datastores. Names on the
// calling VM's own datastore come back short; volumes elsewhere carry the
// @datastore suffix so they round-trip through the name parser.
func (m *Manager) List(provider datastore.Provider, vmDatastore string) ([]types.VolumeInfo, error) {
	vols, err := provider.Volumes()
	if err != nil {
		return nil, err
	}
	infos := make([]types.VolumeInfo, 0, len(vols))
	for _, v := range vols {
		infos = append(infos, types.VolumeInfo{
			Name: datastore.FullVolName(v.Name, v.Datastore, vmDatastore),
			// Empty map, not nil: list replies encode Attributes as {}.
			Attributes: map[string]string{},
		})
	}
	return infos, nil
}

// Attach makes the volume visible to the VM as a SCSI disk and returns the
// bus and unit the guest should probe. Attaching a volume that is already
// a device of this VM returns its current address.
func (m *Manager) Attach(ctx context.Context, vmdkPath string, vm types.VM) (*types.AttachResponse, error) {
	var resp *types.AttachResponse
	err := m.withReconnect(ctx, func() error {
		var err error
		resp, err = m.attach(ctx, vmdkPath, vm)
		return err
	})
	return resp, err
}

func (m *Manager) attach(ctx context.Context, vmdkPath string, vm types.VM) (*types.AttachResponse, error) {
	vsVM, err := m.client.FindVM(ctx, vm.UUID)
	if err != nil {
		return nil, errdefs.Infrastructure("failed to find VM %s: %v", vm.UUID, err)
	}

	devices, err := vsVM.Devices(ctx)
	if err != nil {
		return nil, errdefs.Infrastructure("failed to read devices of VM %s: %v", vm.Name, err)
	}

	pl, err := placement.PlaceDisk(devices, placement.BackingPath(vmdkPath))
	if err != nil {
		return nil, err
	}

	logger := log.WithVolume(vmdkPath)
	if pl.Existing {
		// Hypervisor state wins; re-sync the record in case a write was lost.
		if err := m.kv.SetAttached(vmdkPath, vm); err != nil {
			return nil, err
		}
		logger.Info().Str("vm", vm.Name).Int("bus", pl.Bus).Int("unit", pl.Unit).
			Msg("volume already attached")
		return attachResponse(pl), nil
	}

	var changes []vsphere.DeviceChange
	if pl.NewController {
		changes = append(changes, vsphere.AddController{Key: pl.ControllerKey, Bus: pl.Bus})
	}
	changes = append(changes, vsphere.AddDisk{
		Path:          vmdkPath,
		ControllerKey: pl.ControllerKey,
		Unit:          pl.Unit,
	})

	if err := m.reconfigure(ctx, vsVM, changes); err != nil {
		if attached, owner := m.kv.GetAttached(vmdkPath); attached && owner != vm.UUID {
			return nil, errdefs.Conflict("failed to attach %s, already in use by VM %s: %v",
				vmdkPath, owner, err)
		}
		return nil, err
	}

	if err := m.kv.SetAttached(vmdkPath, vm); err != nil {
		return nil, err
	}

	metrics.VolumesAttached.Inc()
	logger.Info().Str("vm", vm.Name).Int("bus", pl.Bus).Int("unit", pl.Unit).Msg("volume attached")
	return attachResponse(pl), nil
}

// Detach removes the volume's disk device from the VM.
func (m *Manager) Detach(ctx context.Context, vmdkPath string, vm types.VM) error {
	return m.withReconnect(ctx, func() error {
		return m.detach(ctx, vmdkPath, vm)
	})
}

func (m *Manager) detach(ctx context.Context, vmdkPath string, vm types.VM) error {
	vsVM, err := m.client.FindVM(ctx, vm.UUID)
	if err != nil {
		return errdefs.Infrastructure("failed to find VM %s: %v", vm.UUID, err)
	}

	devices, err := vsVM.Devices(ctx)
	if err != nil {
		return errdefs.Infrastructure("failed to read devices of VM %s: %v", vm.Name, err)
	}

	disk, found := placement.FindDisk(devices, placement.BackingPath(vmdkPath))
	if !found {
		return errdefs.NotFound("volume %s is not attached to VM %s", vmdkPath, vm.Name)
	}

	if err := m.reconfigure(ctx, vsVM, []vsphere.DeviceChange{vsphere.RemoveDisk{Disk: disk}}); err != nil {
		return err
	}

	if err := m.kv.SetDetached(vmdkPath); err != nil {
		return err
	}

	metrics.VolumesAttached.Dec()
	logger := log.WithVolume(vmdkPath)
	logger.Info().Str("vm", vm.Name).Msg("volume detached")
	return nil
}

func (m *Manager) reconfigure(ctx context.Context, vm vsphere.VM, changes []vsphere.DeviceChange) error {
	task, err := m.client.Reconfigure(ctx, vm, changes)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

// withReconnect runs fn, and on a session-expiry fault reconnects to the
// hypervisor and retries fn exactly once.
func (m *Manager) withReconnect(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !vsphere.IsNotAuthenticated(err) {
		return err
	}
	logger := log.WithComponent("ops")
	logger.Warn().Msg("hypervisor session expired, reconnecting")
	if rerr := m.client.Reconnect(ctx); rerr != nil {
		return errdefs.Infrastructure("failed to reconnect to hypervisor: %v", rerr)
	}
	return fn()
}

func attachResponse(pl placement.Placement) *types.AttachResponse {
	return &types.AttachResponse{
		Unit: strconv.Itoa(pl.Unit),
		Bus:  strconv.Itoa(pl.Bus),
	}
}

func volOpts(opts types.CreateOptions) map[string]string {
	m := map[string]string{
		validate.OptSize:       opts.Size,
		validate.OptDiskFormat: string(opts.DiskFormat),
	}
	if opts.VSANPolicyName != "" {
		m[validate.OptVSANPolicyName] = opts.VSANPolicyName
	}
	return m
}

var _ Metadata = (*kvstore.Store)(nil)
