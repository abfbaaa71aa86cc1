package placement

import (
	"path/filepath"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// The hypervisor is very picky about unit numbers and controllers of
// virtual disks. Every controller supports 15 virtual disks, unit numbers
// must be unique within the controller and range from 0 to 15 with 7
// reserved for the controller itself. Controller device keys are
// ControllerKeyOffset + bus number, one controller per bus, 4 buses max.
const (
	ControllerKeyOffset = 1000
	MaxControllers      = 4
	UnitsPerController  = 16
	ReservedUnit        = 7
)

// Placement describes where a disk device attaches on a VM.
type Placement struct {
	ControllerKey int
	Bus           int
	Unit          int

	// NewController is set when no suitable controller exists and one must
	// be added at (ControllerKey, Bus) in the same reconfiguration.
	NewController bool

	// Existing is set when the disk is already attached at this placement;
	// the attach is then a metadata-sync no-op.
	Existing bool
}

// PlaceDisk computes where the disk backed by backingPath should attach,
// given a snapshot of the VM's SCSI hardware.
//
// The decision sequence: an already-attached disk wins (attach is
// idempotent); otherwise the paravirtual controller is preferred; otherwise
// a new paravirtual controller is synthesized on the lowest free bus. Within
// the chosen controller the lowest free unit is taken, skipping the reserved
// unit.
//
// Nothing here mutates the VM; the caller issues the reconfiguration. Two
// concurrent placements against the same snapshot may collide, and the
// hypervisor's own per-VM task serialization is the only arbiter.
func PlaceDisk(devices types.DeviceSnapshot, backingPath string) (Placement, error) {
	if disk, ok := FindDisk(devices, backingPath); ok {
		logger := log.WithComponent("placement")
		logger.Debug().
			Str("backing", backingPath).Int("unit", disk.Unit).Msg("disk already attached")
		return Placement{
			ControllerKey: disk.ControllerKey,
			Bus:           disk.ControllerKey - ControllerKeyOffset,
			Unit:          disk.Unit,
			Existing:      true,
		}, nil
	}

	for _, c := range devices.Controllers {
		if c.Kind == types.ControllerParavirtual {
			unit, ok := lowestFreeUnit(devices.Disks, c.Key)
			if !ok {
				return Placement{}, errdefs.Capacity("failed to place new disk - out of disk slots")
			}
			return Placement{ControllerKey: c.Key, Bus: c.Bus, Unit: unit}, nil
		}
	}

	// No paravirtual controller on this VM; synthesize one on the lowest
	// free bus.
	if len(devices.Controllers) >= MaxControllers {
		return Placement{}, errdefs.Capacity("failed to place paravirtual controller - out of bus slots")
	}
	taken := make(map[int]bool, len(devices.Controllers))
	for _, c := range devices.Controllers {
		taken[c.Bus] = true
	}
	for bus := 0; bus < MaxControllers; bus++ {
		if !taken[bus] {
			return Placement{
				ControllerKey: ControllerKeyOffset + bus,
				Bus:           bus,
				Unit:          0, // fresh controller, first slot
				NewController: true,
			}, nil
		}
	}
	return Placement{}, errdefs.Capacity("failed to place paravirtual controller - out of bus slots")
}

// FindDisk scans the snapshot for a disk bound to backingPath. Used by
// attach for idempotency and by detach to locate the device to remove.
func FindDisk(devices types.DeviceSnapshot, backingPath string) (types.Disk, bool) {
	for _, d := range devices.Disks {
		if d.BackingPath == backingPath {
			return d, true
		}
	}
	return types.Disk{}, false
}

// BackingPath derives the canonical backing identity of a vmdk path: the
// final volume directory (links resolved) joined with the descriptor name.
// Disk backings in a hardware snapshot are compared against this form.
func BackingPath(vmdkPath string) string {
	dir := filepath.Dir(vmdkPath)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return filepath.Join(filepath.Base(dir), filepath.Base(vmdkPath))
}

// lowestFreeUnit returns the lowest unit on controllerKey not taken by a
// disk, skipping the reserved unit.
func lowestFreeUnit(disks []types.Disk, controllerKey int) (int, bool) {
	taken := make(map[int]bool, UnitsPerController)
	for _, d := range disks {
		if d.ControllerKey == controllerKey {
			taken[d.Unit] = true
		}
	}
	for unit := 0; unit < UnitsPerController; unit++ {
		if unit == ReservedUnit {
			continue
		}
		if !taken[unit] {
			return unit, true
		}
	}
	return 0, false
}
