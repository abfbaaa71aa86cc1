package placement

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

func pvscsi(bus int) types.Controller {
	return types.Controller{Kind: types.ControllerParavirtual, Key: ControllerKeyOffset + bus, Bus: bus}
}

func lsilogic(bus int) types.Controller {
	return types.Controller{Kind: types.ControllerLSILogic, Key: ControllerKeyOffset + bus, Bus: bus}
}

func TestPlaceDisk_EmptyVM(t *testing.T) {
	p, err := PlaceDisk(types.DeviceSnapshot{}, "dockvols/v1.vmdk")
	require.NoError(t, err)

	assert.True(t, p.NewController, "fresh VM needs a controller added")
	assert.Equal(t, 0, p.Bus)
	assert.Equal(t, ControllerKeyOffset, p.ControllerKey)
	assert.Equal(t, 0, p.Unit)
	assert.False(t, p.Existing)
}

func TestPlaceDisk_PrefersParavirtual(t *testing.T) {
	devices := types.DeviceSnapshot{
		Controllers: []types.Controller{lsilogic(0), pvscsi(1)},
	}

	p, err := PlaceDisk(devices, "dockvols/v1.vmdk")
	require.NoError(t, err)
	assert.False(t, p.NewController)
	assert.Equal(t, 1, p.Bus)
	assert.Equal(t, ControllerKeyOffset+1, p.ControllerKey)
	assert.Equal(t, 0, p.Unit)
}

func TestPlaceDisk_LowestFreeUnitSkipsReserved(t *testing.T) {
	ctrl := pvscsi(0)
	devices := types.DeviceSnapshot{Controllers: []types.Controller{ctrl}}
	for unit := 0; unit < 7; unit++ {
		devices.Disks = append(devices.Disks, types.Disk{
			ControllerKey: ctrl.Key, Unit: unit,
			BackingPath: fmt.Sprintf("dockvols/v%d.vmdk", unit),
		})
	}

	p, err := PlaceDisk(devices, "dockvols/new.vmdk")
	require.NoError(t, err)
	// Units 0-6 taken, 7 reserved: next free is 8
	assert.Equal(t, 8, p.Unit)
}

func TestPlaceDisk_NeverAssignsUnitSeven(t *testing.T) {
	ctrl := pvscsi(0)
	devices := types.DeviceSnapshot{Controllers: []types.Controller{ctrl}}

	// Fill slots one by one; unit 7 must never come back
	for i := 0; i < 15; i++ {
		p, err := PlaceDisk(devices, fmt.Sprintf("dockvols/v%d.vmdk", i))
		require.NoError(t, err, "placement %d", i)
		assert.NotEqual(t, ReservedUnit, p.Unit, "placement %d assigned reserved unit", i)
		devices.Disks = append(devices.Disks, types.Disk{
			ControllerKey: p.ControllerKey, Unit: p.Unit,
			BackingPath: fmt.Sprintf("dockvols/v%d.vmdk", i),
		})
	}
}

func TestPlaceDisk_NoDuplicateSlots(t *testing.T) {
	ctrl := pvscsi(0)
	devices := types.DeviceSnapshot{Controllers: []types.Controller{ctrl}}

	seen := make(map[[2]int]bool)
	for i := 0; i < 15; i++ {
		p, err := PlaceDisk(devices, fmt.Sprintf("dockvols/v%d.vmdk", i))
		require.NoError(t, err)
		slot := [2]int{p.ControllerKey, p.Unit}
		assert.False(t, seen[slot], "slot %v assigned twice", slot)
		seen[slot] = true
		devices.Disks = append(devices.Disks, types.Disk{
			ControllerKey: p.ControllerKey, Unit: p.Unit,
			BackingPath: fmt.Sprintf("dockvols/v%d.vmdk", i),
		})
	}
}

func TestPlaceDisk_ControllerFull(t *testing.T) {
	ctrl := pvscsi(0)
	devices := types.DeviceSnapshot{Controllers: []types.Controller{ctrl}}
	for unit := 0; unit < UnitsPerController; unit++ {
		if unit == ReservedUnit {
			continue
		}
		devices.Disks = append(devices.Disks, types.Disk{
			ControllerKey: ctrl.Key, Unit: unit,
			BackingPath: fmt.Sprintf("dockvols/v%d.vmdk", unit),
		})
	}

	_, err := PlaceDisk(devices, "dockvols/new.vmdk")
	assert.True(t, errdefs.IsCapacity(err), "error = %v, want Capacity", err)
}

func TestPlaceDisk_SynthesizesControllerOnLowestFreeBus(t *testing.T) {
	devices := types.DeviceSnapshot{
		Controllers: []types.Controller{lsilogic(0), lsilogic(2)},
	}

	p, err := PlaceDisk(devices, "dockvols/v1.vmdk")
	require.NoError(t, err)
	assert.True(t, p.NewController)
	assert.Equal(t, 1, p.Bus, "lowest unused bus")
	assert.Equal(t, ControllerKeyOffset+1, p.ControllerKey)
	assert.Equal(t, 0, p.Unit)
}

func TestPlaceDisk_OutOfBusSlots(t *testing.T) {
	devices := types.DeviceSnapshot{
		Controllers: []types.Controller{lsilogic(0), lsilogic(1), lsilogic(2), lsilogic(3)},
	}

	_, err := PlaceDisk(devices, "dockvols/v1.vmdk")
	assert.True(t, errdefs.IsCapacity(err), "error = %v, want Capacity", err)
}

func TestPlaceDisk_ExistingAttachmentIsIdempotent(t *testing.T) {
	ctrl := pvscsi(2)
	devices := types.DeviceSnapshot{
		Controllers: []types.Controller{ctrl},
		Disks: []types.Disk{
			{ControllerKey: ctrl.Key, Unit: 3, BackingPath: "dockvols/v1.vmdk"},
		},
	}

	first, err := PlaceDisk(devices, "dockvols/v1.vmdk")
	require.NoError(t, err)
	assert.True(t, first.Existing)
	assert.Equal(t, 2, first.Bus)
	assert.Equal(t, 3, first.Unit)

	second, err := PlaceDisk(devices, "dockvols/v1.vmdk")
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated placement must return the same slot")
}

func TestFindDisk(t *testing.T) {
	devices := types.DeviceSnapshot{
		Disks: []types.Disk{
			{ControllerKey: 1000, Unit: 0, BackingPath: "dockvols/a.vmdk"},
			{ControllerKey: 1000, Unit: 1, BackingPath: "dockvols/b.vmdk"},
		},
	}

	d, ok := FindDisk(devices, "dockvols/b.vmdk")
	require.True(t, ok)
	assert.Equal(t, 1, d.Unit)

	_, ok = FindDisk(devices, "dockvols/missing.vmdk")
	assert.False(t, ok)
}

func TestBackingPath(t *testing.T) {
	got := BackingPath("/vmfs/volumes/ds1/dockvols/v1.vmdk")
	assert.Equal(t, "dockvols/v1.vmdk", got)
}
