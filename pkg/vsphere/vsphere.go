package vsphere

import (
	"context"
	"errors"

	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// VM is a handle on a found virtual machine.
type VM interface {
	// UUID returns the VM's canonical uuid.
	UUID() string

	// Name returns the VM's display name.
	Name() string

	// Devices takes a read-only snapshot of the VM's SCSI hardware.
	Devices(ctx context.Context) (types.DeviceSnapshot, error)
}

// Task is a submitted reconfiguration. Wait blocks until the hypervisor
// reports completion; a task fault surfaces as the returned error. Callers
// needing bounded latency pass a context with a deadline. The service itself
// imposes none, matching the hypervisor's run-to-completion model.
type Task interface {
	Wait(ctx context.Context) error
}

// Client is the hypervisor surface the core consumes. The production
// binding talks to the local hostd; tests supply fakes. The hypervisor
// serializes reconfiguration tasks per VM, which is the only ordering
// guarantee the service relies on for concurrent requests.
type Client interface {
	// FindVM resolves a VM by uuid. The uuid comes from the VM monitor, so
	// the VM must exist; a lookup failure is an infrastructure error.
	FindVM(ctx context.Context, uuid string) (VM, error)

	// Reconfigure submits a batch of device changes on a VM.
	Reconfigure(ctx context.Context, vm VM, changes []DeviceChange) (Task, error)

	// Reconnect re-establishes the hostd session after an
	// authentication-expired fault.
	Reconnect(ctx context.Context) error
}

// DeviceChange is one entry of a reconfiguration batch. The variants are a
// closed set; consumers switch on the concrete type.
type DeviceChange interface {
	isDeviceChange()
}

// AddController adds a paravirtual SCSI controller with no bus sharing at
// the given key and bus number.
type AddController struct {
	Key int
	Bus int
}

// AddDisk attaches the vmdk at Path as an independent-persistent disk, so
// it is not snapshotted with the VM.
type AddDisk struct {
	Path          string // full vmdk path
	ControllerKey int
	Unit          int
}

// RemoveDisk detaches the given disk device.
type RemoveDisk struct {
	Disk types.Disk
}

func (AddController) isDeviceChange() {}
func (AddDisk) isDeviceChange()       {}
func (RemoveDisk) isDeviceChange()    {}

// Fault is an error reported by the hypervisor for a call or task.
type Fault struct {
	Msg string

	// NotAuthenticated marks a session-expiry fault. The caller reconnects
	// once and retries the same request exactly once.
	NotAuthenticated bool
}

func (f *Fault) Error() string {
	return f.Msg
}

// IsNotAuthenticated reports whether err carries a session-expiry fault.
func IsNotAuthenticated(err error) bool {
	var fault *Fault
	return errors.As(err, &fault) && fault.NotAuthenticated
}
