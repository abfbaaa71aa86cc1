package types

import (
	"time"
)

// VM identifies the virtual machine a request originates from. Identity is
// supplied by the transport layer after resolving the caller's process-group
// token; the core treats it as given, never self-discovered.
type VM struct {
	UUID       string // canonical 8-4-4-4-12 form
	Name       string // display name
	ConfigPath string // path of the VM's config file, used to find its datastore
}

// Request is the inbound wire payload received over the transport.
type Request struct {
	Cmd     string         `json:"cmd"`
	Details RequestDetails `json:"details"`
}

// RequestDetails carries the volume spec and the raw creation options.
// Name is either "volume" or "volume@datastore".
type RequestDetails struct {
	Name string            `json:"Name"`
	Opts map[string]string `json:"Opts,omitempty"`
}

// Command values accepted in Request.Cmd.
const (
	CmdCreate = "create"
	CmdRemove = "remove"
	CmdGet    = "get"
	CmdList   = "list"
	CmdAttach = "attach"
	CmdDetach = "detach"
)

// ErrorResponse is the single failure reply shape. No other error
// representation crosses the service boundary.
type ErrorResponse struct {
	Error string `json:"Error"`
}

// AttachResponse reports where the disk surfaced in the guest. Unit and Bus
// are strings on the wire for compatibility with existing clients.
type AttachResponse struct {
	Unit string `json:"Unit"`
	Bus  string `json:"Bus"`
}

// VolumeInfo is one entry of a list reply.
type VolumeInfo struct {
	Name       string            `json:"Name"`
	Attributes map[string]string `json:"Attributes"`
}

// VolumeStatus is the attach state recorded in a volume's side-car metadata.
type VolumeStatus string

const (
	VolumeDetached VolumeStatus = "detached"
	VolumeAttached VolumeStatus = "attached"
)

// VolumeMetadata is the per-volume record persisted in the side-car KV store.
// AttachedVMUUID and AttachedVMName are set and cleared together: both are
// present iff Status is VolumeAttached.
type VolumeMetadata struct {
	Status         VolumeStatus      `json:"status"`
	Created        time.Time         `json:"created"`
	CreatedBy      string            `json:"created-by"`
	AttachedVMUUID string            `json:"attachedVMUuid,omitempty"`
	AttachedVMName string            `json:"attachedVMName,omitempty"`
	VolOpts        map[string]string `json:"volOpts"`
}

// DiskFormat is the allocation format of a created vmdk.
type DiskFormat string

const (
	DiskFormatZeroedThick      DiskFormat = "zeroedthick"
	DiskFormatThin             DiskFormat = "thin"
	DiskFormatEagerZeroedThick DiskFormat = "eagerzeroedthick"
)

// ValidDiskFormats enumerates the accepted diskformat option values.
var ValidDiskFormats = []DiskFormat{
	DiskFormatZeroedThick,
	DiskFormatThin,
	DiskFormatEagerZeroedThick,
}

// CreateOptions is the closed, validated form of the user-supplied options
// bag. Zero values mean the documented defaults apply.
type CreateOptions struct {
	Size           string     // "<positive integer><kb|mb|gb|tb>", default 100mb
	DiskFormat     DiskFormat // default thin
	VSANPolicyName string     // valid only on VSAN-backed datastores
}

// ControllerKind distinguishes the virtual SCSI controller variants a VM
// may carry.
type ControllerKind string

const (
	// ControllerParavirtual is the high-performance controller with no
	// shared bus; attach placement prefers it.
	ControllerParavirtual ControllerKind = "pvscsi"
	ControllerLSILogic    ControllerKind = "lsilogic"
	ControllerBusLogic    ControllerKind = "buslogic"
)

// Controller is one virtual SCSI controller in a VM's hardware inventory.
type Controller struct {
	Kind ControllerKind
	Key  int // device key, controllerKeyOffset + Bus
	Bus  int // bus number, 0..3
}

// Disk is one virtual disk in a VM's hardware inventory.
type Disk struct {
	ControllerKey int
	Unit          int
	BackingPath   string // resolved backing filename, "<dir>/<name>.vmdk"
}

// DeviceSnapshot is a read-only view of a VM's SCSI hardware, taken once per
// placement decision.
type DeviceSnapshot struct {
	Controllers []Controller
	Disks       []Disk
}
