/*
Package types defines the core data structures used throughout the vmdkops
service.

This package contains the fundamental types that represent the service's
domain model: the calling VM's identity, the JSON request and reply payloads
exchanged over the transport, the per-volume side-car metadata record, the
validated creation options, and the tagged-variant model of a VM's virtual
SCSI hardware (controllers and disks) consumed by the placement allocator.

Types here carry no behavior beyond their declarations; all logic lives in
the packages that consume them. This keeps import edges one-directional:
every package may import types, and types imports nothing of ours.

# Key Invariants

  - VolumeMetadata.AttachedVMUUID and AttachedVMName are set and cleared as a
    pair; both present iff Status == VolumeAttached.
  - A volume is identified by (name, datastore); at most one volume exists
    per pair.
  - Controller.Key is always controllerKeyOffset + Controller.Bus, with at
    most four buses per VM.
*/
package types
