// Package ops implements the volume lifecycle operations.
//
// The Manager is the core of the service: it composes the metadata store,
// the hypervisor client, and the host disk tooling, and sequences them into
// the six operations the guest-facing protocol exposes (create, remove,
// get, list, attach, detach).
//
// # Operation Sequencing
//
// Create runs in three steps with rollback on partial failure:
//
//	1. vmkfstools allocates the disk image
//	2. the metadata side-car is written next to it
//	3. the backing device is resolved and formatted ext4
//
// A failure at step 2 deletes the image; a failure at step 3 deletes both
// the side-car and the image. Either way the caller sees the primary error,
// annotated with the cleanup error if the rollback itself failed.
//
// Remove refuses volumes that the metadata store records as attached, and
// re-reads that state at the moment of the call rather than trusting any
// earlier check by the caller.
//
// Attach reads the VM's SCSI device snapshot, asks the placement package
// for a bus and unit, and submits the reconfiguration (prepending a new
// controller when no slot was free on an existing one). An attach of a
// volume that is already a device of the calling VM is idempotent and
// returns its current address. When the hypervisor rejects the attach and
// the metadata store shows another VM owning the volume, the error reports
// that VM so the user knows what to detach.
//
// # Session Recovery
//
// Attach and detach run under withReconnect: a session-expiry fault from
// the hypervisor triggers one reconnect and one retry of the whole
// operation. Any other fault, and any fault on the retry, surfaces to the
// caller.
package ops
