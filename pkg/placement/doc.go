/*
Package placement computes where a volume's disk device attaches on a VM.

Given a read-only snapshot of a VM's virtual SCSI hardware (controllers and
disks) and the target volume's canonical backing path, the allocator returns
a (controller key, bus, unit) placement, or a capacity error when the VM's
device topology is full.

# Algorithm

Attach placement works through four cases, in order:

 1. The disk is already bound to the target backing path: return its current
    placement marked Existing, since attach is idempotent.
 2. A paravirtual SCSI controller exists: use it. Paravirtual controllers
    avoid SCSI rescans in the guest, so they are always preferred.
 3. No paravirtual controller, fewer than 4 controllers present: pick the
    lowest unused bus in [0,4), synthesize the controller key as
    1000 + bus, and mark the placement NewController so the caller adds the
    controller in the same reconfiguration. With 4 controllers already
    present, fail with a capacity error.
 4. Within the chosen controller, take the lowest unused unit in
    {0..6, 8..15}. Unit 7 is reserved for the controller itself and is never
    assigned. All units taken is a capacity error.

Detach placement is FindDisk: locate the device bound to the backing path,
or report nothing to detach.

# Concurrency

The allocator is a pure function of its snapshot. It does not reserve the
slot it returns; two concurrent placements on the same VM may pick the same
slot and race at the reconfiguration layer, where the hypervisor serializes
tasks per VM. The service accepts that serialization as the only ordering
guarantee.
*/
package placement
