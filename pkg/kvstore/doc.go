/*
Package kvstore persists per-volume metadata in side-car files.

Each volume's record lives next to its vmdk as <name>-dvolmeta.json, so the
image and its metadata travel together: a remove deletes both as paired
operations, and a datastore browse shows which volumes carry state. The
record tracks attach status, the owning VM identity when attached, creation
provenance, and the immutable creation options.

# Record Layout

The side car holds a single JSON object, right-padded with spaces to a 4096
byte boundary before a trailing newline. The padding mirrors how the
datastore's block layer prefers aligned writes; readers strip it, and the
round trip is byte-for-byte identical modulo padding.

	{"status":"attached","created":"...","created-by":"vm1",
	 "attachedVMUuid":"...","attachedVMName":"vm2","volOpts":{"size":"1gb"}}

# Consistency

Saves are atomic from the caller's point of view: the new encoding is
written to a temp file in the volume's directory and renamed over the old
side car, so a crash mid-save leaves the previous record intact.

There is no cross-process locking. Two true concurrent writers to the same
volume can lose an update; the service accepts the hypervisor's per-VM task
serialization as the only ordering guarantee and documents this as a known
limitation.

SetAttached and SetDetached maintain the pairing invariant: the attached VM
uuid and name are always written or cleared together. Both helpers recreate
a missing record rather than fail, reconciling side-band metadata with the
hypervisor's actual device state after partial failures.
*/
package kvstore
