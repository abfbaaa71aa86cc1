/*
Package vsphere defines the hypervisor surface the vmdkops core consumes.

The core needs five things from the hypervisor: find a VM by uuid, snapshot
its SCSI hardware, submit a batch of device changes, wait for the resulting
task, and re-establish the session after an authentication-expired fault.
This package captures exactly that as interfaces (Client, VM, Task) plus a
closed set of device-change variants (AddController, AddDisk, RemoveDisk),
keeping the rest of the service independent of any hypervisor SDK.

Sessions are explicit values passed to the components that need them, with
Reconnect as the only recovery operation; there is no ambient global
connection. Task waiting is synchronous submit-and-wait: Task.Wait blocks
until completion and surfaces a task fault as an error, with cancellation
and deadlines carried by the caller's context.

Fault distinguishes one condition the core treats specially: a
NotAuthenticated fault means the hostd session expired, and the lifecycle
layer reconnects once and retries the same request exactly once. Every other
fault is surfaced to the caller with its text intact.

HostClient is the production binding: a govmomi session against the local
hostd, resolving VMs through the search index and translating the device
change variants into reconfiguration specs. Tests in pkg/ops exercise the
contract through fakes instead.
*/
package vsphere
