// Package auth implements vmgroup-based access control for volume
// commands.
//
// A vmgroup is a named set of VMs. Each vmgroup holds per-datastore
// privileges: whether it may create and delete volumes, the largest
// volume it may create, and a total usage quota. VMs not assigned to
// any group fall into the built-in _DEFAULT group, so a freshly
// initialized database behaves permissively until the administrator
// tightens it.
//
// State lives in a bbolt database with four buckets:
//
//	vmgroups    group id   -> VMGroup JSON
//	vms         vm uuid    -> group id
//	privileges  group/ds   -> Privilege JSON
//	volumes     group/ds/v -> usage row JSON
//
// The volumes bucket is the accounting ledger behind the quota check:
// Manager.AddVolume writes a row when a volume is created and
// Manager.RemoveVolume deletes it when the volume is removed, so quota
// enforcement is a prefix scan rather than a datastore walk.
//
// When no database path is configured the Manager runs in allow-all
// mode: every VM maps to the default group and Authorize always
// succeeds. This keeps single-admin hosts working with zero setup.
package auth
