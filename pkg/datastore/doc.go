// Package datastore enumerates the host's datastores and derives volume
// paths on them.
//
// Datastores appear under a mount root (normally /vmfs/volumes) either as
// plain directories or as display-name symlinks onto their url-named
// mounts; a VSAN datastore resolves onto a "vsan:<uuid>" mount, which is
// how IsVSAN tells the two apart. Volumes live in a fixed per-datastore
// directory, so path derivation is pure string work once the datastore is
// known.
//
// The FS provider also answers the validation layer's VSAN policy
// questions, since policy profiles live on the same filesystem.
package datastore
