// Package diskops drives the host disk utilities: vmkfstools for image
// create and delete, mkfs.ext4 for formatting, objtool for resolving VSAN
// object backings, and osfs-mkdir for volume directories.
//
// Everything runs through the Runner interface so tests can script command
// output instead of needing the real tools. Failures carry the command's
// combined output, which is usually the only clue the utilities give.
package diskops
