package diskops

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// External tools driven by the service.
const (
	vmkfstoolsCmd = "/sbin/vmkfstools"
	mkfsCmd       = "/usr/lib/vmware/vmdkops/bin/mkfs.ext4"
	objtoolCmd    = "/usr/lib/vmware/osfs/bin/objtool"
	osfsMkdirCmd  = "/usr/lib/vmware/osfs/bin/osfs-mkdir"

	vsanDevDir = "/vmfs/devices/vsan"
)

// vsanBackingRe extracts the object uuid from a vmdk descriptor whose
// extent lives on VSAN.
var vsanBackingRe = regexp.MustCompile(`RW .* VMFS "vsan:\/\/(.*)"`)

// Tools shells out to the host's disk utilities: vmkfstools for image
// create/delete, mkfs.ext4 for formatting, objtool/osfs for VSAN objects
// and datastore directories. All failures are infrastructure errors
// carrying the tool's captured output.
type Tools struct {
	runner Runner
}

// NewTools creates the disk tooling facade over the given runner.
func NewTools(runner Runner) *Tools {
	return &Tools{runner: runner}
}

// CreateDisk creates the vmdk at path with the validated options.
// policyPath, when non-empty, points at a VSAN policy profile; vmkfstools
// ignores it on non-VSAN datastores.
func (t *Tools) CreateDisk(ctx context.Context, path string, opts types.CreateOptions, policyPath string) error {
	args := []string{"-d", string(opts.DiskFormat), "-c", opts.Size}
	if policyPath != "" {
		args = append(args, "--policyFile", policyPath)
	}
	args = append(args, path)

	if out, err := t.runner.Run(ctx, vmkfstoolsCmd, args...); err != nil {
		return errdefs.Infrastructure("failed to create %s. %s", path, strings.TrimSpace(string(out)))
	}
	return nil
}

// DeleteDisk removes the vmdk at path.
func (t *Tools) DeleteDisk(ctx context.Context, path string) error {
	if out, err := t.runner.Run(ctx, vmkfstoolsCmd, "-U", path); err != nil {
		return errdefs.Infrastructure("failed to remove %s. %s", path, strings.TrimSpace(string(out)))
	}
	return nil
}

// MakeFilesystem formats the backing device as ext4, labeled with the
// volume name so guests can identify it.
func (t *Tools) MakeFilesystem(ctx context.Context, label, device string) error {
	if out, err := t.runner.Run(ctx, mkfsCmd, "-qF", "-L", label, device); err != nil {
		return errdefs.Infrastructure("failed to format %s. %s", device, strings.TrimSpace(string(out)))
	}
	return nil
}

// MakeVolumeDir creates a datastore's volume directory. The osfs tools work
// for all datastore types, VSAN included.
func (t *Tools) MakeVolumeDir(ctx context.Context, path string) error {
	if out, err := t.runner.Run(ctx, osfsMkdirCmd, "-n", path); err != nil {
		return errdefs.Infrastructure("failed to create %s. %s", path, strings.TrimSpace(string(out)))
	}
	return nil
}

// ResolveBacking returns the device path backing the vmdk at path: the flat
// extent file when one exists, otherwise the VSAN object device opened via
// objtool. A NotFound error means no backing could be resolved.
func (t *Tools) ResolveBacking(ctx context.Context, path string) (string, error) {
	flat := strings.TrimSuffix(path, ".vmdk") + "-flat.vmdk"
	if _, err := os.Stat(flat); err == nil {
		return flat, nil
	}

	uuid, err := vsanObjectUUID(path)
	if err != nil {
		return "", err
	}

	// Objtool creates a link usable to format the vsan object.
	if out, err := t.runner.Run(ctx, objtoolCmd, "open", "-u", uuid); err != nil {
		return "", errdefs.Infrastructure("failed to open vsan object for %s. %s", path, strings.TrimSpace(string(out)))
	}
	dev := fmt.Sprintf("%s/%s", vsanDevDir, uuid)
	if _, err := os.Stat(dev); err != nil {
		return "", errdefs.NotFound("no backing device for %s", path)
	}
	return dev, nil
}

// vsanObjectUUID parses the VSAN object uuid out of a vmdk descriptor.
func vsanObjectUUID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errdefs.NotFound("no backing device for %s: %v", path, err)
	}
	m := vsanBackingRe.FindStringSubmatch(string(data))
	if m == nil {
		return "", errdefs.NotFound("no backing device for %s", path)
	}
	return m[1], nil
}
