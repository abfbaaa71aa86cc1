package vmci

import (
	"context"
	"fmt"
	"strings"

	"github.com/lipingxue/docker-volume-vsphere/pkg/diskops"
	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// VSIResolver is the production IdentityResolver. The transport token is a
// cartel id; the host's system information shell maps it to the vmm group
// leader and from there to the VM's display name, config path and uuid.
type VSIResolver struct {
	runner diskops.Runner
}

// NewVSIResolver creates a resolver running vsish through the given runner.
func NewVSIResolver(runner diskops.Runner) *VSIResolver {
	return &VSIResolver{runner: runner}
}

// Resolve maps a cartel id to the calling VM.
func (r *VSIResolver) Resolve(ctx context.Context, token string) (types.VM, error) {
	leaderOut, err := r.runner.Run(ctx, "vsish", "-e", "get",
		fmt.Sprintf("/userworld/cartel/%s/vmmLeader", token))
	if err != nil {
		return types.VM{}, errdefs.Infrastructure("failed to resolve caller %s: %v", token, err)
	}
	leader := strings.TrimSpace(string(leaderOut))

	infoOut, err := r.runner.Run(ctx, "vsish", "-e", "get",
		fmt.Sprintf("/vm/%s/vmmGroupInfo", leader))
	if err != nil {
		return types.VM{}, errdefs.Infrastructure("failed to read vmm group info for caller %s: %v", token, err)
	}

	info := parseVMMGroupInfo(string(infoOut))
	rawUUID, ok := info["uuid"]
	if !ok {
		return types.VM{}, errdefs.Infrastructure("vmm group info for caller %s carries no uuid", token)
	}
	uuid, err := CanonicalVMUUID(rawUUID)
	if err != nil {
		return types.VM{}, err
	}

	return types.VM{
		UUID:       uuid,
		Name:       info["displayName"],
		ConfigPath: info["cfgPath"],
	}, nil
}

// parseVMMGroupInfo reads the key:value body of a vsish struct dump,
// ignoring the surrounding braces.
func parseVMMGroupInfo(out string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		key, value, found := strings.Cut(line, ":")
		if !found || strings.Contains(key, "{") {
			continue
		}
		info[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return info
}
