package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

const (
	// MaxVolNameLen and MaxDSNameLen bound user-supplied names.
	MaxVolNameLen = 100
	MaxDSNameLen  = 100

	// DefaultDiskSize applies when the size option is absent.
	DefaultDiskSize = "100mb"
)

// Recognized creation option keys.
const (
	OptSize           = "size"
	OptDiskFormat     = "diskformat"
	OptVSANPolicyName = "vsan-policy-name"
)

// '-' is deliberately excluded from volume names so that generated filenames
// like 'disk-0001.vmdk' can never be addressed through this API. Datastore
// names allow it.
var volSpecRe = regexp.MustCompile(`\A([A-Za-z0-9_.]+)(@([A-Za-z0-9_.\-]+))?$`)

// PolicyResolver answers VSAN questions about the destination of a create.
// The production implementation lives with the datastore collaborator; tests
// supply fakes.
type PolicyResolver interface {
	// OnVSAN reports whether the path sits on a VSAN-backed datastore.
	OnVSAN(vmdkPath string) bool

	// PolicyExists reports whether the named VSAN storage policy is defined.
	PolicyExists(name string) bool

	// PolicyPath returns the on-disk path of the named policy's profile file.
	PolicyPath(name string) string
}

// ParseVolumeSpec splits "volume[@datastore]" and enforces syntax and length
// limits. An absent datastore returns "".
func ParseVolumeSpec(fullVolName string) (name, datastore string, err error) {
	groups := volSpecRe.FindStringSubmatch(fullVolName)
	if groups == nil {
		return "", "", errdefs.Validation(
			"invalid syntax: '%s'. Valid syntax is volume@datastore, where 'volume' or 'datastore' "+
				"contain up to %d of allowed characters ([a-zA-Z0-9_.]) each",
			fullVolName, MaxVolNameLen)
	}
	name, datastore = groups[1], groups[3]
	if len(name) > MaxVolNameLen {
		return "", "", errdefs.Validation("volume name is too long (max len is %d)", MaxVolNameLen)
	}
	if len(datastore) > MaxDSNameLen {
		return "", "", errdefs.Validation("datastore name is too long (max len is %d)", MaxDSNameLen)
	}
	return name, datastore, nil
}

// CreateOptions validates the raw options bag for a create request and
// returns its closed, defaulted form. vmdkPath identifies the destination
// for VSAN policy checks.
func CreateOptions(opts map[string]string, vmdkPath string, vsan PolicyResolver) (types.CreateOptions, error) {
	out := types.CreateOptions{
		Size:       DefaultDiskSize,
		DiskFormat: types.DiskFormatThin,
	}

	valid := map[string]string{
		OptSize:           DefaultDiskSize,
		OptDiskFormat:     string(types.DiskFormatThin),
		OptVSANPolicyName: "[VSAN default]",
	}
	var invalid []string
	for k := range opts {
		if _, ok := valid[k]; !ok {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) != 0 {
		sort.Strings(invalid)
		var pairs []string
		for _, k := range []string{OptSize, OptDiskFormat, OptVSANPolicyName} {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, valid[k]))
		}
		return out, errdefs.Validation("invalid options: %s. Valid options and defaults: %s",
			strings.Join(invalid, ", "), strings.Join(pairs, ", "))
	}

	if size, ok := opts[OptSize]; ok {
		if err := Size(size); err != nil {
			return out, err
		}
		out.Size = size
	}
	if format, ok := opts[OptDiskFormat]; ok {
		if err := DiskFormat(format); err != nil {
			return out, err
		}
		out.DiskFormat = types.DiskFormat(format)
	}
	if policy, ok := opts[OptVSANPolicyName]; ok {
		if err := VSANPolicyName(policy, vmdkPath, vsan); err != nil {
			return out, err
		}
		out.VSANPolicyName = policy
	}
	return out, nil
}

// Size ensures a size is given as <positive integer><kb|mb|gb|tb>, e.g. "22mb".
func Size(size string) error {
	s := strings.ToLower(size)
	ok := false
	for _, unit := range []string{"kb", "mb", "gb", "tb"} {
		if strings.HasSuffix(s, unit) {
			ok = true
			break
		}
	}
	if ok {
		n, err := strconv.ParseInt(s[:len(s)-2], 10, 64)
		ok = err == nil && n > 0
	}
	if !ok {
		return errdefs.Validation(
			"invalid format for size '%s'. Valid sizes must be of form X[kKmMgGtT]b where X is an integer. Default = %s",
			size, DefaultDiskSize)
	}
	return nil
}

// SizeToMB converts a validated size string to megabytes, rounding up.
// Used by authorization quota checks.
func SizeToMB(size string) (int64, error) {
	if err := Size(size); err != nil {
		return 0, err
	}
	s := strings.ToLower(size)
	n, _ := strconv.ParseInt(s[:len(s)-2], 10, 64)
	switch s[len(s)-2:] {
	case "kb":
		return (n + 1023) / 1024, nil
	case "mb":
		return n, nil
	case "gb":
		return n * 1024, nil
	default: // tb
		return n * 1024 * 1024, nil
	}
}

// DiskFormat ensures the allocation format is one of the enumerated values.
func DiskFormat(format string) error {
	for _, f := range types.ValidDiskFormats {
		if types.DiskFormat(format) == f {
			return nil
		}
	}
	var names []string
	for _, f := range types.ValidDiskFormats {
		names = append(names, string(f))
	}
	return errdefs.Validation("disk allocation format '%s' does not exist. Valid options are: %s",
		format, strings.Join(names, ", "))
}

// VSANPolicyName ensures the named policy may be applied at vmdkPath: the
// destination datastore must be VSAN-backed and the policy must exist.
func VSANPolicyName(policy, vmdkPath string, vsan PolicyResolver) error {
	if vsan == nil || !vsan.OnVSAN(vmdkPath) {
		return errdefs.Validation("cannot use a VSAN policy on a non-VSAN datastore")
	}
	if !vsan.PolicyExists(policy) {
		return errdefs.Validation("policy %s does not exist", policy)
	}
	return nil
}
