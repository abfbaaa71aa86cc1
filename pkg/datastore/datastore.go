package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
)

// DefaultPoliciesDir holds VSAN storage policy profile files, one per
// policy name.
const DefaultPoliciesDir = "/etc/vmware/vmdkops/policies"

// Provider enumerates the host's datastores and locates volumes on them.
// The production implementation reads the datastore mount root; tests point
// it at a temp directory.
type Provider interface {
	// Known returns the names of all mounted datastores.
	Known() ([]string, error)

	// FromConfigPath resolves the datastore a VM lives on from its config
	// file path.
	FromConfigPath(configPath string) (string, error)

	// IsVSAN reports whether the named datastore is VSAN-backed.
	IsVSAN(name string) bool

	// Volumes lists every volume under the datastores' volume directories.
	Volumes() ([]Volume, error)
}

// Volume is one discovered volume: its name and the datastore it lives on.
type Volume struct {
	Name      string
	Datastore string
}

// FS is the filesystem-backed Provider. Datastores appear under Root either
// as plain directories or as name symlinks onto their url-named mounts; a
// VSAN datastore resolves onto a "vsan:<uuid>" mount.
type FS struct {
	Root        string // datastore mount root, normally /vmfs/volumes
	VolumesDir  string // per-datastore volume directory, normally dockvols
	PoliciesDir string // VSAN policy profiles
}

// entry pairs a datastore's name with its url name (the mount directory).
type entry struct {
	name string
	url  string
}

func (f *FS) entries() ([]entry, error) {
	dirents, err := os.ReadDir(f.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read datastores under %s: %w", f.Root, err)
	}

	var out []entry
	linked := make(map[string]bool)
	for _, de := range dirents {
		if de.Type()&os.ModeSymlink == 0 {
			continue
		}
		resolved, err := filepath.EvalSymlinks(filepath.Join(f.Root, de.Name()))
		if err != nil {
			continue
		}
		url := filepath.Base(resolved)
		out = append(out, entry{name: de.Name(), url: url})
		linked[url] = true
	}
	for _, de := range dirents {
		if !de.IsDir() || linked[de.Name()] {
			continue
		}
		out = append(out, entry{name: de.Name(), url: de.Name()})
	}
	return out, nil
}

// Known returns the names of all mounted datastores.
func (f *FS) Known() ([]string, error) {
	entries, err := f.entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names, nil
}

// FromConfigPath resolves the datastore name from a VM config path. Config
// paths always look like <root>/<datastore>/..., where <datastore> may be
// either the display name or the url name.
func (f *FS) FromConfigPath(configPath string) (string, error) {
	rel, err := filepath.Rel(f.Root, configPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errdefs.Protocol("config path %s is not under %s", configPath, f.Root)
	}
	ds := strings.SplitN(rel, string(filepath.Separator), 2)[0]

	entries, err := f.entries()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.name == ds || e.url == ds {
			return e.name, nil
		}
	}
	return "", errdefs.Protocol("unknown datastore in config path %s", configPath)
}

// IsVSAN reports whether the named datastore resolves onto a vsan mount.
func (f *FS) IsVSAN(name string) bool {
	entries, err := f.entries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.name == name {
			return strings.HasPrefix(e.url, "vsan:")
		}
	}
	return false
}

// Volumes lists every vmdk under the datastores' volume directories,
// skipping extent and change-tracking files.
func (f *FS) Volumes() ([]Volume, error) {
	entries, err := f.entries()
	if err != nil {
		return nil, err
	}

	var out []Volume
	for _, e := range entries {
		dir := VolumesPath(f.Root, e.name, f.VolumesDir)
		dirents, err := os.ReadDir(dir)
		if err != nil {
			continue // datastore has no volume directory yet
		}
		for _, de := range dirents {
			name := de.Name()
			if !strings.HasSuffix(name, ".vmdk") || isAuxVmdk(name) {
				continue
			}
			out = append(out, Volume{
				Name:      strings.TrimSuffix(name, ".vmdk"),
				Datastore: e.name,
			})
		}
	}
	return out, nil
}

// isAuxVmdk filters extent, snapshot delta and change-tracking files that
// accompany a descriptor.
func isAuxVmdk(name string) bool {
	for _, suffix := range []string{"-flat.vmdk", "-delta.vmdk", "-ctk.vmdk", "-digest.vmdk"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// OnVSAN implements validate.PolicyResolver: a vmdk path is on VSAN when
// its datastore is.
func (f *FS) OnVSAN(vmdkPath string) bool {
	rel, err := filepath.Rel(f.Root, vmdkPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return f.IsVSAN(strings.SplitN(rel, string(filepath.Separator), 2)[0])
}

// PolicyExists reports whether the named VSAN policy has a profile file.
func (f *FS) PolicyExists(name string) bool {
	_, err := os.Stat(f.PolicyPath(name))
	return err == nil
}

// PolicyPath returns the profile file path for a policy name.
func (f *FS) PolicyPath(name string) string {
	dir := f.PoliciesDir
	if dir == "" {
		dir = DefaultPoliciesDir
	}
	return filepath.Join(dir, name)
}

// VolumesPath returns a datastore's volume directory.
func VolumesPath(root, datastore, volumesDir string) string {
	return filepath.Join(root, datastore, volumesDir)
}

// VmdkPath returns the canonical vmdk path for a volume name inside a
// volume directory.
func VmdkPath(volDir, name string) string {
	return filepath.Join(volDir, name+".vmdk")
}

// FullVolName renders a volume's externally visible name: bare for volumes
// on the caller's own datastore, name@datastore otherwise.
func FullVolName(name, datastore, vmDatastore string) string {
	if datastore == vmDatastore {
		return name
	}
	return name + "@" + datastore
}

var _ Provider = (*FS)(nil)
