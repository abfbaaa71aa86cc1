package datastore

import (
	"os"
	"path/filepath"
	"testing"
)

// newTestFS builds a fake mount root: ds1 and ds2 as url-named dirs with
// name symlinks, vsanDS linking onto a vsan: mount.
func newTestFS(t *testing.T) *FS {
	root := t.TempDir()
	for name, url := range map[string]string{
		"ds1":    "57d9871b-7f350d2a",
		"ds2":    "57e0b1d2-11b2ac40",
		"vsanDS": "vsan:52fae366a8e8c7d1",
	} {
		if err := os.Mkdir(filepath.Join(root, url), 0755); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}
		if err := os.Symlink(filepath.Join(root, url), filepath.Join(root, name)); err != nil {
			t.Fatalf("Symlink() error = %v", err)
		}
	}
	return &FS{Root: root, VolumesDir: "dockvols", PoliciesDir: filepath.Join(root, "policies")}
}

func TestFS_Known(t *testing.T) {
	fs := newTestFS(t)

	known, err := fs.Known()
	if err != nil {
		t.Fatalf("Known() error = %v", err)
	}
	want := map[string]bool{"ds1": true, "ds2": true, "vsanDS": true}
	if len(known) != len(want) {
		t.Fatalf("Known() = %v, want %d datastores", known, len(want))
	}
	for _, name := range known {
		if !want[name] {
			t.Errorf("unexpected datastore %q", name)
		}
	}
}

func TestFS_FromConfigPath(t *testing.T) {
	fs := newTestFS(t)

	// By display name
	ds, err := fs.FromConfigPath(filepath.Join(fs.Root, "ds1", "vm1", "vm1.vmx"))
	if err != nil {
		t.Fatalf("FromConfigPath() error = %v", err)
	}
	if ds != "ds1" {
		t.Errorf("datastore = %q, want ds1", ds)
	}

	// By url name
	ds, err = fs.FromConfigPath(filepath.Join(fs.Root, "57e0b1d2-11b2ac40", "vm2", "vm2.vmx"))
	if err != nil {
		t.Fatalf("FromConfigPath() error = %v", err)
	}
	if ds != "ds2" {
		t.Errorf("datastore = %q, want ds2", ds)
	}

	if _, err := fs.FromConfigPath("/somewhere/else/vm.vmx"); err == nil {
		t.Error("FromConfigPath() outside root expected error, got nil")
	}
}

func TestFS_IsVSAN(t *testing.T) {
	fs := newTestFS(t)

	if fs.IsVSAN("ds1") {
		t.Error("ds1 should not be VSAN")
	}
	if !fs.IsVSAN("vsanDS") {
		t.Error("vsanDS should be VSAN")
	}
	if fs.IsVSAN("nope") {
		t.Error("unknown datastore should not be VSAN")
	}
}

func TestFS_Volumes(t *testing.T) {
	fs := newTestFS(t)
	dir := VolumesPath(fs.Root, "ds1", fs.VolumesDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	for _, name := range []string{"v1.vmdk", "v1-flat.vmdk", "v2.vmdk", "v2-ctk.vmdk", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{}, 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	vols, err := fs.Volumes()
	if err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if len(vols) != 2 {
		t.Fatalf("Volumes() = %v, want 2 entries", vols)
	}
	names := map[string]string{}
	for _, v := range vols {
		names[v.Name] = v.Datastore
	}
	if names["v1"] != "ds1" || names["v2"] != "ds1" {
		t.Errorf("Volumes() = %v", names)
	}
}

func TestFS_PolicyResolver(t *testing.T) {
	fs := newTestFS(t)
	if err := os.MkdirAll(fs.PoliciesDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(fs.PolicyPath("gold"), []byte("((\"hostFailuresToTolerate\" i1))"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if !fs.PolicyExists("gold") {
		t.Error("PolicyExists(gold) = false, want true")
	}
	if fs.PolicyExists("silver") {
		t.Error("PolicyExists(silver) = true, want false")
	}

	if !fs.OnVSAN(filepath.Join(fs.Root, "vsanDS", "dockvols", "v1.vmdk")) {
		t.Error("OnVSAN under vsanDS = false, want true")
	}
	if fs.OnVSAN(filepath.Join(fs.Root, "ds1", "dockvols", "v1.vmdk")) {
		t.Error("OnVSAN under ds1 = true, want false")
	}
}

func TestFullVolName(t *testing.T) {
	if got := FullVolName("v1", "ds1", "ds1"); got != "v1" {
		t.Errorf("FullVolName same ds = %q, want v1", got)
	}
	if got := FullVolName("v1", "ds2", "ds1"); got != "v1@ds2" {
		t.Errorf("FullVolName other ds = %q, want v1@ds2", got)
	}
}
