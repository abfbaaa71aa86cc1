package diskops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// recordingRunner captures invocations and plays back canned results.
type recordingRunner struct {
	calls  [][]string
	output []byte
	err    error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

func TestTools_CreateDisk(t *testing.T) {
	runner := &recordingRunner{}
	tools := NewTools(runner)

	opts := types.CreateOptions{Size: "1gb", DiskFormat: types.DiskFormatThin}
	if err := tools.CreateDisk(context.Background(), "/vmfs/volumes/ds1/dockvols/v1.vmdk", opts, ""); err != nil {
		t.Fatalf("CreateDisk() error = %v", err)
	}

	want := []string{vmkfstoolsCmd, "-d", "thin", "-c", "1gb", "/vmfs/volumes/ds1/dockvols/v1.vmdk"}
	got := strings.Join(runner.calls[0], " ")
	if got != strings.Join(want, " ") {
		t.Errorf("command = %q, want %q", got, strings.Join(want, " "))
	}
}

func TestTools_CreateDiskWithPolicy(t *testing.T) {
	runner := &recordingRunner{}
	tools := NewTools(runner)

	opts := types.CreateOptions{Size: "1gb", DiskFormat: types.DiskFormatThin, VSANPolicyName: "gold"}
	if err := tools.CreateDisk(context.Background(), "/vmfs/volumes/vsan/dockvols/v1.vmdk", opts, "/etc/policies/gold"); err != nil {
		t.Fatalf("CreateDisk() error = %v", err)
	}

	got := strings.Join(runner.calls[0], " ")
	if !strings.Contains(got, "--policyFile /etc/policies/gold") {
		t.Errorf("command %q missing policy file", got)
	}
}

func TestTools_CreateDiskFailureCapturesOutput(t *testing.T) {
	runner := &recordingRunner{output: []byte("Failed to create virtual disk: No space left on device"), err: errors.New("exit status 1")}
	tools := NewTools(runner)

	err := tools.CreateDisk(context.Background(), "/vmfs/volumes/ds1/dockvols/v1.vmdk", types.CreateOptions{Size: "1gb", DiskFormat: types.DiskFormatThin}, "")
	if !errdefs.IsInfrastructure(err) {
		t.Fatalf("error = %v, want Infrastructure", err)
	}
	if !strings.Contains(err.Error(), "No space left on device") {
		t.Errorf("error %q missing captured tool output", err)
	}
}

func TestTools_DeleteDisk(t *testing.T) {
	runner := &recordingRunner{}
	tools := NewTools(runner)

	if err := tools.DeleteDisk(context.Background(), "/vmfs/volumes/ds1/dockvols/v1.vmdk"); err != nil {
		t.Fatalf("DeleteDisk() error = %v", err)
	}
	got := strings.Join(runner.calls[0], " ")
	if got != vmkfstoolsCmd+" -U /vmfs/volumes/ds1/dockvols/v1.vmdk" {
		t.Errorf("command = %q", got)
	}
}

func TestTools_ResolveBackingFlat(t *testing.T) {
	dir := t.TempDir()
	vmdk := filepath.Join(dir, "v1.vmdk")
	flat := filepath.Join(dir, "v1-flat.vmdk")
	if err := os.WriteFile(flat, []byte{}, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tools := NewTools(&recordingRunner{})
	got, err := tools.ResolveBacking(context.Background(), vmdk)
	if err != nil {
		t.Fatalf("ResolveBacking() error = %v", err)
	}
	if got != flat {
		t.Errorf("backing = %q, want %q", got, flat)
	}
}

func TestTools_ResolveBackingMissing(t *testing.T) {
	dir := t.TempDir()
	vmdk := filepath.Join(dir, "v1.vmdk")
	// Descriptor exists but has no flat extent and no vsan URI
	if err := os.WriteFile(vmdk, []byte("# Disk DescriptorFile\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tools := NewTools(&recordingRunner{})
	_, err := tools.ResolveBacking(context.Background(), vmdk)
	if !errdefs.IsNotFound(err) {
		t.Errorf("error = %v, want NotFound", err)
	}
}

func TestVsanObjectUUID(t *testing.T) {
	dir := t.TempDir()
	vmdk := filepath.Join(dir, "v1.vmdk")
	descriptor := "# Disk DescriptorFile\nRW 2097152 VMFS \"vsan://52a0e279-eb8364a2-e6b9-020028d1c8a0\"\n"
	if err := os.WriteFile(vmdk, []byte(descriptor), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	uuid, err := vsanObjectUUID(vmdk)
	if err != nil {
		t.Fatalf("vsanObjectUUID() error = %v", err)
	}
	if uuid != "52a0e279-eb8364a2-e6b9-020028d1c8a0" {
		t.Errorf("uuid = %q", uuid)
	}
}
