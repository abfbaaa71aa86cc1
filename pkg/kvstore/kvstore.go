package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

const (
	// sidecarSuffix replaces the ".vmdk" extension to form the side-car name.
	sidecarSuffix = "-dvolmeta.json"

	// kvAlign pads serialized records to a block boundary. Purely a storage
	// layout optimization for the datastore; load ignores the padding.
	kvAlign = 4096
)

// Store persists one metadata record per volume in a side car co-located
// with the volume's vmdk, so image and metadata can be removed as paired
// operations. Saves are atomic: a record is fully replaced or untouched.
//
// The store does no locking. Concurrent writers to the same volume can lose
// an update; the hypervisor's per-VM task serialization is the only ordering
// guarantee the service relies on.
type Store struct {
	align int
}

// NewStore returns a side-car store with default block alignment.
func NewStore() *Store {
	return &Store{align: kvAlign}
}

// SidecarPath returns the metadata file path for a volume's vmdk path.
func SidecarPath(vmdkPath string) string {
	return strings.TrimSuffix(vmdkPath, ".vmdk") + sidecarSuffix
}

// Create writes the initial record for a new volume. Fails if a record
// already exists.
func (s *Store) Create(vmdkPath string, meta *types.VolumeMetadata) error {
	sidecar := SidecarPath(vmdkPath)
	if _, err := os.Stat(sidecar); err == nil {
		return fmt.Errorf("metadata for %s already exists", vmdkPath)
	}
	if meta.Created.IsZero() {
		meta.Created = time.Now().UTC()
	}
	return s.Save(vmdkPath, meta)
}

// Get loads the record for a volume. Returns a NotFound error when no
// side car exists.
func (s *Store) Get(vmdkPath string) (*types.VolumeMetadata, error) {
	sidecar := SidecarPath(vmdkPath)
	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("no metadata for %s", vmdkPath)
		}
		return nil, fmt.Errorf("failed to access %s: %w", sidecar, err)
	}

	var meta types.VolumeMetadata
	if err := json.Unmarshal([]byte(strings.TrimRight(string(data), " \n")), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", vmdkPath, err)
	}
	return &meta, nil
}

// Save atomically replaces the record for a volume: the padded encoding is
// written to a temp file in the same directory and renamed over the old one.
func (s *Store) Save(vmdkPath string, meta *types.VolumeMetadata) error {
	sidecar := SidecarPath(vmdkPath)

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", vmdkPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(sidecar), filepath.Base(sidecar)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to save metadata for %s: %w", vmdkPath, err)
	}
	_, werr := tmp.WriteString(alignStr(string(data), s.align))
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save metadata for %s: %w", vmdkPath, firstErr(werr, cerr))
	}
	if err := os.Rename(tmp.Name(), sidecar); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save metadata for %s: %w", vmdkPath, err)
	}
	return nil
}

// Delete removes the record for a volume. Deleting a record that does not
// exist is not an error, so image and side-car removal can be retried as a
// pair.
func (s *Store) Delete(vmdkPath string) error {
	sidecar := SidecarPath(vmdkPath)
	if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata for %s: %w", vmdkPath, err)
	}
	return nil
}

// SetAttached marks the volume attached to the given VM. UUID and name are
// written together; the record is created from scratch if it went missing,
// reconciling metadata with actual attach state.
func (s *Store) SetAttached(vmdkPath string, vm types.VM) error {
	meta, err := s.Get(vmdkPath)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return err
		}
		logger := log.WithVolume(vmdkPath)
		logger.Warn().Msg("no metadata on attach, recreating record")
		meta = &types.VolumeMetadata{Created: time.Now().UTC()}
	}
	meta.Status = types.VolumeAttached
	meta.AttachedVMUUID = vm.UUID
	meta.AttachedVMName = vm.Name
	return s.Save(vmdkPath, meta)
}

// SetDetached marks the volume detached, clearing both identity fields.
func (s *Store) SetDetached(vmdkPath string) error {
	meta, err := s.Get(vmdkPath)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return err
		}
		logger := log.WithVolume(vmdkPath)
		logger.Warn().Msg("no metadata on detach, recreating record")
		meta = &types.VolumeMetadata{Created: time.Now().UTC()}
	}
	meta.Status = types.VolumeDetached
	meta.AttachedVMUUID = ""
	meta.AttachedVMName = ""
	return s.Save(vmdkPath, meta)
}

// GetAttached returns the attach state and owning VM uuid recorded for the
// volume. A missing or unreadable record reads as detached.
func (s *Store) GetAttached(vmdkPath string) (bool, string) {
	meta, err := s.Get(vmdkPath)
	if err != nil {
		return false, ""
	}
	return meta.Status == types.VolumeAttached, meta.AttachedVMUUID
}

// alignStr pads a record to the next block boundary. The -1 accommodates
// the trailing newline.
func alignStr(kv string, block int) string {
	alignedLen := (len(kv)+block-1)/block*block - 1
	return fmt.Sprintf("%-*s\n", alignedLen, kv)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
