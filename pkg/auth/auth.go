package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
	"github.com/lipingxue/docker-volume-vsphere/pkg/validate"
)

var (
	// Bucket names
	bucketVMGroups   = []byte("vmgroups")
	bucketVMs        = []byte("vms")
	bucketPrivileges = []byte("privileges")
	bucketVolumes    = []byte("volumes")
)

// The default vmgroup picks up VMs not explicitly assigned to any group.
const (
	DefaultVMGroup     = "_DEFAULT"
	DefaultVMGroupUUID = "11111111-1111-1111-1111-111111111111"
)

// VMGroup is a named set of VMs sharing datastore privileges.
type VMGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Privilege grants a vmgroup rights on one datastore. A zero
// MaxVolumeSizeMB or UsageQuotaMB means unlimited.
type Privilege struct {
	VMGroupID       string `json:"vmgroup_id"`
	Datastore       string `json:"datastore"`
	AllowCreate     bool   `json:"allow_create"`
	MaxVolumeSizeMB int64  `json:"max_volume_size_mb"`
	UsageQuotaMB    int64  `json:"usage_quota_mb"`
}

// volumeUsage is one accounting row, written on create and deleted on
// remove, backing the quota check.
type volumeUsage struct {
	VMGroupID string `json:"vmgroup_id"`
	Datastore string `json:"datastore"`
	Volume    string `json:"volume"`
	SizeMB    int64  `json:"size_mb"`
}

// Manager answers authorization questions for volume commands. With no
// database configured it runs in allow-all mode: every VM belongs to the
// default vmgroup and every command is permitted.
type Manager struct {
	db *bolt.DB
}

// NewManager opens the authorization database at path. An empty path means
// allow-all mode.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		logger := log.WithComponent("auth")
		logger.Info().Msg("no auth DB configured, access control disabled")
		return &Manager{}, nil
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVMGroups, bucketVMs, bucketPrivileges, bucketVolumes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	m := &Manager{db: db}
	if err := m.ensureDefaultVMGroup(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the database.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// AllowAll reports whether access control is disabled.
func (m *Manager) AllowAll() bool {
	return m.db == nil
}

func (m *Manager) ensureDefaultVMGroup() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVMGroups)
		if b.Get([]byte(DefaultVMGroupUUID)) != nil {
			return nil
		}
		group := &VMGroup{
			ID:          DefaultVMGroupUUID,
			Name:        DefaultVMGroup,
			Description: "catch-all vmgroup for unassigned VMs",
			CreatedAt:   time.Now().UTC(),
		}
		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		return b.Put([]byte(group.ID), data)
	})
}

// CreateVMGroup registers a new vmgroup.
func (m *Manager) CreateVMGroup(name, description string) (*VMGroup, error) {
	if m.db == nil {
		return nil, errdefs.Validation("access control is disabled, configure an auth DB first")
	}
	group := &VMGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVMGroups)
		var existing VMGroup
		if err := b.ForEach(func(k, v []byte) error {
			if json.Unmarshal(v, &existing) == nil && existing.Name == name {
				return errdefs.Validation("vmgroup %s already exists", name)
			}
			return nil
		}); err != nil {
			return err
		}
		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		return b.Put([]byte(group.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// AssignVM places a VM (by uuid) into a vmgroup.
func (m *Manager) AssignVM(vmUUID, groupID string) error {
	if m.db == nil {
		return errdefs.Validation("access control is disabled, configure an auth DB first")
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketVMGroups).Get([]byte(groupID)) == nil {
			return errdefs.NotFound("vmgroup %s does not exist", groupID)
		}
		return tx.Bucket(bucketVMs).Put([]byte(vmUUID), []byte(groupID))
	})
}

// SetPrivilege grants or replaces a vmgroup's rights on a datastore.
func (m *Manager) SetPrivilege(p Privilege) error {
	if m.db == nil {
		return errdefs.Validation("access control is disabled, configure an auth DB first")
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketVMGroups).Get([]byte(p.VMGroupID)) == nil {
			return errdefs.NotFound("vmgroup %s does not exist", p.VMGroupID)
		}
		data, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPrivileges).Put(privilegeKey(p.VMGroupID, p.Datastore), data)
	})
}

// VMGroupForVM returns the vmgroup a VM belongs to, falling back to the
// default vmgroup.
func (m *Manager) VMGroupForVM(vmUUID string) (*VMGroup, error) {
	if m.db == nil {
		return &VMGroup{ID: DefaultVMGroupUUID, Name: DefaultVMGroup}, nil
	}
	var group VMGroup
	err := m.db.View(func(tx *bolt.Tx) error {
		groupID := tx.Bucket(bucketVMs).Get([]byte(vmUUID))
		if groupID == nil {
			groupID = []byte(DefaultVMGroupUUID)
		}
		data := tx.Bucket(bucketVMGroups).Get(groupID)
		if data == nil {
			return errdefs.NotFound("vmgroup %s does not exist", groupID)
		}
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// Authorize checks whether the calling VM may run cmd against the given
// datastore, and returns the vmgroup it acted under. Attach and detach need
// any privilege on the datastore; create and remove need the create right;
// create additionally honors the per-volume size cap and the usage quota.
func (m *Manager) Authorize(vm types.VM, datastore, cmd string, opts map[string]string) (*VMGroup, error) {
	group, err := m.VMGroupForVM(vm.UUID)
	if err != nil {
		return nil, err
	}
	if m.db == nil {
		return group, nil
	}

	priv, ok, err := m.privilege(group.ID, datastore)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errdefs.Validation("vmgroup %s has no privilege on datastore %s", group.Name, datastore)
	}

	switch cmd {
	case types.CmdAttach, types.CmdDetach, types.CmdGet, types.CmdList:
		// any privilege row grants mount and read access

	case types.CmdRemove:
		if !priv.AllowCreate {
			return nil, errdefs.Validation("vmgroup %s may not delete volumes on datastore %s", group.Name, datastore)
		}

	case types.CmdCreate:
		if !priv.AllowCreate {
			return nil, errdefs.Validation("vmgroup %s may not create volumes on datastore %s", group.Name, datastore)
		}
		sizeMB, err := requestedSizeMB(opts)
		if err != nil {
			return nil, err
		}
		if priv.MaxVolumeSizeMB > 0 && sizeMB > priv.MaxVolumeSizeMB {
			return nil, errdefs.Validation("volume size %dMB exceeds the vmgroup limit of %dMB", sizeMB, priv.MaxVolumeSizeMB)
		}
		if priv.UsageQuotaMB > 0 {
			used, err := m.usedMB(group.ID, datastore)
			if err != nil {
				return nil, err
			}
			if used+sizeMB > priv.UsageQuotaMB {
				return nil, errdefs.Validation("volume size %dMB would exceed the vmgroup quota of %dMB (%dMB in use)",
					sizeMB, priv.UsageQuotaMB, used)
			}
		}

	default:
		return nil, errdefs.Protocol("unknown command: %s", cmd)
	}
	return group, nil
}

// AddVolume records a created volume against the vmgroup's usage.
func (m *Manager) AddVolume(groupID, datastore, volume string, opts map[string]string) error {
	if m.db == nil {
		return nil
	}
	sizeMB, err := requestedSizeMB(opts)
	if err != nil {
		return err
	}
	row := &volumeUsage{VMGroupID: groupID, Datastore: datastore, Volume: volume, SizeMB: sizeMB}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Put(volumeKey(groupID, datastore, volume), data)
	})
}

// RemoveVolume drops a removed volume from the vmgroup's usage.
func (m *Manager) RemoveVolume(groupID, datastore, volume string) error {
	if m.db == nil {
		return nil
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Delete(volumeKey(groupID, datastore, volume))
	})
}

func (m *Manager) privilege(groupID, datastore string) (Privilege, bool, error) {
	var priv Privilege
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrivileges).Get(privilegeKey(groupID, datastore))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &priv)
	})
	return priv, found, err
}

func (m *Manager) usedMB(groupID, datastore string) (int64, error) {
	var total int64
	prefix := volumeKey(groupID, datastore, "")
	err := m.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVolumes).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var row volumeUsage
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			total += row.SizeMB
		}
		return nil
	})
	return total, err
}

func requestedSizeMB(opts map[string]string) (int64, error) {
	size := validate.DefaultDiskSize
	if s, ok := opts[validate.OptSize]; ok {
		size = s
	}
	return validate.SizeToMB(size)
}

func privilegeKey(groupID, datastore string) []byte {
	return []byte(groupID + "/" + datastore)
}

func volumeKey(groupID, datastore, volume string) []byte {
	return []byte(groupID + "/" + datastore + "/" + volume)
}
