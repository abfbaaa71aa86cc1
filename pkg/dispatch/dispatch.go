package dispatch

import (
	"context"
	"os"
	"strings"

	"github.com/lipingxue/docker-volume-vsphere/pkg/auth"
	"github.com/lipingxue/docker-volume-vsphere/pkg/config"
	"github.com/lipingxue/docker-volume-vsphere/pkg/datastore"
	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/metrics"
	"github.com/lipingxue/docker-volume-vsphere/pkg/ops"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
	"github.com/lipingxue/docker-volume-vsphere/pkg/validate"
)

// DirMaker creates per-datastore volume directories on first use.
type DirMaker interface {
	MakeVolumeDir(ctx context.Context, path string) error
}

// Dispatcher turns a decoded guest request into a lifecycle operation: it
// resolves the volume name to a datastore path, enforces authorization, and
// routes to the manager.
type Dispatcher struct {
	cfg      *config.Config
	mgr      *ops.Manager
	auth     *auth.Manager
	provider datastore.Provider
	dirs     DirMaker
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg *config.Config, mgr *ops.Manager, authMgr *auth.Manager, provider datastore.Provider, dirs DirMaker) *Dispatcher {
	return &Dispatcher{cfg: cfg, mgr: mgr, auth: authMgr, provider: provider, dirs: dirs}
}

// Execute runs one request for the given VM and returns the command's
// response value, or nil for commands that only acknowledge. Any error is
// the caller's to encode; Execute itself never writes to the wire.
func (d *Dispatcher) Execute(ctx context.Context, vm types.VM, req types.Request) (interface{}, error) {
	timer := metrics.NewTimer()
	resp, err := d.execute(ctx, vm, req)
	timer.ObserveDuration(metrics.RequestDuration.WithLabelValues(req.Cmd))

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RequestsTotal.WithLabelValues(req.Cmd, status).Inc()
	return resp, err
}

func (d *Dispatcher) execute(ctx context.Context, vm types.VM, req types.Request) (interface{}, error) {
	logger := log.WithVM(vm.UUID, vm.Name)
	logger.Debug().Str("cmd", req.Cmd).Str("volume", req.Details.Name).Msg("dispatching request")

	vmDatastore, err := d.provider.FromConfigPath(vm.ConfigPath)
	if err != nil {
		return nil, errdefs.Infrastructure("failed to resolve datastore of VM %s: %v", vm.Name, err)
	}

	// list has no volume argument and spans all datastores
	if req.Cmd == types.CmdList {
		if _, err := d.auth.Authorize(vm, vmDatastore, req.Cmd, nil); err != nil {
			return nil, err
		}
		return d.mgr.List(d.provider, vmDatastore)
	}

	name, ds, err := validate.ParseVolumeSpec(req.Details.Name)
	if err != nil {
		return nil, err
	}
	if ds == "" {
		ds = vmDatastore
	} else if err := d.checkDatastore(ds); err != nil {
		return nil, err
	}

	volDir := datastore.VolumesPath(d.cfg.DatastoreRoot, ds, d.cfg.VolumesDir)
	if _, err := os.Stat(volDir); err != nil {
		if err := d.dirs.MakeVolumeDir(ctx, volDir); err != nil {
			return nil, err
		}
	}
	vmdkPath := datastore.VmdkPath(volDir, name)

	group, err := d.auth.Authorize(vm, ds, req.Cmd, req.Details.Opts)
	if err != nil {
		logger.Warn().Str("cmd", req.Cmd).Str("volume", name).Err(err).Msg("request denied")
		return nil, err
	}

	switch req.Cmd {
	case types.CmdCreate:
		if err := d.mgr.Create(ctx, vmdkPath, name, vm, req.Details.Opts); err != nil {
			return nil, err
		}
		if err := d.auth.AddVolume(group.ID, ds, name, req.Details.Opts); err != nil {
			logger.Warn().Str("volume", name).Err(err).Msg("failed to record volume usage")
		}
		return nil, nil

	case types.CmdRemove:
		if err := d.mgr.Remove(ctx, vmdkPath, name); err != nil {
			return nil, err
		}
		if err := d.auth.RemoveVolume(group.ID, ds, name); err != nil {
			logger.Warn().Str("volume", name).Err(err).Msg("failed to drop volume usage")
		}
		return nil, nil

	case types.CmdGet:
		return d.mgr.Get(vmdkPath, name)

	case types.CmdAttach:
		return d.mgr.Attach(ctx, vmdkPath, vm)

	case types.CmdDetach:
		return nil, d.mgr.Detach(ctx, vmdkPath, vm)

	default:
		return nil, errdefs.Protocol("unknown command: %s", req.Cmd)
	}
}

func (d *Dispatcher) checkDatastore(name string) error {
	known, err := d.provider.Known()
	if err != nil {
		return errdefs.Infrastructure("failed to enumerate datastores: %v", err)
	}
	for _, ds := range known {
		if ds == name {
			return nil
		}
	}
	return errdefs.Validation("datastore %s not found, known datastores: %s",
		name, strings.Join(known, ", "))
}
