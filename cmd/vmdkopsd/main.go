package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lipingxue/docker-volume-vsphere/pkg/auth"
	"github.com/lipingxue/docker-volume-vsphere/pkg/config"
	"github.com/lipingxue/docker-volume-vsphere/pkg/datastore"
	"github.com/lipingxue/docker-volume-vsphere/pkg/diskops"
	"github.com/lipingxue/docker-volume-vsphere/pkg/dispatch"
	"github.com/lipingxue/docker-volume-vsphere/pkg/kvstore"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/metrics"
	"github.com/lipingxue/docker-volume-vsphere/pkg/ops"
	"github.com/lipingxue/docker-volume-vsphere/pkg/vmci"
	"github.com/lipingxue/docker-volume-vsphere/pkg/vsphere"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmdkopsd",
	Short: "vmdkopsd - host-side volume service for guest VMs",
	Long: `vmdkopsd runs on the hypervisor host and serves volume requests
from guest VMs: create, remove, get, list, attach and detach of vmdk-backed
volumes on the host's datastores.

Guests reach the service over the VM communication interface; the service
trusts the monitor-assigned caller identity, never the guest itself.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vmdkopsd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath,
		"path to the service configuration file")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the volume service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")
		logger.Info().Str("version", Version).Msg("starting vmdkops service")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		authMgr, err := auth.NewManager(cfg.AuthDBPath)
		if err != nil {
			return err
		}
		defer authMgr.Close()

		hostdURL, err := url.Parse(cfg.HostdURL)
		if err != nil {
			return fmt.Errorf("invalid hostd_url %q: %w", cfg.HostdURL, err)
		}
		client, err := vsphere.Dial(ctx, hostdURL)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		provider := &datastore.FS{
			Root:       cfg.DatastoreRoot,
			VolumesDir: cfg.VolumesDir,
		}
		runner := diskops.NewExecRunner()
		tools := diskops.NewTools(runner)
		mgr := ops.NewManager(kvstore.NewStore(), client, tools, provider)
		dispatcher := dispatch.NewDispatcher(cfg, mgr, authMgr, provider, tools)

		transport, err := vmci.NewVSockTransport(cfg.Port, cfg.MaxRequestSize)
		if err != nil {
			return err
		}
		server := vmci.NewServer(cfg, transport, vmci.NewVSIResolver(runner), dispatcher)

		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					logger.Error().Err(err).Msg("metrics server failed")
				}
			}()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
			transport.Close()
		}()

		logger.Info().Int("port", cfg.Port).Msg("serving volume requests")
		return server.Run(ctx)
	},
}
