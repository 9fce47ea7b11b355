// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command qvisord supervises virtual machines and serves the REST API
// used by the qvisor client.
//
// Machines are read from the descriptor store and from *.json manifests
// in the manifest directory.  Settings come from qvisord.yaml, QVISOR_
// environment variables and the flags below.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/config"
	"github.com/qtemu/qvisor/natsbus"
	"github.com/qtemu/qvisor/rest"
	"github.com/qtemu/qvisor/store"
)

var (
	cfgFile string
	v       = config.New()
)

func main() {
	root := &cobra.Command{
		Use:           "qvisord",
		Short:         "Virtual machine supervisor daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	f := root.Flags()
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file")
	f.StringP("listen", "a", "", "listen address")
	f.StringP("manifests", "d", "", "manifest directory")
	f.StringP("name", "n", "", "daemon name")
	f.String("store", "", "descriptor database directory")
	f.String("log-level", "", "log level")
	v.BindPFlag("listen", f.Lookup("listen"))
	v.BindPFlag("manifest_dir", f.Lookup("manifests"))
	v.BindPFlag("name", f.Lookup("name"))
	v.BindPFlag("store_path", f.Lookup("store"))
	v.BindPFlag("log.level", f.Lookup("log-level"))

	root.AddCommand(&cobra.Command{
		Use:   "hash",
		Short: "Read a password from stdin and print its bcrypt hash for auth_hash",
		Args:  cobra.NoArgs,
		RunE:  hashPassword,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qvisord: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword(cmd *cobra.Command, args []string) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(line), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}

// daemon holds what serve builds, so that it can be torn down in
// reverse order.
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger
	mgr    *qvisor.Manager
	db     *store.BadgerStore
	bus    *natsbus.Publisher
	reg    *prometheus.Registry
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger, err := qvisor.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	d := &daemon{cfg: cfg, logger: logger}
	defer d.close()
	if err := d.setup(); err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	return d.run(cmd.Context())
}

func (d *daemon) setup() error {
	cfg := d.cfg
	if cfg.Engine.RunDir != "" {
		if err := os.MkdirAll(cfg.Engine.RunDir, 0750); err != nil {
			return fmt.Errorf("run dir: %w", err)
		}
	}

	opts := qvisor.ManagerOptions{
		Supervisor: qvisor.SupervisorOptions{
			Invoker: &qvisor.QemuInvoker{
				Binary:      cfg.Engine.Binary,
				RunDir:      cfg.Engine.RunDir,
				Display:     cfg.Engine.Display,
				AudioDriver: cfg.Engine.AudioDriver,
			},
			Launcher:     &qvisor.ExecLauncher{},
			Disks:        &qvisor.QemuImg{Binary: cfg.Engine.ImgBinary},
			StopTimeout:  cfg.StopTimeout,
			ReadyTimeout: cfg.ReadyTimeout,
			OutputBuffer: cfg.OutputBuffer,
		},
		Logger: d.logger,
	}

	if cfg.Metrics {
		d.reg = prometheus.NewRegistry()
		d.reg.MustRegister(collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := qvisor.NewMetrics(d.reg)
		if err != nil {
			return err
		}
		opts.Metrics = m
	}

	if cfg.Nats.URL != "" {
		bus, err := natsbus.Connect(cfg.Nats.URL, natsbus.Options{
			Name:    cfg.Nats.Name,
			Subject: cfg.Nats.Subject,
			Output:  cfg.Nats.Output,
			Logger:  d.logger,
		})
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		d.bus = bus
		opts.Sinks = append(opts.Sinks, bus)
	}

	d.mgr = qvisor.NewManager(cfg.Name, opts)

	if cfg.StorePath != "" {
		db, err := store.Open(cfg.StorePath, d.logger)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		d.db = db
		ms, err := db.List()
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		for _, m := range ms {
			d.add(qvisor.NewDescriptorFromManifest(m))
		}
	}

	if cfg.ManifestDir != "" {
		ds, err := store.LoadManifests(cfg.ManifestDir, d.logger)
		if err != nil {
			return fmt.Errorf("manifests: %w", err)
		}
		for _, desc := range ds {
			d.add(desc)
		}
	}
	return nil
}

// add registers a descriptor.  A manifest file replaces a stored
// descriptor with the same uuid.
func (d *daemon) add(desc *qvisor.Descriptor) {
	if d.db != nil {
		if err := d.db.Save(desc.Manifest()); err != nil {
			d.logger.Warn("cannot store manifest",
				zap.String("machine", desc.Name()), zap.Error(err))
		}
	}
	_, err := d.mgr.AddMachine(desc)
	if errors.Is(err, qvisor.ErrMachineExists) {
		mc, _ := d.mgr.FindMachine(desc.UUID())
		mc.Descriptor().Update(desc.Manifest())
		return
	}
	if err != nil {
		d.logger.Warn("cannot add machine",
			zap.String("machine", desc.Name()), zap.Error(err))
	}
}

func (d *daemon) run(ctx context.Context) error {
	cfg := d.cfg
	h := rest.NewHandler(d.mgr)
	if cfg.AuthUser != "" {
		h.SetAuth(cfg.AuthUser, []byte(cfg.AuthHash))
	}
	if d.reg != nil {
		h.Router().Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{}))
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()
	d.logger.Info("qvisord listening",
		zap.String("addr", ln.Addr().String()), zap.String("name", cfg.Name))

	select {
	case err = <-errs:
		d.logger.Error("server failed", zap.Error(err))
	case <-ctx.Done():
		d.logger.Info("shutting down")
		err = nil
	}

	hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer hcancel()
	if srv.Shutdown(hctx) != nil {
		// long polls still open
		srv.Close()
	}

	mctx, mcancel := context.WithTimeout(context.Background(), cfg.StopTimeout+5*time.Second)
	defer mcancel()
	d.mgr.Shutdown(mctx)
	return err
}

func (d *daemon) close() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Warn("store close", zap.Error(err))
		}
	}
}
