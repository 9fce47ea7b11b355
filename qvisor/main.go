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

// Command qvisor is the client of qvisord.  It uses subcommands:
//
//	machines                 - list all machines
//	status [<machine> ...]   - show status for the named machines (or all)
//	info <machine>           - show detailed machine information
//	run <machine>            - start the machine
//	stop <machine>           - stop the machine, gracefully if possible
//	reset <machine>          - reboot the machine
//	pause <machine>          - pause the machine
//	resume <machine>         - resume a paused or saved machine
//	save <machine> [<tag>]   - save a snapshot of the machine
//	log [<machine>]          - print the machine's output (or the daemon log)
//	ui                       - run the terminal interface (the default)
//
// Machines are named by uuid or by a unique name.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/qvisor/ui"
	"github.com/qtemu/qvisor/qvisor/util"
	"github.com/qtemu/qvisor/rest"
)

var (
	addr    = "http://127.0.0.1:8321"
	auth    = ""
	timeout = 2 * time.Minute
	logFile = ""
	follow  = false
)

func main() {
	root := &cobra.Command{
		Use:           "qvisor",
		Short:         "Control virtual machines supervised by qvisord",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          doUI,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&addr, "address", "a", envOr("QVISOR_ADDRESS", addr), "qvisord address")
	pf.StringVarP(&auth, "user", "u", os.Getenv("QVISOR_AUTH"), "user:pass authentication")
	pf.DurationVarP(&timeout, "timeout", "t", timeout, "time limit for control operations")

	uiCmd := &cobra.Command{
		Use:   "ui",
		Short: "Run the terminal interface",
		Args:  cobra.NoArgs,
		RunE:  doUI,
	}
	uiCmd.Flags().StringVar(&logFile, "debug-log", "", "write debug messages to this file")
	root.Flags().AddFlagSet(uiCmd.Flags())

	logCmd := &cobra.Command{
		Use:   "log [machine]",
		Short: "Print a machine's output, or the daemon log",
		Args:  cobra.MaximumNArgs(1),
		RunE:  doLog,
	}
	logCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new records")

	root.AddCommand(
		&cobra.Command{
			Use:   "machines",
			Short: "List all machines",
			Args:  cobra.NoArgs,
			RunE:  doMachines,
		},
		&cobra.Command{
			Use:   "status [machine...]",
			Short: "Show the status of machines",
			RunE:  doStatus,
		},
		&cobra.Command{
			Use:   "info machine",
			Short: "Show detailed machine information",
			Args:  cobra.ExactArgs(1),
			RunE:  doInfo,
		},
		controlCmd(qvisor.OpRun, "Start a machine"),
		controlCmd(qvisor.OpStop, "Stop a machine"),
		controlCmd(qvisor.OpReset, "Reboot a machine"),
		controlCmd(qvisor.OpPause, "Pause a machine"),
		controlCmd(qvisor.OpResume, "Resume a paused or saved machine"),
		&cobra.Command{
			Use:   "save machine [tag]",
			Short: "Save a snapshot of a machine",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  doSave,
		},
		logCmd,
		uiCmd,
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func newClient() (*rest.Client, error) {
	client := rest.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			return nil, fmt.Errorf("bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}
	return client, nil
}

func controlCmd(op string, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " machine",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return client.Control(ctx, args[0], op)
		},
	}
}

func doSave(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	tag := ""
	if len(args) > 1 {
		tag = args[1]
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return client.SaveMachine(ctx, args[0], tag)
}

func doMachines(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	infos, err := getInfos(client, nil)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", info.Manifest.UUID, info.Manifest.Name)
	}
	return nil
}

func getInfos(client *rest.Client, names []string) ([]*rest.MachineInfo, error) {
	if len(names) == 0 {
		ids, err := client.Machines()
		if err != nil {
			return nil, err
		}
		names = ids
	}
	infos := []*rest.MachineInfo{}
	for _, n := range names {
		info, err := client.GetMachine(n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", n, err)
			continue
		}
		infos = append(infos, info)
	}
	util.SortMachines(infos)
	return infos, nil
}

func doStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	infos, err := getInfos(client, args)
	if err != nil {
		return err
	}
	for _, info := range infos {
		d := time.Since(info.Stamp)
		// for printing second resolution is sufficient
		d -= d % time.Second
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %10s %s\n",
			info.Manifest.Name, util.Status(info),
			util.FormatDuration(d), util.Detail(info))
	}
	return nil
}

func doInfo(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	info, err := client.GetMachine(args[0])
	if err != nil {
		return err
	}
	for _, kv := range util.Describe(info) {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", kv[0]+":", kv[1])
	}
	return nil
}

func doLog(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	li, err := client.GetLog(id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var last int64
	for {
		for _, r := range li.Records {
			if r.Id <= last {
				continue
			}
			last = r.Id
			fmt.Fprintf(out, "%s %s: %s\n",
				r.Time.Format(time.StampMilli), r.Stream, r.Text)
		}
		if !follow {
			return nil
		}
		if li, err = client.WatchLog(cmd.Context(), id, li); err != nil {
			return err
		}
	}
}

func doUI(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if logFile != "" {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
		if logger, err = cfg.Build(); err != nil {
			return err
		}
		defer logger.Sync()
	}
	app := ui.NewApp(client, addr)
	app.SetLogger(logger)
	return app.Run()
}
