package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rancher/wrangler/v3/pkg/signals"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/harvester/usbip-helper/pkg/actions"
	"github.com/harvester/usbip-helper/pkg/config"
	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/kmod"
	"github.com/harvester/usbip-helper/pkg/usbip"
	"github.com/harvester/usbip-helper/pkg/util/executor"
	"github.com/harvester/usbip-helper/pkg/util/gousb/usbid"
)

const (
	VERSION = "v0.1.0"
	appName = "usbip-helper"
)

func init() {
	if debug := os.Getenv("DEBUG_LOGGING"); debug == "true" {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func main() {
	var (
		opts       config.Options
		daemonOpts config.DaemonOptions
		remoteHost string
		summary    bool
	)

	app := cli.NewApp()
	app.Name = appName
	app.Version = VERSION
	app.Usage = "Host, list and mount USB devices over USB/IP by their vendor:product USB IDs."
	app.Flags = config.GlobalFlags(&opts)
	app.Before = func(c *cli.Context) error {
		opts.ConfigureLogging()
		return nil
	}

	app.Commands = []*cli.Command{
		{
			Name:      "host",
			Usage:     "Bind the matching local USB devices to usbip-host so they can be mounted remotely",
			ArgsUsage: "USB_ID...",
			Flags:     []cli.Flag{config.TCPPortFlag(&opts.TCPPort)},
			Action: func(c *cli.Context) error {
				ids := device.ParseUSBIDs(c.Args().Slice())
				if ids.Len() == 0 {
					return fmt.Errorf("host needs at least one USB ID, see `%s list-hostable`", appName)
				}
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.Host(c.Context, ids)
				})
			},
		},
		{
			Name:      "unhost",
			Usage:     "Unbind the matching local USB devices from usbip-host, all of them when no USB ID is given",
			ArgsUsage: "[USB_ID...]",
			Flags:     []cli.Flag{config.TCPPortFlag(&opts.TCPPort)},
			Action: func(c *cli.Context) error {
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.Unhost(c.Context, device.ParseUSBIDs(c.Args().Slice()))
				})
			},
		},
		{
			Name:      "start-usb-hoster",
			Usage:     "Run usbipd in the foreground, optionally hosting the given USB IDs first",
			ArgsUsage: "[USB_ID...]",
			Flags:     config.DaemonFlags(&daemonOpts),
			Action: func(c *cli.Context) error {
				opts.TCPPort = daemonOpts.TCPPort
				ctx := signals.SetupSignalContext()
				return withRunner(ctx, &opts, func(r *actions.Runner) error {
					return r.StartHoster(ctx, daemonOpts, device.ParseUSBIDs(c.Args().Slice()))
				})
			},
		},
		{
			Name:  "list-hostable",
			Usage: "List the local USB devices",
			Flags: []cli.Flag{config.SummaryFlag(&summary)},
			Action: func(c *cli.Context) error {
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.ListHostable(c.Context, summary)
				})
			},
		},
		{
			Name:  "list-mountable",
			Usage: "List the USB devices exported by a usbip host",
			Flags: []cli.Flag{
				config.RemoteHostFlag(&remoteHost, false),
				config.TCPPortFlag(&opts.TCPPort),
				config.SummaryFlag(&summary),
			},
			Action: func(c *cli.Context) error {
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.ListMountable(c.Context, remoteHost, summary)
				})
			},
		},
		{
			Name:  "list-mounted",
			Usage: "List the remote USB devices attached to this machine",
			Flags: []cli.Flag{config.SummaryFlag(&summary)},
			Action: func(c *cli.Context) error {
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.ListMounted(c.Context, summary)
				})
			},
		},
		{
			Name:      "mount-remote",
			Usage:     "Attach the matching USB devices of a usbip host, all of them when no USB ID is given",
			ArgsUsage: "[USB_ID...]",
			Flags: []cli.Flag{
				config.RemoteHostFlag(&remoteHost, true),
				config.TCPPortFlag(&opts.TCPPort),
			},
			Action: func(c *cli.Context) error {
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.Mount(c.Context, remoteHost, device.ParseUSBIDs(c.Args().Slice()))
				})
			},
		},
		{
			Name:      "unmount-remote",
			Usage:     "Detach the matching attached USB devices, all of them when no USB ID is given",
			ArgsUsage: "[USB_ID...]",
			Action: func(c *cli.Context) error {
				return withRunner(c.Context, &opts, func(r *actions.Runner) error {
					return r.Unmount(c.Context, device.ParseUSBIDs(c.Args().Slice()))
				})
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// withRunner checks the usbip installation and hands a configured runner to fn.
func withRunner(ctx context.Context, opts *config.Options, fn func(r *actions.Runner) error) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	client := usbip.NewClient(executor.NewLocalExecutor(nil, opts.ExecTimeout), opts)
	if _, err := client.Version(ctx); err != nil {
		return err
	}

	db, err := usbid.Load(opts.USBIDsPath)
	if err != nil {
		logrus.Warnf("could not load usb.ids from %s: %v", opts.USBIDsPath, err)
	}

	runnerOpts := []actions.Option{actions.WithUSBIDs(db)}
	if opts.LoadModules {
		runnerOpts = append(runnerOpts, actions.WithModuleLoader(kmod.NewLoader()))
	}
	return fn(actions.NewRunner(client, os.Stdout, runnerOpts...))
}
