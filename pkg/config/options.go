package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/harvester/usbip-helper/pkg/util/gousb/usbid"
)

const (
	DefaultTCPPort     = 3240
	DefaultPIDFile     = "/var/run/usbipd.pid"
	DefaultRemoteHost  = "localhost"
	DefaultExecTimeout = 30 * time.Second

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Options are shared by every command.
type Options struct {
	USBIPBinary  string
	USBIPDBinary string
	TCPPort      int
	ExecTimeout  time.Duration
	LoadModules  bool
	DryRun       bool
	USBIDsPath   string
	Debug        bool
	LogFormat    string
}

// DaemonOptions configure usbipd for start-usb-hoster.
type DaemonOptions struct {
	Debug   bool
	PIDFile string
	TCPPort int
}

// GlobalFlags binds the application wide flags to o.
func GlobalFlags(o *Options) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "debug",
			EnvVars:     []string{"DEBUG_LOGGING"},
			Destination: &o.Debug,
			Usage:       "Enable debug logging",
		},
		&cli.StringFlag{
			Name:        "log-format",
			EnvVars:     []string{"LOG_FORMAT"},
			Value:       LogFormatText,
			Destination: &o.LogFormat,
			Usage:       "Log format, one of text or json",
		},
		&cli.StringFlag{
			Name:        "usbip-binary",
			EnvVars:     []string{"USBIP_BINARY"},
			Value:       "usbip",
			Destination: &o.USBIPBinary,
			Usage:       "Name or path of the usbip executable",
		},
		&cli.StringFlag{
			Name:        "usbipd-binary",
			EnvVars:     []string{"USBIPD_BINARY"},
			Value:       "usbipd",
			Destination: &o.USBIPDBinary,
			Usage:       "Name or path of the usbipd executable",
		},
		&cli.DurationFlag{
			Name:        "exec-timeout",
			EnvVars:     []string{"USBIP_EXEC_TIMEOUT"},
			Value:       DefaultExecTimeout,
			Destination: &o.ExecTimeout,
			Usage:       "Deadline for a single usbip invocation, 0 disables it",
		},
		&cli.BoolFlag{
			Name:        "load-modules",
			EnvVars:     []string{"USBIP_LOAD_MODULES"},
			Destination: &o.LoadModules,
			Usage:       "Load the vhci-hcd and usbip-host kernel modules when they are missing",
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			EnvVars:     []string{"USBIP_DRY_RUN"},
			Destination: &o.DryRun,
			Usage:       "Print the bind, unbind, attach and detach calls instead of running them",
		},
		&cli.StringFlag{
			Name:        "usb-ids",
			EnvVars:     []string{"USBIP_USB_IDS"},
			Value:       usbid.DefaultPath,
			Destination: &o.USBIDsPath,
			Usage:       "usb.ids database used to describe devices in summaries",
		},
	}
}

// TCPPortFlag is added to every command that talks to usbipd. The
// environment variable is shared between the client and the daemon.
func TCPPortFlag(dest *int) cli.Flag {
	return &cli.IntFlag{
		Name:        "tcp-port",
		EnvVars:     []string{"USBIP_TCP_PORT"},
		Value:       DefaultTCPPort,
		Destination: dest,
		Usage:       "TCP port usbipd listens on",
	}
}

// RemoteHostFlag selects the usbip server. Listing defaults to localhost,
// mounting requires an explicit host.
func RemoteHostFlag(dest *string, required bool) cli.Flag {
	f := &cli.StringFlag{
		Name:        "host",
		EnvVars:     []string{"USBIP_REMOTE_HOST"},
		Destination: dest,
		Required:    required,
		Usage:       "usbip host/server to talk to",
	}
	if !required {
		f.Value = DefaultRemoteHost
	}
	return f
}

// SummaryFlag switches list commands from raw usbip output to a parsed table.
func SummaryFlag(dest *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "summary",
		Destination: dest,
		Usage:       "Print the devices as a usb id table instead of the raw usbip output",
	}
}

func DaemonFlags(o *DaemonOptions) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "debug",
			EnvVars:     []string{"USBIP_DAEMON_DEBUG"},
			Destination: &o.Debug,
			Usage:       "Start usbipd with debug output enabled",
		},
		&cli.StringFlag{
			Name:        "pid",
			EnvVars:     []string{"USBIP_DAEMON_PID_PATH"},
			Value:       DefaultPIDFile,
			Destination: &o.PIDFile,
			Usage:       "Path of the usbipd PID file",
		},
		TCPPortFlag(&o.TCPPort),
	}
}

// Validate checks the values urfave/cli cannot check on its own.
func (o *Options) Validate() error {
	if o.USBIPBinary == "" {
		return fmt.Errorf("usbip binary must not be empty")
	}
	if o.ExecTimeout < 0 {
		return fmt.Errorf("exec timeout must not be negative, got %s", o.ExecTimeout)
	}
	if o.TCPPort < 0 || o.TCPPort > 65535 {
		return fmt.Errorf("tcp port %d is out of range", o.TCPPort)
	}
	switch o.LogFormat {
	case LogFormatText, LogFormatJSON, "":
	default:
		return fmt.Errorf("unknown log format %q", o.LogFormat)
	}
	return nil
}

// ConfigureLogging applies the logging options to the logrus standard logger.
func (o *Options) ConfigureLogging() {
	if o.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if o.LogFormat == LogFormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
