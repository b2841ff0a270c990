package usbip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	utilexec "k8s.io/utils/exec"

	"github.com/harvester/usbip-helper/pkg/config"
	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/parser"
	"github.com/harvester/usbip-helper/pkg/registry"
	"github.com/harvester/usbip-helper/pkg/util/executor"
)

// Action is one of the usbip sub commands that changes device state.
type Action string

const (
	Bind   Action = "bind"
	Unbind Action = "unbind"
	Attach Action = "attach"
	Detach Action = "detach"
)

// Diagnostics usbip writes to stderr.
const (
	ErrorMarker        = "error: "
	AlreadyBound       = "already bound to usbip-host"
	NotBound           = "device is not bound to usbip-host"
	VHCIDriverMissing  = "open vhci_driver"
	shellNotFoundError = "command not found"
)

var (
	// ErrToolMissing means the usbip or usbipd executable could not be found.
	ErrToolMissing = errors.New("usbip tooling not found")
	// ErrDaemonUnreachable means usbipd did not answer on the expected host and port.
	ErrDaemonUnreachable = errors.New("usbip daemon unreachable")
)

// Client drives the usbip and usbipd binaries.
type Client struct {
	exec executor.Executor
	opts *config.Options
}

func NewClient(e executor.Executor, opts *config.Options) *Client {
	return &Client{
		exec: e,
		opts: opts,
	}
}

func (c *Client) tcpPort() string {
	return strconv.Itoa(c.opts.TCPPort)
}

// IsToolMissing reports whether err was caused by a missing executable.
func IsToolMissing(err error) bool {
	if errors.Is(err, utilexec.ErrExecutableNotFound) || errors.Is(err, ErrToolMissing) {
		return true
	}
	var cmdErr *executor.CommandError
	if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, shellNotFoundError) {
		return true
	}
	return strings.Contains(err.Error(), shellNotFoundError)
}

func (c *Client) toolMissing(binary string, err error) error {
	return fmt.Errorf("%w: cannot find the command `%s`, please install the usbip package or add it to your PATH: %v",
		ErrToolMissing, binary, err)
}

// Version runs `usbip version`. It is the first call of every command so a
// missing installation is reported before anything else.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.exec.Output(ctx, c.opts.USBIPBinary, []string{"version"})
	if err != nil {
		if IsToolMissing(err) {
			return "", c.toolMissing(c.opts.USBIPBinary, err)
		}
		return "", fmt.Errorf("could not determine installed usbip version, is usbip installed/added to PATH? %w", err)
	}
	version := strings.TrimSpace(string(out))
	logrus.Debugf("usbip version is: %s", version)
	return version, nil
}

// DaemonVersion runs `usbipd --version`.
func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	out, err := c.exec.Output(ctx, c.opts.USBIPDBinary, []string{"--version"})
	if err != nil {
		if IsToolMissing(err) {
			return "", c.toolMissing(c.opts.USBIPDBinary, err)
		}
		return "", fmt.Errorf("could not determine installed usbipd version, is the daemon usbipd installed/added to PATH? %w", err)
	}
	version := strings.TrimSpace(string(out))
	logrus.Debugf("usbipd version is: %s", version)
	return version, nil
}

func (c *Client) list(ctx context.Context, args []string) (string, error) {
	out, err := c.exec.Output(ctx, c.opts.USBIPBinary, args)
	if err != nil {
		if IsToolMissing(err) {
			return "", c.toolMissing(c.opts.USBIPBinary, err)
		}
		return "", err
	}
	return string(out), nil
}

// ListLocal returns `usbip list --local`, the human readable listing of
// devices that can be hosted.
func (c *Client) ListLocal(ctx context.Context) (string, error) {
	return c.list(ctx, []string{"list", "--local"})
}

// ListLocalParsable returns `usbip list --parsable --local`.
func (c *Client) ListLocalParsable(ctx context.Context) (string, error) {
	return c.list(ctx, []string{"list", "--parsable", "--local"})
}

// ListRemote returns the devices exported by the usbipd on host.
func (c *Client) ListRemote(ctx context.Context, host string) (string, error) {
	out, err := c.list(ctx, []string{"--tcp-port=" + c.tcpPort(), "list", "--remote=" + host})
	if err != nil {
		if errors.Is(err, ErrToolMissing) {
			return "", err
		}
		return "", fmt.Errorf("%w: is the usbip daemon/server running on %s and is it running via port %d? %v",
			ErrDaemonUnreachable, host, c.opts.TCPPort, err)
	}
	return out, nil
}

// ListPorts returns `usbip port`, the locally attached remote devices.
func (c *Client) ListPorts(ctx context.Context) (string, error) {
	return c.list(ctx, []string{"port"})
}

// Hostable returns the local devices by usb id.
func (c *Client) Hostable(ctx context.Context) (registry.Registry[device.BusID], error) {
	out, err := c.ListLocalParsable(ctx)
	if err != nil {
		return nil, err
	}
	return parser.ParseBusIDs(parser.FormatParsable, out)
}

// Mountable returns the devices exported by host by usb id.
func (c *Client) Mountable(ctx context.Context, host string) (registry.Registry[device.BusID], error) {
	out, err := c.ListRemote(ctx, host)
	if err != nil {
		return nil, err
	}
	return parser.ParseBusIDs(parser.FormatHuman, out)
}

// Mounted returns the attached vhci ports by usb id.
func (c *Client) Mounted(ctx context.Context) (registry.Registry[device.Port], error) {
	out, err := c.ListPorts(ctx)
	if err != nil {
		return nil, err
	}
	return parser.ParsePorts(out), nil
}

// act runs a state changing sub command and returns its stderr. With dry
// run enabled the command is only logged.
func (c *Client) act(ctx context.Context, args []string) (string, error) {
	if c.opts.DryRun {
		logrus.Infof("dry-run: %s", executor.CommandLine(c.opts.USBIPBinary, args))
		return "", nil
	}
	stderr, err := c.exec.Stderr(ctx, c.opts.USBIPBinary, args)
	if err != nil {
		if IsToolMissing(err) {
			return "", c.toolMissing(c.opts.USBIPBinary, err)
		}
		return "", err
	}
	return string(stderr), nil
}

func (c *Client) Bind(ctx context.Context, busID device.BusID) (string, error) {
	return c.act(ctx, []string{"--tcp-port", c.tcpPort(), string(Bind), "--busid=" + busID.String()})
}

func (c *Client) Unbind(ctx context.Context, busID device.BusID) (string, error) {
	return c.act(ctx, []string{"--tcp-port", c.tcpPort(), string(Unbind), "--busid=" + busID.String()})
}

func (c *Client) Attach(ctx context.Context, host string, busID device.BusID) (string, error) {
	return c.act(ctx, []string{"--tcp-port", c.tcpPort(), string(Attach), "--busid=" + busID.String(), "--remote=" + host})
}

func (c *Client) Detach(ctx context.Context, port device.Port) (string, error) {
	return c.act(ctx, []string{string(Detach), "--port=" + port.String()})
}

// StartDaemon runs usbipd in the foreground until it exits or ctx is done.
func (c *Client) StartDaemon(ctx context.Context, opts config.DaemonOptions) error {
	args := []string{"--tcp-port", strconv.Itoa(opts.TCPPort), "--pid=" + opts.PIDFile}
	if opts.Debug {
		args = append(args, "--debug")
	}
	err := c.exec.Run(ctx, c.opts.USBIPDBinary, args)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		logrus.Debugf("usbipd stopped: %v", err)
		return nil
	}
	if IsToolMissing(err) {
		return c.toolMissing(c.opts.USBIPDBinary, err)
	}
	return fmt.Errorf("could not successfully start usbipd: %w", err)
}
