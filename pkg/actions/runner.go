package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/config"
	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/kmod"
	"github.com/harvester/usbip-helper/pkg/registry"
	"github.com/harvester/usbip-helper/pkg/util/gousb/usbid"
)

// Client is the part of usbip.Client the runner needs.
type Client interface {
	DaemonVersion(ctx context.Context) (string, error)
	ListLocal(ctx context.Context) (string, error)
	ListRemote(ctx context.Context, host string) (string, error)
	ListPorts(ctx context.Context) (string, error)
	Hostable(ctx context.Context) (registry.Registry[device.BusID], error)
	Mountable(ctx context.Context, host string) (registry.Registry[device.BusID], error)
	Mounted(ctx context.Context) (registry.Registry[device.Port], error)
	Bind(ctx context.Context, busID device.BusID) (string, error)
	Unbind(ctx context.Context, busID device.BusID) (string, error)
	Attach(ctx context.Context, host string, busID device.BusID) (string, error)
	Detach(ctx context.Context, port device.Port) (string, error)
	StartDaemon(ctx context.Context, opts config.DaemonOptions) error
}

// Runner resolves usb ids to bus ids or ports and applies an action to each
// of them, one at a time.
type Runner struct {
	client      Client
	out         io.Writer
	loader      kmod.Loader
	loadModules bool
	usbIDs      *usbid.Database
}

type Option func(*Runner)

// WithModuleLoader enables loading missing kernel modules through loader.
func WithModuleLoader(loader kmod.Loader) Option {
	return func(r *Runner) {
		r.loader = loader
		r.loadModules = loader != nil
	}
}

// WithUSBIDs sets the database used to describe devices in summaries.
func WithUSBIDs(db *usbid.Database) Option {
	return func(r *Runner) {
		r.usbIDs = db
	}
}

func NewRunner(client Client, out io.Writer, opts ...Option) *Runner {
	r := &Runner{
		client: client,
		out:    out,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Host binds every local device whose usb id is in filter. An empty
// filter hosts nothing.
func (r *Runner) Host(ctx context.Context, filter sets.Set[device.USBID]) error {
	hostable, err := r.client.Hostable(ctx)
	if err != nil {
		return err
	}
	busIDs := registry.SelectMatching(hostable, filter)
	logrus.Debugf("matched bus ids: %v", sets.List(busIDs))
	if busIDs.Len() == 0 {
		return ErrNoMatch
	}

	var errs []error
	for _, busID := range sets.List(busIDs) {
		logrus.Debugf("hosting %s", busID)
		stderr, err := r.client.Bind(ctx, busID)
		if err == nil {
			err = classifyBind(busID, stderr)
		}
		if err != nil {
			logrus.Errorf("error hosting %s: %v", busID, err)
			errs = append(errs, err)
			continue
		}
		logrus.Infof("hosted %s", busID)
	}
	return utilerrors.NewAggregate(errs)
}

// Unhost unbinds every local device whose usb id is in filter. An empty
// filter unbinds every hostable device.
func (r *Runner) Unhost(ctx context.Context, filter sets.Set[device.USBID]) error {
	hostable, err := r.client.Hostable(ctx)
	if err != nil {
		return err
	}
	busIDs := registry.Select(hostable, filter)
	logrus.Debugf("matched bus ids: %v", sets.List(busIDs))
	if busIDs.Len() == 0 {
		return ErrNoMatch
	}

	var errs []error
	for _, busID := range sets.List(busIDs) {
		logrus.Debugf("unbinding %s", busID)
		stderr, err := r.client.Unbind(ctx, busID)
		if err == nil {
			err = classifyUnbind(busID, stderr)
		}
		if err != nil {
			logrus.Errorf("error unhosting %s: %v", busID, err)
			errs = append(errs, err)
			continue
		}
		logrus.Infof("unhosted %s", busID)
	}
	return utilerrors.NewAggregate(errs)
}

// Mount attaches every device exported by host whose usb id is in filter.
// An empty filter mounts every exported device. A missing vhci-hcd module
// stops the batch right away; failures collected before it are returned
// along with it.
func (r *Runner) Mount(ctx context.Context, host string, filter sets.Set[device.USBID]) error {
	mountable, err := r.client.Mountable(ctx, host)
	if err != nil {
		return err
	}
	busIDs := registry.Select(mountable, filter)
	logrus.Debugf("matched bus ids: %v", sets.List(busIDs))
	if busIDs.Len() == 0 {
		return ErrNoMatch
	}

	loadAttempted := false
	var errs []error
	for _, busID := range sets.List(busIDs) {
		logrus.Debugf("mounting %s from %s", busID, host)
		err := r.attach(ctx, host, busID, &loadAttempted)

		var driverErr *DriverMissingError
		if errors.As(err, &driverErr) {
			logrus.Errorf("missing %s driver module", driverErr.Module)
			if len(errs) == 0 {
				return err
			}
			return fmt.Errorf("%w, earlier failures: %w", err, utilerrors.NewAggregate(errs))
		}
		if err != nil {
			logrus.Errorf("error mounting %s from %s: %v", busID, host, err)
			errs = append(errs, err)
			continue
		}
		logrus.Infof("mounted %s from %s", busID, host)
	}
	return utilerrors.NewAggregate(errs)
}

func (r *Runner) attach(ctx context.Context, host string, busID device.BusID, loadAttempted *bool) error {
	stderr, err := r.client.Attach(ctx, host, busID)
	if err != nil {
		return err
	}
	err = classifyAttach(busID, stderr)

	var driverErr *DriverMissingError
	if !errors.As(err, &driverErr) || !r.loadModules || *loadAttempted {
		return err
	}

	*loadAttempted = true
	if loadErr := r.loader.Load(driverErr.Module); loadErr != nil {
		logrus.Warnf("%v", loadErr)
		return err
	}
	stderr, err = r.client.Attach(ctx, host, busID)
	if err != nil {
		return err
	}
	return classifyAttach(busID, stderr)
}

// Unmount detaches every attached port whose usb id is in filter. An empty
// filter detaches every port. usbip reports the outcome on stderr, which
// is passed on to the output as is, line terminated.
func (r *Runner) Unmount(ctx context.Context, filter sets.Set[device.USBID]) error {
	mounted, err := r.client.Mounted(ctx)
	if err != nil {
		return err
	}
	ports := registry.Select(mounted, filter)
	logrus.Debugf("matched ports: %v", sets.List(ports))
	if ports.Len() == 0 {
		return fmt.Errorf("%w among the attached ports", ErrNoMatch)
	}

	var errs []error
	for _, port := range sets.List(ports) {
		logrus.Debugf("detaching port %s", port)
		stderr, err := r.client.Detach(ctx, port)
		if err != nil {
			logrus.Errorf("error unmounting port %s: %v", port, err)
			errs = append(errs, err)
			continue
		}
		if stderr != "" {
			fmt.Fprintln(r.out, strings.TrimRight(stderr, "\n"))
		}
		if err := classifyDetach(port, stderr); err != nil {
			logrus.Errorf("error unmounting port %s: %v", port, err)
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
