package actions

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/config"
	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/kmod"
)

// StartHoster runs usbipd in the foreground until it exits or ctx is
// cancelled. Devices in hostIDs are bound before the daemon starts, which
// usbip allows.
func (r *Runner) StartHoster(ctx context.Context, opts config.DaemonOptions, hostIDs sets.Set[device.USBID]) error {
	if _, err := r.client.DaemonVersion(ctx); err != nil {
		return err
	}

	if r.loadModules {
		if err := r.loader.Load(kmod.HostModule); err != nil {
			logrus.Warnf("%v", err)
		}
	}

	if hostIDs.Len() > 0 {
		if err := r.Host(ctx, hostIDs); err != nil && !errors.Is(err, ErrNoMatch) {
			return err
		} else if err != nil {
			logrus.Warnf("none of %v is connected, starting usbipd anyway", sets.List(hostIDs))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer cancel()
		logrus.Infof("starting usbipd on port %d", opts.TCPPort)
		return r.client.StartDaemon(egctx, opts)
	})

	eg.Go(func() error {
		<-egctx.Done()
		logrus.Info("Shutting down")
		return nil
	})

	return eg.Wait()
}
