package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/config"
	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/kmod"
	"github.com/harvester/usbip-helper/pkg/usbip"
	"github.com/harvester/usbip-helper/pkg/util/fakeexecutor"
)

const (
	parsableLocal = `busid=1-11#usbid=058f:9540#
busid=1-1#usbid=04f2:b67c#
busid=1-14#usbid=8087:0029#
busid=1-8#usbid=04f2:b67c#
`
	remoteList = `Exportable USB devices
======================
 - 10.52.0.11
         1-11: Alcor Micro Corp. : AU9540 Smartcard Reader (058f:9540)
             : /sys/devices/pci0000:00/0000:00:14.0/usb1/1-11
             : (Defined at Interface level) (00/00/00)
          1-7: Yubico.com : Yubikey 4/5 OTP+U2F+CCID (1050:0407)
             : /sys/devices/pci0000:00/0000:00:14.0/usb1/1-7
          1-9: Yubico.com : Yubikey 4/5 OTP+U2F+CCID (1050:0407)
             : /sys/devices/pci0000:00/0000:00:14.0/usb1/1-9
`
	ports = `Imported USB devices
====================
Port 00: <Port in Use> at Full Speed(12Mbps)
       Yubico.com : Yubikey 4/5 OTP+U2F+CCID (1050:0407)
       3-1 -> usbip://10.52.0.11:3240/1-7
           -> remote bus/dev 001/011
Port 01: <Port in Use> at Full Speed(12Mbps)
       Yubico.com : Yubikey 4/5 OTP+U2F+CCID (1050:0407)
       3-2 -> usbip://10.52.0.11:3240/1-9
           -> remote bus/dev 001/012
Port 08: <Port in Use> at High Speed(480Mbps)
       Alcor Micro Corp. : AU9540 Smartcard Reader (058f:9540)
       5-1 -> usbip://10.52.0.11:3240/1-11
           -> remote bus/dev 001/004
`
	host = "10.52.0.11"
)

var _ Client = (*usbip.Client)(nil)

var _ = Describe("Runner", func() {
	var (
		ctx    context.Context
		fe     *fakeexecutor.FakeExecutor
		out    *bytes.Buffer
		opts   *config.Options
		runner *Runner
		loaded []string
	)

	newRunner := func(extra ...Option) *Runner {
		return NewRunner(usbip.NewClient(fe, opts), out, extra...)
	}

	BeforeEach(func() {
		ctx = context.TODO()
		fe = fakeexecutor.New()
		out = &bytes.Buffer{}
		loaded = nil
		opts = &config.Options{
			USBIPBinary:  "usbip",
			USBIPDBinary: "usbipd",
			TCPPort:      config.DefaultTCPPort,
		}
		runner = newRunner()
	})

	Describe("Host", func() {
		BeforeEach(func() {
			fe.On("usbip list --parsable --local", fakeexecutor.Result{Stdout: parsableLocal})
		})

		It("binds every bus id of the requested usb ids", func() {
			fe.On("usbip --tcp-port 3240 bind --busid=1-1", fakeexecutor.Result{}).
				On("usbip --tcp-port 3240 bind --busid=1-8", fakeexecutor.Result{})

			Expect(runner.Host(ctx, sets.New[device.USBID]("04f2:b67c"))).To(Succeed())
			Expect(fe.Calls()).To(ConsistOf(
				"usbip list --parsable --local",
				"usbip --tcp-port 3240 bind --busid=1-1",
				"usbip --tcp-port 3240 bind --busid=1-8",
			))
		})

		It("treats an already bound device as hosted", func() {
			fe.On("usbip --tcp-port 3240 bind --busid=1-11",
				fakeexecutor.Result{Stderr: "error: already bound to usbip-host"})

			Expect(runner.Host(ctx, sets.New[device.USBID]("058f:9540"))).To(Succeed())
		})

		It("keeps going after a failed bind and reports every failure", func() {
			fe.On("usbip --tcp-port 3240 bind --busid=1-1",
				fakeexecutor.Result{Stderr: "usbip: error: could not open /sys/bus/usb/devices/1-1"}).
				On("usbip --tcp-port 3240 bind --busid=1-8", fakeexecutor.Result{}).
				On("usbip --tcp-port 3240 bind --busid=1-11",
					fakeexecutor.Result{Stderr: "usbip: error: unable to bind device on 1-11"})

			err := runner.Host(ctx, sets.New[device.USBID]("04f2:b67c", "058f:9540"))
			Expect(err).To(HaveOccurred())
			Expect(fe.Calls()).To(ContainElement("usbip --tcp-port 3240 bind --busid=1-8"))

			var agg utilerrors.Aggregate
			Expect(errors.As(err, &agg)).To(BeTrue())
			Expect(agg.Errors()).To(HaveLen(2))
			for _, e := range agg.Errors() {
				var actionErr *ActionError
				Expect(errors.As(e, &actionErr)).To(BeTrue())
				Expect(actionErr.Action).To(Equal(usbip.Bind))
			}
		})

		It("fails a bind that was killed by the exec timeout", func() {
			fe.On("usbip --tcp-port 3240 bind --busid=1-11",
				fakeexecutor.Result{Err: fmt.Errorf("%w: signal: killed", context.DeadlineExceeded)})

			err := runner.Host(ctx, sets.New[device.USBID]("058f:9540"))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("reports no match for unknown usb ids", func() {
			err := runner.Host(ctx, sets.New[device.USBID]("dead:beef"))
			Expect(errors.Is(err, ErrNoMatch)).To(BeTrue())
			Expect(fe.Calls()).To(HaveLen(1))
		})

		It("does not host everything for an empty filter", func() {
			err := runner.Host(ctx, sets.New[device.USBID]())
			Expect(errors.Is(err, ErrNoMatch)).To(BeTrue())
		})
	})

	Describe("Unhost", func() {
		BeforeEach(func() {
			fe.On("usbip list --parsable --local", fakeexecutor.Result{Stdout: parsableLocal})
		})

		It("unbinds every hostable device for an empty filter", func() {
			for _, busID := range []string{"1-1", "1-11", "1-14", "1-8"} {
				fe.On("usbip --tcp-port 3240 unbind --busid="+busID, fakeexecutor.Result{})
			}

			Expect(runner.Unhost(ctx, nil)).To(Succeed())
			Expect(fe.Calls()).To(HaveLen(5))
		})

		It("treats a device that is not bound as unhosted", func() {
			fe.On("usbip --tcp-port 3240 unbind --busid=1-14",
				fakeexecutor.Result{Stderr: "error: device is not bound to usbip-host"})

			Expect(runner.Unhost(ctx, sets.New[device.USBID]("8087:0029"))).To(Succeed())
		})

		It("fails on any other error", func() {
			fe.On("usbip --tcp-port 3240 unbind --busid=1-14",
				fakeexecutor.Result{Stderr: "usbip: error: unable to unbind device on 1-14"})

			err := runner.Unhost(ctx, sets.New[device.USBID]("8087:0029"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unbind 1-14 failed"))
		})
	})

	Describe("Mount", func() {
		BeforeEach(func() {
			fe.On("usbip --tcp-port=3240 list --remote="+host, fakeexecutor.Result{Stdout: remoteList})
		})

		It("attaches every exported device for an empty filter", func() {
			for _, busID := range []string{"1-11", "1-7", "1-9"} {
				fe.On("usbip --tcp-port 3240 attach --busid="+busID+" --remote="+host, fakeexecutor.Result{})
			}

			Expect(runner.Mount(ctx, host, nil)).To(Succeed())
			Expect(fe.Calls()).To(HaveLen(4))
		})

		It("stops at the first missing vhci driver", func() {
			fe.On("usbip --tcp-port 3240 attach --busid=1-7 --remote="+host,
				fakeexecutor.Result{Stderr: "libusbip: error: udev_device_new_from_subsystem_sysname failed\nusbip: error: open vhci_driver"})

			err := runner.Mount(ctx, host, sets.New[device.USBID]("1050:0407"))
			var driverErr *DriverMissingError
			Expect(errors.As(err, &driverErr)).To(BeTrue())
			Expect(driverErr.Module).To(Equal(kmod.VHCIModule))
			Expect(err.Error()).To(ContainSubstring("enable the `vhci-hcd` kernel module"))
			Expect(fe.Calls()).NotTo(ContainElement(ContainSubstring("--busid=1-9")))
		})

		It("keeps earlier failures when the vhci driver turns out missing", func() {
			fe.On("usbip --tcp-port 3240 attach --busid=1-11 --remote="+host,
				fakeexecutor.Result{Stderr: "usbip: error: import device"}).
				On("usbip --tcp-port 3240 attach --busid=1-7 --remote="+host,
					fakeexecutor.Result{Stderr: "usbip: error: open vhci_driver"})

			err := runner.Mount(ctx, host, nil)
			var driverErr *DriverMissingError
			Expect(errors.As(err, &driverErr)).To(BeTrue())
			var agg utilerrors.Aggregate
			Expect(errors.As(err, &agg)).To(BeTrue())
			Expect(agg.Errors()).To(HaveLen(1))
			var actionErr *ActionError
			Expect(errors.As(agg.Errors()[0], &actionErr)).To(BeTrue())
			Expect(actionErr.Handle).To(Equal("1-11"))
			Expect(err.Error()).To(ContainSubstring("attach 1-11 failed"))
			Expect(fe.Calls()).NotTo(ContainElement(ContainSubstring("--busid=1-9")))
		})

		It("loads vhci-hcd once and retries when module loading is enabled", func() {
			runner = newRunner(WithModuleLoader(kmod.LoaderFunc(func(module string) error {
				loaded = append(loaded, module)
				return nil
			})))
			fe.On("usbip --tcp-port 3240 attach --busid=1-11 --remote="+host,
				fakeexecutor.Result{Stderr: "usbip: error: open vhci_driver"},
				fakeexecutor.Result{})

			Expect(runner.Mount(ctx, host, sets.New[device.USBID]("058f:9540"))).To(Succeed())
			Expect(loaded).To(Equal([]string{kmod.VHCIModule}))
		})

		It("reports the missing driver when loading fails", func() {
			runner = newRunner(WithModuleLoader(kmod.LoaderFunc(func(module string) error {
				loaded = append(loaded, module)
				return errors.New("module not found")
			})))
			fe.On("usbip --tcp-port 3240 attach --busid=1-11 --remote="+host,
				fakeexecutor.Result{Stderr: "usbip: error: open vhci_driver"})

			err := runner.Mount(ctx, host, sets.New[device.USBID]("058f:9540"))
			var driverErr *DriverMissingError
			Expect(errors.As(err, &driverErr)).To(BeTrue())
			Expect(loaded).To(HaveLen(1))
		})

		It("collects other attach failures", func() {
			fe.On("usbip --tcp-port 3240 attach --busid=1-7 --remote="+host,
				fakeexecutor.Result{Stderr: "usbip: error: import device"}).
				On("usbip --tcp-port 3240 attach --busid=1-9 --remote="+host, fakeexecutor.Result{})

			err := runner.Mount(ctx, host, sets.New[device.USBID]("1050:0407"))
			Expect(err).To(HaveOccurred())
			Expect(fe.Calls()).To(ContainElement("usbip --tcp-port 3240 attach --busid=1-9 --remote=" + host))
		})

		It("reports an unreachable daemon", func() {
			fe = fakeexecutor.New().On("usbip --tcp-port=3240 list --remote="+host,
				fakeexecutor.Result{Stderr: "usbip: error: could not connect", Err: errors.New("exit status 1")})
			runner = newRunner()

			err := runner.Mount(ctx, host, nil)
			Expect(errors.Is(err, usbip.ErrDaemonUnreachable)).To(BeTrue())
		})

		It("only logs the calls in dry run mode", func() {
			opts.DryRun = true
			runner = newRunner()

			Expect(runner.Mount(ctx, host, nil)).To(Succeed())
			Expect(fe.Calls()).To(HaveLen(1))
		})
	})

	Describe("Unmount", func() {
		BeforeEach(func() {
			fe.On("usbip port", fakeexecutor.Result{Stdout: ports})
		})

		It("detaches the matching ports and prints usbip's messages", func() {
			fe.On("usbip detach --port=00", fakeexecutor.Result{Stderr: "usbip: info: Port 0 is now detached!\n"}).
				On("usbip detach --port=01", fakeexecutor.Result{Stderr: "usbip: info: Port 1 is now detached!\n"})

			Expect(runner.Unmount(ctx, sets.New[device.USBID]("1050:0407"))).To(Succeed())
			Expect(out.String()).To(Equal("usbip: info: Port 0 is now detached!\nusbip: info: Port 1 is now detached!\n"))
			Expect(fe.Calls()).NotTo(ContainElement("usbip detach --port=08"))
		})

		It("keeps the detach output as usbip printed it", func() {
			fe.On("usbip detach --port=08", fakeexecutor.Result{Stderr: "  usbip: info: Port 8 is now detached!\n\n"})

			Expect(runner.Unmount(ctx, sets.New[device.USBID]("058f:9540"))).To(Succeed())
			Expect(out.String()).To(Equal("  usbip: info: Port 8 is now detached!\n"))
		})

		It("reports no match when nothing is attached", func() {
			fe = fakeexecutor.New().On("usbip port", fakeexecutor.Result{Stdout: "Imported USB devices\n====================\n"})
			runner = newRunner()

			err := runner.Unmount(ctx, nil)
			Expect(errors.Is(err, ErrNoMatch)).To(BeTrue())
		})

		It("surfaces detach errors after trying every port", func() {
			fe.On("usbip detach --port=00", fakeexecutor.Result{Stderr: "usbip: error: Port 0 is not in use"}).
				On("usbip detach --port=01", fakeexecutor.Result{}).
				On("usbip detach --port=08", fakeexecutor.Result{})

			err := runner.Unmount(ctx, nil)
			Expect(err).To(HaveOccurred())
			Expect(out.String()).To(ContainSubstring("Port 0 is not in use"))
			Expect(fe.Calls()).To(HaveLen(4))
		})
	})

	Describe("List", func() {
		It("prints the remote listing", func() {
			fe.On("usbip --tcp-port=3240 list --remote="+host, fakeexecutor.Result{Stdout: remoteList})
			Expect(runner.ListMountable(ctx, host, false)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("1-11: Alcor Micro Corp."))
		})

		It("prints a hint when the remote exports nothing", func() {
			fe.On("usbip --tcp-port=3240 list --remote="+host, fakeexecutor.Result{Stdout: "Exportable USB devices\n======================\n"})
			Expect(runner.ListMountable(ctx, host, false)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Use the `host` sub-command"))
		})

		It("summarizes the hostable devices", func() {
			fe.On("usbip list --parsable --local", fakeexecutor.Result{Stdout: parsableLocal})
			Expect(runner.ListHostable(ctx, true)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("1-1, 1-8"))
		})

		It("summarizes the mounted ports", func() {
			fe.On("usbip port", fakeexecutor.Result{Stdout: ports})
			Expect(runner.ListMounted(ctx, true)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("00, 01"))
		})

		It("passes the local listing through", func() {
			fe.On("usbip list --local", fakeexecutor.Result{Stdout: " - busid 1-11 (058f:9540)\n   Alcor Micro Corp. : AU9540 Smartcard Reader (058f:9540)\n"})
			Expect(runner.ListHostable(ctx, false)).To(Succeed())
			Expect(out.String()).To(HavePrefix(" - busid 1-11 (058f:9540)"))
		})
	})

	Describe("StartHoster", func() {
		daemonOpts := config.DaemonOptions{PIDFile: config.DefaultPIDFile, TCPPort: config.DefaultTCPPort}

		BeforeEach(func() {
			fe.On("usbipd --version", fakeexecutor.Result{Stdout: "usbipd (usbip-utils 2.0)"})
		})

		It("hosts the requested devices before running the daemon", func() {
			fe.On("usbip list --parsable --local", fakeexecutor.Result{Stdout: parsableLocal}).
				On("usbip --tcp-port 3240 bind --busid=1-11", fakeexecutor.Result{}).
				On("usbipd --tcp-port 3240 --pid=/var/run/usbipd.pid", fakeexecutor.Result{})

			Expect(runner.StartHoster(ctx, daemonOpts, sets.New[device.USBID]("058f:9540"))).To(Succeed())
			Expect(fe.Calls()).To(Equal([]string{
				"usbipd --version",
				"usbip list --parsable --local",
				"usbip --tcp-port 3240 bind --busid=1-11",
				"usbipd --tcp-port 3240 --pid=/var/run/usbipd.pid",
			}))
		})

		It("loads usbip-host when module loading is enabled", func() {
			runner = newRunner(WithModuleLoader(kmod.LoaderFunc(func(module string) error {
				loaded = append(loaded, module)
				return nil
			})))
			fe.On("usbipd --tcp-port 3240 --pid=/var/run/usbipd.pid", fakeexecutor.Result{})

			Expect(runner.StartHoster(ctx, daemonOpts, nil)).To(Succeed())
			Expect(loaded).To(Equal([]string{kmod.HostModule}))
		})

		It("returns the daemon failure", func() {
			fe.On("usbipd --tcp-port 3240 --pid=/var/run/usbipd.pid", fakeexecutor.Result{Err: errors.New("exit status 2")})
			Expect(runner.StartHoster(ctx, daemonOpts, nil)).To(MatchError(ContainSubstring("could not successfully start usbipd")))
		})
	})
})
