package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/harvester/usbip-helper/pkg/parser"
	"github.com/harvester/usbip-helper/pkg/printer"
)

const noMountableHint = "No mountable devices found. Use the `host` sub-command on the USB host to add USB devices."

// ListHostable prints the devices connected to this machine.
func (r *Runner) ListHostable(ctx context.Context, summary bool) error {
	if summary {
		hostable, err := r.client.Hostable(ctx)
		if err != nil {
			return err
		}
		printer.PrintRegistry(r.out, hostable, r.usbIDs, "Bus IDs")
		return nil
	}

	out, err := r.client.ListLocal(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, strings.TrimRight(out, "\n"))
	return nil
}

// ListMountable prints the devices exported by host. An empty export list
// gets a hint instead of the bare usbip header.
func (r *Runner) ListMountable(ctx context.Context, host string, summary bool) error {
	out, err := r.client.ListRemote(ctx, host)
	if err != nil {
		return err
	}
	mountable, err := parser.ParseBusIDs(parser.FormatHuman, out)
	if err != nil {
		return err
	}
	if len(mountable) == 0 {
		fmt.Fprintln(r.out, noMountableHint)
		return nil
	}
	if summary {
		printer.PrintRegistry(r.out, mountable, r.usbIDs, "Bus IDs")
		return nil
	}
	fmt.Fprintln(r.out, strings.TrimRight(out, "\n"))
	return nil
}

// ListMounted prints the remote devices attached to this machine.
func (r *Runner) ListMounted(ctx context.Context, summary bool) error {
	out, err := r.client.ListPorts(ctx)
	if err != nil {
		return err
	}
	if summary {
		printer.PrintRegistry(r.out, parser.ParsePorts(out), r.usbIDs, "Ports")
		return nil
	}
	fmt.Fprintln(r.out, strings.TrimRight(out, "\n"))
	return nil
}
