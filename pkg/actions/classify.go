package actions

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/kmod"
	"github.com/harvester/usbip-helper/pkg/usbip"
)

// classify turns usbip stderr into an error. The exit status of usbip is
// not reliable, an "error: " line is. benign lists error messages that mean
// the device is already in the requested state.
func classify(action usbip.Action, handle string, stderr string, benign ...string) error {
	if !strings.Contains(stderr, usbip.ErrorMarker) {
		return nil
	}
	for _, b := range benign {
		if strings.Contains(stderr, b) {
			logrus.Warnf("%s %s: %s", action, handle, strings.TrimSpace(stderr))
			return nil
		}
	}
	return &ActionError{
		Action:     action,
		Handle:     handle,
		Diagnostic: stderr,
	}
}

func classifyBind(busID device.BusID, stderr string) error {
	return classify(usbip.Bind, busID.String(), stderr, usbip.AlreadyBound)
}

func classifyUnbind(busID device.BusID, stderr string) error {
	return classify(usbip.Unbind, busID.String(), stderr, usbip.NotBound)
}

// classifyAttach reports a missing vhci driver regardless of what else
// usbip printed.
func classifyAttach(busID device.BusID, stderr string) error {
	if strings.Contains(stderr, usbip.VHCIDriverMissing) {
		return &DriverMissingError{Module: kmod.VHCIModule}
	}
	return classify(usbip.Attach, busID.String(), stderr)
}

func classifyDetach(port device.Port, stderr string) error {
	return classify(usbip.Detach, port.String(), stderr)
}
