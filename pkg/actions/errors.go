package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harvester/usbip-helper/pkg/usbip"
)

// ErrNoMatch is returned when a filter resolves to no bus ids or ports.
var ErrNoMatch = errors.New("found no matching USB IDs")

// ActionError is a bind, unbind, attach or detach that usbip rejected.
type ActionError struct {
	Action     usbip.Action
	Handle     string
	Diagnostic string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Action, e.Handle, strings.TrimSpace(e.Diagnostic))
}

// DriverMissingError means the kernel lacks a module usbip needs. Retrying
// does not help, the module has to be enabled first.
type DriverMissingError struct {
	Module string
}

func (e *DriverMissingError) Error() string {
	return fmt.Sprintf("missing %s driver module, please enable the `%s` kernel module (modprobe %s) or rerun with --load-modules",
		e.Module, e.Module, e.Module)
}
