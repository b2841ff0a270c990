package parser

import (
	"fmt"

	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/registry"
)

// Format is one of the listing formats printed by usbip.
type Format int

const (
	// FormatParsable is `usbip list --parsable --local`:
	//
	//	busid=1-11#usbid=058f:9540#
	FormatParsable Format = iota
	// FormatHuman is the device line of `usbip list --remote`:
	//
	//	1-11: Alcor Micro Corp. : AU9540 Smartcard Reader (058f:9540)
	FormatHuman
	// FormatPorts is `usbip port`, one record over two lines:
	//
	//	Port 00: <Port in Use> at Full Speed(12Mbps)
	//	       Yubico.com : Yubikey 4/5 OTP+U2F+CCID (1050:0407)
	FormatPorts
)

const (
	hexPair = `[0-9a-fA-F]{4}:[0-9a-fA-F]{4}`

	parsablePattern = `busid=(?P<busid>[^#\s]+)#usbid=(?P<usbid>[^#\s]+)#`

	// The bus id starts the line. The greedy description plus the end of
	// line anchor make the last parenthesized pair on the line the usbid,
	// so a look-alike pair inside the description is never picked.
	humanPattern = `(?m)^[ \t]*(?P<busid>[0-9]+-[0-9]+(?:\.[0-9]+)*):[^\n]*\((?P<usbid>` + hexPair + `)\)[ \t\r]*$`

	// The usbid is on the line right after the port header.
	portsPattern = `Port[ \t]+(?P<port>[0-9]+)[^\n]*\n[^\n]*\((?P<usbid>` + hexPair + `)\)`
)

var (
	parsableScanner = mustScanner[device.BusID](parsablePattern, BusIDGroup)
	humanScanner    = mustScanner[device.BusID](humanPattern, BusIDGroup)
	portsScanner    = mustScanner[device.Port](portsPattern, PortGroup)
)

func (f Format) String() string {
	switch f {
	case FormatParsable:
		return "parsable"
	case FormatHuman:
		return "human"
	case FormatPorts:
		return "ports"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseBusIDs builds a usbid -> bus ids registry from a local or remote listing.
func ParseBusIDs(f Format, text string) (registry.Registry[device.BusID], error) {
	switch f {
	case FormatParsable:
		return parsableScanner.Scan(text), nil
	case FormatHuman:
		return humanScanner.Scan(text), nil
	default:
		return nil, fmt.Errorf("format %s does not list bus ids", f)
	}
}

// ParsePorts builds a usbid -> vhci ports registry from `usbip port` output.
func ParsePorts(text string) registry.Registry[device.Port] {
	return portsScanner.Scan(text)
}
