package device

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/util/gousb"
)

// USBID is the vendor:product pair printed by usbip, e.g. "058f:9540".
// Several physical devices of the same model share one USBID.
type USBID string

// BusID identifies where a device is attached on the exporting host, e.g. "1-11".
// It may change between reboots or when the device is re-plugged.
type BusID string

// Port is the local vhci port an imported device occupies, e.g. "00".
// It has nothing to do with the usbipd TCP port.
type Port string

func (u USBID) String() string { return string(u) }

func (b BusID) String() string { return string(b) }

func (p Port) String() string { return string(p) }

// Vendor returns the vendor half of the id.
func (u USBID) Vendor() (gousb.ID, error) {
	vendor, _, err := u.split()
	return vendor, err
}

// Product returns the product half of the id.
func (u USBID) Product() (gousb.ID, error) {
	_, product, err := u.split()
	return product, err
}

func (u USBID) split() (gousb.ID, gousb.ID, error) {
	vendor, product, found := strings.Cut(string(u), ":")
	if !found {
		return 0, 0, fmt.Errorf("usb id %q is not in vendor:product form", u)
	}
	v, err := gousb.ParseID(vendor)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor in usb id %q: %w", u, err)
	}
	p, err := gousb.ParseID(product)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product in usb id %q: %w", u, err)
	}
	return v, p, nil
}

// Handle is a location a device can be acted on by: a BusID on the
// exporting side or a Port on the importing side.
type Handle interface {
	~string
	fmt.Stringer
}

// Pair ties a single handle to the USBID found next to it in a listing.
type Pair[H Handle] struct {
	USBID  USBID
	Handle H
}

// ParseUSBIDs turns command line arguments into a filter set. Blank
// arguments are dropped, hex digits are lower-cased to match usbip output.
func ParseUSBIDs(args []string) sets.Set[USBID] {
	ids := sets.New[USBID]()
	for _, arg := range args {
		arg = strings.ToLower(strings.TrimSpace(arg))
		if arg == "" {
			continue
		}
		ids.Insert(USBID(arg))
	}
	return ids
}
