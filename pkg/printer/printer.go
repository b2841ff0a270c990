package printer

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/registry"
	"github.com/harvester/usbip-helper/pkg/util/gousb/usbid"
)

// Describe names the device behind usbID, falling back to the id itself.
func Describe(db *usbid.Database, usbID device.USBID) string {
	vendor, err := usbID.Vendor()
	if err != nil {
		return usbID.String()
	}
	product, err := usbID.Product()
	if err != nil {
		return usbID.String()
	}
	return db.DescribeWithVendorAndProduct(vendor, product)
}

// PrintRegistry writes one row per usb id with its handles, sorted by usb id.
func PrintRegistry[H device.Handle](w io.Writer, r registry.Registry[H], db *usbid.Database, handleTitle string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"USB ID", "Device", handleTitle})
	for _, usbID := range registry.Keys(r) {
		handles := sets.List(r[usbID])
		names := make([]string, 0, len(handles))
		for _, h := range handles {
			names = append(names, h.String())
		}
		t.AppendRow(table.Row{usbID.String(), Describe(db, usbID), strings.Join(names, ", ")})
	}
	t.Render()
}
