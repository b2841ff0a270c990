package registry

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/device"
)

// Registry maps every USBID found in a listing to the handles it was seen on.
// A registry is built once per command and only queried afterwards.
type Registry[H device.Handle] map[device.USBID]sets.Set[H]

// Fold builds a registry from the pairs scanned out of a listing.
// Handles mentioned more than once for the same USBID are stored once.
func Fold[H device.Handle](pairs []device.Pair[H]) Registry[H] {
	r := make(Registry[H])
	for _, p := range pairs {
		handles, ok := r[p.USBID]
		if !ok {
			handles = sets.New[H]()
			r[p.USBID] = handles
		}
		handles.Insert(p.Handle)
	}
	return r
}

// Keys returns the USBIDs in the registry, sorted.
func Keys[H device.Handle](r Registry[H]) []device.USBID {
	keys := sets.KeySet(r)
	return sets.List(keys)
}

// Len returns the number of handles across all USBIDs.
func Len[H device.Handle](r Registry[H]) int {
	return SelectAll(r).Len()
}

// SelectAll returns every handle in the registry.
func SelectAll[H device.Handle](r Registry[H]) sets.Set[H] {
	selected := sets.New[H]()
	for _, handles := range r {
		selected = selected.Union(handles)
	}
	return selected
}

// SelectMatching returns the handles of the USBIDs that are in filter.
// Filter entries without a registry entry contribute nothing.
func SelectMatching[H device.Handle](r Registry[H], filter sets.Set[device.USBID]) sets.Set[H] {
	selected := sets.New[H]()
	for usbID, handles := range r {
		if filter.Has(usbID) {
			selected = selected.Union(handles)
		}
	}
	return selected
}

// Select resolves filter against the registry. An empty filter selects
// every handle in the registry.
func Select[H device.Handle](r Registry[H], filter sets.Set[device.USBID]) sets.Set[H] {
	if filter.Len() == 0 {
		return SelectAll(r)
	}
	return SelectMatching(r, filter)
}
