package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harvester/usbip-helper/pkg/device"
	"github.com/harvester/usbip-helper/pkg/registry"
)

const (
	// USBIDGroup is the capture group every pattern must declare for the vendor:product pair.
	USBIDGroup = "usbid"
	// BusIDGroup captures a bus id in the local and remote listings.
	BusIDGroup = "busid"
	// PortGroup captures a vhci port in the `usbip port` listing.
	PortGroup = "port"
)

// ErrInvalidPattern is returned when a pattern does not declare exactly the
// capture groups a scanner needs.
var ErrInvalidPattern = errors.New("invalid scan pattern")

// Scanner extracts (usbid, handle) pairs from listing text.
type Scanner[H device.Handle] struct {
	re        *regexp.Regexp
	handleIdx int
	usbIDIdx  int
}

// NewScanner compiles pattern and checks that its named capture groups are
// exactly handleGroup and usbid.
func NewScanner[H device.Handle](pattern, handleGroup string) (*Scanner[H], error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	expected := sets.New(handleGroup, USBIDGroup)
	declared := sets.New[string]()
	for _, name := range re.SubexpNames() {
		if name != "" {
			declared.Insert(name)
		}
	}
	if !declared.Equal(expected) {
		return nil, fmt.Errorf("%w: %q must declare exactly the capture groups %v, found %v",
			ErrInvalidPattern, pattern, sets.List(expected), sets.List(declared))
	}

	return &Scanner[H]{
		re:        re,
		handleIdx: re.SubexpIndex(handleGroup),
		usbIDIdx:  re.SubexpIndex(USBIDGroup),
	}, nil
}

func mustScanner[H device.Handle](pattern, handleGroup string) *Scanner[H] {
	s, err := NewScanner[H](pattern, handleGroup)
	if err != nil {
		panic(err)
	}
	return s
}

// Pairs returns every pair found in text, in the order they appear.
// Matches where either capture did not participate are skipped. USBIDs are
// lower-cased like the filters built by device.ParseUSBIDs.
func (s *Scanner[H]) Pairs(text string) []device.Pair[H] {
	var pairs []device.Pair[H]
	for _, m := range s.re.FindAllStringSubmatchIndex(text, -1) {
		handle, ok := group(text, m, s.handleIdx)
		if !ok {
			continue
		}
		usbID, ok := group(text, m, s.usbIDIdx)
		if !ok {
			continue
		}
		pairs = append(pairs, device.Pair[H]{
			USBID:  device.USBID(strings.ToLower(usbID)),
			Handle: H(handle),
		})
	}
	return pairs
}

// Scan builds a registry from text.
func (s *Scanner[H]) Scan(text string) registry.Registry[H] {
	return registry.Fold(s.Pairs(text))
}

func group(text string, match []int, idx int) (string, bool) {
	start, end := match[2*idx], match[2*idx+1]
	if start < 0 || start == end {
		return "", false
	}
	return text[start:end], true
}
