package kmod

const (
	// VHCIModule provides the virtual host controller imported devices attach to.
	VHCIModule = "vhci-hcd"
	// HostModule lets usbipd export local devices.
	HostModule = "usbip-host"
)

// Loader loads a kernel module by name.
type Loader interface {
	Load(module string) error
}

// LoaderFunc adapts a function to a Loader.
type LoaderFunc func(module string) error

func (f LoaderFunc) Load(module string) error {
	return f(module)
}
