//go:build !linux

package kmod

import "fmt"

func NewLoader() Loader {
	return LoaderFunc(func(module string) error {
		return fmt.Errorf("loading kernel module %s is only supported on linux", module)
	})
}
