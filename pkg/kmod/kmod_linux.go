//go:build linux

package kmod

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/u-root/u-root/pkg/kmodule"
)

type moduleLoader struct{}

// NewLoader returns a Loader that resolves modules and their dependencies
// through modules.dep of the running kernel, like modprobe.
func NewLoader() Loader {
	return moduleLoader{}
}

func (moduleLoader) Load(module string) error {
	logrus.Infof("loading kernel module %s", module)
	if err := kmodule.Probe(module, ""); err != nil {
		return fmt.Errorf("error loading kernel module %s: %v", module, err)
	}
	return nil
}
