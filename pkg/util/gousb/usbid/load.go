/* This file was part of the google/gousb project, copied to this project
 * to get around private package issues.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 * Copyright 2024 SUSE, LLC.
 *
 */

package usbid

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/harvester/usbip-helper/pkg/util/gousb"
)

const (
	// DefaultPath is where hwdata installs usb.ids on most distributions.
	DefaultPath = "/usr/share/hwdata/usb.ids"
)

// Database maps vendor and product ids to human readable names.
// A nil *Database is valid and describes every device as unknown.
type Database struct {
	Vendors map[gousb.ID]*Vendor
}

// Parse reads a usb.ids formatted stream.
func Parse(r io.Reader) (*Database, error) {
	vendors, err := NewParser().ParseVendors(r)
	if err != nil {
		return nil, err
	}
	return &Database{Vendors: vendors}, nil
}

// Load reads the usb.ids file at path. A missing file is not an error,
// descriptions are best effort and the returned database is nil.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Debugf("usb id database %s not found, devices will not be described", path)
			return nil, nil
		}
		return nil, fmt.Errorf("error opening usb id database %s: %v", path, err)
	}
	defer f.Close()

	db, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing usb id database %s: %v", path, err)
	}
	logrus.Debugf("loaded %d vendors from %s", len(db.Vendors), path)
	return db, nil
}

// DescribeWithVendorAndProduct returns "<product> (<vendor>)", falling back
// to "Unknown" for whichever half is not in the database.
func (d *Database) DescribeWithVendorAndProduct(vendor, product gousb.ID) string {
	if d == nil {
		return fmt.Sprintf("Unknown %s:%s", vendor, product)
	}
	v, ok := d.Vendors[vendor]
	if !ok {
		return fmt.Sprintf("Unknown %s:%s", vendor, product)
	}
	p, ok := v.Product[product]
	if !ok {
		return fmt.Sprintf("Unknown (%s)", v)
	}
	return fmt.Sprintf("%s (%s)", p, v)
}
