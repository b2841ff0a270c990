package gousb

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

import (
	"fmt"
	"strconv"
)

// ID represents a vendor or product ID.
type ID uint16

// String returns the ID as the four digit hex string usbip and usb.ids use.
func (id ID) String() string {
	return fmt.Sprintf("%04x", int(id))
}

// ParseID parses a hex vendor or product ID such as "058f".
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}
