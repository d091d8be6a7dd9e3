// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package fountain

import "fmt"

// DepartmentWidth is the fixed width of the department prefix in a flat
// fountain identifier. Everything after it is the serial.
const DepartmentWidth = 6

// ID identifies a physical dispensing unit.
type ID struct {
	Department string `json:"department"`
	Serial     string `json:"serial"`
}

// ParseID splits a flat fountain identifier (QR payload or button signal)
// into department and serial. The identifier has no checksum; anything
// shorter than the department width plus one serial character fails with
// ErrInvalidFountainID.
func ParseID(s string) (ID, error) {
	if len(s) <= DepartmentWidth {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidFountainID, s)
	}
	return ID{
		Department: s[:DepartmentWidth],
		Serial:     s[DepartmentWidth:],
	}, nil
}

// String recomposes the flat identifier.
func (id ID) String() string {
	return id.Department + id.Serial
}

// FlowKey is the read-model path a live session watches:
// date (YYYY-MM-DD) / department / serial.
type FlowKey struct {
	Date       string `json:"date"`
	Department string `json:"department"`
	Serial     string `json:"serial"`
}

// String renders the key as a path, for logging and store prefixes.
func (k FlowKey) String() string {
	return k.Date + "/" + k.Department + "/" + k.Serial
}
