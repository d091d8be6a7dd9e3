// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package validation

import (
	"strings"
	"testing"
)

type fixture struct {
	FountainID string `validate:"omitempty,fountainid"`
	Date       string `validate:"omitempty,dateymd"`
	Count      int    `validate:"min=0"`
}

func TestValidateStructFountainID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid id", "EPHEC0M02", false},
		{"long serial", "EPHEC01M02", false},
		{"department only", "EPHEC0", true},
		{"too short", "EPH", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&fixture{FountainID: tt.id})
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStructDate(t *testing.T) {
	if err := ValidateStruct(&fixture{Date: "2026-08-28"}); err != nil {
		t.Errorf("valid date rejected: %v", err)
	}
	if err := ValidateStruct(&fixture{Date: "28/08/2026"}); err == nil {
		t.Error("malformed date accepted")
	}
}

func TestStructErrorMessage(t *testing.T) {
	err := ValidateStruct(&fixture{FountainID: "x", Count: -1})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "fountainid") {
		t.Errorf("expected fountainid failure in %q", err.Error())
	}
	if !strings.Contains(err.Error(), "min") {
		t.Errorf("expected min failure in %q", err.Error())
	}
}
