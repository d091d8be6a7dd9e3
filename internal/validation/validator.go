// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package validation provides struct validation using go-playground/validator v10.
// It exposes a thread-safe singleton validator with custom rules for
// fountain identifiers and calendar-day keys.
//
// Example usage:
//
//	type OpenSessionRequest struct {
//	    UserID     string `validate:"required"`
//	    FountainID string `validate:"required,fountainid"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    respondError(w, http.StatusUnprocessableEntity, err)
//	    return
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// departmentWidth mirrors fountain.DepartmentWidth; duplicated here to keep
// this package free of domain imports (it is imported by config).
const departmentWidth = 6

// FieldError represents a single field validation failure.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// Error returns a human-readable message for the failure.
func (e FieldError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s failed %s=%s validation", e.Field, e.Tag, e.Param)
	}
	return fmt.Sprintf("%s failed %s validation", e.Field, e.Tag)
}

// StructError is a collection of field validation failures.
type StructError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *StructError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the singleton validator instance.
// Custom rules:
//   - fountainid: fixed-width department prefix plus non-empty serial
//   - dateymd:    YYYY-MM-DD calendar day key
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		_ = validate.RegisterValidation("fountainid", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return len(s) > departmentWidth
		})

		_ = validate.RegisterValidation("dateymd", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("2006-01-02", fl.Field().String())
			return err == nil
		})
	})

	return validate
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil on success, or *StructError listing every failed field.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	se := &StructError{}
	for _, fe := range verrs {
		se.Fields = append(se.Fields, FieldError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return se
}
