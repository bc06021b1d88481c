// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for identifiers
// that cross a trust boundary.
//
// Tenant IDs arrive in URL paths, request bodies and CLI arguments and end
// up in SQL parameters, log lines and metric labels. Rejecting malformed
// IDs at the boundary keeps control characters and oversized values out of
// all three.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxTenantIDLength bounds a tenant ID in bytes.
const MaxTenantIDLength = 128

// ErrInvalidTenantID is returned for a tenant ID that fails ValidateTenantID.
var ErrInvalidTenantID = errors.New("invalid tenant id")

// tenantIDPattern matches tenant identifiers.
// Allows: letters, digits, dots, underscores, colons, hyphens.
// Must start with a letter or digit.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// ValidateTenantID validates a tenant identifier.
//
// Valid IDs:
//   - 1-128 characters
//   - Letters A-Z, a-z and digits 0-9
//   - Dots, underscores, colons and hyphens after the first character
//
// Example:
//
//	if err := validation.ValidateTenantID(id); err != nil {
//	    return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
//	}
func ValidateTenantID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidTenantID)
	}
	if !tenantIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (1-%d letters, digits, '.', '_', ':' or '-')", ErrInvalidTenantID, truncate(id, 32), MaxTenantIDLength)
	}
	return nil
}

// ValidateTenantIDs validates multiple tenant IDs.
// Returns an error listing all invalid IDs if any fail validation.
func ValidateTenantIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateTenantID(id); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", truncate(id, 32)))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTenantID, strings.Join(invalid, ", "))
	}
	return nil
}

// SanitizeTenantID trims surrounding whitespace and validates the result.
//
//	id, err := validation.SanitizeTenantID(c.Param("tenantId"))
//	if err != nil {
//	    // 400
//	}
func SanitizeTenantID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := ValidateTenantID(id); err != nil {
		return "", err
	}
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
