// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package validation checks names and strings that arrive from users or
// remote peers before they reach storage or logs.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxKeyNameLength bounds keyring entry names.
const MaxKeyNameLength = 64

// maxLogLength bounds strings written to logs.
const maxLogLength = 256

// ErrInvalidKeyName is wrapped by every ValidateKeyName failure.
var ErrInvalidKeyName = errors.New("invalid key name")

// keyNamePattern matches safe key names; the leading character excludes
// dot-files and "..".
var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-\.]*$`)

// ValidateKeyName validates a keyring entry name. Names become file names
// under the keyring root, so separators, traversal, null bytes and control
// characters are rejected.
func ValidateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidKeyName)
	}

	// Check length before the pattern (prevent ReDoS)
	if len(name) > MaxKeyNameLength {
		return fmt.Errorf("%w: name too long (max %d characters)", ErrInvalidKeyName, MaxKeyNameLength)
	}

	for _, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidKeyName)
		}
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: name contains path traversal attempt", ErrInvalidKeyName)
	}

	if !keyNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, .)", ErrInvalidKeyName, name)
	}

	return nil
}

// SanitizeForLog strips control characters and truncates s (prevents log
// injection from peer-supplied fields).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}

	return s
}
