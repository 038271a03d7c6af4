package catalogue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Delimiter joins realm, storage and path before hashing. It may not appear
// in any of the three parts.
const Delimiter = ":"

// RootPath is the storage-relative path of a storage root.
const RootPath = "/"

var (
	// ErrReservedDelimiter is returned when an identity field contains ':'.
	ErrReservedDelimiter = errors.New("identity field contains reserved delimiter \":\"")

	// ErrEmptyName is returned when a required identity field is empty.
	ErrEmptyName = errors.New("identity field is empty")

	// ErrInvalidName is returned when a realm or storage name is not made of
	// [A-Za-z0-9_-] or is longer than 64 characters.
	ErrInvalidName = errors.New("invalid realm or storage name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName checks a realm or storage name. Names are identity fields, so
// they are rejected rather than normalised.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name: %w", kind, ErrEmptyName)
	}
	if strings.Contains(name, Delimiter) {
		return fmt.Errorf("%s name %q: %w", kind, name, ErrReservedDelimiter)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%s name %q: %w", kind, name, ErrInvalidName)
	}
	return nil
}

// HashPath returns the hex sha256 of realm:storage:path.
func HashPath(realm, storage, p string) (string, error) {
	fields := []struct{ kind, value string }{
		{"realm", realm},
		{"storage", storage},
		{"path", p},
	}
	for _, f := range fields {
		if f.value == "" {
			return "", fmt.Errorf("%s: %w", f.kind, ErrEmptyName)
		}
		if strings.Contains(f.value, Delimiter) {
			return "", fmt.Errorf("%s %q: %w", f.kind, f.value, ErrReservedDelimiter)
		}
	}

	sum := sha256.Sum256([]byte(realm + Delimiter + storage + Delimiter + p))
	return hex.EncodeToString(sum[:]), nil
}

// ParentPath returns the containing directory of a storage-relative path.
// The root is its own parent.
func ParentPath(p string) string {
	return path.Dir(p)
}

// BaseName returns the last element of a storage-relative path.
func BaseName(p string) string {
	if p == RootPath {
		return ""
	}
	return path.Base(p)
}
