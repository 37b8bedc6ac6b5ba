package builder

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

// ErrInvalidUnit is returned for requested names that Discover would never list.
var ErrInvalidUnit = errors.New("invalid unit name")

// Discover lists the unit names under root: direct subdirectories not in
// excluded, sorted by name as os.ReadDir returns them.
func Discover(root string, excluded []string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}

	units := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()

		if !entry.IsDir() || slices.Contains(excluded, name) {
			continue
		}

		units = append(units, name)
	}

	return units, nil
}

// Select checks explicitly requested unit names: each must name a direct
// entry of the root and must not be excluded. A trailing slash is dropped.
func Select(names, excluded []string) ([]string, error) {
	units := make([]string, 0, len(names))

	for _, name := range names {
		name = strings.TrimRight(name, "/")

		switch {
		case name == "", name == ".", name == "..", strings.ContainsAny(name, `/\`):
			return nil, fmt.Errorf("%w: %q", ErrInvalidUnit, name)
		case slices.Contains(excluded, name):
			return nil, fmt.Errorf("%w: %q is excluded", ErrInvalidUnit, name)
		}

		units = append(units, name)
	}

	return units, nil
}
