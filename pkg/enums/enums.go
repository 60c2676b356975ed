// Package enums holds the string enums shared by Go code and the Postgres
// enum types created in migrations.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](kind, value string, valid []T) (T, error) {
	if v := T(value); slices.Contains(valid, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
