package entitystore

import (
	"fmt"
	"slices"
)

const minTypeNameLength = 2

// reservedTypeNames may not be used as discriminators; they collide with
// names the engine and its storage tables use internally.
var reservedTypeNames = []string{
	"batch",
	"change-event",
	"entity",
	"item",
	"schema",
	"system",
}

// ValidateTypeName enforces the discriminator naming rule: lowercase letters
// and hyphens only, starting and ending with a letter, minimum two
// characters, and not a reserved system name. It is called once at schema
// construction, never per operation.
func ValidateTypeName(typeName string) error {
	if len(typeName) < minTypeNameLength {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidTypeName, typeName, minTypeNameLength)
	}

	for i := 0; i < len(typeName); i++ {
		c := typeName[i]

		if c >= 'a' && c <= 'z' {
			continue
		}

		if c == '-' && i > 0 && i < len(typeName)-1 {
			continue
		}

		return fmt.Errorf("%w: %q", ErrInvalidTypeName, typeName)
	}

	if slices.Contains(reservedTypeNames, typeName) {
		return fmt.Errorf("%w: %q", ErrReservedTypeName, typeName)
	}

	return nil
}
