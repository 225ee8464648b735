package entitystore

import "strings"

// Capability is a bit set gating the mutating operations of a provider.
// Read and query are always available; create, update and delete are only
// offered when the corresponding bit is set.
type Capability uint8

const (
	CapabilityNone   Capability = 0
	CapabilityCreate Capability = 1 << 0
	CapabilityUpdate Capability = 1 << 1
	CapabilityDelete Capability = 1 << 2

	// CapabilityAll enables every mutating operation; it is the default for
	// providers constructed without WithCapabilities.
	CapabilityAll = CapabilityCreate | CapabilityUpdate | CapabilityDelete
)

// Has reports whether all bits of flag are set.
func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

func (c Capability) String() string {
	if c == CapabilityNone {
		return "none"
	}

	var parts []string

	if c.Has(CapabilityCreate) {
		parts = append(parts, "create")
	}
	if c.Has(CapabilityUpdate) {
		parts = append(parts, "update")
	}
	if c.Has(CapabilityDelete) {
		parts = append(parts, "delete")
	}

	return strings.Join(parts, "|")
}
