package entitystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

func Test_Capability_Has(t *testing.T) {
	readOnly := entitystore.CapabilityNone
	assert.False(t, readOnly.Has(entitystore.CapabilityCreate))
	assert.False(t, readOnly.Has(entitystore.CapabilityUpdate))
	assert.False(t, readOnly.Has(entitystore.CapabilityDelete))

	appendOnly := entitystore.CapabilityCreate
	assert.True(t, appendOnly.Has(entitystore.CapabilityCreate))
	assert.False(t, appendOnly.Has(entitystore.CapabilityDelete))

	all := entitystore.CapabilityAll
	assert.True(t, all.Has(entitystore.CapabilityCreate))
	assert.True(t, all.Has(entitystore.CapabilityUpdate))
	assert.True(t, all.Has(entitystore.CapabilityDelete))
	assert.True(t, all.Has(entitystore.CapabilityCreate|entitystore.CapabilityDelete))
}

func Test_Capability_String(t *testing.T) {
	assert.Equal(t, "none", entitystore.CapabilityNone.String())
	assert.Equal(t, "create", entitystore.CapabilityCreate.String())
	assert.Equal(t, "create|update|delete", entitystore.CapabilityAll.String())
	assert.Equal(t, "update|delete", (entitystore.CapabilityUpdate | entitystore.CapabilityDelete).String())
}
