package entitystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

func Test_ValidationResult_IsValueSemantics(t *testing.T) {
	var base entitystore.ValidationResult
	assert.True(t, base.Valid())
	assert.Empty(t, base.Issues())

	extended := base.With("/message", "must not be empty")
	assert.True(t, base.Valid(), "extending must not mutate the original")
	assert.False(t, extended.Valid())
	assert.Len(t, extended.Issues(), 1)
	assert.Equal(t, "/message", extended.Issues()[0].Path)
}

func Test_ValidationResult_Merge(t *testing.T) {
	first := entitystore.ValidationResult{}.With("/message", "too short")
	second := entitystore.ValidationResult{}.With("/priority", "out of range")

	merged := first.Merge(second)

	assert.Len(t, merged.Issues(), 2)
	assert.Len(t, first.Issues(), 1, "merge must not mutate the receiver")

	var empty entitystore.ValidationResult
	assert.True(t, empty.Merge(empty).Valid())
	assert.Len(t, first.Merge(empty).Issues(), 1)
}
