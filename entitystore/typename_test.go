package entitystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

func Test_ValidateTypeName(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		wantErr  error
	}{
		{name: "simple_lowercase_name_is_valid", typeName: "customer", wantErr: nil},
		{name: "hyphenated_name_is_valid", typeName: "purchase-order", wantErr: nil},
		{name: "two_letter_name_is_valid", typeName: "po", wantErr: nil},
		{name: "empty_name_is_invalid", typeName: "", wantErr: entitystore.ErrInvalidTypeName},
		{name: "single_letter_name_is_invalid", typeName: "a", wantErr: entitystore.ErrInvalidTypeName},
		{name: "uppercase_is_invalid", typeName: "Customer", wantErr: entitystore.ErrInvalidTypeName},
		{name: "digits_are_invalid", typeName: "order2", wantErr: entitystore.ErrInvalidTypeName},
		{name: "leading_hyphen_is_invalid", typeName: "-order", wantErr: entitystore.ErrInvalidTypeName},
		{name: "trailing_hyphen_is_invalid", typeName: "order-", wantErr: entitystore.ErrInvalidTypeName},
		{name: "underscore_is_invalid", typeName: "purchase_order", wantErr: entitystore.ErrInvalidTypeName},
		{name: "reserved_name_entity_is_rejected", typeName: "entity", wantErr: entitystore.ErrReservedTypeName},
		{name: "reserved_name_batch_is_rejected", typeName: "batch", wantErr: entitystore.ErrReservedTypeName},
		{name: "reserved_name_change_event_is_rejected", typeName: "change-event", wantErr: entitystore.ErrReservedTypeName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := entitystore.ValidateTypeName(tt.typeName)

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
