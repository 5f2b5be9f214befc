package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
)

func TestValidateScope(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		scope   model.CollectionScope
		wantErr bool
	}{
		{name: "valid", scope: model.NewCollectionScope("app", "users")},
		{name: "missing application", scope: model.NewCollectionScope("", "users"), wantErr: true},
		{name: "missing collection", scope: model.NewCollectionScope("app", ""), wantErr: true},
		{name: "slash", scope: model.NewCollectionScope("app/x", "users"), wantErr: true},
		{name: "null byte", scope: model.NewCollectionScope("app", "us\x00ers"), wantErr: true},
		{name: "too long", scope: model.NewCollectionScope(strings.Repeat("a", MaxScopePartSize+1), "users"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateScope(tt.scope)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
		})
	}
}

func TestValidatePayload(t *testing.T) {
	v := NewValidatorWithLimits(MaxScopePartSize, 8, 16, 3)

	tests := []struct {
		name    string
		fields  []model.Field
		wantErr bool
	}{
		{name: "valid", fields: []model.Field{
			{Name: "name", Value: "alice", Unique: true},
			{Name: "tags", Value: []string{"a", "b"}},
		}},
		{name: "empty name", fields: []model.Field{{Name: "", Value: 1}}, wantErr: true},
		{name: "long name", fields: []model.Field{{Name: "much_too_long", Value: 1}}, wantErr: true},
		{name: "duplicate", fields: []model.Field{{Name: "a", Value: 1}, {Name: "a", Value: 2}}, wantErr: true},
		{name: "too many fields", fields: []model.Field{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}, wantErr: true},
		{name: "non scalar unique", fields: []model.Field{{Name: "tags", Value: []string{"a"}, Unique: true}}, wantErr: true},
		{name: "unique value too large", fields: []model.Field{{Name: "name", Value: strings.Repeat("x", 20), Unique: true}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePayload(model.NewPayload(tt.fields...))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
		})
	}
}

func TestValidatePayload_Nil(t *testing.T) {
	assert.NoError(t, NewValidator().ValidatePayload(nil))
}
