package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
)

const (
	// Size limits
	MaxScopePartSize   = 256  // application or collection name
	MaxFieldNameSize   = 256
	MaxUniqueValueSize = 1024 // encoded claim value, part of the claim key
	MaxFields          = 1000
)

// Validator checks mutation input before anything is written
type Validator struct {
	maxScopePartSize   int
	maxFieldNameSize   int
	maxUniqueValueSize int
	maxFields          int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxScopePartSize:   MaxScopePartSize,
		maxFieldNameSize:   MaxFieldNameSize,
		maxUniqueValueSize: MaxUniqueValueSize,
		maxFields:          MaxFields,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxScopePartSize, maxFieldNameSize, maxUniqueValueSize, maxFields int) *Validator {
	return &Validator{
		maxScopePartSize:   maxScopePartSize,
		maxFieldNameSize:   maxFieldNameSize,
		maxUniqueValueSize: maxUniqueValueSize,
		maxFields:          maxFields,
	}
}

// ValidateScope validates both halves of a collection scope
func (v *Validator) ValidateScope(scope model.CollectionScope) error {
	if err := scope.Validate(); err != nil {
		return errors.InvalidArgument("invalid collection scope", err)
	}
	if err := v.validateName("scope application", scope.Application, v.maxScopePartSize); err != nil {
		return err
	}
	if err := v.validateName("scope collection", scope.Name, v.maxScopePartSize); err != nil {
		return err
	}

	// '/' separates the halves in the rendered scope
	if strings.ContainsRune(scope.Application, '/') || strings.ContainsRune(scope.Name, '/') {
		return errors.InvalidArgument("scope cannot contain '/' character", nil).
			WithDetail("scope", scope.String())
	}
	return nil
}

// ValidatePayload validates the fields of an entity about to be written
func (v *Validator) ValidatePayload(payload *model.Payload) error {
	if payload == nil {
		return nil
	}
	if len(payload.Fields) > v.maxFields {
		return errors.InvalidArgument(
			fmt.Sprintf("payload has too many fields: %d > %d", len(payload.Fields), v.maxFields), nil)
	}

	seen := make(map[string]struct{}, len(payload.Fields))
	for _, f := range payload.Fields {
		if err := v.validateName("field name", f.Name, v.maxFieldNameSize); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return errors.InvalidArgument("duplicate field", nil).WithDetail("field", f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Unique {
			if err := v.ValidateUniqueValue(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateUniqueValue checks a field can be claimed: its value must be a scalar
// whose encoding fits in a claim key
func (v *Validator) ValidateUniqueValue(f model.Field) error {
	raw, err := f.CanonicalValue()
	if err != nil {
		return errors.InvalidArgument("unique field must hold a scalar value", err).
			WithDetail("field", f.Name)
	}
	if len(raw) > v.maxUniqueValueSize {
		return errors.InvalidArgument(
			fmt.Sprintf("unique value exceeds maximum size of %d bytes", v.maxUniqueValueSize), nil).
			WithDetail("field", f.Name)
	}
	return nil
}

func (v *Validator) validateName(what, name string, max int) error {
	if name == "" {
		return errors.InvalidArgument(what+" cannot be empty", nil)
	}
	if len(name) > max {
		return errors.InvalidArgument(fmt.Sprintf("%s exceeds maximum size of %d bytes", what, max), nil)
	}
	// also rejects null bytes
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.InvalidArgument(what+" cannot contain control characters", nil)
		}
	}
	return nil
}
