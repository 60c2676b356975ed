package command

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrAttributeMissing is returned when the payload has no value for an attribute.
	ErrAttributeMissing = errors.New("attribute missing")
	// ErrTypeMismatch is returned when the stored value is not of the requested type.
	ErrTypeMismatch = errors.New("attribute type mismatch")
)

// AttributeError describes a failed typed read from a command payload.
type AttributeError struct {
	Attribute string
	Expected  string
	Actual    string
	Err       error
}

func (e *AttributeError) Error() string {
	if errors.Is(e.Err, ErrAttributeMissing) {
		return fmt.Sprintf("attribute '%s' not found", e.Attribute)
	}
	return fmt.Sprintf("attribute '%s' is not of %s is %s", e.Attribute, e.Expected, e.Actual)
}

func (e *AttributeError) Unwrap() error {
	return e.Err
}

// Get returns the value stored under attribute when its dynamic type is T.
func Get[T any](c Command, attribute string) (T, error) {
	var zero T
	raw, ok := c.lookup(attribute)
	if !ok {
		return zero, &AttributeError{Attribute: attribute, Err: ErrAttributeMissing}
	}
	value, ok := raw.(T)
	if !ok || raw == nil {
		return zero, mismatch[T](attribute, raw)
	}
	return value, nil
}

// GetList returns the sequence stored under attribute when every element is a T.
func GetList[T any](c Command, attribute string) ([]T, error) {
	raw, ok := c.lookup(attribute)
	if !ok {
		return nil, &AttributeError{Attribute: attribute, Err: ErrAttributeMissing}
	}

	switch items := raw.(type) {
	case []T:
		out := make([]T, len(items))
		copy(out, items)
		return out, nil
	case []any:
		out := make([]T, 0, len(items))
		for _, item := range items {
			value, ok := item.(T)
			if !ok || item == nil {
				return nil, &AttributeError{
					Attribute: attribute,
					Expected:  "list of " + typeName[T](),
					Actual:    "list containing " + valueTypeName(item),
					Err:       ErrTypeMismatch,
				}
			}
			out = append(out, value)
		}
		return out, nil
	default:
		return nil, &AttributeError{
			Attribute: attribute,
			Expected:  "list of " + typeName[T](),
			Actual:    valueTypeName(raw),
			Err:       ErrTypeMismatch,
		}
	}
}

func mismatch[T any](attribute string, raw any) error {
	return &AttributeError{
		Attribute: attribute,
		Expected:  typeName[T](),
		Actual:    valueTypeName(raw),
		Err:       ErrTypeMismatch,
	}
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func valueTypeName(v any) string {
	if v == nil {
		return "null"
	}
	return reflect.TypeOf(v).String()
}
