package validator

import (
	"fmt"
	"reflect"
)

// Validate returns an error naming the component when any dependency is
// nil or the zero value of its type.
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("missing required deps for component: %s (argument %d)", name, i)
		}
	}

	return nil
}

// Positive returns an error naming the component and field when v <= 0.
func Positive[T ~int | ~int64](name, field string, v T) error {
	if v <= 0 {
		return fmt.Errorf("invalid %s for component %s: must be positive, got %v", field, name, v)
	}

	return nil
}

func missing(dep any) bool {
	if dep == nil {
		return true
	}

	v := reflect.ValueOf(dep)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}
