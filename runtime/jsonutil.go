package runtime

import (
	"encoding/json"
	"fmt"
	"reflect"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, dst any) error {
	return json.Unmarshal(raw, dst)
}

// assignTyped assigns src into *dst via reflection when the dynamic types
// line up, following the downcast contract TypedCell.As needs without
// forcing every Typed value through JSON.
func assignTyped(src any, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("runtime: As(dst) requires a non-nil pointer")
	}
	sv := reflect.ValueOf(src)
	if !sv.IsValid() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		return nil
	}
	if !sv.Type().AssignableTo(rv.Elem().Type()) {
		return fmt.Errorf("runtime: cannot assign %s into %s", sv.Type(), rv.Elem().Type())
	}
	rv.Elem().Set(sv)
	return nil
}
