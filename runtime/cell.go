// Package runtime provides the core plan execution engine for plango.
package runtime

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Cell is a polymorphic, type-erased output container. A service returns a
// Cell; base_hook stores it into Context.vars under the producing node's
// name; later services read from it through dotted-path JSON access.
//
// The default implementation (JSONCell) supports both read and write.
// Other implementations may be read-only: Set on a read-only cell returns
// ErrCellReadOnly rather than panicking, so a caller can decide whether
// that is fatal.
type Cell interface {
	// TypeName identifies the dynamic type for safe downcast via As.
	TypeName() string

	// Get reads the value at a dotted path ("a.b.c"); "*" (or "") reads
	// the whole value. ok is false when the path does not resolve.
	Get(path string) (value any, ok bool)

	// Set writes the value at a dotted path, returning a new Cell with
	// the write applied. "*" (or "") replaces the whole value.
	Set(path string, value any) (Cell, error)

	// As downcasts the cell's underlying value into dst, following the
	// same contract as encoding/json.Unmarshal: dst must be a pointer.
	As(dst any) error

	// Raw returns the underlying value as a Go value (map[string]any,
	// []any, string, float64, bool, nil for the JSON variant).
	Raw() any
}

// ErrCellReadOnly is returned by Set on a Cell that does not support
// dotted-path writes.
var ErrCellReadOnly = fmt.Errorf("runtime: cell does not support Set")

// JSONCell is the default Cell implementation: a JSON document backed by
// gjson/sjson for dotted-path read/write. This is the concrete engine
// behind OutputCell's JSON capability (spec §3); the dotted-path semantics
// mirror the Rust original's OutputObject.get/set contract.
type JSONCell struct {
	raw []byte
}

// NewJSONCell builds a JSONCell from an arbitrary Go value by marshaling
// it to JSON first.
func NewJSONCell(v any) (JSONCell, error) {
	b, err := marshalJSON(v)
	if err != nil {
		return JSONCell{}, fmt.Errorf("runtime: NewJSONCell: %w", err)
	}
	return JSONCell{raw: b}, nil
}

// NewJSONCellFromBytes wraps an already-serialized JSON document.
func NewJSONCellFromBytes(raw []byte) JSONCell {
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return JSONCell{raw: raw}
}

func (c JSONCell) TypeName() string { return "json" }

func (c JSONCell) Get(path string) (any, bool) {
	if path == "" || path == "*" {
		var v any
		if err := unmarshalJSON(c.raw, &v); err != nil {
			return nil, false
		}
		return v, true
	}
	res := gjson.GetBytes(c.raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func (c JSONCell) Set(path string, value any) (Cell, error) {
	if path == "" || path == "*" {
		b, err := marshalJSON(value)
		if err != nil {
			return nil, fmt.Errorf("runtime: JSONCell.Set(*): %w", err)
		}
		return JSONCell{raw: b}, nil
	}
	out, err := sjson.SetBytes(c.raw, path, value)
	if err != nil {
		return nil, fmt.Errorf("runtime: JSONCell.Set(%s): %w", path, err)
	}
	return JSONCell{raw: out}, nil
}

func (c JSONCell) As(dst any) error {
	return unmarshalJSON(c.raw, dst)
}

func (c JSONCell) Raw() any {
	v, _ := c.Get("*")
	return v
}

// Bytes returns the underlying JSON document.
func (c JSONCell) Bytes() []byte { return c.raw }

// TypedCell wraps an arbitrary Go value without JSON round-tripping. It
// supports whole-value read/write only; dotted-path access always misses,
// matching spec §3's "other variants may be read-only" allowance (writes
// to a sub-path are rejected, not panicked).
type TypedCell struct {
	typeName string
	value    any
}

// NewTypedCell wraps v, tagging it with an explicit type name reported by
// TypeName. As does not consult the name; it assigns v when v's Go type is
// assignable to the destination.
func NewTypedCell(typeName string, v any) TypedCell {
	return TypedCell{typeName: typeName, value: v}
}

func (c TypedCell) TypeName() string { return c.typeName }

func (c TypedCell) Get(path string) (any, bool) {
	if path == "" || path == "*" {
		return c.value, true
	}
	return nil, false
}

func (c TypedCell) Set(path string, value any) (Cell, error) {
	if path == "" || path == "*" {
		return TypedCell{typeName: c.typeName, value: value}, nil
	}
	return nil, ErrCellReadOnly
}

func (c TypedCell) As(dst any) error {
	return assignTyped(c.value, dst)
}

func (c TypedCell) Raw() any { return c.value }
