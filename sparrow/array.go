// Package sparrow is the host-side array layer of the bridge: typed array
// construction, the exchange helpers matching the boundary surface, and the
// round-trip coordinator.
package sparrow

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
)

// Array wraps an arrow array with the small surface the exchange helpers
// need. Release must be called when done unless the array has been exported;
// an exported descriptor holds its own retain.
type Array struct {
	arr   arrow.Array
	owner bridge.Owner // set when the data lives in an imported descriptor
}

// NewInt32Array builds an int32 array from values and an optional validity
// mask. A nil mask means every value is valid; otherwise valid[i]==false marks
// position i null.
func NewInt32Array(values []int32, valid []bool) *Array {
	b := array.NewInt32Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, valid)
	return &Array{arr: b.NewInt32Array()}
}

// NewStringArray builds a string array with an optional validity mask.
func NewStringArray(values []string, valid []bool) *Array {
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, valid)
	return &Array{arr: b.NewStringArray()}
}

// FromArrow wraps an existing arrow array, taking over one reference.
func FromArrow(arr arrow.Array) *Array {
	return &Array{arr: arr}
}

// fromImported wraps an array whose buffers belong to owner. Releasing the
// wrapper releases the owner instead of the array reference, since the owner
// already accounts for it.
func fromImported(arr arrow.Array, owner bridge.Owner) *Array {
	return &Array{arr: arr, owner: owner}
}

// Arrow exposes the underlying arrow array.
func (a *Array) Arrow() arrow.Array { return a.arr }

// Len returns the number of elements.
func (a *Array) Len() int { return a.arr.Len() }

// NullN returns the number of null elements.
func (a *Array) NullN() int { return a.arr.NullN() }

// IsNull reports whether position i is null.
func (a *Array) IsNull(i int) bool { return a.arr.IsNull(i) }

// Int32Value returns the int32 at position i. It panics if the array is not
// int32 typed; check DataType first when the type is not statically known.
func (a *Array) Int32Value(i int) int32 {
	return a.arr.(*array.Int32).Value(i)
}

// DataType returns the logical type.
func (a *Array) DataType() arrow.DataType { return a.arr.DataType() }

// Export materializes the array into a descriptor pair. The descriptors own a
// retain on the data, so the Array itself may be released afterwards. If the
// data lives in an imported descriptor, ownership of that import moves into
// the new pair and the wrapper is consumed: releasing the descriptors is then
// the only way to free the foreign buffers.
func (a *Array) Export() (*bridge.ArrowSchema, *bridge.ArrowArray, error) {
	if a.owner != nil {
		schema, carr, err := bridge.ExportOwnedArray(a.arr, a.owner)
		if err == nil {
			a.owner = nil
			a.arr = nil
		}
		return schema, carr, err
	}
	return bridge.ExportArray(a.arr)
}

// Release drops the wrapper's reference on the underlying data. Safe to call
// on a consumed wrapper.
func (a *Array) Release() {
	if a.arr == nil {
		return
	}
	if a.owner != nil {
		a.owner.Release()
		a.owner = nil
		a.arr = nil
		return
	}
	a.arr.Release()
	a.arr = nil
}
