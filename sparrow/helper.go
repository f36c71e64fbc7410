package sparrow

import (
	"errors"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
)

// The boundary surface: three operations that exchange raw descriptor
// addresses plus an int32 status code, mirroring the C symbols an external
// engine exposes. No Go types cross this line.

// Test array used by the exchange surface, matching what external consumers
// expect from create_test_array_as_pointers.
var (
	testValues = []int32{10, 20, 0, 40, 50}
	testValid  = []bool{true, true, false, true, true}
)

// CreateArray builds the canonical five-element int32 array (third element
// null) and exports it, returning the two descriptor addresses. The caller
// owns both descriptors and must release them, directly or through whatever
// consumer they are handed to.
func CreateArray() (schemaAddr, arrayAddr uintptr, status bridge.Status) {
	arr := NewInt32Array(testValues, testValid)
	defer arr.Release()

	schema, carr, err := arr.Export()
	if err != nil {
		return 0, 0, bridge.StatusFromError(err)
	}
	return schema.Addr(), carr.Addr(), bridge.StatusOK
}

// Roundtrip imports the descriptor pair and re-exports it as a fresh pair
// backed by the same buffers. On success ownership of the inputs has been
// consumed and the caller owns the two output descriptors; on failure the
// inputs are untouched and still the caller's to release.
func Roundtrip(schemaAddr, arrayAddr uintptr) (outSchemaAddr, outArrayAddr uintptr, status bridge.Status) {
	im, err := bridge.ImportFromAddrs(schemaAddr, arrayAddr)
	if err != nil {
		return 0, 0, bridge.StatusFromError(err)
	}

	// the new descriptors keep the import alive until they are released
	schema, carr, err := bridge.ExportOwnedArray(im.Array(), im)
	if err != nil {
		im.Release()
		return 0, 0, bridge.StatusFromError(err)
	}
	bridge.FreeArrayStruct(bridge.ArrayFromAddr(arrayAddr))
	bridge.FreeSchemaStruct(bridge.SchemaFromAddr(schemaAddr))
	return schema.Addr(), carr.Addr(), bridge.StatusOK
}

// VerifySize imports the pair, checks the element count, and consumes the
// descriptors on success. A count mismatch still consumes them; only an
// import failure leaves ownership with the caller.
func VerifySize(schemaAddr, arrayAddr uintptr, expected int) bridge.Status {
	im, err := bridge.ImportFromAddrs(schemaAddr, arrayAddr)
	if err != nil {
		return bridge.StatusFromError(err)
	}
	defer im.Release()
	defer bridge.FreeArrayStruct(bridge.ArrayFromAddr(arrayAddr))
	defer bridge.FreeSchemaStruct(bridge.SchemaFromAddr(schemaAddr))

	if im.Array().Len() != expected {
		return bridge.StatusSizeMismatch
	}
	return bridge.StatusOK
}

// ReleasePair releases both descriptors of a pair and frees their shells.
// Used by callers that created a pair and never handed it off. Double release
// is tolerated by the descriptors themselves.
func ReleasePair(schemaAddr, arrayAddr uintptr) error {
	var already error
	if arrayAddr != 0 {
		a := bridge.ArrayFromAddr(arrayAddr)
		if a.IsReleased() {
			already = errors.Join(already, bridge.ErrDoubleRelease)
		}
		a.Release()
		bridge.FreeArrayStruct(a)
	}
	if schemaAddr != 0 {
		s := bridge.SchemaFromAddr(schemaAddr)
		if s.IsReleased() {
			already = errors.Join(already, bridge.ErrDoubleRelease)
		}
		s.Release()
		bridge.FreeSchemaStruct(s)
	}
	return already
}
