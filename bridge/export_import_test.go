package bridge

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestExportImportInt32(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	values := []int32{10, 20, 0, 40, 50}
	valid := []bool{true, true, false, true, true}
	arr := buildInt32(t, mem, values, valid)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	im, err := ImportFromAddrs(schema.Addr(), carr.Addr())
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()

	// both inputs must be consumed on success
	if !schema.IsReleased() {
		t.Error("Expected schema consumed by import")
	}
	if !carr.IsReleased() {
		t.Error("Expected array descriptor moved by import")
	}
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	got, ok := im.Array().(*array.Int32)
	if !ok {
		t.Fatalf("Expected *array.Int32, got %T", im.Array())
	}
	if got.Len() != 5 {
		t.Errorf("Expected length 5, got %d", got.Len())
	}
	if got.NullN() != 1 {
		t.Errorf("Expected 1 null, got %d", got.NullN())
	}
	for i, want := range values {
		if !valid[i] {
			if !got.IsNull(i) {
				t.Errorf("Expected null at %d", i)
			}
			continue
		}
		if got.IsNull(i) {
			t.Errorf("Unexpected null at %d", i)
		} else if got.Value(i) != want {
			t.Errorf("Expected %d at %d, got %d", want, i, got.Value(i))
		}
	}
}

func TestImportNullPointer(t *testing.T) {
	if _, err := ImportFromAddrs(0, 0); !errors.Is(err, ErrNullPointer) {
		t.Errorf("Expected ErrNullPointer, got %v", err)
	}

	arr := buildInt32(t, memory.DefaultAllocator, []int32{1}, nil)
	defer arr.Release()
	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	if _, err := ImportFromAddrs(schema.Addr(), 0); !errors.Is(err, ErrNullPointer) {
		t.Errorf("Expected ErrNullPointer, got %v", err)
	}
	// the failure must not have consumed the live input
	if schema.IsReleased() {
		t.Error("Schema must stay owned by the caller on failure")
	}

	carr.Release()
	schema.Release()
	FreeArrayStruct(carr)
	FreeSchemaStruct(schema)
}

func TestImportReleasedDescriptor(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1, 2}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	carr.Release()
	if _, err := ImportArray(schema, carr); !errors.Is(err, ErrMalformedDescriptor) {
		t.Errorf("Expected ErrMalformedDescriptor for released array, got %v", err)
	}
	if schema.IsReleased() {
		t.Error("Schema must stay owned by the caller on failure")
	}

	schema.Release()
	FreeArrayStruct(carr)
	FreeSchemaStruct(schema)
}

func TestImportMalformedKeepsOwnership(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1, 2, 3}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	// an int32 array must carry exactly two buffers
	carr.nBuffers = 5
	if _, err := ImportArray(schema, carr); !errors.Is(err, ErrMalformedDescriptor) {
		t.Errorf("Expected ErrMalformedDescriptor, got %v", err)
	}
	if schema.IsReleased() || carr.IsReleased() {
		t.Error("Failed import must not consume the descriptors")
	}
	carr.nBuffers = 2

	im, err := ImportArray(schema, carr)
	if err != nil {
		t.Fatalf("Failed to import after restoring: %v", err)
	}
	im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)
}

func TestImportUnsupportedFormat(t *testing.T) {
	fmtTag := []byte("@\x00")
	s := &ArrowSchema{format: &fmtTag[0], release: 1}

	if _, err := ReadSchema(s); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
}

func TestImportNullCountConsistency(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1, 2}, []bool{true, false})
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	// declared nulls above the element count is inconsistent
	carr.nullCount = 3
	if _, err := ImportArray(schema, carr); !errors.Is(err, ErrMalformedDescriptor) {
		t.Errorf("Expected ErrMalformedDescriptor, got %v", err)
	}
	carr.nullCount = 1

	im, err := ImportArray(schema, carr)
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)
}

func TestImportZeroNullsSkipsValidity(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1, 2, 3}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	im, err := ImportFromAddrs(schema.Addr(), carr.Addr())
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	if im.Array().NullN() != 0 {
		t.Errorf("Expected 0 nulls, got %d", im.Array().NullN())
	}
	if im.Array().Data().Buffers()[0] != nil {
		t.Error("Expected nil validity buffer when no values are null")
	}
}

func TestExportImportString(t *testing.T) {
	b := array.NewStringBuilder(memory.DefaultAllocator)
	b.AppendValues([]string{"alpha", "", "gamma"}, []bool{true, false, true})
	arr := b.NewStringArray()
	b.Release()
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if schema.Format() != "u" {
		t.Errorf("Expected format \"u\", got %q", schema.Format())
	}

	im, err := ImportFromAddrs(schema.Addr(), carr.Addr())
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	got := im.Array().(*array.String)
	if got.Value(0) != "alpha" || got.Value(2) != "gamma" {
		t.Errorf("Unexpected values: %q, %q", got.Value(0), got.Value(2))
	}
	if !got.IsNull(1) {
		t.Error("Expected null at 1")
	}
}

func TestExportImportStruct(t *testing.T) {
	dt := arrow.StructOf(
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	b := array.NewStructBuilder(memory.DefaultAllocator, dt)
	idB := b.FieldBuilder(0).(*array.Int32Builder)
	nameB := b.FieldBuilder(1).(*array.StringBuilder)
	for i, id := range []int32{1, 2, 3} {
		b.Append(true)
		idB.Append(id)
		nameB.Append([]string{"a", "b", "c"}[i])
	}
	arr := b.NewArray().(*array.Struct)
	b.Release()
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if schema.Format() != "+s" {
		t.Errorf("Expected format \"+s\", got %q", schema.Format())
	}

	im, err := ImportFromAddrs(schema.Addr(), carr.Addr())
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	got := im.Array().(*array.Struct)
	if got.Len() != 3 {
		t.Fatalf("Expected length 3, got %d", got.Len())
	}
	ids := got.Field(0).(*array.Int32)
	names := got.Field(1).(*array.String)
	if ids.Value(1) != 2 || names.Value(1) != "b" {
		t.Errorf("Unexpected row 1: %d, %q", ids.Value(1), names.Value(1))
	}
}

func TestExportImportList(t *testing.T) {
	b := array.NewListBuilder(memory.DefaultAllocator, arrow.PrimitiveTypes.Int64)
	vb := b.ValueBuilder().(*array.Int64Builder)
	b.Append(true)
	vb.AppendValues([]int64{1, 2}, nil)
	b.AppendNull()
	b.Append(true)
	vb.AppendValues([]int64{3}, nil)
	arr := b.NewListArray()
	b.Release()
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if schema.Format() != "+l" {
		t.Errorf("Expected format \"+l\", got %q", schema.Format())
	}

	im, err := ImportFromAddrs(schema.Addr(), carr.Addr())
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	got := im.Array().(*array.List)
	if got.Len() != 3 {
		t.Fatalf("Expected length 3, got %d", got.Len())
	}
	if !got.IsNull(1) {
		t.Error("Expected null at 1")
	}
	vals := got.ListValues().(*array.Int64)
	if vals.Value(0) != 1 || vals.Value(2) != 3 {
		t.Errorf("Unexpected child values: %d, %d", vals.Value(0), vals.Value(2))
	}
}

func TestExportImportNullArray(t *testing.T) {
	arr := array.NewNull(4)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if schema.Format() != "n" {
		t.Errorf("Expected format \"n\", got %q", schema.Format())
	}

	im, err := ImportFromAddrs(schema.Addr(), carr.Addr())
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	if im.Array().Len() != 4 {
		t.Errorf("Expected length 4, got %d", im.Array().Len())
	}
}

func TestExportResolvesUnknownNullCount(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1, 2, 0, 4}, []bool{true, true, false, true})
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	// a producer may declare the count unknown and leave it to the importer
	carr.nullCount = -1
	im, err := ImportArray(schema, carr)
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	defer im.Release()
	FreeSchemaStruct(schema)
	FreeArrayStruct(carr)

	// re-exporting must write the exact count, not forward the sentinel
	schema2, carr2, err := ExportArray(im.Array())
	if err != nil {
		t.Fatalf("Failed to re-export: %v", err)
	}
	if carr2.NullN() != 1 {
		t.Errorf("Expected exact null count 1 on re-export, got %d", carr2.NullN())
	}

	carr2.Release()
	schema2.Release()
	FreeArrayStruct(carr2)
	FreeSchemaStruct(schema2)
}

func TestExportOwnedArrayReleasesOwner(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1, 2, 3}, nil)
	defer arr.Release()

	owner := &countingOwner{}
	schema, carr, err := ExportOwnedArray(arr, owner)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	if owner.n != 0 {
		t.Fatal("Owner must not be released while the descriptor is live")
	}
	carr.Release()
	if owner.n != 1 {
		t.Errorf("Expected owner released once, got %d", owner.n)
	}
	carr.Release()
	if owner.n != 1 {
		t.Errorf("Double release must not hit the owner again, got %d", owner.n)
	}

	schema.Release()
	FreeArrayStruct(carr)
	FreeSchemaStruct(schema)
}

type countingOwner struct{ n int }

func (c *countingOwner) Release() { c.n++ }

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{ErrAllocationFailure, StatusAllocationFailure},
		{ErrUnsupportedType, StatusUnsupportedType},
		{ErrMalformedDescriptor, StatusMalformedDescriptor},
		{ErrNullPointer, StatusNullPointer},
		{ErrTypeMismatch, StatusTypeMismatch},
		{errors.New("anything else"), StatusUnknown},
	}
	for _, c := range cases {
		if got := StatusFromError(c.err); got != c.want {
			t.Errorf("StatusFromError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
