package bridge

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func buildInt32(t *testing.T, mem memory.Allocator, values []int32, valid []bool) *array.Int32 {
	t.Helper()
	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.AppendValues(values, valid)
	return b.NewInt32Array()
}

func TestReleaseIdempotent(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	arr := buildInt32(t, mem, []int32{1, 2, 3}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	carr.Release()
	if !carr.IsReleased() {
		t.Error("Expected array descriptor released after Release")
	}
	// second release must be a silent no-op
	carr.Release()
	carr.Release()

	schema.Release()
	schema.Release()
	if !schema.IsReleased() {
		t.Error("Expected schema descriptor released after Release")
	}

	FreeArrayStruct(carr)
	FreeSchemaStruct(schema)
}

func TestMoveSemantics(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	arr := buildInt32(t, mem, []int32{7, 8, 9}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	var dst ArrowArray
	MoveArray(carr, &dst)

	// the source must be released without its callback having fired
	if !carr.IsReleased() {
		t.Error("Expected source released after move")
	}
	if dst.IsReleased() {
		t.Error("Expected destination live after move")
	}
	if dst.Len() != 3 {
		t.Errorf("Expected moved length 3, got %d", dst.Len())
	}

	// releasing the moved-from source must not disturb the destination
	carr.Release()
	if dst.IsReleased() {
		t.Error("Source release must not release the destination")
	}

	dst.Release()
	schema.Release()
	FreeArrayStruct(carr)
	FreeSchemaStruct(schema)
}

func TestMoveSchema(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{1}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	carr.Release()
	FreeArrayStruct(carr)

	var dst ArrowSchema
	MoveSchema(schema, &dst)
	if !schema.IsReleased() {
		t.Error("Expected source released after move")
	}
	if dst.Format() != "i" {
		t.Errorf("Expected format \"i\" after move, got %q", dst.Format())
	}
	dst.Release()
	FreeSchemaStruct(schema)
}

func TestFreeStructForeignShellIsNoop(t *testing.T) {
	// shells this process did not allocate must be left alone
	var s ArrowSchema
	var a ArrowArray
	FreeSchemaStruct(&s)
	FreeArrayStruct(&a)
}

func TestAddrRoundtrip(t *testing.T) {
	arr := buildInt32(t, memory.DefaultAllocator, []int32{5}, nil)
	defer arr.Release()

	schema, carr, err := ExportArray(arr)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	if SchemaFromAddr(schema.Addr()) != schema {
		t.Error("SchemaFromAddr did not invert Addr")
	}
	if ArrayFromAddr(carr.Addr()) != carr {
		t.Error("ArrayFromAddr did not invert Addr")
	}

	carr.Release()
	schema.Release()
	FreeArrayStruct(carr)
	FreeSchemaStruct(schema)
}
