package bridge

import (
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
)

// ExportArray materializes an array into a freshly allocated descriptor pair
// whose buffers alias the array's storage. The backing data is retained once;
// that retain is undone only by the array descriptor's release callback. The
// caller owns both descriptors until it hands them across the boundary.
func ExportArray(arr arrow.Array) (*ArrowSchema, *ArrowArray, error) {
	return exportArray(arr, nil)
}

// ExportOwnedArray is ExportArray with an extra ownership link: owner.Release
// is invoked exactly once when the array descriptor is released, after the
// descriptor's own resources are gone. This is how a re-exported import keeps
// its source buffers alive until the new descriptor dies.
func ExportOwnedArray(arr arrow.Array, owner Owner) (*ArrowSchema, *ArrowArray, error) {
	return exportArray(arr, owner)
}

func exportArray(arr arrow.Array, owner Owner) (*ArrowSchema, *ArrowArray, error) {
	if arr == nil {
		return nil, nil, ErrNullPointer
	}

	field := arrow.Field{Type: arr.DataType(), Nullable: true}
	schema, err := exportField(field)
	if err != nil {
		return nil, nil, err
	}

	array, err := exportData(arr.Data(), owner)
	if err != nil {
		schema.Release()
		FreeSchemaStruct(schema)
		return nil, nil, err
	}
	return schema, array, nil
}

// exportField allocates and populates a schema descriptor for one field.
func exportField(field arrow.Field) (*ArrowSchema, error) {
	p, err := allocStruct(schemaStructSize)
	if err != nil {
		return nil, err
	}
	s := (*ArrowSchema)(p)
	if err := populateSchema(s, field); err != nil {
		FreeSchemaStruct(s)
		return nil, err
	}
	return s, nil
}

func populateSchema(s *ArrowSchema, field arrow.Field) error {
	format, err := formatForType(field.Type)
	if err != nil {
		return err
	}

	ex := &exportedSchema{}
	fail := func(err error) error {
		for _, b := range ex.blocks {
			cAlloc.Free(b)
		}
		*s = ArrowSchema{}
		return err
	}

	cstr := func(v string) (*byte, error) {
		b, err := allocBlock(len(v) + 1)
		if err != nil {
			return nil, err
		}
		copy(b, v)
		ex.blocks = append(ex.blocks, b)
		return &b[0], nil
	}

	if s.format, err = cstr(format); err != nil {
		return fail(err)
	}
	if field.Name != "" {
		if s.name, err = cstr(field.Name); err != nil {
			return fail(err)
		}
	}
	if md := encodeMetadata(field.Metadata); md != nil {
		b, err := allocBlock(len(md))
		if err != nil {
			return fail(err)
		}
		copy(b, md)
		ex.blocks = append(ex.blocks, b)
		s.metadata = &b[0]
	}
	if field.Nullable {
		s.flags = FlagNullable
	}

	if kids := childFields(field.Type); len(kids) > 0 {
		shells, err := allocBlock(len(kids) * schemaStructSize)
		if err != nil {
			return fail(err)
		}
		ex.blocks = append(ex.blocks, shells)
		table, err := allocBlock(len(kids) * ptrSize)
		if err != nil {
			return fail(err)
		}
		ex.blocks = append(ex.blocks, table)

		ptrs := unsafe.Slice((**ArrowSchema)(unsafe.Pointer(&table[0])), len(kids))
		for i, kid := range kids {
			child := (*ArrowSchema)(unsafe.Pointer(&shells[i*schemaStructSize]))
			if err := populateSchema(child, kid); err != nil {
				for j := 0; j < i; j++ {
					ptrs[j].Release()
				}
				return fail(err)
			}
			ptrs[i] = child
		}
		s.nChildren = int64(len(kids))
		s.children = (**ArrowSchema)(unsafe.Pointer(&table[0]))
	}

	key := newHandle()
	schemaHandles.Store(key, ex)
	s.privateData = handleToPointer(key)
	schemaFn, _ := releaseCallbacks()
	atomic.StoreUintptr(&s.release, schemaFn)
	return nil
}

// exportNullCount resolves arrow's unknown-count sentinel from the validity
// bitmap, so descriptors always carry an exact count.
func exportNullCount(data arrow.ArrayData) int64 {
	if n := data.NullN(); n >= 0 {
		return int64(n)
	}
	bufs := data.Buffers()
	if len(bufs) == 0 || bufs[0] == nil {
		return 0
	}
	valid := bitutil.CountSetBits(bufs[0].Bytes(), data.Offset(), data.Len())
	return int64(data.Len() - valid)
}

func exportData(data arrow.ArrayData, owner Owner) (*ArrowArray, error) {
	p, err := allocStruct(arrayStructSize)
	if err != nil {
		return nil, err
	}
	a := (*ArrowArray)(p)
	if err := populateArray(a, data, owner); err != nil {
		FreeArrayStruct(a)
		return nil, err
	}
	return a, nil
}

func populateArray(a *ArrowArray, data arrow.ArrayData, owner Owner) error {
	ex := &exportedArray{}
	fail := func(err error) error {
		for _, b := range ex.blocks {
			cAlloc.Free(b)
		}
		*a = ArrowArray{}
		return err
	}

	a.length = int64(data.Len())
	a.nullCount = exportNullCount(data)
	a.offset = int64(data.Offset())

	// the null type exchanges no buffers at all, whatever the Go side carries
	if bufs := data.Buffers(); len(bufs) > 0 && data.DataType().ID() != arrow.NULL {
		table, err := allocBlock(len(bufs) * ptrSize)
		if err != nil {
			return fail(err)
		}
		ex.blocks = append(ex.blocks, table)
		ptrs := unsafe.Slice((*unsafe.Pointer)(unsafe.Pointer(&table[0])), len(bufs))
		for i, buf := range bufs {
			if buf != nil && buf.Len() > 0 {
				ptrs[i] = unsafe.Pointer(&buf.Bytes()[0])
			}
		}
		a.nBuffers = int64(len(bufs))
		a.buffers = (*unsafe.Pointer)(unsafe.Pointer(&table[0]))
	}

	if kids := data.Children(); len(kids) > 0 {
		shells, err := allocBlock(len(kids) * arrayStructSize)
		if err != nil {
			return fail(err)
		}
		ex.blocks = append(ex.blocks, shells)
		table, err := allocBlock(len(kids) * ptrSize)
		if err != nil {
			return fail(err)
		}
		ex.blocks = append(ex.blocks, table)

		ptrs := unsafe.Slice((**ArrowArray)(unsafe.Pointer(&table[0])), len(kids))
		for i, kid := range kids {
			child := (*ArrowArray)(unsafe.Pointer(&shells[i*arrayStructSize]))
			if err := populateArray(child, kid, nil); err != nil {
				for j := 0; j < i; j++ {
					ptrs[j].Release()
				}
				return fail(err)
			}
			ptrs[i] = child
		}
		a.nChildren = int64(len(kids))
		a.children = (**ArrowArray)(unsafe.Pointer(&table[0]))
	}

	data.Retain()
	ex.data = data
	ex.owner = owner

	key := newHandle()
	arrayHandles.Store(key, ex)
	a.privateData = handleToPointer(key)
	_, arrayFn := releaseCallbacks()
	atomic.StoreUintptr(&a.release, arrayFn)
	return nil
}
