package bridge

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ReadSchema decodes a schema descriptor into a field description. It is
// strictly read-only: no ownership is taken and nothing is released, so it is
// safe to call before deciding whether an import should proceed.
func ReadSchema(s *ArrowSchema) (arrow.Field, error) {
	return readField(s)
}

func readField(s *ArrowSchema) (arrow.Field, error) {
	if s == nil {
		return arrow.Field{}, ErrNullPointer
	}
	if s.IsReleased() {
		return arrow.Field{}, fmt.Errorf("%w: schema descriptor already released", ErrMalformedDescriptor)
	}
	if s.dictionary != nil {
		return arrow.Field{}, fmt.Errorf("%w: dictionary-encoded schemas", ErrUnsupportedType)
	}
	if s.nChildren < 0 || (s.nChildren > 0 && s.children == nil) {
		return arrow.Field{}, fmt.Errorf("%w: schema declares %d children with no child table", ErrMalformedDescriptor, s.nChildren)
	}

	children := s.childSlice()
	kids := make([]arrow.Field, len(children))
	for i, c := range children {
		var err error
		if kids[i], err = readField(c); err != nil {
			return arrow.Field{}, err
		}
	}

	dt, err := typeFromFormat(goString(s.format), kids)
	if err != nil {
		return arrow.Field{}, err
	}
	return arrow.Field{
		Name:     goString(s.name),
		Type:     dt,
		Nullable: s.flags&FlagNullable != 0,
		Metadata: decodeMetadata(s.metadata),
	}, nil
}

// Imported is the importing side's handle on a consumed descriptor pair. The
// wrapped array aliases the original buffers; Release tears down the Go view
// and fires the foreign release callback exactly once. A garbage-collected
// Imported releases itself, so an explicit Release is the deterministic path,
// not the only one.
type Imported struct {
	arr   arrow.Array
	owned *ArrowArray
	done  atomic.Bool
}

// Array returns the imported view. It is only valid while the Imported (or a
// descriptor re-exported from it) is live.
func (im *Imported) Array() arrow.Array { return im.arr }

// Release frees the Go view and releases the imported descriptor. Safe to
// call more than once. Must not be called after the Imported has been handed
// to ExportOwnedArray; the new descriptor owns it from then on.
func (im *Imported) Release() {
	if im == nil || !im.done.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(im, nil)
	im.arr.Release()
	im.owned.Release()
	FreeArrayStruct(im.owned)
}

// ImportArray reconstructs an array view from a descriptor pair without
// copying data and takes ownership of both descriptors: the schema is
// released immediately once decoded, the array descriptor when the returned
// Imported is released. On any failure no ownership is transferred and the
// caller remains responsible for both descriptors.
func ImportArray(schema *ArrowSchema, arr *ArrowArray) (*Imported, error) {
	if schema == nil || arr == nil {
		return nil, ErrNullPointer
	}
	if arr.IsReleased() {
		return nil, fmt.Errorf("%w: array descriptor already released", ErrMalformedDescriptor)
	}

	field, err := readField(schema)
	if err != nil {
		return nil, err
	}
	data, err := importData(arr, field.Type)
	if err != nil {
		return nil, err
	}

	// ownership transfer point: everything above was read-only
	p, err := allocStruct(arrayStructSize)
	if err != nil {
		return nil, err
	}
	owned := (*ArrowArray)(p)
	MoveArray(arr, owned)
	schema.Release()

	im := &Imported{arr: array.MakeFromData(data), owned: owned}
	runtime.SetFinalizer(im, func(im *Imported) { im.Release() })
	return im, nil
}

// ImportFromAddrs is ImportArray over the raw addresses exchanged at the
// boundary.
func ImportFromAddrs(schemaAddr, arrayAddr uintptr) (*Imported, error) {
	if schemaAddr == 0 || arrayAddr == 0 {
		return nil, ErrNullPointer
	}
	return ImportArray(SchemaFromAddr(schemaAddr), ArrayFromAddr(arrayAddr))
}

// importData validates an array descriptor against the decoded type and
// builds a zero-copy view of its buffers. It never mutates the descriptor.
func importData(arr *ArrowArray, dt arrow.DataType) (arrow.ArrayData, error) {
	if arr.length < 0 || arr.offset < 0 {
		return nil, fmt.Errorf("%w: negative length or offset", ErrMalformedDescriptor)
	}
	if arr.nullCount > arr.length {
		return nil, fmt.Errorf("%w: null count %d exceeds length %d", ErrMalformedDescriptor, arr.nullCount, arr.length)
	}
	if arr.nChildren > 0 && arr.children == nil {
		return nil, fmt.Errorf("%w: array declares %d children with no child table", ErrMalformedDescriptor, arr.nChildren)
	}
	if arr.nBuffers > 0 && arr.buffers == nil {
		return nil, fmt.Errorf("%w: array declares %d buffers with no buffer table", ErrMalformedDescriptor, arr.nBuffers)
	}
	if arr.dictionary != nil {
		return nil, fmt.Errorf("%w: dictionary-encoded arrays", ErrUnsupportedType)
	}

	length, offset := int(arr.length), int(arr.offset)
	bufs := arr.bufferSlice()

	switch t := dt.(type) {
	case *arrow.NullType:
		if err := checkShape(arr, 0, 0, dt); err != nil {
			return nil, err
		}
		return array.NewData(dt, length, []*memory.Buffer{}, nil, length, offset), nil

	case *arrow.StringType:
		return importStringLike(arr, dt, bufs, 4)
	case *arrow.BinaryType:
		return importStringLike(arr, dt, bufs, 4)
	case *arrow.LargeStringType:
		return importStringLike(arr, dt, bufs, 8)
	case *arrow.LargeBinaryType:
		return importStringLike(arr, dt, bufs, 8)

	case *arrow.ListType, *arrow.LargeListType:
		return importListLike(arr, dt, bufs)

	case *arrow.FixedSizeListType:
		if err := checkShape(arr, 1, 1, dt); err != nil {
			return nil, err
		}
		nulls, err := importValidity(arr, bufs)
		if err != nil {
			return nil, err
		}
		child, err := importData(arr.childSlice()[0], t.Elem())
		if err != nil {
			return nil, err
		}
		return array.NewData(dt, length, []*memory.Buffer{nulls}, []arrow.ArrayData{child}, declaredNulls(arr), offset), nil

	case *arrow.StructType:
		if err := checkShape(arr, 1, int64(t.NumFields()), dt); err != nil {
			return nil, err
		}
		nulls, err := importValidity(arr, bufs)
		if err != nil {
			return nil, err
		}
		children := make([]arrow.ArrayData, t.NumFields())
		for i, c := range arr.childSlice() {
			if children[i], err = importData(c, t.Field(i).Type); err != nil {
				return nil, err
			}
		}
		return array.NewData(dt, length, []*memory.Buffer{nulls}, children, declaredNulls(arr), offset), nil

	case arrow.FixedWidthDataType:
		return importFixedWidth(arr, t, bufs)
	}
	return nil, fmt.Errorf("%w: cannot import %s", ErrUnsupportedType, dt)
}

func importFixedWidth(arr *ArrowArray, dt arrow.FixedWidthDataType, bufs []unsafe.Pointer) (arrow.ArrayData, error) {
	if err := checkShape(arr, 2, 0, dt); err != nil {
		return nil, err
	}
	nulls, err := importValidity(arr, bufs)
	if err != nil {
		return nil, err
	}

	var values *memory.Buffer
	switch bw := int64(dt.BitWidth()); {
	case bw%8 == 0:
		values, err = viewBuffer(bufs[1], (bw/8)*(arr.length+arr.offset))
	case bw == 1:
		values, err = viewBuffer(bufs[1], bitutil.BytesForBits(arr.length+arr.offset))
	default:
		return nil, fmt.Errorf("%w: %d-bit fixed width values", ErrUnsupportedType, bw)
	}
	if err != nil {
		return nil, err
	}
	return array.NewData(dt, int(arr.length), []*memory.Buffer{nulls, values}, nil, declaredNulls(arr), int(arr.offset)), nil
}

func importStringLike(arr *ArrowArray, dt arrow.DataType, bufs []unsafe.Pointer, offsetWidth int64) (arrow.ArrayData, error) {
	if err := checkShape(arr, 3, 0, dt); err != nil {
		return nil, err
	}
	nulls, err := importValidity(arr, bufs)
	if err != nil {
		return nil, err
	}

	extent := arr.length + arr.offset
	if extent == 0 {
		return array.NewData(dt, 0, []*memory.Buffer{nulls, memory.NewBufferBytes(nil), memory.NewBufferBytes(nil)}, nil, 0, 0), nil
	}

	offsets, err := viewBuffer(bufs[1], offsetWidth*(extent+1))
	if err != nil {
		return nil, err
	}
	var nvals int64
	switch offsetWidth {
	case 4:
		nvals = int64(arrow.Int32Traits.CastFromBytes(offsets.Bytes())[extent])
	case 8:
		nvals = arrow.Int64Traits.CastFromBytes(offsets.Bytes())[extent]
	}
	if nvals < 0 {
		return nil, fmt.Errorf("%w: negative value extent %d in offsets", ErrMalformedDescriptor, nvals)
	}
	values, err := viewBuffer(bufs[2], nvals)
	if err != nil {
		return nil, err
	}
	return array.NewData(dt, int(arr.length), []*memory.Buffer{nulls, offsets, values}, nil, declaredNulls(arr), int(arr.offset)), nil
}

func importListLike(arr *ArrowArray, dt arrow.DataType, bufs []unsafe.Pointer) (arrow.ArrayData, error) {
	if err := checkShape(arr, 2, 1, dt); err != nil {
		return nil, err
	}
	nulls, err := importValidity(arr, bufs)
	if err != nil {
		return nil, err
	}

	offsetWidth := int64(dt.Layout().Buffers[1].ByteWidth)
	var offsets *memory.Buffer
	if extent := arr.length + arr.offset; extent == 0 && bufs[1] == nil {
		offsets = memory.NewBufferBytes(nil)
	} else if offsets, err = viewBuffer(bufs[1], offsetWidth*(extent+1)); err != nil {
		return nil, err
	}

	child, err := importData(arr.childSlice()[0], childFields(dt)[0].Type)
	if err != nil {
		return nil, err
	}
	return array.NewData(dt, int(arr.length), []*memory.Buffer{nulls, offsets}, []arrow.ArrayData{child}, declaredNulls(arr), int(arr.offset)), nil
}

func checkShape(arr *ArrowArray, nbuf, nchild int64, dt arrow.DataType) error {
	if arr.nBuffers != nbuf {
		return fmt.Errorf("%w: expected %d buffers for %s, descriptor declares %d", ErrMalformedDescriptor, nbuf, dt, arr.nBuffers)
	}
	if arr.nChildren != nchild {
		return fmt.Errorf("%w: expected %d children for %s, descriptor declares %d", ErrMalformedDescriptor, nchild, dt, arr.nChildren)
	}
	return nil
}

// importValidity maps the validity bitmap, enforcing the null-count rules: a
// nonzero declared count requires a bitmap of ceil((length+offset)/8) bytes,
// and a zero count means the bitmap is never looked at.
func importValidity(arr *ArrowArray, bufs []unsafe.Pointer) (*memory.Buffer, error) {
	if arr.nullCount > 0 && bufs[0] == nil {
		return nil, fmt.Errorf("%w: %d declared nulls but no validity bitmap", ErrMalformedDescriptor, arr.nullCount)
	}
	if arr.nullCount == 0 || bufs[0] == nil {
		return nil, nil
	}
	return viewBuffer(bufs[0], bitutil.BytesForBits(arr.length+arr.offset))
}

func declaredNulls(arr *ArrowArray) int {
	if arr.nullCount < 0 {
		return array.UnknownNullCount
	}
	return int(arr.nullCount)
}

// viewBuffer wraps foreign memory as a buffer without copying. The buffer
// does not own the memory; the descriptor's release callback does.
func viewBuffer(p unsafe.Pointer, size int64) (*memory.Buffer, error) {
	if p == nil {
		if size != 0 {
			return nil, fmt.Errorf("%w: missing buffer of %d bytes", ErrMalformedDescriptor, size)
		}
		return memory.NewBufferBytes(nil), nil
	}
	return memory.NewBufferBytes(unsafe.Slice((*byte)(p), size)), nil
}
