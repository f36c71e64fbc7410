package bridge

// Arrow C Data Interface descriptors
// https://arrow.apache.org/docs/format/CDataInterface.html
//
// The structs are declared directly in Go with the exact field layout of
// struct ArrowSchema and struct ArrowArray from abi.h, so the bridge needs no
// cgo. Release callbacks cross the boundary as plain C function pointers:
// outgoing ones are purego callbacks, incoming ones are invoked with
// purego.SyscallN.

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory/mallocator"
	"github.com/ebitengine/purego"
)

// Schema flag bits from abi.h.
const (
	FlagDictionaryOrdered int64 = 1
	FlagNullable          int64 = 2
	FlagMapKeysSorted     int64 = 4
)

// ArrowSchema describes the logical type of one exchanged array. Field order
// and widths match struct ArrowSchema exactly; do not reorder.
type ArrowSchema struct {
	format      *byte
	name        *byte
	metadata    *byte
	flags       int64
	nChildren   int64
	children    **ArrowSchema
	dictionary  *ArrowSchema
	release     uintptr
	privateData unsafe.Pointer
}

// ArrowArray describes the physical data of one array instance, paired 1:1
// with an ArrowSchema. Field order and widths match struct ArrowArray.
type ArrowArray struct {
	length      int64
	nullCount   int64
	offset      int64
	nBuffers    int64
	nChildren   int64
	buffers     *unsafe.Pointer
	children    **ArrowArray
	dictionary  *ArrowArray
	release     uintptr
	privateData unsafe.Pointer
}

const (
	schemaStructSize = int(unsafe.Sizeof(ArrowSchema{}))
	arrayStructSize  = int(unsafe.Sizeof(ArrowArray{}))
	ptrSize          = int(unsafe.Sizeof(uintptr(0)))
)

// SchemaFromAddr reinterprets a raw address as an ArrowSchema pointer.
func SchemaFromAddr(addr uintptr) *ArrowSchema {
	return (*ArrowSchema)(unsafe.Pointer(addr))
}

// ArrayFromAddr reinterprets a raw address as an ArrowArray pointer.
func ArrayFromAddr(addr uintptr) *ArrowArray {
	return (*ArrowArray)(unsafe.Pointer(addr))
}

// Addr returns the raw address of the descriptor, for handoff across the
// boundary. Only the literal boundary call should see this value.
func (s *ArrowSchema) Addr() uintptr { return uintptr(unsafe.Pointer(s)) }

// Addr returns the raw address of the descriptor.
func (a *ArrowArray) Addr() uintptr { return uintptr(unsafe.Pointer(a)) }

// IsReleased reports whether the descriptor's release callback has been
// invoked or moved away.
func (s *ArrowSchema) IsReleased() bool {
	return atomic.LoadUintptr(&s.release) == 0
}

// IsReleased reports whether the descriptor's release callback has been
// invoked or moved away.
func (a *ArrowArray) IsReleased() bool {
	return atomic.LoadUintptr(&a.release) == 0
}

// Release transitions the descriptor from Live to Released, invoking its
// embedded release callback exactly once. Calling Release on an already
// released descriptor is a no-op. The compare-and-clear on the callback field
// is the single point enforcing the exactly-once contract.
func (s *ArrowSchema) Release() {
	if s == nil {
		return
	}
	fn := atomic.SwapUintptr(&s.release, 0)
	if fn == 0 {
		return
	}
	purego.SyscallN(fn, uintptr(unsafe.Pointer(s)))
}

// Release transitions the descriptor from Live to Released exactly once.
// A second call is a safe no-op.
func (a *ArrowArray) Release() {
	if a == nil {
		return
	}
	fn := atomic.SwapUintptr(&a.release, 0)
	if fn == 0 {
		return
	}
	purego.SyscallN(fn, uintptr(unsafe.Pointer(a)))
}

// MoveSchema transfers ownership of src into dst. src is left in the released
// state without its release callback being invoked, per the C ABI move
// semantics: the descriptor contents, including the release obligation, now
// live in dst.
func MoveSchema(src, dst *ArrowSchema) {
	*dst = *src
	atomic.StoreUintptr(&src.release, 0)
	src.privateData = nil
}

// MoveArray transfers ownership of src into dst without invoking release.
func MoveArray(src, dst *ArrowArray) {
	*dst = *src
	atomic.StoreUintptr(&src.release, 0)
	src.privateData = nil
}

// Format returns the descriptor's format tag.
func (s *ArrowSchema) Format() string { return goString(s.format) }

// Name returns the descriptor's optional field name.
func (s *ArrowSchema) Name() string { return goString(s.name) }

// Len returns the logical length declared by the descriptor.
func (a *ArrowArray) Len() int64 { return a.length }

// NullN returns the declared null count, which may be the unknown sentinel
// (-1) requiring recomputation by the importer.
func (a *ArrowArray) NullN() int64 { return a.nullCount }

func (s *ArrowSchema) childSlice() []*ArrowSchema {
	if s.nChildren <= 0 || s.children == nil {
		return nil
	}
	return unsafe.Slice(s.children, s.nChildren)
}

func (a *ArrowArray) childSlice() []*ArrowArray {
	if a.nChildren <= 0 || a.children == nil {
		return nil
	}
	return unsafe.Slice(a.children, a.nChildren)
}

func (a *ArrowArray) bufferSlice() []unsafe.Pointer {
	if a.nBuffers <= 0 || a.buffers == nil {
		return nil
	}
	return unsafe.Slice(a.buffers, a.nBuffers)
}

// goString copies a NUL-terminated C string into a Go string.
func goString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

// Descriptor structs, C strings and pointer tables are allocated off the Go
// heap through arrow's mallocator, so either side of the boundary can hold
// them for as long as it likes. structAllocs remembers which blocks this
// process allocated so the shells can be freed exactly once, and foreign
// allocations are left to their producer.
var (
	cAlloc       = mallocator.NewMallocator()
	structAllocs sync.Map // uintptr -> []byte
)

func allocBlock(n int) (b []byte, err error) {
	defer func() {
		if recover() != nil {
			b, err = nil, ErrAllocationFailure
		}
	}()
	b = cAlloc.Allocate(n)
	for i := range b {
		b[i] = 0
	}
	return b, nil
}

func allocStruct(n int) (unsafe.Pointer, error) {
	b, err := allocBlock(n)
	if err != nil {
		return nil, err
	}
	p := unsafe.Pointer(&b[0])
	structAllocs.Store(uintptr(p), b)
	return p, nil
}

func freeStructAddr(addr uintptr) {
	if b, ok := structAllocs.LoadAndDelete(addr); ok {
		cAlloc.Free(b.([]byte))
	}
}

// FreeSchemaStruct frees the descriptor shell itself, not the resources the
// descriptor owns. The descriptor must already be released or moved. Shells
// allocated by a foreign producer are left alone.
func FreeSchemaStruct(s *ArrowSchema) {
	if s == nil {
		return
	}
	freeStructAddr(s.Addr())
}

// FreeArrayStruct frees the descriptor shell itself. See FreeSchemaStruct.
func FreeArrayStruct(a *ArrowArray) {
	if a == nil {
		return
	}
	freeStructAddr(a.Addr())
}
