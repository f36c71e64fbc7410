package bridge

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/ebitengine/purego"
)

// Exported descriptors carry a small integer key in private_data instead of a
// Go pointer, so no Go object is ever visible across the boundary. The key
// resolves through a process-wide handle table; deleting the entry is the
// atomic gate that makes each release fire exactly once even if the callback
// pointer is somehow invoked twice.

var (
	handleSeq     atomic.Uintptr
	schemaHandles sync.Map // uintptr -> *exportedSchema
	arrayHandles  sync.Map // uintptr -> *exportedArray
)

// Owner is anything whose lifetime must extend until a descriptor's release
// callback has run. Release is invoked exactly once, after the descriptor's
// own resources are gone.
type Owner interface {
	Release()
}

type exportedSchema struct {
	blocks [][]byte // format/name/metadata strings, child table, child shells
}

type exportedArray struct {
	data   arrow.ArrayData // retained backing storage, released exactly once
	owner  Owner           // optional upstream ownership, released after data
	blocks [][]byte        // buffer table, child table, child shells
}

func newHandle() uintptr {
	return handleSeq.Add(1)
}

func handleToPointer(h uintptr) unsafe.Pointer {
	// the handle is an opaque token, not a real address
	return *(*unsafe.Pointer)(unsafe.Pointer(&h))
}

func pointerToHandle(p unsafe.Pointer) uintptr {
	return uintptr(p)
}

// The release callbacks handed out to the other side. One trampoline per
// descriptor kind, created once; per-descriptor state lives behind the
// private_data handle.
var (
	callbackOnce    sync.Once
	schemaReleaseFn uintptr
	arrayReleaseFn  uintptr
)

func releaseCallbacks() (schemaFn, arrayFn uintptr) {
	callbackOnce.Do(func() {
		schemaReleaseFn = purego.NewCallback(releaseExportedSchema)
		arrayReleaseFn = purego.NewCallback(releaseExportedArray)
	})
	return schemaReleaseFn, arrayReleaseFn
}

func releaseExportedSchema(ptr uintptr) uintptr {
	s := SchemaFromAddr(ptr)
	if s == nil {
		return 0
	}
	atomic.StoreUintptr(&s.release, 0)

	key := pointerToHandle(s.privateData)
	rec, ok := schemaHandles.LoadAndDelete(key)
	if !ok {
		// second invocation: already a no-op
		return 0
	}
	s.privateData = nil

	// children before the parent's own tables, so a child never outlives the
	// metadata needed to release it
	for _, child := range s.childSlice() {
		child.Release()
	}
	for _, b := range rec.(*exportedSchema).blocks {
		cAlloc.Free(b)
	}
	return 0
}

func releaseExportedArray(ptr uintptr) uintptr {
	a := ArrayFromAddr(ptr)
	if a == nil {
		return 0
	}
	atomic.StoreUintptr(&a.release, 0)

	key := pointerToHandle(a.privateData)
	rec, ok := arrayHandles.LoadAndDelete(key)
	if !ok {
		return 0
	}
	a.privateData = nil

	for _, child := range a.childSlice() {
		child.Release()
	}
	ex := rec.(*exportedArray)
	for _, b := range ex.blocks {
		cAlloc.Free(b)
	}
	if ex.data != nil {
		ex.data.Release()
	}
	if ex.owner != nil {
		ex.owner.Release()
	}
	return 0
}
