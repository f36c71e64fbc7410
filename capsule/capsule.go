// Package capsule wraps raw descriptor addresses in opaque, type-tagged
// containers modeled on Python's PyCapsule protocol. A capsule carries exactly
// one descriptor address plus a tag naming the descriptor kind; unwrapping
// checks the tag before handing the address back, and a capsule that is
// garbage collected with its payload still inside releases the descriptor so
// nothing leaks when a consumer never picks it up.
package capsule

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
)

// Capsule type tags. These are the names the Arrow PyCapsule interface uses,
// so capsules produced here interoperate with consumers expecting them.
const (
	SchemaTag = "arrow_schema"
	ArrayTag  = "arrow_array"
)

// ErrNotInitialized is returned by Wrap and Unwrap before Initialize has run.
var ErrNotInitialized = fmt.Errorf("capsule: subsystem not initialized")

var (
	initOnce sync.Once
	ready    atomic.Bool
)

// Initialize prepares the capsule subsystem. It is idempotent and must be
// called once before any capsule is created.
func Initialize() {
	initOnce.Do(func() {
		ready.Store(true)
	})
}

// Initialized reports whether Initialize has been called.
func Initialized() bool { return ready.Load() }

// Capsule is an opaque wrapper around one descriptor address. The zero value
// is not usable; create capsules with Wrap.
type Capsule struct {
	addr uintptr
	tag  string
	done atomic.Bool
}

// Wrap encloses a descriptor address in a capsule tagged with the given kind.
// The capsule takes ownership: if it is closed or collected while still
// holding the payload, the descriptor is released and its shell freed.
func Wrap(addr uintptr, tag string) (*Capsule, error) {
	if !ready.Load() {
		return nil, ErrNotInitialized
	}
	if addr == 0 {
		return nil, bridge.ErrNullPointer
	}
	if tag != SchemaTag && tag != ArrayTag {
		return nil, fmt.Errorf("%w: unknown capsule tag %q", bridge.ErrTypeMismatch, tag)
	}

	c := &Capsule{addr: addr, tag: tag}
	runtime.SetFinalizer(c, func(c *Capsule) { c.Close() })
	return c, nil
}

// Tag returns the capsule's type tag.
func (c *Capsule) Tag() string { return c.tag }

// Unwrap validates the expected tag and returns the payload address. The
// capsule keeps ownership; a tag mismatch fails without touching the payload
// so the descriptor stays fully usable under its correct tag.
func (c *Capsule) Unwrap(expected string) (uintptr, error) {
	if !ready.Load() {
		return 0, ErrNotInitialized
	}
	if c.done.Load() {
		return 0, fmt.Errorf("%w: capsule already closed", bridge.ErrMalformedDescriptor)
	}
	if c.tag != expected {
		return 0, fmt.Errorf("%w: capsule holds %q, caller expected %q", bridge.ErrTypeMismatch, c.tag, expected)
	}
	return c.addr, nil
}

// Take is Unwrap plus ownership transfer: the capsule forgets its payload, so
// closing or collecting it afterwards no longer releases the descriptor.
func (c *Capsule) Take(expected string) (uintptr, error) {
	addr, err := c.Unwrap(expected)
	if err != nil {
		return 0, err
	}
	if !c.done.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("%w: capsule already closed", bridge.ErrMalformedDescriptor)
	}
	runtime.SetFinalizer(c, nil)
	return addr, nil
}

// Close releases the wrapped descriptor if the capsule still owns it. Safe to
// call more than once; release idempotence in the descriptor itself backstops
// any race with a consumer that already released the payload directly.
func (c *Capsule) Close() {
	if c == nil || !c.done.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(c, nil)
	switch c.tag {
	case SchemaTag:
		s := bridge.SchemaFromAddr(c.addr)
		s.Release()
		bridge.FreeSchemaStruct(s)
	case ArrayTag:
		a := bridge.ArrayFromAddr(c.addr)
		a.Release()
		bridge.FreeArrayStruct(a)
	}
}
