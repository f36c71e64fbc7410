package sparrow

import (
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
	"github.com/Alex-PLACET/sparrow-go-bridge/capsule"
)

// Coordinator drives a full exchange cycle: export an array to a descriptor
// pair, hand it through capsules the way an embedded interpreter would, import
// it back, verify fidelity, and re-export. It exists to prove the ownership
// chain end to end on one side of the boundary.
type Coordinator struct {
	log *slog.Logger
}

// NewCoordinator returns a coordinator logging through the given logger.
// A nil logger means slog.Default.
func NewCoordinator(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	capsule.Initialize()
	return &Coordinator{log: log}
}

// RoundTrip pushes the array through a complete exchange cycle and returns
// the re-imported result. A plain source is not consumed and stays the
// caller's to release. A source that is itself a round-trip result hands its
// import ownership to the cycle and is spent by the export; only the returned
// array is live afterwards.
func (c *Coordinator) RoundTrip(src *Array) (*Array, error) {
	c.log.Debug("exporting array", "len", src.Len(), "nulls", src.NullN(), "type", src.DataType().String())

	// the wrapper may be consumed by the export; the arrow view stays valid
	// because the descriptors, and later the import, keep the buffers alive
	srcArr := src.Arrow()

	schema, carr, err := src.Export()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	schemaCap, err := capsule.Wrap(schema.Addr(), capsule.SchemaTag)
	if err != nil {
		ReleasePair(schema.Addr(), carr.Addr())
		return nil, fmt.Errorf("wrap schema: %w", err)
	}
	arrayCap, err := capsule.Wrap(carr.Addr(), capsule.ArrayTag)
	if err != nil {
		schemaCap.Close()
		ReleasePair(0, carr.Addr())
		return nil, fmt.Errorf("wrap array: %w", err)
	}

	// the consumer side: take ownership out of the capsules and import
	schemaAddr, err := schemaCap.Take(capsule.SchemaTag)
	if err != nil {
		arrayCap.Close()
		return nil, fmt.Errorf("unwrap schema: %w", err)
	}
	arrayAddr, err := arrayCap.Take(capsule.ArrayTag)
	if err != nil {
		ReleasePair(schemaAddr, 0)
		return nil, fmt.Errorf("unwrap array: %w", err)
	}

	im, err := bridge.ImportFromAddrs(schemaAddr, arrayAddr)
	if err != nil {
		ReleasePair(schemaAddr, arrayAddr)
		return nil, fmt.Errorf("import: %w", err)
	}
	bridge.FreeSchemaStruct(bridge.SchemaFromAddr(schemaAddr))
	bridge.FreeArrayStruct(bridge.ArrayFromAddr(arrayAddr))

	if err := c.verify(srcArr, im.Array()); err != nil {
		im.Release()
		return nil, err
	}
	c.log.Debug("round trip verified", "len", im.Array().Len())

	// the result keeps the import alive; releasing it releases the import
	return fromImported(im.Array(), im), nil
}

func (c *Coordinator) verify(want, got arrow.Array) error {
	if !arrow.TypeEqual(want.DataType(), got.DataType()) {
		return fmt.Errorf("%w: exported %s, imported %s", bridge.ErrTypeMismatch, want.DataType(), got.DataType())
	}
	if got.Len() != want.Len() {
		return fmt.Errorf("%w: exported %d elements, imported %d", bridge.ErrMalformedDescriptor, want.Len(), got.Len())
	}
	if got.NullN() != want.NullN() {
		return fmt.Errorf("%w: exported %d nulls, imported %d", bridge.ErrMalformedDescriptor, want.NullN(), got.NullN())
	}
	// element-wise comparison, values and null positions both
	if !array.Equal(want, got) {
		return fmt.Errorf("%w: imported values differ from the source", bridge.ErrMalformedDescriptor)
	}
	return nil
}
