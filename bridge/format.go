package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Format tags for types that need no parameters, in both directions.
var formatToSimpleType = map[string]arrow.DataType{
	"n":   arrow.Null,
	"b":   arrow.FixedWidthTypes.Boolean,
	"c":   arrow.PrimitiveTypes.Int8,
	"C":   arrow.PrimitiveTypes.Uint8,
	"s":   arrow.PrimitiveTypes.Int16,
	"S":   arrow.PrimitiveTypes.Uint16,
	"i":   arrow.PrimitiveTypes.Int32,
	"I":   arrow.PrimitiveTypes.Uint32,
	"l":   arrow.PrimitiveTypes.Int64,
	"L":   arrow.PrimitiveTypes.Uint64,
	"e":   arrow.FixedWidthTypes.Float16,
	"f":   arrow.PrimitiveTypes.Float32,
	"g":   arrow.PrimitiveTypes.Float64,
	"z":   arrow.BinaryTypes.Binary,
	"Z":   arrow.BinaryTypes.LargeBinary,
	"u":   arrow.BinaryTypes.String,
	"U":   arrow.BinaryTypes.LargeString,
	"tdD": arrow.FixedWidthTypes.Date32,
	"tdm": arrow.FixedWidthTypes.Date64,
}

// formatForType encodes a logical type as its C data interface format tag.
// Types outside the supported set report ErrUnsupportedType.
func formatForType(dt arrow.DataType) (string, error) {
	if simple := simpleFormatFor(dt); simple != "" {
		return simple, nil
	}

	switch t := dt.(type) {
	case *arrow.TimestampType:
		var unit string
		switch t.Unit {
		case arrow.Second:
			unit = "tss:"
		case arrow.Millisecond:
			unit = "tsm:"
		case arrow.Microsecond:
			unit = "tsu:"
		case arrow.Nanosecond:
			unit = "tsn:"
		}
		return unit + t.TimeZone, nil
	case *arrow.FixedSizeBinaryType:
		return "w:" + strconv.Itoa(t.ByteWidth), nil
	case *arrow.ListType:
		return "+l", nil
	case *arrow.LargeListType:
		return "+L", nil
	case *arrow.FixedSizeListType:
		return "+w:" + strconv.Itoa(int(t.Len())), nil
	case *arrow.StructType:
		return "+s", nil
	}
	return "", fmt.Errorf("%w: no format tag for %s", ErrUnsupportedType, dt)
}

func simpleFormatFor(dt arrow.DataType) string {
	for f, simple := range formatToSimpleType {
		if arrow.TypeEqual(simple, dt) {
			return f
		}
	}
	return ""
}

// typeFromFormat decodes a format tag back into a logical type. Nested tags
// consume the already-imported child fields.
func typeFromFormat(format string, children []arrow.Field) (arrow.DataType, error) {
	if dt, ok := formatToSimpleType[format]; ok {
		return dt, nil
	}

	if strings.HasPrefix(format, "+") {
		return nestedTypeFromFormat(format, children)
	}

	switch {
	case strings.HasPrefix(format, "tss:"),
		strings.HasPrefix(format, "tsm:"),
		strings.HasPrefix(format, "tsu:"),
		strings.HasPrefix(format, "tsn:"):
		tz := format[len("tss:"):]
		var unit arrow.TimeUnit
		switch format[:3] {
		case "tss":
			unit = arrow.Second
		case "tsm":
			unit = arrow.Millisecond
		case "tsu":
			unit = arrow.Microsecond
		case "tsn":
			unit = arrow.Nanosecond
		}
		return &arrow.TimestampType{Unit: unit, TimeZone: tz}, nil
	case strings.HasPrefix(format, "w:"):
		width, err := strconv.Atoi(format[2:])
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("%w: bad fixed-size binary tag %q", ErrMalformedDescriptor, format)
		}
		return &arrow.FixedSizeBinaryType{ByteWidth: width}, nil
	}
	return nil, fmt.Errorf("%w: unrecognized format tag %q", ErrUnsupportedType, format)
}

func nestedTypeFromFormat(format string, children []arrow.Field) (arrow.DataType, error) {
	switch {
	case format == "+l":
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: list needs 1 child schema, have %d", ErrMalformedDescriptor, len(children))
		}
		return arrow.ListOfField(children[0]), nil
	case format == "+L":
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: large list needs 1 child schema, have %d", ErrMalformedDescriptor, len(children))
		}
		return arrow.LargeListOfField(children[0]), nil
	case strings.HasPrefix(format, "+w:"):
		n, err := strconv.Atoi(format[3:])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad fixed-size list tag %q", ErrMalformedDescriptor, format)
		}
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: fixed-size list needs 1 child schema, have %d", ErrMalformedDescriptor, len(children))
		}
		return arrow.FixedSizeListOfField(int32(n), children[0]), nil
	case format == "+s":
		return arrow.StructOf(children...), nil
	}
	return nil, fmt.Errorf("%w: unrecognized format tag %q", ErrUnsupportedType, format)
}

// childFields returns the fields a nested type exports as child schemas.
func childFields(dt arrow.DataType) []arrow.Field {
	if nested, ok := dt.(arrow.NestedType); ok {
		return nested.Fields()
	}
	return nil
}
