package serializer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ValentinKolb/dLink/rpc/common"
)

// NewBinarySerializer creates a new serializer using a compact custom binary format.
//
// Layout:
//
//	kind (1) | flags (1) | command (4, big endian) | [body] | [err]
//
// The body is written as a tagged value tree. Decoding normalizes value types:
// signed integers become int64, unsigned integers uint64, floats float64,
// nested maps map[string]any and slices []any.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasBody byte = 1 << 0
	hasErr  byte = 1 << 1
)

// Value tags of the body encoding
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagList
	tagMap
)

const (
	headerSize = 6
	maxDepth   = 64
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, headerSize+64)
	result[0] = byte(msg.Kind)
	binary.BigEndian.PutUint32(result[2:6], msg.Command)

	var flags byte
	var err error

	if msg.Body != nil {
		flags |= hasBody
		if result, err = appendMap(result, msg.Body, 0); err != nil {
			return nil, err
		}
	}

	if msg.Err != "" {
		flags |= hasErr
		result = appendString(result, msg.Err)
	}

	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{
		Kind:    common.MessageKind(data[0]),
		Command: binary.BigEndian.Uint32(data[2:6]),
	}
	flags := data[1]
	pos := headerSize

	if flags&hasBody != 0 {
		if pos >= len(data) || data[pos] != tagMap {
			return fmt.Errorf("body is not a map")
		}
		m, next, err := readMap(data, pos+1, 0)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		msg.Body = common.Body(m)
		pos = next
	}

	if flags&hasErr != 0 {
		s, next, err := readString(data, pos)
		if err != nil {
			return fmt.Errorf("failed to read err: %w", err)
		}
		msg.Err = s
		pos = next
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

func (b binarySerializerImpl) Name() string {
	return "binary"
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendMap(buf []byte, m map[string]any, depth int) ([]byte, error) {
	buf = append(buf, tagMap)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m)))
	for k, v := range m {
		buf = appendString(buf, k)
		var err error
		if buf, err = appendValue(buf, v, depth+1); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
	}
	return buf, nil
}

func appendList(buf []byte, n int, at func(i int) any, depth int) ([]byte, error) {
	buf = append(buf, tagList)
	buf = binary.BigEndian.AppendUint32(buf, uint32(n))
	for i := 0; i < n; i++ {
		var err error
		if buf, err = appendValue(buf, at(i), depth+1); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return buf, nil
}

func appendValue(buf []byte, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	switch x := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int8:
		return appendInt(buf, int64(x)), nil
	case int16:
		return appendInt(buf, int64(x)), nil
	case int32:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case uint:
		return appendUint(buf, uint64(x)), nil
	case uint8:
		return appendUint(buf, uint64(x)), nil
	case uint16:
		return appendUint(buf, uint64(x)), nil
	case uint32:
		return appendUint(buf, uint64(x)), nil
	case uint64:
		return appendUint(buf, x), nil
	case float32:
		return appendFloat(buf, float64(x)), nil
	case float64:
		return appendFloat(buf, x), nil
	case string:
		return appendString(append(buf, tagString), x), nil
	case []byte:
		buf = append(buf, tagBytes)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(x)))
		return append(buf, x...), nil
	case []any:
		return appendList(buf, len(x), func(i int) any { return x[i] }, depth)
	case []string:
		return appendList(buf, len(x), func(i int) any { return x[i] }, depth)
	case map[string]any:
		return appendMap(buf, x, depth)
	case common.Body:
		return appendMap(buf, x, depth)
	default:
		return nil, fmt.Errorf("unsupported body value type %T", v)
	}
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, tagInt)
	return binary.BigEndian.AppendUint64(buf, uint64(v))
}

func appendUint(buf []byte, v uint64) []byte {
	buf = append(buf, tagUint)
	return binary.BigEndian.AppendUint64(buf, v)
}

func appendFloat(buf []byte, v float64) []byte {
	buf = append(buf, tagFloat)
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

func readLen(data []byte, pos int) (int, int, error) {
	if pos+4 > len(data) {
		return 0, 0, fmt.Errorf("data too short for length at %d", pos)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	return n, pos + 4, nil
}

func readString(data []byte, pos int) (string, int, error) {
	n, pos, err := readLen(data, pos)
	if err != nil {
		return "", 0, err
	}
	if pos+n > len(data) {
		return "", 0, fmt.Errorf("data too short for string of %d bytes", n)
	}
	return string(data[pos : pos+n]), pos + n, nil
}

func readMap(data []byte, pos int, depth int) (map[string]any, int, error) {
	n, pos, err := readLen(data, pos)
	if err != nil {
		return nil, 0, err
	}
	// every entry takes at least a key length and a value tag
	if n > (len(data)-pos)/5 {
		return nil, 0, fmt.Errorf("map length %d exceeds data", n)
	}

	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		var k string
		if k, pos, err = readString(data, pos); err != nil {
			return nil, 0, err
		}
		var v any
		if v, pos, err = readValue(data, pos, depth+1); err != nil {
			return nil, 0, fmt.Errorf("key %q: %w", k, err)
		}
		m[k] = v
	}
	return m, pos, nil
}

func readValue(data []byte, pos int, depth int) (any, int, error) {
	if depth > maxDepth {
		return nil, 0, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	if pos >= len(data) {
		return nil, 0, fmt.Errorf("data too short for value tag")
	}

	tag := data[pos]
	pos++

	switch tag {
	case tagNil:
		return nil, pos, nil
	case tagFalse:
		return false, pos, nil
	case tagTrue:
		return true, pos, nil
	case tagInt, tagUint, tagFloat:
		if pos+8 > len(data) {
			return nil, 0, fmt.Errorf("data too short for number")
		}
		raw := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		switch tag {
		case tagInt:
			return int64(raw), pos, nil
		case tagUint:
			return raw, pos, nil
		default:
			return math.Float64frombits(raw), pos, nil
		}
	case tagString:
		return readString(data, pos)
	case tagBytes:
		n, pos, err := readLen(data, pos)
		if err != nil {
			return nil, 0, err
		}
		if pos+n > len(data) {
			return nil, 0, fmt.Errorf("data too short for %d bytes", n)
		}
		out := make([]byte, n)
		copy(out, data[pos:pos+n])
		return out, pos + n, nil
	case tagList:
		n, pos, err := readLen(data, pos)
		if err != nil {
			return nil, 0, err
		}
		if n > len(data)-pos {
			return nil, 0, fmt.Errorf("list length %d exceeds data", n)
		}
		list := make([]any, n)
		for i := 0; i < n; i++ {
			if list[i], pos, err = readValue(data, pos, depth+1); err != nil {
				return nil, 0, fmt.Errorf("index %d: %w", i, err)
			}
		}
		return list, pos, nil
	case tagMap:
		return readMap(data, pos, depth)
	default:
		return nil, 0, fmt.Errorf("unknown value tag %d", tag)
	}
}
