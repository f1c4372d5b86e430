// Package serializer converts dLink messages to and from bytes. It defines a
// common interface and three interchangeable formats; client and server must
// be configured with the same one.
//
// Key Components:
//
//   - IRPCSerializer: the interface every format implements.
//
//   - binarySerializerImpl: compact custom format. A fixed six byte header
//     (kind, flags, command) is followed by the optional body, written as a
//     tagged value tree, and the optional exception text. Decoding normalizes
//     numbers to int64, uint64 or float64.
//
//   - jsonSerializerImpl: JSON encoding, readable on the wire and convenient for
//     debugging. Body numbers decode as float64.
//
//   - gobSerializerImpl: Go's gob encoding. Nested maps and slices inside a body
//     must be map[string]any or []any, which are registered on init.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(common.NewRequest(0x0101, common.Body{"playerId": "p1"}))
//	// ... send data ...
//	var msg common.Message
//	err = s.Deserialize(data, &msg)
package serializer
