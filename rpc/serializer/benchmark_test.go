package serializer

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dLink/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	return map[string]common.Message{
		"Empty":     {Kind: common.KindEvent, Command: 0x0001},
		"Login":     common.NewRequest(0x0101, common.Body{"playerId": "p1"}),
		"Ok":        common.NewResponse(0x0101, common.Body{"ok": true}),
		"Exception": common.NewException(0x0101, "player not found"),
		"Movement": common.NewEvent(0x0301, common.Body{
			"entity": "npc-1842",
			"x":      128.5,
			"y":      -42.25,
			"z":      7.0,
			"facing": 270,
			"moving": true,
		}),
		"Chat": common.NewEvent(0x0201, common.Body{
			"from": "p1",
			"text": strings.Repeat("lorem ipsum ", 40),
		}),
		"Inventory": common.NewResponse(0x0401, common.Body{
			"items": []any{
				map[string]any{"id": "sword", "count": 1},
				map[string]any{"id": "potion", "count": 12},
				map[string]any{"id": "arrow", "count": 250},
			},
			"gold": 1200,
		}),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				s := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := s.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				s := factory()
				data, err := s.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize %s: %v", msgName, err)
				}
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var out common.Message
					if err := s.Deserialize(data, &out); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize reports the serialized size for each message type
func BenchmarkSize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		s := factory()

		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := s.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}
				b.ReportMetric(float64(len(data)), "bytes")
				for i := 0; i < b.N; i++ {
				}
			})
		}
	}
}
