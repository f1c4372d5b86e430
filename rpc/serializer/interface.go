package serializer

import "github.com/ValentinKolb/dLink/rpc/common"

// IRPCSerializer is the interface for all Message serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into the given Message
	Deserialize(b []byte, msg *common.Message) error
	// Name returns the name of the format (e.g. "json")
	Name() string
}
