package network

import "fmt"

// rawMessage is the message type every RPC on this service sends and
// receives: the wire encoding is already fully specified by spec.md §6,
// so rawCodec passes it through gRPC's framing unchanged instead of
// wrapping it in a second, generated schema.
type rawMessage []byte

// rawCodec implements grpc's Codec interface (the pre-encoding.Codec
// shape gRPC still accepts as a CustomCodec) over rawMessage.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(rawMessage)
	if !ok {
		return nil, fmt.Errorf("network: rawCodec cannot marshal %T", v)
	}
	return m, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("network: rawCodec cannot unmarshal into %T", v)
	}
	*m = append((*m)[:0], data...)
	return nil
}

func (rawCodec) String() string { return "raw" }
