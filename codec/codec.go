// Package codec turns typed values into the byte payloads stored by memtier.
//
// Each codec reports a flag id that Typed writes into Item.Flags, so a reader
// can refuse a payload produced by a different codec instead of misdecoding it.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
	// Flag identifies the payload format in Item.Flags.
	Flag() uint32
}

// Flag ids of the built-in codecs. Ids below 256 are reserved.
const (
	FlagBytes uint32 = iota
	FlagString
	FlagJSON
	FlagMsgpack
	FlagCBOR
	FlagProtobuf
)

// FlagName names a built-in flag id, or "custom".
func FlagName(f uint32) string {
	switch f {
	case FlagBytes:
		return "bytes"
	case FlagString:
		return "string"
	case FlagJSON:
		return "json"
	case FlagMsgpack:
		return "msgpack"
	case FlagCBOR:
		return "cbor"
	case FlagProtobuf:
		return "protobuf"
	default:
		return "custom"
	}
}
