package codec

import "fmt"

// Limit rejects payloads above MaxDecode bytes before Inner sees them, which
// bounds the work done on values read from a shared remote cache.
// MaxDecode <= 0 disables the check. Flag is Inner's.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Flag() uint32               { return c.Inner.Flag() }
func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("codec: payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
