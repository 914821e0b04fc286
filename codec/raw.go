package codec

// Bytes passes []byte values through untouched. Counter values written by
// Increment/Decrement are plain decimal text and read back fine with it.
type Bytes struct{}

func (Bytes) Flag() uint32                    { return FlagBytes }
func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their UTF-8 bytes without validation.
type String struct{}

func (String) Flag() uint32                    { return FlagString }
func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
