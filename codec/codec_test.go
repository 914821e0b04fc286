package codec

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type session struct {
	ID    string    `json:"id" msgpack:"id" cbor:"id"`
	Roles []string  `json:"roles" msgpack:"roles" cbor:"roles"`
	Seen  time.Time `json:"seen" msgpack:"seen" cbor:"seen"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestStructCodecs(t *testing.T) {
	in := session{ID: "s1", Roles: []string{"admin"}, Seen: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	codecs := map[string]Codec[session]{
		"json":    JSON[session]{},
		"msgpack": Msgpack[session]{},
		"cbor":    MustCBOR[session](true),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, c, in)
			if out.ID != in.ID || len(out.Roles) != 1 || !out.Seen.Equal(in.Seen) {
				t.Fatalf("got %+v", out)
			}
			if FlagName(c.Flag()) != name {
				t.Fatalf("flag %d named %q", c.Flag(), FlagName(c.Flag()))
			}
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, _ := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if string(a) != string(b) {
		t.Fatal("deterministic encoding differs")
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	out := roundTrip[*wrapperspb.StringValue](t, c, wrapperspb.String("hello"))
	if !proto.Equal(out, wrapperspb.String("hello")) {
		t.Fatalf("got %v", out)
	}

	var zero Protobuf[*wrapperspb.StringValue]
	if _, err := zero.Decode(nil); err == nil {
		t.Fatal("zero Protobuf decoded")
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if c.Flag() != FlagString {
		t.Fatalf("flag %d", c.Flag())
	}
	if v, err := c.Decode([]byte("abcd")); err != nil || v != "abcd" {
		t.Fatalf("%q %v", v, err)
	}
	if _, err := c.Decode([]byte("abcde")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("want size error, got %v", err)
	}
	if _, err := (Limit[string]{Inner: String{}}).Decode(make([]byte, 1<<20)); err != nil {
		t.Fatal("zero MaxDecode should not limit")
	}
}

func TestRaw(t *testing.T) {
	if got := roundTrip[[]byte](t, Bytes{}, []byte("42")); string(got) != "42" {
		t.Fatalf("bytes %q", got)
	}
	if got := roundTrip[string](t, String{}, "héllo"); got != "héllo" {
		t.Fatalf("string %q", got)
	}
	if FlagName(999) != "custom" {
		t.Fatal("unknown flag name")
	}
}
