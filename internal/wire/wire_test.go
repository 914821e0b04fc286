package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecodeEntry(t *testing.T, b []byte) (uint32, []byte) {
	t.Helper()
	flags, p, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return flags, p
}

func TestEntryRTEmptyAndNonEmpty(t *testing.T) {
	cases := []struct {
		flags   uint32
		payload []byte
	}{
		{0, nil},
		{42, []byte("hello")},
		{math.MaxUint32, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := EncodeEntry(tc.flags, tc.payload)
		flags, p := mustDecodeEntry(t, enc)
		if flags != tc.flags {
			t.Fatalf("flags mismatch: got %d want %d", flags, tc.flags)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := EncodeEntry(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeEntry(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEntry + 1
	if _, _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen claims more than present
	long := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(long[10:14], 1000)
	if _, _, err := DecodeEntry(long); err == nil {
		t.Fatalf("expected error on oversized vlen")
	}

	// truncated header
	if _, _, err := DecodeEntry(enc[:hdrLen-1]); err == nil {
		t.Fatalf("expected error on short header")
	}

	// raw user bytes are not an entry
	if _, _, err := DecodeEntry([]byte("not-wire-format")); err == nil {
		t.Fatalf("expected error on foreign bytes")
	}
}

func TestEntryPayloadAliasesInput(t *testing.T) {
	enc := EncodeEntry(0, []byte("abc"))
	_, p := mustDecodeEntry(t, enc)
	enc[len(enc)-1] = 'z'
	if string(p) != "abz" {
		t.Fatalf("payload should alias input; got %q", p)
	}
}
