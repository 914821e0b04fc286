package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/memtier"
)

func TestEmit(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Debug("dropped", nil)
	l.Warn("local store clear failed", memtier.Fields{"err": errors.New("boom"), "keys": 0})

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("want one JSON line, got %q: %v", buf.String(), err)
	}
	if line["level"] != "warn" || line["message"] != "local store clear failed" {
		t.Fatalf("line %v", line)
	}
	if line["err"] != "boom" || line["component"] != "memtier" || line["keys"] != float64(0) {
		t.Fatalf("fields %v", line)
	}
}
