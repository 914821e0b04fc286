package sloghooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newHooks(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestSelfHealRedactsAndSamples(t *testing.T) {
	h, buf := newHooks(Options{SelfHealEvery: 2})

	h.LocalSelfHeal("user:42")
	h.LocalSelfHeal("user:42")
	h.LocalSelfHeal("user:42")

	out := buf.String()
	if n := strings.Count(out, "memtier.local_self_heal"); n != 1 {
		t.Fatalf("sampled lines=%d want 1\n%s", n, out)
	}
	if strings.Contains(out, "user:42") {
		t.Fatal("key leaked")
	}
}

func TestCustomRedactor(t *testing.T) {
	h, buf := newHooks(Options{Redact: func(string) string { return "xxx" }})
	h.LocalSelfHeal("secret")
	if !strings.Contains(buf.String(), "key=xxx") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestErrorsAlwaysLogged(t *testing.T) {
	h, buf := newHooks(Options{LookupEvery: 1000})
	h.LocalError("invalidate", 3, errors.New("disk gone"))
	h.RemoteError("set", context.DeadlineExceeded)
	h.ServersPushed(2)

	out := buf.String()
	for _, want := range []string{"stage=invalidate", "keys=3", "op=set", `code="A TIMEOUT OCCURRED"`, "count=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestLookupsSampled(t *testing.T) {
	h, buf := newHooks(Options{LookupEvery: 3})
	for i := 0; i < 7; i++ {
		h.LocalLookup("get_multi", 2, 1)
	}
	if n := strings.Count(buf.String(), "memtier.local_lookup"); n != 2 {
		t.Fatalf("lines=%d want 2", n)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.LocalLookup("get", 1, 0)
	h.LocalSelfHeal("k")
	h.LocalError("read", 1, errors.New("x"))
	h.RemoteError("get", errors.New("x"))
	h.ServersPushed(1)
}
