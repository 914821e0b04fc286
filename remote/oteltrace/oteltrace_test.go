package oteltrace

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/memtier/remote"
	"github.com/unkn0wn-root/memtier/remote/memory"
)

func newTraced(t *testing.T) (*Client, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return Wrap(memory.New(memory.Config{}), Config{TracerProvider: tp}), rec
}

func attr(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpanPerCall(t *testing.T) {
	ctx := context.Background()
	c, rec := newTraced(t)

	if err := c.Set(ctx, remote.Item{Key: "k", Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(ctx, "k", remote.GetOptions{}); err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.Get(ctx, "missing", remote.GetOptions{}); ok {
		t.Fatal("unexpected hit")
	}

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	for _, s := range spans {
		if s.SpanKind() != trace.SpanKindClient {
			t.Fatalf("%s: kind %v", s.Name(), s.SpanKind())
		}
		if v, _ := attr(s, "db.system"); v.AsString() != "memcached" {
			t.Fatalf("%s: db.system=%q", s.Name(), v.AsString())
		}
	}
	if spans[0].Name() != "memtier.remote.set" || spans[1].Name() != "memtier.remote.get" {
		t.Fatalf("names: %s, %s", spans[0].Name(), spans[1].Name())
	}
	if v, _ := attr(spans[1], "memtier.hit"); !v.AsBool() {
		t.Fatal("hit not recorded")
	}
	if v, _ := attr(spans[2], "memtier.hit"); v.AsBool() {
		t.Fatal("miss recorded as hit")
	}
	if spans[2].Status().Code == codes.Error {
		t.Fatal("a miss is not an error")
	}
}

func TestErrorStatus(t *testing.T) {
	ctx := context.Background()
	c, rec := newTraced(t)

	if _, err := c.Increment(ctx, "missing", 1); err == nil {
		t.Fatal("expected cache miss")
	}
	if _, err := c.Delete(ctx, "k", 5); err == nil {
		t.Fatal("expected not supported")
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatal("cache miss marked as error")
	}
	if v, _ := attr(spans[0], "memtier.result"); v.AsString() != remote.ResNotFound.String() {
		t.Fatalf("result attr %q", v.AsString())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Fatal("unsupported delete should record an error")
	}
}

func TestPassthroughStatus(t *testing.T) {
	c, _ := newTraced(t)
	if c.ResultCode() != remote.ResSuccess || c.BinaryProtocol() {
		t.Fatal("passthrough mismatch")
	}
	if _, ok := c.Unwrap().(*memory.Client); !ok {
		t.Fatal("Unwrap lost the inner client")
	}
}
