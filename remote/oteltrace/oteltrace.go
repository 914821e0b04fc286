// Package oteltrace wraps a remote.Client so every call runs in an
// OpenTelemetry client span. Keys are not recorded, only their count.
package oteltrace

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/memtier/remote"
)

const instrumentation = "github.com/unkn0wn-root/memtier/remote/oteltrace"

type Config struct {
	// TracerProvider supplies the tracer. nil => otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// System is reported as db.system. "" => "memcached".
	System string
}

// Client decorates another remote.Client. It is as safe for concurrent use
// as the client it wraps.
type Client struct {
	next   remote.Client
	tracer trace.Tracer
	system string
}

var _ remote.Client = (*Client)(nil)

func Wrap(next remote.Client, cfg Config) *Client {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	sys := cfg.System
	if sys == "" {
		sys = "memcached"
	}
	return &Client{next: next, tracer: tp.Tracer(instrumentation), system: sys}
}

// Unwrap returns the decorated client.
func (c *Client) Unwrap() remote.Client { return c.next }

func (c *Client) start(ctx context.Context, op string, keys int) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "memtier.remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", c.system),
			attribute.String("db.operation", op),
			attribute.Int("memtier.keys", keys),
		))
}

// end records err; misses and refused conditional writes are not errors.
func end(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("memtier.result", remote.ResultOf(err).String()))
	if errors.Is(err, remote.ErrCacheMiss) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func hit(span trace.Span, ok bool) {
	span.SetAttributes(attribute.Bool("memtier.hit", ok))
}

func (c *Client) Get(ctx context.Context, key string, opts remote.GetOptions) (remote.Item, bool, error) {
	ctx, span := c.start(ctx, "get", 1)
	span.SetAttributes(
		attribute.Bool("memtier.read_through", opts.ReadThrough != nil),
		attribute.Bool("memtier.with_cas", opts.WithCAS),
	)
	it, ok, err := c.next.Get(ctx, key, opts)
	hit(span, ok)
	end(span, err)
	return it, ok, err
}

func (c *Client) GetMulti(ctx context.Context, keys []string, opts remote.GetOptions) (map[string]remote.Item, error) {
	ctx, span := c.start(ctx, "get_multi", len(keys))
	out, err := c.next.GetMulti(ctx, keys, opts)
	span.SetAttributes(attribute.Int("memtier.hits", len(out)))
	end(span, err)
	return out, err
}

func (c *Client) Set(ctx context.Context, it remote.Item) error {
	ctx, span := c.start(ctx, "set", 1)
	err := c.next.Set(ctx, it)
	end(span, err)
	return err
}

func (c *Client) SetMulti(ctx context.Context, items []remote.Item) error {
	ctx, span := c.start(ctx, "set_multi", len(items))
	err := c.next.SetMulti(ctx, items)
	end(span, err)
	return err
}

func (c *Client) Add(ctx context.Context, it remote.Item) (bool, error) {
	ctx, span := c.start(ctx, "add", 1)
	ok, err := c.next.Add(ctx, it)
	span.SetAttributes(attribute.Bool("memtier.stored", ok))
	end(span, err)
	return ok, err
}

func (c *Client) CompareAndSwap(ctx context.Context, it remote.Item) (bool, error) {
	ctx, span := c.start(ctx, "cas", 1)
	ok, err := c.next.CompareAndSwap(ctx, it)
	span.SetAttributes(attribute.Bool("memtier.stored", ok))
	end(span, err)
	return ok, err
}

func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, span := c.start(ctx, "touch", 1)
	ok, err := c.next.Touch(ctx, key, ttl)
	hit(span, ok)
	end(span, err)
	return ok, err
}

func (c *Client) Delete(ctx context.Context, key string, hold time.Duration) (bool, error) {
	ctx, span := c.start(ctx, "delete", 1)
	ok, err := c.next.Delete(ctx, key, hold)
	hit(span, ok)
	end(span, err)
	return ok, err
}

func (c *Client) DeleteMulti(ctx context.Context, keys []string, hold time.Duration) (map[string]bool, error) {
	ctx, span := c.start(ctx, "delete_multi", len(keys))
	out, err := c.next.DeleteMulti(ctx, keys, hold)
	end(span, err)
	return out, err
}

func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	ctx, span := c.start(ctx, "increment", 1)
	n, err := c.next.Increment(ctx, key, delta)
	end(span, err)
	return n, err
}

func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	ctx, span := c.start(ctx, "decrement", 1)
	n, err := c.next.Decrement(ctx, key, delta)
	end(span, err)
	return n, err
}

func (c *Client) IncrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	ctx, span := c.start(ctx, "increment", 1)
	span.SetAttributes(attribute.Bool("memtier.initial", true))
	n, err := c.next.IncrementWithInitial(ctx, key, delta, initial, expiry)
	end(span, err)
	return n, err
}

func (c *Client) DecrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	ctx, span := c.start(ctx, "decrement", 1)
	span.SetAttributes(attribute.Bool("memtier.initial", true))
	n, err := c.next.DecrementWithInitial(ctx, key, delta, initial, expiry)
	end(span, err)
	return n, err
}

func (c *Client) Flush(ctx context.Context, delay time.Duration) error {
	ctx, span := c.start(ctx, "flush", 0)
	err := c.next.Flush(ctx, delay)
	end(span, err)
	return err
}

func (c *Client) AddServers(ctx context.Context, servers []remote.Server) error {
	ctx, span := c.start(ctx, "add_servers", 0)
	span.SetAttributes(attribute.Int("memtier.servers", len(servers)))
	err := c.next.AddServers(ctx, servers)
	end(span, err)
	return err
}

func (c *Client) SetOptions(ctx context.Context, opts map[remote.Option]any) error {
	ctx, span := c.start(ctx, "set_options", 0)
	err := c.next.SetOptions(ctx, opts)
	end(span, err)
	return err
}

func (c *Client) ResetServerList(ctx context.Context) error {
	ctx, span := c.start(ctx, "reset_server_list", 0)
	err := c.next.ResetServerList(ctx)
	end(span, err)
	return err
}

func (c *Client) Quit(ctx context.Context) error {
	ctx, span := c.start(ctx, "quit", 0)
	err := c.next.Quit(ctx)
	end(span, err)
	return err
}

func (c *Client) Stats(ctx context.Context) (map[string]map[string]string, error) {
	ctx, span := c.start(ctx, "stats", 0)
	st, err := c.next.Stats(ctx)
	end(span, err)
	return st, err
}

func (c *Client) AllKeys(ctx context.Context) ([]string, error) {
	ctx, span := c.start(ctx, "all_keys", 0)
	keys, err := c.next.AllKeys(ctx)
	end(span, err)
	return keys, err
}

func (c *Client) ResultCode() remote.ResultCode { return c.next.ResultCode() }
func (c *Client) ResultMessage() string          { return c.next.ResultMessage() }
func (c *Client) BinaryProtocol() bool           { return c.next.BinaryProtocol() }
