// Package memtier keeps a process-local copy of values held by a remote
// memcached-style cache and keeps the two tiers consistent for this process.
//
// Reads consult the local store first and fall back to the remote client;
// remote hits are copied locally. Every mutation removes the affected local
// entries before it is sent remotely, so a later local read cannot return a
// value this process has already replaced. Reads that need authoritative
// remote state (read-through callbacks, CAS tokens, get flags) skip the
// local store.
//
// Components:
//   - remote.Client: the authoritative tier (memory, memcache, redis adapters;
//     oteltrace decorates any of them).
//   - local.Store: the process-local tier (ristretto by default, or bigcache).
//   - codec.Codec[V] and Typed[V]: typed values over the byte API.
//
// The coordinator also remembers every server and option given to it and
// replays them into a remote handle when it creates one, lazily on first use
// and again after Quit.
//
// Local entries are framed as
//
//	"MTLS" | ver | kind | flags(u32) | len(u32) | payload
//
// and a frame that fails to decode is deleted and treated as a miss.
//
// Other processes' writes are not observed: a local copy stays until this
// process mutates the key, flushes, quits, or the local store evicts it.
package memtier
