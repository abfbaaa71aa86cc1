// Package vmci implements the guest-facing request loop.
//
// Guests reach the service over the VM communication interface: a stream
// socket family where the monitor, not the guest, assigns the peer's
// context id. That id is the caller token; the resolver maps it to a VM
// identity, so a guest can only ever act as itself.
//
// The Server loop is deliberately simple: receive, decode, resolve,
// execute, reply. Its contract is that every received message gets exactly
// one reply. Malformed JSON is answered with a structured error rather
// than dropped, so a buggy client sees what it sent wrong. Transient
// receive failures are retried up to the configured bound; past it the
// channel is considered dead and Run returns an error so the supervisor
// restarts the service.
//
// The wire framing is one request and one reply per connection, each a
// length-prefixed JSON document bounded by the configured maximum request
// size. Oversized frames are rejected at the transport before any
// allocation of the full payload.
package vmci
