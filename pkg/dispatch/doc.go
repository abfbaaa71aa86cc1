// Package dispatch routes decoded guest requests to lifecycle operations.
//
// The Dispatcher owns the path from protocol to filesystem: it resolves
// the calling VM's home datastore from its config path, parses the
// volume[@datastore] name, validates the target datastore against the
// host's mounts, lazily creates the per-datastore volume directory, and
// checks the vmgroup's authorization before handing the request to the
// lifecycle manager.
//
// Execute returns the response value and error; encoding either onto the
// wire is the transport's job. Per-request counters and latency histograms
// are recorded here so every command is measured regardless of transport.
package dispatch
