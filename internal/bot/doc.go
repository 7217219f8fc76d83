// Package bot implements the messaging-session core: the session registry,
// the per-session connection lifecycle with supervised reconnection, the
// inbound-message pipeline, and the shared settings service.
//
// Concurrency model: every session has exactly one event worker consuming
// its transport events in arrival order. Reconnects happen in the worker's
// supervision loop, never recursively inside an event handler, and each
// attempt gets a fresh transport handle. The registry map is the single
// owner of session state; nothing outside it holds a live handle.
package bot
