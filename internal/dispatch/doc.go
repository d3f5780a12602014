// Package dispatch fans audio lifecycle events out to the loaded parser set
// and reduces per-parser contexts at utterance end.
//
// The service owns no parser state; it reads the loaded set from the loader on
// every call, so a reload is picked up by the next chunk.
//
// Ordering:
//   - Parsers are visited in loaded-set order: ascending priority, ties broken
//     by discovery order.
//   - Ambient, hotword and speech fan-out is sequential by default. With
//     Options.Concurrent the hooks for one chunk run on a bounded errgroup and
//     the call returns only when all of them have finished.
//   - Utterance-end reduction is always sequential: each parser receives the
//     chunk returned by the previous successful parser.
//
// Merge policy:
//   - Shallow key union; on collision the later parser's value wins.
//   - A nil returned chunk means "unchanged"; a nil context is empty.
//
// Failure handling:
//   - A hook that returns an error or panics becomes a *HookError. It is logged
//     with the parser name and event, counted, published as parser.failed on
//     the bus, and skipped. A failed utterance-end call contributes neither its
//     chunk nor its context.
//   - Dispatching to an instance that is not Active is a contract violation
//     handled the same way (coerce and log).
//   - Nothing ever propagates to the caller.
//
// Limitations:
//   - There is no per-hook timeout. Hooks receive the caller's context and may
//     observe cancellation themselves; a slow parser delays the chunk.
package dispatch
