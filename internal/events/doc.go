// Package events provides the notification primitives the registrar emits
// while orchestrating a run: structured lifecycle events, a non-blocking
// batching hub, and the emitter/sink interfaces that keep the core usable
// headless in tests.
package events
