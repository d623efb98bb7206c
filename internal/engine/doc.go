// Package engine provides the asynchronous task execution engine.
// A Registry accepts work bodies, runs each on its own goroutine under a
// Controller that tracks state and progress, serves status snapshots by
// handle, and evicts finished results either on read or once they expire.
package engine
