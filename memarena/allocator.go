// Package memarena provides the abstract allocator that the capnp, fuse,
// and funnel cores are built against. Callers inject one of Heap, Arena,
// or Scoped rather than the cores reaching for make([]byte, n) directly,
// so construction-time and runtime allocation strategy stays a caller
// decision.
package memarena

import "errors"

// ErrOutOfMemory is returned by Alloc when the allocator cannot satisfy
// a request.
var ErrOutOfMemory = errors.New("memarena: out of memory")

// Allocator is the injected abstraction every container type in this
// module remembers and allocates through. Alloc returns a zeroed slice
// of exactly n bytes. Free releases a single allocation early; FreeAll
// releases everything the allocator has handed out.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
	FreeAll()
}
