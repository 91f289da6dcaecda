package memarena

// Scoped wraps an Arena for a single call-site's temporary allocations.
// Callers are expected to defer Release() at acquisition, giving a
// scoped-acquisition discipline on top of an arena's bump-and-reset
// semantics (e.g. one throwaway capnp message built and serialized
// within a single function call).
type Scoped struct {
	*Arena
}

// NewScoped returns a Scoped temporary allocator. chunkSize behaves as
// in NewArena.
func NewScoped(chunkSize int) *Scoped {
	return &Scoped{Arena: NewArena(chunkSize)}
}

// Release resets the underlying arena, making its storage available for
// the next scope that reuses this Scoped value.
func (s *Scoped) Release() {
	s.Arena.FreeAll()
}
