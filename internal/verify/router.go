package verify

import "context"

// Router sends each step to its own verifier, falling back to Default.
type Router struct {
	Default Verifier
	ByStep  map[int]Verifier
}

// Compile-time check that Router implements Verifier.
var _ Verifier = (*Router)(nil)

// Verify dispatches on the request's step ordinal.
func (r *Router) Verify(ctx context.Context, req Request) Verdict {
	if v, ok := r.ByStep[req.Step.Ordinal]; ok && v != nil {
		return v.Verify(ctx, req)
	}
	return r.Default.Verify(ctx, req)
}
