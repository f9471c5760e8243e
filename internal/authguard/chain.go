package authguard

import "net/http"

// NamedGuard pairs a guard with the name its claims are namespaced
// under in the accumulated AuthContext (spec.md §4.7:
// `{"jwt": {...}, "customGuard": {...}}`).
type NamedGuard struct {
	Name  string
	Guard Guard
}

// Chain evaluates an ordered list of guards against a request,
// short-circuiting on the first failure.
type Chain struct {
	Guards []NamedGuard
}

// AuthContext is the accumulated, guard-namespaced claims object
// attached to a request on success.
type AuthContext map[string]any

// Evaluate runs every guard in order. On the first failure it returns
// that guard's *Error. On success it returns the namespaced claims.
func (c Chain) Evaluate(r *http.Request) (AuthContext, error) {
	if len(c.Guards) == 0 {
		return AuthContext{}, nil
	}
	out := make(AuthContext, len(c.Guards))
	for _, g := range c.Guards {
		claims, err := g.Guard.Evaluate(r)
		if err != nil {
			return nil, err
		}
		out[g.Name] = claims
	}
	return out, nil
}
