package authguard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func ok(name string) NamedGuard {
	return NamedGuard{Name: name, Guard: GuardFunc(func(r *http.Request) (any, error) {
		return map[string]any{"sub": name}, nil
	})}
}

func failing(kind FailureKind) NamedGuard {
	return NamedGuard{Name: "broken", Guard: GuardFunc(func(r *http.Request) (any, error) {
		return nil, NewError(kind, "denied")
	})}
}

func TestChainAccumulatesNamespacedClaims(t *testing.T) {
	chain := Chain{Guards: []NamedGuard{ok("jwt"), ok("customGuard")}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	ctx, err := chain.Evaluate(req)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sub": "jwt"}, ctx["jwt"])
	require.Equal(t, map[string]any{"sub": "customGuard"}, ctx["customGuard"])
}

func TestChainShortCircuitsOnFirstFailure(t *testing.T) {
	chain := Chain{Guards: []NamedGuard{failing(FailureForbidden), ok("jwt")}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := chain.Evaluate(req)
	require.Error(t, err)
	var guardErr *Error
	require.ErrorAs(t, err, &guardErr)
	require.Equal(t, FailureForbidden, guardErr.Kind)
	require.Equal(t, http.StatusForbidden, guardErr.Kind.StatusCode())
}

func TestEmptyChainIsPublic(t *testing.T) {
	chain := Chain{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	ctx, err := chain.Evaluate(req)
	require.NoError(t, err)
	require.Empty(t, ctx)
}
