package strategy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/pantry/internal/upstream"
)

func decline(name string, calls *[]string) Provider {
	return ProviderFunc(name, func(context.Context, *upstream.Request) (*Response, bool) {
		*calls = append(*calls, name)
		return nil, false
	})
}

func answer(name string, calls *[]string) Provider {
	return ProviderFunc(name, func(context.Context, *upstream.Request) (*Response, bool) {
		*calls = append(*calls, name)
		return &Response{Status: 200, Body: []byte(name), Source: SourceNetwork}, true
	})
}

func TestChain_Precedence(t *testing.T) {
	var calls []string
	chain := Chain{decline("a", &calls), answer("b", &calls), answer("c", &calls)}

	resp, by := chain.Resolve(context.Background(), nil)
	assert.Equal(t, "b", by)
	assert.Equal(t, "b", string(resp.Body))
	assert.Equal(t, []string{"a", "b"}, calls, "providers after the first answer are not consulted")
}

func TestChain_AllDecline(t *testing.T) {
	var calls []string
	resp, by := Chain{decline("a", &calls), decline("b", &calls)}.Resolve(context.Background(), nil)

	assert.Equal(t, "unavailable", by)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestStatic_ReturnsCopies(t *testing.T) {
	p := Static("placeholder", &Response{Status: 503, Header: http.Header{"X": {"1"}}, Source: SourceFallback})

	first, ok := p.Provide(context.Background(), nil)
	assert.True(t, ok)
	first.Header.Set("X", "2")

	second, _ := p.Provide(context.Background(), nil)
	assert.Equal(t, "1", second.Header.Get("X"))
}
