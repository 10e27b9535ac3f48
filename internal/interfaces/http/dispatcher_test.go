package http

import (
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(*echo.Group) {}

func TestDispatcher_RejectsOverlappingPrefixes(t *testing.T) {
	d := NewDispatcher(echo.New())
	require.NoError(t, d.Mount("/roles", noop))
	require.NoError(t, d.Mount("/rolesets", noop), "shared leading characters are not an overlap")

	assert.Error(t, d.Mount("/roles", noop))
	assert.Error(t, d.Mount("/roles/admin", noop))
	require.NoError(t, d.Mount("/auth", noop))
	assert.Error(t, d.Mount("/auth/provider", noop))

	assert.Equal(t, []string{"/roles", "/rolesets", "/auth"}, d.Prefixes())
}

func TestDispatcher_RejectsEnclosingPrefix(t *testing.T) {
	d := NewDispatcher(echo.New())
	require.NoError(t, d.Mount("/provider-auth/v2", noop))
	assert.Error(t, d.Mount("/provider-auth", noop))
}

func TestDispatcher_RejectsMalformedPrefixes(t *testing.T) {
	d := NewDispatcher(echo.New())
	for _, p := range []string{"", "/", "roles", "/roles/"} {
		assert.Error(t, d.Mount(p, noop), p)
	}
	assert.Empty(t, d.Prefixes())
}

func TestDispatcher_RoutesOnlyToMountedModule(t *testing.T) {
	e := echo.New()
	d := NewDispatcher(e)
	hits := map[string]int{}
	require.NoError(t, d.Mount("/a", func(g *echo.Group) {
		g.GET("/x", func(c echo.Context) error { hits["a"]++; return c.NoContent(stdhttp.StatusOK) })
	}))
	require.NoError(t, d.Mount("/b", func(g *echo.Group) {
		g.GET("/x", func(c echo.Context) error { hits["b"]++; return c.NoContent(stdhttp.StatusOK) })
	}))

	for _, path := range []string{"/a/x", "/b/x", "/c/x", "/a/y"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, path, nil))
		if path == "/a/x" || path == "/b/x" {
			assert.Equal(t, stdhttp.StatusOK, rec.Code, path)
		} else {
			assert.Equal(t, stdhttp.StatusNotFound, rec.Code, path)
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, hits)
}
