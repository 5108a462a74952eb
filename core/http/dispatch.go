package http

import (
	"bytes"
	"context"
	"slices"
)

// Responder produces the response for one request.
type Responder func(ctx context.Context, c *Conn) error

// Route binds a path to a Responder. Prefix routes match any path that
// starts with Path.
type Route struct {
	Path      string
	Prefix    bool
	Responder Responder
}

type pathEntry struct {
	path      []byte
	responder Responder
}

// PathTable maps request paths to responders. It is built once before the
// first connection is accepted and never modified afterwards, so it is
// shared by all connections without locking.
type PathTable struct {
	exact  []pathEntry
	prefix []pathEntry
}

// NewPathTable builds a table from routes. Exact routes take precedence over
// prefix routes; among prefixes the longest wins.
func NewPathTable(routes ...Route) *PathTable {
	t := &PathTable{}
	for _, r := range routes {
		e := pathEntry{path: []byte(r.Path), responder: r.Responder}
		if r.Prefix {
			t.prefix = append(t.prefix, e)
		} else {
			t.exact = append(t.exact, e)
		}
	}
	slices.SortStableFunc(t.prefix, func(a, b pathEntry) int {
		return len(b.path) - len(a.path)
	})
	return t
}

// Lookup returns the responder for path.
func (t *PathTable) Lookup(path []byte) (Responder, bool) {
	for i := range t.exact {
		if bytes.Equal(path, t.exact[i].path) {
			return t.exact[i].responder, true
		}
	}
	for i := range t.prefix {
		if bytes.HasPrefix(path, t.prefix[i].path) {
			return t.prefix[i].responder, true
		}
	}
	return nil, false
}

// Len returns the number of routes.
func (t *PathTable) Len() int {
	return len(t.exact) + len(t.prefix)
}
