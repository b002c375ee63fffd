package producer

import "path"

// Router resolves a queue name to the database alias that owns it
// (spec.md §4.2 step 5), matching exact queue names before glob
// patterns — the Go analogue of the original's db_router.py.
type Router struct {
	exact map[string]string
	globs []globRoute
}

type globRoute struct {
	pattern string
	alias   string
}

func NewRouter(routes map[string]string) *Router {
	r := &Router{exact: make(map[string]string)}
	for pattern, alias := range routes {
		if !containsGlobMeta(pattern) {
			r.exact[pattern] = alias
			continue
		}
		r.globs = append(r.globs, globRoute{pattern: pattern, alias: alias})
	}
	return r
}

// Resolve returns the alias for queueName, falling back to
// DefaultQueueAlias when nothing matches.
func (r *Router) Resolve(queueName string) string {
	if alias, ok := r.exact[queueName]; ok {
		return alias
	}
	for _, g := range r.globs {
		if ok, _ := path.Match(g.pattern, queueName); ok {
			return g.alias
		}
	}
	return DefaultQueueAlias
}

func containsGlobMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
