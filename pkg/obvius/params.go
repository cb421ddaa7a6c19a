package obvius

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Params is the case-insensitive view of every parameter a request carried.
// Route parameters take precedence over body fields, which take precedence
// over query fields. A Params value is read-only once built.
type Params struct {
	values map[string]string
}

// NewParams merges the three parameter sources. Each source is case-folded
// on its own first, so two spellings of the same key in different sources
// are resolved purely by source precedence.
func NewParams(route map[string]string, body, query url.Values) Params {
	values := make(map[string]string)

	// lowest precedence first; later sources overwrite
	for k, v := range foldValues(query) {
		values[k] = v
	}
	for k, v := range foldValues(body) {
		values[k] = v
	}
	for k, v := range foldValues(routeValues(route)) {
		values[k] = v
	}

	return Params{values: values}
}

// Get returns the value for name (case-insensitive) and whether it was
// submitted at all. An empty value still counts as submitted.
func (p Params) Get(name string) (string, bool) {
	v, ok := p.values[strings.ToLower(name)]
	return v, ok
}

// Lookup returns the value for name, or def when no source defined it.
func (p Params) Lookup(name, def string) string {
	if v, ok := p.Get(name); ok {
		return v
	}
	return def
}

// Len reports how many distinct parameters were submitted.
func (p Params) Len() int {
	return len(p.values)
}

// Names returns the folded parameter names in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type foldedValue struct {
	value string
	exact bool // original key was already lower-case
}

// foldValues lower-cases the keys of one source. When several keys fold to
// the same name, an already lower-case key wins; otherwise the lexically
// first original key does. Multi-valued keys contribute their first value.
func foldValues(src map[string][]string) map[string]string {
	if len(src) == 0 {
		return nil
	}

	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	chosen := make(map[string]foldedValue, len(keys))
	for _, key := range keys {
		vals := src[key]
		if len(vals) == 0 {
			continue
		}
		folded := strings.ToLower(key)
		exact := folded == key
		if prev, ok := chosen[folded]; ok && (prev.exact || !exact) {
			continue
		}
		chosen[folded] = foldedValue{value: vals[0], exact: exact}
	}

	out := make(map[string]string, len(chosen))
	for k, v := range chosen {
		out[k] = v.value
	}
	return out
}

func routeValues(route map[string]string) map[string][]string {
	if len(route) == 0 {
		return nil
	}
	out := make(map[string][]string, len(route))
	for k, v := range route {
		out[k] = []string{v}
	}
	return out
}

// ChiRouteParams extracts the named URL parameters chi matched for r.
// The catch-all "*" parameter is not a protocol field and is skipped.
// The server mounts the protocol on static paths, so this is empty there.
func ChiRouteParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "" || key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}
