package chronofsm

import "strconv"

// Context is the opaque, per-state value conditions and handlers read and
// mutate. The engine treats it as a property map for the watch/memoization
// machinery only; everything else about its contents is uninterpreted, per
// spec §3/§9 ("dynamic typing... must not leak into storage or
// comparisons").
type Context map[string]any

// clone returns a shallow copy of c: new top-level map, same values.
func (c Context) clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// merge applies partial as a shallow merge over c, returning a new Context.
// c itself is never mutated.
func (c Context) merge(partial Context) Context {
	out := c.clone()
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// pathSegment is one step of a parsed dotted/bracketed path: either a map
// key or an array index.
type pathSegment struct {
	key      string
	index    int
	isIndex  bool
}

// path is a parsed watch-property path, cached per state keyed by its
// original string (spec §4.5a: "Parsed paths are cached per state keyed by
// path string").
type path struct {
	raw      string
	segments []pathSegment
}

// topLevelKey returns the first segment's map key, used by the memoization
// invalidation rule (spec §3: "the top-level property of any dependency").
func (p path) topLevelKey() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0].key
}

// parsePath splits a dotted path with optional "[index]" array notation,
// e.g. "items[0].status" -> ["items", 0, "status"].
func parsePath(raw string) path {
	segs := make([]pathSegment, 0, 4)
	var cur []byte
	flushKey := func() {
		if len(cur) > 0 {
			segs = append(segs, pathSegment{key: string(cur)})
			cur = cur[:0]
		}
	}
	i := 0
	for i < len(raw) {
		ch := raw[i]
		switch ch {
		case '.':
			flushKey()
			i++
		case '[':
			flushKey()
			j := i + 1
			for j < len(raw) && raw[j] != ']' {
				j++
			}
			idxStr := raw[i+1 : j]
			if n, err := strconv.Atoi(idxStr); err == nil {
				segs = append(segs, pathSegment{index: n, isIndex: true})
			}
			if j < len(raw) {
				j++
			}
			i = j
		default:
			cur = append(cur, ch)
			i++
		}
	}
	flushKey()
	return path{raw: raw, segments: segs}
}

// resolve walks ctx along the parsed path. Non-map/non-slice nodes, missing
// keys, and out-of-range indices all resolve to (nil, false), per spec
// §9 ("non-map nodes terminate with undefined").
func (p path) resolve(ctx Context) (any, bool) {
	var cur any = ctx
	for _, seg := range p.segments {
		if seg.isIndex {
			slice, ok := cur.([]any)
			if !ok || seg.index < 0 || seg.index >= len(slice) {
				return nil, false
			}
			cur = slice[seg.index]
			continue
		}
		switch m := cur.(type) {
		case Context:
			v, ok := m[seg.key]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			v, ok := m[seg.key]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// differs reports whether the path's resolved value changed between prev
// and next, per spec §4.5a: a path differs if either the resolved value
// changed (by deep inequality, since Context values are not restricted to
// comparable types) or exactly one side is undefined.
func (p path) differs(prev, next Context) bool {
	pv, pok := p.resolve(prev)
	nv, nok := p.resolve(next)
	if pok != nok {
		return true
	}
	if !pok {
		return false
	}
	return !deepEqualValue(pv, nv)
}
