package chronofsm

import "reflect"

// deepEqualValue compares two arbitrary context values. Context entries are
// not restricted to comparable types (slices, maps, structs are all legal
// property values), so a plain == cannot be used; reflect.DeepEqual is the
// narrowest stdlib tool that handles all of them correctly.
func deepEqualValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// shallowEqualContext is the default StateManagerConfig.AreEqual: it
// compares own keys only, one level deep, per spec §3 ("Default areEqual is
// shallow equality over own keys").
func shallowEqualContext(prev, next Context) bool {
	if len(prev) != len(next) {
		return false
	}
	for k, v := range prev {
		nv, ok := next[k]
		if !ok || !deepEqualValue(v, nv) {
			return false
		}
	}
	return true
}
