package security

import "reflect"

// inspect traverses the parsed program and calls visit for every node
// pointer it encounters. It walks the tree structurally via reflection,
// so new node kinds introduced by parser upgrades are still descended
// into rather than silently skipped — an unclassified construct can
// never hide children from the checks.
func inspect(root any, visit func(n any)) {
	seen := make(map[uintptr]struct{})
	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		switch v.Kind() {
		case reflect.Ptr:
			if v.IsNil() {
				return
			}
			if v.CanInterface() {
				ptr := v.Pointer()
				if _, ok := seen[ptr]; ok {
					return
				}
				seen[ptr] = struct{}{}
				visit(v.Interface())
			}
			walk(v.Elem())
		case reflect.Interface:
			if !v.IsNil() {
				walk(v.Elem())
			}
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				walk(v.Field(i))
			}
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len(); i++ {
				walk(v.Index(i))
			}
		case reflect.Map:
			for _, key := range v.MapKeys() {
				walk(v.MapIndex(key))
			}
		}
	}
	walk(reflect.ValueOf(root))
}
