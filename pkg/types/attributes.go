package types

import "strings"

// Lookup resolves key in attrs. An exact key wins; otherwise the key is split
// on dots and walked through nested maps. Missing keys report false.
func Lookup(attrs map[string]any, key string) (any, bool) {
	if attrs == nil {
		return nil, false
	}
	if v, ok := attrs[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}

	var cur any = attrs
	for _, part := range strings.Split(key, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Resource:
			v, ok := m[part]
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
