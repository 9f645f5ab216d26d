package graph

import "fmt"

// mergeProps applies the relationship property merge policy: last-writer-
// wins on scalar fields, union on array fields. Neither input is mutated.
func mergeProps(existing, incoming map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		prevArr, prevIsArr := asSlice(out[k])
		newArr, newIsArr := asSlice(v)
		if prevIsArr && newIsArr {
			out[k] = unionSlices(prevArr, newArr)
			continue
		}
		out[k] = v
	}
	return out
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// unionSlices keeps the existing order and appends unseen incoming elements
// in their order. Element identity is by rendered value.
func unionSlices(a, b []interface{}) []interface{} {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]interface{}, 0, len(a)+len(b))
	for _, v := range a {
		key := fmt.Sprintf("%v", v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	for _, v := range b {
		key := fmt.Sprintf("%v", v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
