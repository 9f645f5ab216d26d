package rules

import (
	"strings"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// Projection paths are dot-separated field names with at most one `[]` array
// expansion, e.g. "owners[].owner". Missing values skip silently; traversing
// through a non-object is a rule evaluation error.

// splitArrayPath splits "owners[].owner" into ("owners", "owner", true).
// Paths without `[]` return hasArray=false.
func splitArrayPath(path string) (base, sub string, hasArray bool) {
	idx := strings.Index(path, "[]")
	if idx < 0 {
		return path, "", false
	}
	base = strings.Trim(path[:idx], ".")
	sub = strings.Trim(path[idx+2:], ".")
	return base, sub, true
}

// resolvePath walks dot segments through nested objects. The second return
// is false when any segment is absent or null.
func resolvePath(doc map[string]interface{}, path string) (interface{}, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	var cur interface{} = doc
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false, apierr.Newf(apierr.KindRuleEvaluation,
				"projection %q: segment %q is not an object", path, strings.Join(segments[:i], ".")).WithField(path)
		}
		next, present := m[seg]
		if !present || next == nil {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

// resolveArray resolves the base of an array path to a slice. A missing base
// skips; a non-array base is an error.
func resolveArray(doc map[string]interface{}, base string) ([]interface{}, bool, error) {
	val, present, err := resolvePath(doc, base)
	if err != nil || !present {
		return nil, false, err
	}
	arr, ok := val.([]interface{})
	if !ok {
		return nil, false, apierr.Newf(apierr.KindRuleEvaluation,
			"projection %q: expected an array", base).WithField(base)
	}
	return arr, true, nil
}

// resolveString returns a projected value as a string. Any non-string value,
// numbers and booleans included, is a rule evaluation error.
func resolveString(val interface{}, path string) (string, error) {
	switch t := val.(type) {
	case string:
		return t, nil
	default:
		return "", apierr.Newf(apierr.KindRuleEvaluation,
			"projection %q: expected a string, got %T", path, val).WithField(path)
	}
}

// rowContext resolves a path against one expansion row: paths under the
// row's array base resolve inside the element, everything else resolves from
// the payload root.
type rowContext struct {
	payload map[string]interface{}
	base    string
	element interface{}
}

func (rc rowContext) resolve(path string) (interface{}, bool, error) {
	if rc.base != "" && strings.HasPrefix(path, rc.base+"[]") {
		sub := strings.Trim(path[len(rc.base)+2:], ".")
		if sub == "" {
			if rc.element == nil {
				return nil, false, nil
			}
			return rc.element, true, nil
		}
		m, ok := rc.element.(map[string]interface{})
		if !ok {
			return nil, false, apierr.Newf(apierr.KindRuleEvaluation,
				"projection %q: array element is not an object", path).WithField(path)
		}
		return resolvePath(m, sub)
	}
	if strings.Contains(path, "[]") {
		return nil, false, apierr.Newf(apierr.KindRuleEvaluation,
			"projection %q: expands a different array than the rule row", path).WithField(path)
	}
	return resolvePath(rc.payload, path)
}
