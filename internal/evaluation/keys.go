package evaluation

import (
	"fmt"
	"sort"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// Keys is a read-only view of a merged result map. Accessors never panic:
// absent keys and values of the wrong type read as zero values.
type Keys struct {
	m models.ResultMap
}

func NewKeys(m models.ResultMap) Keys { return Keys{m: m} }

func (k Keys) Has(key string) bool {
	_, ok := k.m[key]
	return ok
}

func (k Keys) HasAll(keys []string) bool {
	for _, key := range keys {
		if !k.Has(key) {
			return false
		}
	}
	return true
}

func (k Keys) Raw(key string) interface{} { return k.m[key] }

func (k Keys) Bool(key string) bool { return truthy(k.m[key]) }

// BoolOr returns def when key is absent.
func (k Keys) BoolOr(key string, def bool) bool {
	v, ok := k.m[key]
	if !ok {
		return def
	}
	return truthy(v)
}

func (k Keys) Int(key string) int {
	n, _ := toInt(k.m[key])
	return n
}

func (k Keys) String(key string) string { return toString(k.m[key]) }

func (k Keys) StringOr(key, def string) string {
	v, ok := k.m[key]
	if !ok || v == nil {
		return def
	}
	return toString(v)
}

func (k Keys) Strings(key string) []string { return toStrings(k.m[key]) }

func (k Keys) Len(key string) int {
	switch v := k.m[key].(type) {
	case []string:
		return len(v)
	case []interface{}:
		return len(v)
	case map[string]interface{}:
		return len(v)
	case string:
		return len(v)
	}
	return 0
}

func (k Keys) Map(key string) map[string]interface{} { return toMap(k.m[key]) }

// Finding is one testssl-style entry of a map valued key.
type Finding struct {
	Severity string
	Finding  string
}

func (f Finding) Harmless() bool {
	return f.Severity == "OK" || f.Severity == "INFO"
}

func (k Keys) Finding(mapKey, id string) (Finding, bool) {
	entry, ok := k.Map(mapKey)[id]
	if !ok {
		return Finding{}, false
	}
	m := toMap(entry)
	if len(m) == 0 {
		return Finding{}, false
	}
	return Finding{Severity: toString(m["severity"]), Finding: toString(m["finding"])}, true
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []string:
		return len(x) > 0
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	if n, ok := toInt(v); ok {
		return n != 0
	}
	return true
}

func toInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint:
		return int(x), true
	case float32:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func toStrings(v interface{}) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, toString(item))
		}
		return out
	case map[string]interface{}:
		out := make([]string, 0, len(x))
		for key := range x {
			out = append(out, key)
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func toMap(v interface{}) map[string]interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return x
	case map[string]string:
		out := make(map[string]interface{}, len(x))
		for key, val := range x {
			out[key] = val
		}
		return out
	case models.ResultMap:
		return x
	}
	return nil
}
